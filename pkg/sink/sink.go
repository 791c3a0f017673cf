package sink

import (
	"context"
	"fmt"

	"harvester/internal/config"
	"harvester/pkg/record"

	"github.com/rs/zerolog"
)

// Sink persists batches of documents. Connect is idempotent; Insert writes
// one batch and reports the first failure that kept it from being stored.
type Sink interface {
	Connect(ctx context.Context) error
	Insert(ctx context.Context, docs []record.Document) error
	Close() error
}

const (
	KindSQLite             = "sqlite"
	KindPostgres           = "postgres"
	KindPostgresNormalized = "postgres_normalized"
	KindRedis              = "redis"
)

// New builds the sink selected by cfg.Kind without connecting it
func New(cfg config.SinkConfig, log zerolog.Logger) (Sink, error) {
	log = log.With().Str("sink", cfg.Kind).Logger()
	switch cfg.Kind {
	case KindSQLite:
		return NewSQLite(cfg.SQLitePath, log), nil
	case KindPostgres:
		return NewPostgres(PostgresConfig{DSN: cfg.PostgresDSN, Table: cfg.Table, MaxConns: cfg.PostgresMaxConns}, log), nil
	case KindPostgresNormalized:
		return NewPostgresNormalized(PostgresConfig{DSN: cfg.PostgresDSN, MaxConns: cfg.PostgresMaxConns}, log), nil
	case KindRedis:
		return NewRedis(RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}
