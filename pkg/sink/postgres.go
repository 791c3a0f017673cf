package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"harvester/pkg/record"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PostgresConfig struct {
	DSN      string
	Table    string
	MaxConns int32
}

// Postgres stores each document as a jsonb blob keyed by its document key
type Postgres struct {
	config PostgresConfig
	log    zerolog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewPostgres(config PostgresConfig, log zerolog.Logger) *Postgres {
	if config.Table == "" {
		config.Table = "releases"
	}
	return &Postgres{config: config, log: log}
}

// openPool connects with the simple protocol so statement poolers in front of
// the database do not trip over prepared statements
func openPool(ctx context.Context, config PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return pool, nil
}

func (p *Postgres) table() string {
	return pgx.Identifier{p.config.Table}.Sanitize()
}

func (p *Postgres) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}

	pool, err := openPool(ctx, p.config)
	if err != nil {
		return fmt.Errorf("postgres sink: %w", err)
	}

	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.table()))
	if err != nil {
		pool.Close()
		return fmt.Errorf("postgres sink: failed to create table: %w", err)
	}

	p.pool = pool
	p.log.Info().Str("table", p.config.Table).Msg("Postgres sink ready")
	return nil
}

func (p *Postgres) Insert(ctx context.Context, docs []record.Document) error {
	if len(docs) == 0 {
		return nil
	}
	pool, err := p.connected()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, data, inserted_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, inserted_at = EXCLUDED.inserted_at
	`, p.table())
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("postgres sink: failed to encode document %s: %w", doc.Key(), err)
		}
		batch.Queue(query, doc.Key(), string(data))
	}

	if err := execBatch(ctx, pool, batch); err != nil {
		return fmt.Errorf("postgres sink: %w", err)
	}
	p.log.Debug().Int("documents", len(docs)).Msg("Inserted batch")
	return nil
}

func (p *Postgres) connected() (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return nil, errors.New("postgres sink: not connected")
	}
	return p.pool, nil
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// execBatch sends batch and drains every result so that a failure in any
// queued statement is reported
func execBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) error {
	n := batch.Len()
	if n == 0 {
		return nil
	}
	br := pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch item %d: %w", i, err)
		}
	}
	return nil
}
