package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"harvester/pkg/record"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Redis stores each document as a JSON string under prefix+key
type Redis struct {
	config RedisConfig
	log    zerolog.Logger

	mu     sync.Mutex
	client *redis.Client
}

func NewRedis(config RedisConfig, log zerolog.Logger) *Redis {
	return &Redis{config: config, log: log}
}

func (r *Redis) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis sink: connect %s: %w", r.config.Addr, err)
	}

	r.client = client
	r.log.Info().Str("addr", r.config.Addr).Int("db", r.config.DB).Msg("Redis sink ready")
	return nil
}

func (r *Redis) Key(doc record.Document) string {
	return r.config.KeyPrefix + doc.Key()
}

// Insert writes the batch in one pipeline round trip
func (r *Redis) Insert(ctx context.Context, docs []record.Document) error {
	if len(docs) == 0 {
		return nil
	}
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return errors.New("redis sink: not connected")
	}

	pipe := client.Pipeline()
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("redis sink: failed to encode document %s: %w", doc.Key(), err)
		}
		pipe.Set(ctx, r.Key(doc), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: %w", err)
	}
	r.log.Debug().Int("documents", len(docs)).Msg("Inserted batch")
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
