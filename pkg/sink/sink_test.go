package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"harvester/internal/config"
	"harvester/pkg/record"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []record.Document {
	have, want := 10, 20
	price := 12.5
	return []record.Document{
		&record.Record{
			ReleaseID: "1",
			Detail:    &record.DetailFragment{Have: &have, Want: &want},
			Stats:     &record.StatsFragment{Have: []string{"a", "b"}, Want: []string{"c"}},
			Sellers: &record.SellerFragment{Listings: []record.Listing{
				{Seller: "dubwax", Currency: "€", Price: &price},
				{Seller: "tokyo_records"},
			}},
			ScrapedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		&record.Record{ReleaseID: "2", Stats: &record.StatsFragment{Have: []string{}, Want: []string{"d"}}},
		&record.Release{ID: "3", Title: "dump only"},
	}
}

func TestNewSelectsKind(t *testing.T) {
	tests := []struct {
		kind string
		want any
	}{
		{KindSQLite, &SQLite{}},
		{KindPostgres, &Postgres{}},
		{KindPostgresNormalized, &PostgresNormalized{}},
		{KindRedis, &Redis{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, err := New(config.SinkConfig{Kind: tt.kind, Table: "releases"}, zerolog.Nop())
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}

	_, err := New(config.SinkConfig{Kind: "s3"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	s := NewSQLite(filepath.Join(t.TempDir(), "out.db"), zerolog.Nop())

	assert.Error(t, s.Insert(ctx, sampleRecords()), "insert before connect")

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Connect(ctx), "connect is idempotent")
	require.NoError(t, s.Insert(ctx, sampleRecords()))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByKind[record.KindHarvest])
	assert.Equal(t, 1, stats.ByKind[record.KindRelease])

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNormalizedBatches(t *testing.T) {
	batches := normalizedBatches(sampleRecords())

	rows := map[string]int{}
	for _, b := range batches {
		rows[b.table] = b.rows
		assert.Equal(t, b.rows, b.batch.Len())
	}
	assert.Equal(t, map[string]int{
		"release_details": 1,
		"release_sellers": 2,
		"release_haves":   2,
		"release_wants":   2,
	}, rows)
}

func TestRedisKey(t *testing.T) {
	r := NewRedis(RedisConfig{KeyPrefix: "release:"}, zerolog.Nop())
	assert.Equal(t, "release:249504", r.Key(&record.Record{ReleaseID: "249504"}))
}

func TestRedisSink(t *testing.T) {
	addr := os.Getenv("HARVESTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HARVESTER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r := NewRedis(RedisConfig{Addr: addr, KeyPrefix: "harvester-test:"}, zerolog.Nop())
	require.NoError(t, r.Connect(ctx))
	defer r.Close()

	docs := sampleRecords()
	require.NoError(t, r.Insert(ctx, docs))

	raw, err := r.client.Get(ctx, "harvester-test:1").Bytes()
	require.NoError(t, err)
	var got record.Record
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "1", got.ReleaseID)

	for _, d := range docs {
		r.client.Del(ctx, r.Key(d))
	}
}

func TestPostgresSinks(t *testing.T) {
	dsn := os.Getenv("HARVESTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HARVESTER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	blob := NewPostgres(PostgresConfig{DSN: dsn, Table: "harvester_test_releases", MaxConns: 2}, zerolog.Nop())
	require.NoError(t, blob.Connect(ctx))
	defer blob.Close()
	require.NoError(t, blob.Insert(ctx, sampleRecords()))
	require.NoError(t, blob.Insert(ctx, sampleRecords()), "re-insert upserts")

	var n int
	require.NoError(t, blob.pool.QueryRow(ctx, "SELECT COUNT(*) FROM harvester_test_releases WHERE key IN ('1','2','3')").Scan(&n))
	assert.Equal(t, 3, n)
	_, err := blob.pool.Exec(ctx, "DROP TABLE harvester_test_releases")
	require.NoError(t, err)

	norm := NewPostgresNormalized(PostgresConfig{DSN: dsn, MaxConns: 2}, zerolog.Nop())
	require.NoError(t, norm.Connect(ctx))
	defer norm.Close()
	require.NoError(t, norm.Insert(ctx, sampleRecords()))
}
