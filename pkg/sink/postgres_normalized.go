package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"harvester/pkg/record"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const normalizedSchema = `
CREATE TABLE IF NOT EXISTS release_details (
    release_id TEXT PRIMARY KEY,
    have INTEGER,
    want INTEGER,
    avg_rating DOUBLE PRECISION,
    ratings INTEGER,
    last_sold DATE,
    low DOUBLE PRECISION,
    median DOUBLE PRECISION,
    high DOUBLE PRECISION,
    scraped_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS release_sellers (
    id BIGSERIAL PRIMARY KEY,
    release_id TEXT NOT NULL,
    image_url TEXT,
    have INTEGER,
    want INTEGER,
    title TEXT,
    label TEXT,
    catno TEXT,
    media_condition TEXT,
    media_condition_description TEXT,
    seller TEXT,
    seller_rating DOUBLE PRECISION,
    ships_from TEXT,
    currency TEXT,
    price DOUBLE PRECISION,
    scraped_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_release_sellers_release_id ON release_sellers(release_id);

CREATE TABLE IF NOT EXISTS release_haves (
    release_id TEXT NOT NULL,
    username TEXT NOT NULL,
    PRIMARY KEY (release_id, username)
);

CREATE TABLE IF NOT EXISTS release_wants (
    release_id TEXT NOT NULL,
    username TEXT NOT NULL,
    PRIMARY KEY (release_id, username)
);`

// PostgresNormalized spreads harvested records over one table per fragment.
// Each table's rows are written independently so that one failing table does
// not hold back the others.
type PostgresNormalized struct {
	config PostgresConfig
	log    zerolog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewPostgresNormalized(config PostgresConfig, log zerolog.Logger) *PostgresNormalized {
	return &PostgresNormalized{config: config, log: log}
}

func (p *PostgresNormalized) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}

	pool, err := openPool(ctx, p.config)
	if err != nil {
		return fmt.Errorf("postgres sink: %w", err)
	}
	if _, err := pool.Exec(ctx, normalizedSchema); err != nil {
		pool.Close()
		return fmt.Errorf("postgres sink: failed to create tables: %w", err)
	}

	p.pool = pool
	p.log.Info().Msg("Normalized Postgres sink ready")
	return nil
}

type tableBatch struct {
	table string
	rows  int
	batch *pgx.Batch
}

func (p *PostgresNormalized) Insert(ctx context.Context, docs []record.Document) error {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil {
		return errors.New("postgres sink: not connected")
	}

	var errs []error
	for _, tb := range normalizedBatches(docs) {
		if tb.rows == 0 {
			continue
		}
		if err := execBatch(ctx, pool, tb.batch); err != nil {
			p.log.Error().Err(err).Str("table", tb.table).Int("rows", tb.rows).Msg("Failed to insert rows")
			errs = append(errs, fmt.Errorf("%s: %w", tb.table, err))
			continue
		}
		p.log.Debug().Str("table", tb.table).Int("rows", tb.rows).Msg("Inserted rows")
	}
	return errors.Join(errs...)
}

func (p *PostgresNormalized) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// normalizedBatches turns harvested records into one batch per table. Other
// document kinds have no normalized form and are skipped.
func normalizedBatches(docs []record.Document) []tableBatch {
	details := tableBatch{table: "release_details", batch: &pgx.Batch{}}
	sellers := tableBatch{table: "release_sellers", batch: &pgx.Batch{}}
	haves := tableBatch{table: "release_haves", batch: &pgx.Batch{}}
	wants := tableBatch{table: "release_wants", batch: &pgx.Batch{}}

	for _, doc := range docs {
		rec, ok := doc.(*record.Record)
		if !ok {
			continue
		}
		scrapedAt := rec.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = time.Now().UTC()
		}

		if d := rec.Detail; d != nil {
			details.batch.Queue(`
				INSERT INTO release_details (release_id, have, want, avg_rating, ratings, last_sold, low, median, high, scraped_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (release_id) DO UPDATE SET
					have = EXCLUDED.have, want = EXCLUDED.want, avg_rating = EXCLUDED.avg_rating,
					ratings = EXCLUDED.ratings, last_sold = EXCLUDED.last_sold, low = EXCLUDED.low,
					median = EXCLUDED.median, high = EXCLUDED.high, scraped_at = EXCLUDED.scraped_at
			`, rec.ReleaseID, d.Have, d.Want, d.AvgRating, d.Ratings, d.LastSold, d.Low, d.Median, d.High, scrapedAt)
			details.rows++
		}

		if s := rec.Sellers; s != nil {
			for _, l := range s.Listings {
				sellers.batch.Queue(`
					INSERT INTO release_sellers (
						release_id, image_url, have, want, title, label, catno, media_condition,
						media_condition_description, seller, seller_rating, ships_from, currency, price, scraped_at
					) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				`, rec.ReleaseID, l.ImageURL, l.CommunityHave, l.CommunityWant, l.Title, l.Label, l.CatalogNumber,
					l.MediaCondition, l.MediaConditionDescription, l.Seller, l.SellerRating, l.ShipsFrom, l.Currency, l.Price, scrapedAt)
				sellers.rows++
			}
		}

		if st := rec.Stats; st != nil {
			for _, user := range st.Have {
				haves.batch.Queue(`INSERT INTO release_haves (release_id, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`, rec.ReleaseID, user)
				haves.rows++
			}
			for _, user := range st.Want {
				wants.batch.Queue(`INSERT INTO release_wants (release_id, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`, rec.ReleaseID, user)
				wants.rows++
			}
		}
	}
	return []tableBatch{sellers, details, wants, haves}
}
