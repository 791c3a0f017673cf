package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"harvester/internal/database/models/model"
	"harvester/internal/database/models/table"
	"harvester/pkg/record"

	"github.com/go-jet/jet/v2/qrm"
	. "github.com/go-jet/jet/v2/sqlite"
)

// rowsPerStatement keeps a multi-row insert under SQLite's bound variable limit
const rowsPerStatement = 200

const timestampLayout = "2006-01-02 15:04:05"

// Service handles document storage on top of DB
type Service struct {
	db  *DB
	now func() time.Time
}

func NewService(db *DB) *Service {
	return &Service{db: db, now: time.Now}
}

// UpsertDocuments writes docs in one transaction. A document whose key already
// exists replaces the stored kind, data and insert time.
func (s *Service) UpsertDocuments(ctx context.Context, docs []record.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertedAt := s.now().UTC().Format(timestampLayout)
	for start := 0; start < len(docs); start += rowsPerStatement {
		end := min(start+rowsPerStatement, len(docs))

		stmt := table.Documents.INSERT(
			table.Documents.Key,
			table.Documents.Kind,
			table.Documents.Data,
			table.Documents.InsertedAt,
		)
		for _, doc := range docs[start:end] {
			data, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode document %s: %w", doc.Key(), err)
			}
			stmt = stmt.VALUES(doc.Key(), doc.Kind(), string(data), insertedAt)
		}
		stmt = stmt.ON_CONFLICT(table.Documents.Key).DO_UPDATE(SET(
			table.Documents.Kind.SET(table.Documents.EXCLUDED.Kind),
			table.Documents.Data.SET(table.Documents.EXCLUDED.Data),
			table.Documents.InsertedAt.SET(table.Documents.EXCLUDED.InsertedAt),
		))

		if _, err := stmt.ExecContext(ctx, tx); err != nil {
			return fmt.Errorf("failed to upsert documents: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDocument returns the stored document for key, or nil when absent
func (s *Service) GetDocument(ctx context.Context, key string) (*model.Documents, error) {
	stmt := SELECT(
		table.Documents.AllColumns,
	).FROM(
		table.Documents,
	).WHERE(
		table.Documents.Key.EQ(String(key)),
	)

	var doc model.Documents
	if err := stmt.QueryContext(ctx, s.db, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, qrm.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// DocumentStats contains counts over the stored documents
type DocumentStats struct {
	Total  int            `json:"total"`
	ByKind map[string]int `json:"by_kind"`
}

func (s *Service) Stats(ctx context.Context) (DocumentStats, error) {
	var stats DocumentStats

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.Total)
	if err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM documents GROUP BY kind")
	if err != nil {
		return stats, fmt.Errorf("failed to count documents by kind: %w", err)
	}
	defer rows.Close()

	stats.ByKind = make(map[string]int)
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return stats, fmt.Errorf("failed to scan kind row: %w", err)
		}
		stats.ByKind[kind] = count
	}
	return stats, rows.Err()
}
