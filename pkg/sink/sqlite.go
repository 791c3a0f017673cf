package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"harvester/internal/database"
	"harvester/pkg/record"

	"github.com/rs/zerolog"
)

// SQLite stores every document as a JSON row in a local database file
type SQLite struct {
	path string
	log  zerolog.Logger

	mu  sync.Mutex
	db  *database.DB
	svc *database.Service
}

func NewSQLite(path string, log zerolog.Logger) *SQLite {
	return &SQLite{path: path, log: log}
}

func (s *SQLite) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := database.NewDB(s.path)
	if err != nil {
		return fmt.Errorf("sqlite sink: %w", err)
	}
	s.db = db
	s.svc = database.NewService(db)
	s.log.Info().Str("path", s.path).Msg("SQLite sink ready")
	return nil
}

func (s *SQLite) Insert(ctx context.Context, docs []record.Document) error {
	s.mu.Lock()
	svc := s.svc
	s.mu.Unlock()
	if svc == nil {
		return errors.New("sqlite sink: not connected")
	}

	if err := svc.UpsertDocuments(ctx, docs); err != nil {
		return fmt.Errorf("sqlite sink: %w", err)
	}
	s.log.Debug().Int("documents", len(docs)).Msg("Inserted batch")
	return nil
}

// Stats reports what the database holds
func (s *SQLite) Stats(ctx context.Context) (database.DocumentStats, error) {
	s.mu.Lock()
	svc := s.svc
	s.mu.Unlock()
	if svc == nil {
		return database.DocumentStats{}, errors.New("sqlite sink: not connected")
	}
	return svc.Stats(ctx)
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.svc = nil, nil
	return err
}
