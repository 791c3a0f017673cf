package workitems

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"harvester/internal/config"

	"github.com/jackc/pgx/v5"
)

// Source yields the release ids to harvest
type Source interface {
	Name() string
	IDs(ctx context.Context) ([]string, error)
}

// New picks the source named by cfg.Kind. args are the positional ids from
// the command line; dsn is used by the postgres source.
func New(cfg config.SourceConfig, args []string, dsn string) (Source, error) {
	switch cfg.Kind {
	case "args":
		return Args(args), nil
	case "file":
		return File{Path: cfg.File}, nil
	case "postgres":
		return Query{DSN: dsn, QueryFile: cfg.QueryFile}, nil
	default:
		return nil, fmt.Errorf("unknown work item source %q", cfg.Kind)
	}
}

// Args are ids given on the command line
type Args []string

func (a Args) Name() string { return "args" }

func (a Args) IDs(ctx context.Context) ([]string, error) {
	return normalize(a), nil
}

// File reads one id per line. Blank lines and # comments are skipped.
type File struct {
	Path string
}

func (f File) Name() string { return "file:" + f.Path }

func (f File) IDs(ctx context.Context) ([]string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ids file: %w", err)
	}
	defer file.Close()
	return ReadIDs(file)
}

// ReadIDs parses a newline-delimited id list
func ReadIDs(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ids: %w", err)
	}
	return normalize(ids), nil
}

// Query runs the SQL in QueryFile and takes the first column of every row
type Query struct {
	DSN       string
	QueryFile string
}

func (q Query) Name() string { return "postgres:" + q.QueryFile }

func (q Query) IDs(ctx context.Context) ([]string, error) {
	sql, err := os.ReadFile(q.QueryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}

	connConfig, err := pgx.ParseConfig(q.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	rows, err := conn.Query(ctx, string(sql))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var v any
		if err := row.Scan(&v); err != nil {
			return "", err
		}
		return fmt.Sprint(v), nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return normalize(ids), nil
}

// normalize trims ids and drops blanks and repeats, keeping first-seen order
func normalize(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
