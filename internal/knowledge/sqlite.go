package knowledge

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if necessary) the database at path.
// An empty path uses a shared in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// RecordInsight saves one insight.
func (s *SQLiteStore) RecordInsight(ctx context.Context, ins Insight) error {
	if ins.ID == "" {
		ins.ID = uuid.New().String()
	}
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (id, subject, grade_band, summary, final_score, rounds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ins.ID, ins.Subject, ins.GradeBand, ins.Summary, ins.FinalScore, ins.Rounds, ins.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// RecentInsights returns up to limit insights, newest first.
func (s *SQLiteStore) RecentInsights(ctx context.Context, limit int) ([]Insight, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, grade_band, summary, final_score, rounds, created_at
		FROM insights
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var ins Insight
		if err := rows.Scan(&ins.ID, &ins.Subject, &ins.GradeBand, &ins.Summary,
			&ins.FinalScore, &ins.Rounds, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
