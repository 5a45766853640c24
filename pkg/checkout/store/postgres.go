package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
)

// PostgresSessionStore persists sessions in PostgreSQL. Same JSON
// envelope as the SQLite store, with jsonb columns.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	s := &PostgresSessionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects with a lib/pq DSN and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *PostgresSessionStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS checkout_sessions (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        snapshot JSONB NOT NULL,
        negotiated JSONB,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_checkout_sessions_status ON checkout_sessions(status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresSessionStore) Get(ctx context.Context, id string) (*checkout.Session, error) {
	query := `SELECT snapshot, negotiated FROM checkout_sessions WHERE id = $1`
	return scanSession(s.db.QueryRowContext(ctx, query, id), id)
}

func (s *PostgresSessionStore) Put(ctx context.Context, session *checkout.Session) error {
	snapshot, negotiated, err := encodeSession(session)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO checkout_sessions (id, status, snapshot, negotiated, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            snapshot = EXCLUDED.snapshot,
            negotiated = EXCLUDED.negotiated,
            updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		session.ID, string(session.Status), snapshot, negotiated,
		session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}
