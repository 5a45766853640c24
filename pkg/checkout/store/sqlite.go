// Package store provides durable checkout-session stores. The session
// snapshot is persisted as a JSON document alongside the negotiated
// capability set, which is not part of the wire snapshot but must
// survive restarts for capability gating to keep working.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
	"github.com/cymbal-labs/ucp-engine/pkg/negotiate"
)

type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore creates the store and runs its migration.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *SQLiteSessionStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS checkout_sessions (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        snapshot JSON NOT NULL,
        negotiated JSON,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_checkout_sessions_status ON checkout_sessions(status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*checkout.Session, error) {
	query := `SELECT snapshot, negotiated FROM checkout_sessions WHERE id = ?`
	return scanSession(s.db.QueryRowContext(ctx, query, id), id)
}

func (s *SQLiteSessionStore) Put(ctx context.Context, session *checkout.Session) error {
	snapshot, negotiated, err := encodeSession(session)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO checkout_sessions (id, status, snapshot, negotiated, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            snapshot = excluded.snapshot,
            negotiated = excluded.negotiated,
            updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		session.ID, string(session.Status), snapshot, negotiated,
		session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeSession(session *checkout.Session) (snapshot, negotiated []byte, err error) {
	snapshot, err = json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if session.Negotiated != nil {
		negotiated, err = json.Marshal(session.Negotiated)
		if err != nil {
			return nil, nil, fmt.Errorf("encode negotiated set for %s: %w", session.ID, err)
		}
	}
	return snapshot, negotiated, nil
}

func scanSession(row rowScanner, id string) (*checkout.Session, error) {
	var snapshot, negotiated []byte
	if err := row.Scan(&snapshot, &negotiated); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", checkout.ErrNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var session checkout.Session
	if err := json.Unmarshal(snapshot, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if len(negotiated) > 0 {
		var result negotiate.Result
		if err := json.Unmarshal(negotiated, &result); err != nil {
			return nil, fmt.Errorf("decode negotiated set for %s: %w", id, err)
		}
		session.Negotiated = &result
	}
	return &session, nil
}
