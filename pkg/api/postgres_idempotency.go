package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// PostgresIdempotencyStore provides durable idempotency enforcement
// backed by PostgreSQL, so a completion retry replays correctly even
// across process restarts.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresIdempotencyStore creates the store and its table.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) (*PostgresIdempotencyStore, error) {
	s := &PostgresIdempotencyStore{db: db, ttl: ttl}
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS idempotency_keys (
            key TEXT PRIMARY KEY,
            status_code INTEGER NOT NULL,
            body BYTEA NOT NULL,
            cached_at TIMESTAMPTZ NOT NULL
        )`)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Check returns a cached response if the key was seen within the TTL.
func (s *PostgresIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var statusCode int
	var body []byte
	var cachedAt time.Time

	err := s.db.QueryRow(
		`SELECT status_code, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	hdr := make(http.Header)
	hdr.Set("Content-Type", "application/json")
	return &cachedResponse{StatusCode: statusCode, Headers: hdr, Body: body}, true
}

// Set stores an idempotency key and its response. Best effort: a write
// failure is logged, never surfaced to the request.
func (s *PostgresIdempotencyStore) Set(key string, statusCode int, _ http.Header, body []byte) {
	_, err := s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, body, cached_at)
         VALUES ($1, $2, $3, NOW())
         ON CONFLICT (key) DO UPDATE SET status_code = $2, body = $3, cached_at = NOW()`,
		key, statusCode, body,
	)
	if err != nil {
		slog.Warn("idempotency key not stored", "error", err)
	}
}

// Cleanup removes expired idempotency keys older than the TTL.
func (s *PostgresIdempotencyStore) Cleanup() {
	_, _ = s.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	)
}
