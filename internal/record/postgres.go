package record

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    session_id    TEXT         PRIMARY KEY,
    caller_id     TEXT         NOT NULL DEFAULT '',
    verification  TEXT         NOT NULL DEFAULT 'pending',
    started_at    TIMESTAMPTZ  NOT NULL,
    ended_at      TIMESTAMPTZ,
    end_reason    TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    interrupted  BOOLEAN      NOT NULL DEFAULT FALSE,
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns (session_id);
CREATE INDEX IF NOT EXISTS idx_turns_session_timestamp ON turns (session_id, timestamp);
`

// PostgresStore is a Store backed by a PostgreSQL connection pool.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and ensures the calls and
// turns tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("record store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("record store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("record store: ping: %w", err)
	}

	for _, ddl := range []string{ddlCalls, ddlTurns} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			pool.Close()
			return nil, fmt.Errorf("record store: migrate: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// WriteCall implements Store. It upserts on session_id so a call can be
// written once at start and again at end.
func (s *PostgresStore) WriteCall(ctx context.Context, rec CallRecord) error {
	const q = `
		INSERT INTO calls (session_id, caller_id, verification, started_at, ended_at, end_reason)
		VALUES ($1, $2, $3, $4, NULLIF($5, '0001-01-01 00:00:00+00'::timestamptz), $6)
		ON CONFLICT (session_id) DO UPDATE
		SET caller_id    = EXCLUDED.caller_id,
		    verification = EXCLUDED.verification,
		    ended_at     = EXCLUDED.ended_at,
		    end_reason   = EXCLUDED.end_reason`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.CallerID,
		rec.Verification,
		rec.StartedAt,
		rec.EndedAt,
		rec.EndReason,
	)
	if err != nil {
		return fmt.Errorf("record store: write call: %w", err)
	}
	return nil
}

// WriteTurn implements Store.
func (s *PostgresStore) WriteTurn(ctx context.Context, rec TurnRecord) error {
	const q = `
		INSERT INTO turns (session_id, role, text, interrupted, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.Role,
		rec.Text,
		rec.Interrupted,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record store: write turn: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
