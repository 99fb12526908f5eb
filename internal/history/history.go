// Package history persists completed conversation turns to PostgreSQL.
//
// Persistence is best-effort from the orchestrator's point of view: a write
// failure is logged and the conversation continues. The store is optional —
// a nil *Store skips all persistence.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Turn is one persisted conversation turn.
type Turn struct {
	SessionID string
	TurnID    int
	Speaker   string
	Content   string
	Timestamp time.Time

	// ProcessingTime is how long the assistant took to produce this turn.
	// Zero for user turns.
	ProcessingTime time.Duration

	Interrupted bool
}

// Store writes and reads conversation turns. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool from a connection string and returns a Store.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("history: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the conversation_turns table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS conversation_turns (
		    id                 BIGSERIAL PRIMARY KEY,
		    session_id         TEXT        NOT NULL,
		    turn_id            INT         NOT NULL,
		    speaker            TEXT        NOT NULL,
		    content            TEXT        NOT NULL,
		    timestamp          TIMESTAMPTZ NOT NULL,
		    processing_time_ns BIGINT      NOT NULL DEFAULT 0,
		    interrupted        BOOLEAN     NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS conversation_turns_session_idx
		    ON conversation_turns (session_id, turn_id)`

	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

// WriteTurn appends one turn.
func (s *Store) WriteTurn(ctx context.Context, t Turn) error {
	const q = `
		INSERT INTO conversation_turns
		    (session_id, turn_id, speaker, content, timestamp, processing_time_ns, interrupted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		t.SessionID,
		t.TurnID,
		t.Speaker,
		t.Content,
		t.Timestamp,
		t.ProcessingTime.Nanoseconds(),
		t.Interrupted,
	)
	if err != nil {
		return fmt.Errorf("history: write turn: %w", err)
	}
	return nil
}

// RecentTurns returns the most recent limit turns for the session, oldest
// first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	const q = `
		SELECT session_id, turn_id, speaker, content, timestamp, processing_time_ns, interrupted
		FROM   (
		    SELECT *
		    FROM   conversation_turns
		    WHERE  session_id = $1
		    ORDER  BY turn_id DESC
		    LIMIT  $2
		) latest
		ORDER  BY turn_id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent turns: %w", err)
	}
	return collectTurns(rows)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var (
			t      Turn
			procNS int64
		)
		if err := row.Scan(
			&t.SessionID,
			&t.TurnID,
			&t.Speaker,
			&t.Content,
			&t.Timestamp,
			&procNS,
			&t.Interrupted,
		); err != nil {
			return Turn{}, err
		}
		t.ProcessingTime = time.Duration(procNS)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}
