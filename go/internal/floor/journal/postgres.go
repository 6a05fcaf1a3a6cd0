package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS floor_events (
    id               UUID PRIMARY KEY,
    event_type       TEXT        NOT NULL,
    company          TEXT        NOT NULL,
    table_number     TEXT,
    duration_seconds INTEGER,
    destinations     TEXT[],
    message_id       TEXT,
    message_text     TEXT,
    call_id          TEXT,
    from_role        TEXT,
    target_role      TEXT,
    reason           TEXT,
    connection_id    TEXT,
    occurred_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS floor_events_company_time ON floor_events (company, occurred_at DESC);
`

const insertEvent = `
INSERT INTO floor_events (
    id, event_type, company, table_number, duration_seconds, destinations,
    message_id, message_text, call_id, from_role, target_role, reason,
    connection_id, occurred_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`

// PostgresJournal appends events to the floor_events table. It is write
// only; nothing in the relay reads it back.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal connects to dsn and makes sure the table exists.
func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createEventsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create floor_events table: %w", err)
	}
	log.Info().Msg("event journal ready")
	return &PostgresJournal{pool: pool}, nil
}

func (j *PostgresJournal) Publish(ctx context.Context, e Event) error {
	_, err := j.pool.Exec(ctx, insertEvent,
		e.ID, string(e.Type), e.Company,
		nullString(e.Table), nullInt(e.DurationSeconds), e.Destinations,
		nullString(e.MessageID), nullString(e.Text), nullString(e.CallID),
		nullString(e.From), nullString(e.Target), nullString(e.Reason),
		nullString(e.ConnectionID), e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int32 {
	if n == 0 {
		return nil
	}
	v := int32(n)
	return &v
}
