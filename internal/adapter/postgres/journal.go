package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openchamber/streamsync/internal/port/journal"
)

// Journal implements journal.Store using PostgreSQL (append-only).
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Append inserts one received event into the event_journal table.
func (j *Journal) Append(ctx context.Context, rec journal.Record) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO event_journal (session_id, event_type, payload, received_at)
		 VALUES ($1, $2, $3, $4)`,
		nullIfEmpty(rec.SessionID), rec.EventType, rec.Payload, rec.ReceivedAt)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// LoadBySession returns the most recent journaled events for a session,
// newest first.
func (j *Journal) LoadBySession(ctx context.Context, sessionID string, limit int) ([]journal.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.pool.Query(ctx,
		`SELECT COALESCE(session_id, ''), event_type, payload, received_at
		 FROM event_journal WHERE session_id = $1
		 ORDER BY received_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load journal %s: %w", sessionID, err)
	}
	defer rows.Close()

	var recs []journal.Record
	for rows.Next() {
		var r journal.Record
		if err := rows.Scan(&r.SessionID, &r.EventType, &r.Payload, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan journal record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// nullIfEmpty maps "" to SQL NULL for nullable text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
