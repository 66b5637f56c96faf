// Package history provides PostgreSQL-backed storage for finished calls.
// Each record captures the call's parties, its final status, and the talk
// time, for display in the chat's call log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loqui/messenger/internal/call"
)

// validStatuses is the set of allowed final statuses, matching the CHECK
// constraint on the call_history table.
var validStatuses = map[string]bool{
	call.FinalEnded:    true,
	call.FinalDeclined: true,
	call.FinalMissed:   true,
}

// Store manages call history in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a call history store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordCall inserts one finished call. The status is validated against the
// allowed set before insertion.
func (s *Store) RecordCall(ctx context.Context, rec call.Record) error {
	if !validStatuses[rec.Status] {
		return fmt.Errorf("history: invalid status %q", rec.Status)
	}

	const query = `
		INSERT INTO call_history (call_id, chat_id, caller_id, callee_id, is_video, status, started_at, duration_secs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		rec.CallID,
		rec.ChatID,
		rec.CallerID,
		rec.CalleeID,
		rec.IsVideo,
		rec.Status,
		rec.StartedAt,
		rec.Duration,
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", rec.CallID, err)
	}
	return nil
}

// Entry is one row of a chat's call log.
type Entry struct {
	CallID    string
	CallerID  string
	CalleeID  string
	IsVideo   bool
	Status    string
	StartedAt time.Time
	Duration  int64
}

// ForChat returns the chat's most recent calls, newest first.
func (s *Store) ForChat(ctx context.Context, chatID string, limit int) ([]Entry, error) {
	const query = `
		SELECT call_id, caller_id, callee_id, is_video, status, started_at, duration_secs
		FROM call_history
		WHERE chat_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CallID, &e.CallerID, &e.CalleeID, &e.IsVideo, &e.Status, &e.StartedAt, &e.Duration); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return entries, nil
}
