// Package storage provides the realtime core's read-only view of the CRUD
// layer's PostgreSQL schema. The core never writes chat or membership rows;
// it only resolves participant lists for fan-out.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Store reads chat membership from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ChatParticipants returns the user ids that are members of chatID.
func (s *Store) ChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	const query = `SELECT user_id FROM chat_members WHERE chat_id = $1`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("storage: query members of %s: %w", chatID, err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan member: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows: %w", err)
	}
	return users, nil
}

// IsMember reports whether userID belongs to chatID.
func (s *Store) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("storage: member check %s/%s: %w", chatID, userID, err)
	}
	return ok, nil
}
