package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is one conversation turn in the durable tier.
type Message struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendMessage appends a conversation turn and trims the owner's history to
// maxHistory entries, dropping the oldest rows first.
func (s *Store) AppendMessage(ctx context.Context, ownerID, role, content string, maxHistory int) error {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "user", "agent", "system":
	default:
		return fmt.Errorf("invalid role %q", role)
	}
	if maxHistory <= 0 {
		maxHistory = 40
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append message tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (owner_id, role, content)
			VALUES (?, ?, ?);
		`, ownerID, role, content); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE owner_id = ? AND id NOT IN (
				SELECT id FROM messages
				WHERE owner_id = ?
				ORDER BY id DESC
				LIMIT ?
			);
		`, ownerID, ownerID, maxHistory); err != nil {
			return fmt.Errorf("trim messages: %w", err)
		}
		return tx.Commit()
	})
}

// RecentMessages returns up to limit of the owner's most recent messages in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, ownerID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 40
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, role, content, created_at
		FROM (
			SELECT id, owner_id, role, content, created_at
			FROM messages
			WHERE owner_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC;
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message rows: %w", err)
	}
	return out, nil
}

// ClearMessages deletes the owner's conversation history.
func (s *Store) ClearMessages(ctx context.Context, ownerID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE owner_id = ?;
	`, ownerID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}
