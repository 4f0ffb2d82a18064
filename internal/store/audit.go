package store

import (
	"context"
	"fmt"
	"time"
)

// IntentAudit is one record of a dispatch decision: which intent was
// classified and what action the dispatcher took for it.
type IntentAudit struct {
	ID         int64     `json:"id"`
	OwnerID    string    `json:"owner_id"`
	TaskID     string    `json:"task_id,omitempty"`
	IntentKind string    `json:"intent_kind"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordIntentAudit appends an audit record. Audit writes are best-effort at
// the call sites; failures there are logged, never surfaced to the user.
func (s *Store) RecordIntentAudit(ctx context.Context, ownerID, taskID, intentKind, action, detail string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO intent_audit (owner_id, task_id, intent_kind, action, detail)
		VALUES (?, ?, ?, ?, ?);
	`, ownerID, taskID, intentKind, action, detail); err != nil {
		return fmt.Errorf("insert intent audit: %w", err)
	}
	return nil
}

// ListIntentAudit returns the owner's most recent audit records, newest first.
func (s *Store) ListIntentAudit(ctx context.Context, ownerID string, limit int) ([]IntentAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, task_id, intent_kind, action, detail, created_at
		FROM intent_audit
		WHERE owner_id = ?
		ORDER BY id DESC
		LIMIT ?;
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query intent audit: %w", err)
	}
	defer rows.Close()

	var out []IntentAudit
	for rows.Next() {
		var a IntentAudit
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.TaskID, &a.IntentKind, &a.Action, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan intent audit: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intent audit rows: %w", err)
	}
	return out, nil
}
