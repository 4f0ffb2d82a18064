package memory

import (
	"context"

	"github.com/inkwell-app/inkwell/internal/store"
)

// DurableTier adapts the SQLite store to the Tier interface.
type DurableTier struct {
	store      *store.Store
	maxHistory int
}

// NewDurableTier wraps the store as the durable tier.
func NewDurableTier(s *store.Store, maxHistory int) *DurableTier {
	if maxHistory <= 0 {
		maxHistory = 40
	}
	return &DurableTier{store: s, maxHistory: maxHistory}
}

func (d *DurableTier) Append(ctx context.Context, ownerID string, msg Message) error {
	return d.store.AppendMessage(ctx, ownerID, msg.Role, msg.Content, d.maxHistory)
}

func (d *DurableTier) Recent(ctx context.Context, ownerID string, limit int) ([]Message, error) {
	rows, err := d.store.RecentMessages(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{Role: r.Role, Content: r.Content, Timestamp: r.CreatedAt})
	}
	return out, nil
}

func (d *DurableTier) Clear(ctx context.Context, ownerID string) error {
	return d.store.ClearMessages(ctx, ownerID)
}
