// Package memory is the dual-tier conversational memory: a Redis fast tier
// caching the recent window and the SQLite store as the durable tier. The
// durable tier is the source of truth; the fast tier is an optimization that
// the system survives losing entirely.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/inkwell-app/inkwell/internal/shared"
)

// Message is one conversation turn as the rest of the system sees it,
// independent of which tier it came from.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Tier is a single storage tier for conversation history.
type Tier interface {
	Append(ctx context.Context, ownerID string, msg Message) error
	Recent(ctx context.Context, ownerID string, limit int) ([]Message, error)
	Clear(ctx context.Context, ownerID string) error
}

// Replacer is an optional Tier capability: swap the owner's cached window in
// one shot. Tiers that implement it get atomic refills.
type Replacer interface {
	Replace(ctx context.Context, ownerID string, msgs []Message) error
}

// Memory coordinates the fast and durable tiers. The fast tier may be nil,
// in which case every read and write goes straight to the durable tier.
type Memory struct {
	durable    Tier
	fast       Tier
	maxHistory int
	log        *slog.Logger
	missCount  func(ctx context.Context) // optional metrics hook
}

// Option configures a Memory.
type Option func(*Memory)

// WithFastTier attaches a fast tier.
func WithFastTier(t Tier) Option {
	return func(m *Memory) { m.fast = t }
}

// WithMissCounter registers a callback invoked on each fast-tier miss.
func WithMissCounter(fn func(ctx context.Context)) Option {
	return func(m *Memory) { m.missCount = fn }
}

// New builds a Memory over the durable tier.
func New(durable Tier, maxHistory int, log *slog.Logger, opts ...Option) *Memory {
	if maxHistory <= 0 {
		maxHistory = 40
	}
	m := &Memory{durable: durable, maxHistory: maxHistory, log: log}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxHistory returns the retention window size.
func (m *Memory) MaxHistory() int {
	return m.maxHistory
}

// Append records a conversation turn. The durable write must succeed; the
// fast-tier write is best-effort and only logged on failure so a Redis outage
// never blocks the conversation.
func (m *Memory) Append(ctx context.Context, ownerID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := m.durable.Append(ctx, ownerID, msg); err != nil {
		return err
	}
	if m.fast != nil {
		if err := m.fast.Append(ctx, ownerID, msg); err != nil {
			m.log.Warn("fast tier append failed",
				"owner_id", ownerID,
				"trace_id", shared.TraceID(ctx),
				"error", err)
		}
	}
	return nil
}

// Recent returns up to limit recent messages, oldest first. It reads the fast
// tier first and falls through to the durable tier on a miss or error. If
// both tiers fail, it degrades to an empty history rather than blocking the
// conversation, and logs the condition.
func (m *Memory) Recent(ctx context.Context, ownerID string, limit int) []Message {
	if limit <= 0 || limit > m.maxHistory {
		limit = m.maxHistory
	}
	refillable := false
	if m.fast != nil {
		msgs, err := m.fast.Recent(ctx, ownerID, limit)
		if err == nil && len(msgs) > 0 {
			return msgs
		}
		if err != nil {
			m.log.Warn("fast tier read failed",
				"owner_id", ownerID,
				"trace_id", shared.TraceID(ctx),
				"error", err)
		} else {
			// Only a clean empty read means the cache is cold. An errored
			// read may be hiding messages that a refill would duplicate, so
			// the cache is left alone to answer again once it recovers.
			refillable = true
		}
		if m.missCount != nil {
			m.missCount(ctx)
		}
	}
	msgs, err := m.durable.Recent(ctx, ownerID, limit)
	if err != nil {
		m.log.Error("durable tier read failed, degrading to empty history",
			"owner_id", ownerID,
			"trace_id", shared.TraceID(ctx),
			"error", err)
		return nil
	}
	if refillable && len(msgs) > 0 {
		m.refill(ctx, ownerID, msgs)
	}
	return msgs
}

// refill repopulates a cold fast tier. The window is replaced wholesale; a
// partial write is wiped so the cache can never answer with a stale prefix of
// the conversation.
func (m *Memory) refill(ctx context.Context, ownerID string, msgs []Message) {
	if r, ok := m.fast.(Replacer); ok {
		if err := r.Replace(ctx, ownerID, msgs); err != nil {
			m.log.Warn("fast tier refill failed",
				"owner_id", ownerID,
				"error", err)
		}
		return
	}
	if err := m.fast.Clear(ctx, ownerID); err != nil {
		m.log.Warn("fast tier refill failed",
			"owner_id", ownerID,
			"error", err)
		return
	}
	for _, msg := range msgs {
		if err := m.fast.Append(ctx, ownerID, msg); err != nil {
			m.log.Warn("fast tier refill failed",
				"owner_id", ownerID,
				"error", err)
			_ = m.fast.Clear(ctx, ownerID)
			return
		}
	}
}

// Clear wipes the owner's history in both tiers. Each tier is cleared
// independently so a fast-tier failure does not leave the durable tier
// populated.
func (m *Memory) Clear(ctx context.Context, ownerID string) error {
	var firstErr error
	if err := m.durable.Clear(ctx, ownerID); err != nil {
		firstErr = err
	}
	if m.fast != nil {
		if err := m.fast.Clear(ctx, ownerID); err != nil {
			m.log.Warn("fast tier clear failed",
				"owner_id", ownerID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
