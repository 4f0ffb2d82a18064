// Package notify delivers fire-and-forget owner notifications. Delivery is
// at-most-once and best-effort: durable task and entry state is always the
// source of truth, a notification is only a UX convenience.
package notify

import (
	"context"
	"log/slog"

	"github.com/inkwell-app/inkwell/internal/bus"
)

// Event types pushed to owners.
const (
	EventTaskState     = "task.state"
	EventEntryReady    = "entry.ready"
	EventEntryFailed   = "entry.failed"
	EventClarification = "clarification"
	EventReminder      = "reminder"
	EventPersona       = "persona.refreshed"
)

// Notifier pushes one event to one owner. Implementations must not block the
// caller for long and must never be load-bearing for correctness.
type Notifier interface {
	Notify(ctx context.Context, ownerID, eventType string, payload map[string]any)
}

// BusNotifier republishes notifications on the in-process event bus so other
// components (and tests) can observe them.
type BusNotifier struct {
	Bus *bus.Bus
}

func (b *BusNotifier) Notify(ctx context.Context, ownerID, eventType string, payload map[string]any) {
	b.Bus.Publish("notify."+eventType, map[string]any{
		"owner_id": ownerID,
		"event":    eventType,
		"payload":  payload,
	})
}

// Multi fans a notification out to several notifiers.
type Multi struct {
	Notifiers []Notifier
}

func (m *Multi) Notify(ctx context.Context, ownerID, eventType string, payload map[string]any) {
	for _, n := range m.Notifiers {
		n.Notify(ctx, ownerID, eventType, payload)
	}
}

// Nop discards notifications. Used in tests and when no channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}

// logged wraps best-effort delivery errors for implementations that have them.
func logDeliveryError(log *slog.Logger, channel, ownerID, eventType string, err error) {
	log.Warn("notification delivery failed",
		"channel", channel,
		"owner_id", ownerID,
		"event", eventType,
		"error", err)
}
