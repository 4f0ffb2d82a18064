// Package enrich runs the post-dispatch processing sequence over a journal
// entry: tagging, entity extraction, then indexing. Each step is contained so
// one broken step never costs the user their entry; only a failure of the
// surrounding bookkeeping fails the task.
package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/inkwell-app/inkwell/internal/bus"
	"github.com/inkwell-app/inkwell/internal/memory"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/shared"
	"github.com/inkwell-app/inkwell/internal/store"
)

// Step is one enrichment stage operating on a fetched entry.
type Step interface {
	Name() string
	Run(ctx context.Context, entry *store.Entry) error
}

// PersonaTrigger requests background profile resynthesis.
type PersonaTrigger interface {
	Trigger(ctx context.Context, ownerID string, force bool) (bool, error)
}

// Pipeline runs the fixed step sequence and the terminal bookkeeping.
type Pipeline struct {
	store    *store.Store
	steps    []Step
	mem      *memory.Memory
	persona  PersonaTrigger
	notifier notify.Notifier
	bus      *bus.Bus
	log      *slog.Logger
}

// New builds a Pipeline over the given steps, run in order.
func New(s *store.Store, steps []Step, mem *memory.Memory, personaTrigger PersonaTrigger, notifier notify.Notifier, eventBus *bus.Bus, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    s,
		steps:    steps,
		mem:      mem,
		persona:  personaTrigger,
		notifier: notifier,
		bus:      eventBus,
		log:      log,
	}
}

// Run enriches one entry. Per-step failures are logged and swallowed; the
// entry always ends ready unless the bookkeeping around the steps itself
// fails, in which case the entry is marked failed, the owner notified, and
// the error returned so the task ends FAILED. An entry is never left in
// processing.
func (p *Pipeline) Run(ctx context.Context, ownerID, entryID, summary string) error {
	if err := p.run(ctx, ownerID, entryID, summary); err != nil {
		p.fail(ctx, ownerID, entryID, err)
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, ownerID, entryID, summary string) error {
	if err := p.store.SetEntryStatus(ctx, ownerID, entryID, store.EntryStatusProcessing); err != nil {
		return fmt.Errorf("mark entry processing: %w", err)
	}
	entry, err := p.store.GetEntry(ctx, ownerID, entryID)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}

	for _, step := range p.steps {
		if err := p.runStep(ctx, step, entry); err != nil {
			p.log.Warn("enrichment step failed, continuing",
				"step", step.Name(),
				"owner_id", ownerID,
				"entry_id", entryID,
				"trace_id", shared.TraceID(ctx),
				"error", err)
		}
	}

	if err := p.store.SetEntryStatus(ctx, ownerID, entryID, store.EntryStatusReady); err != nil {
		return fmt.Errorf("mark entry ready: %w", err)
	}

	// The summary joins the conversation so follow-up classification sees
	// what the agent did. Best-effort: memory is advisory context.
	if summary != "" {
		if err := p.mem.Append(ctx, ownerID, memory.Message{Role: "agent", Content: summary}); err != nil {
			p.log.Warn("summary append failed", "owner_id", ownerID, "error", err)
		}
	}

	// Fire-and-forget: resynthesis failures never reach this caller.
	go func() {
		if _, err := p.persona.Trigger(context.WithoutCancel(ctx), ownerID, false); err != nil {
			p.log.Warn("persona trigger failed", "owner_id", ownerID, "error", err)
		}
	}()

	p.bus.Publish(bus.TopicEntryReady, map[string]any{"owner_id": ownerID, "entry_id": entryID})
	p.notifier.Notify(ctx, ownerID, notify.EventEntryReady, map[string]any{"entry_id": entryID})
	return nil
}

// runStep contains panics as well as errors so a single bad step cannot take
// down the worker.
func (p *Pipeline) runStep(ctx context.Context, step Step, entry *store.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return step.Run(ctx, entry)
}

func (p *Pipeline) fail(ctx context.Context, ownerID, entryID string, cause error) {
	if err := p.store.SetEntryStatus(ctx, ownerID, entryID, store.EntryStatusFailed); err != nil {
		p.log.Error("failed to mark entry failed",
			"owner_id", ownerID,
			"entry_id", entryID,
			"error", err)
	}
	p.bus.Publish(bus.TopicEntryFailed, map[string]any{"owner_id": ownerID, "entry_id": entryID})
	p.notifier.Notify(ctx, ownerID, notify.EventEntryFailed, map[string]any{
		"entry_id": entryID,
		"error":    cause.Error(),
	})
}
