package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inkwell-app/inkwell/internal/bus"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/store"
	"github.com/inkwell-app/inkwell/internal/workflow"
)

const synthesisSystemPrompt = `You are building a concise profile of a journaling app user from their recent entries.
Write markdown with two parts:
1. A "# Profile" heading followed by 3-6 bullet points on themes, habits and goals.
2. A final line starting with "Summary: " containing one sentence.
Be factual; only state what the entries support.`

// Generator produces text from a prompt. The LLM-backed classifier satisfies
// this; synthesis degrades to a deterministic digest without it.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// SynthesisWorkflow rebuilds an owner's persona from their recent entries.
type SynthesisWorkflow struct {
	store     *store.Store
	scheduler *Scheduler
	generator Generator
	notifier  notify.Notifier
	bus       *bus.Bus
	log       *slog.Logger
}

// NewSynthesisWorkflow builds the workflow.
func NewSynthesisWorkflow(s *store.Store, scheduler *Scheduler, generator Generator, notifier notify.Notifier, eventBus *bus.Bus, log *slog.Logger) *SynthesisWorkflow {
	return &SynthesisWorkflow{store: s, scheduler: scheduler, generator: generator, notifier: notifier, bus: eventBus, log: log}
}

func (w *SynthesisWorkflow) Type() string {
	return TaskTypeSynthesis
}

// Execute reads the owner's recent entries, synthesizes a profile and upserts
// it. The in-flight guard is released on every exit path.
func (w *SynthesisWorkflow) Execute(ctx context.Context, task *store.Task) (workflow.Result, error) {
	defer w.scheduler.Done(task.OwnerID)

	entries, err := w.store.RecentEntries(ctx, task.OwnerID, 20)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		return workflow.Completed("no entries to synthesize from"), nil
	}

	markdown, summary := w.synthesize(ctx, entries)
	if err := w.store.SavePersona(ctx, task.OwnerID, summary, markdown); err != nil {
		return workflow.Result{}, fmt.Errorf("save persona: %w", err)
	}

	w.bus.Publish(bus.TopicPersonaRefreshed, map[string]any{"owner_id": task.OwnerID})
	w.notifier.Notify(ctx, task.OwnerID, notify.EventPersona, nil)
	return workflow.Completed(summary), nil
}

// synthesize asks the model for a profile, falling back to a deterministic
// digest when the model is unavailable or returns something unusable.
func (w *SynthesisWorkflow) synthesize(ctx context.Context, entries []store.Entry) (markdown, summary string) {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.EntryDate, e.Content)
	}

	if w.generator != nil {
		out, err := w.generator.Generate(ctx, synthesisSystemPrompt, b.String())
		if err == nil && strings.TrimSpace(out) != "" {
			return out, extractSummary(out)
		}
		if err != nil {
			w.log.Warn("persona generation failed, using digest fallback", "error", err)
		}
	}

	// Digest fallback: enough content to clear the bootstrap threshold so the
	// scheduler stops re-triggering on every message.
	var md strings.Builder
	md.WriteString("# Profile\n\n")
	limit := min(len(entries), 5)
	for _, e := range entries[:limit] {
		fmt.Fprintf(&md, "- %s: %s\n", e.EntryDate, truncate(e.Content, 120))
	}
	summary = fmt.Sprintf("Journaling regularly; %d recent entries on record.", len(entries))
	md.WriteString("\nSummary: " + summary + "\n")
	return md.String(), summary
}

func extractSummary(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Summary:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return truncate(markdown, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
