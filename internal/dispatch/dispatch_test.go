package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell/internal/classify"
	"github.com/inkwell-app/inkwell/internal/dispatch"
	"github.com/inkwell-app/inkwell/internal/memory"
	"github.com/inkwell-app/inkwell/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "inkwell.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// cannedClassifier returns a fixed result or error.
type cannedClassifier struct {
	result *classify.Result
	err    error
}

func (c *cannedClassifier) Classify(context.Context, string, string, []memory.Message, string) (*classify.Result, error) {
	return c.result, c.err
}

func newDispatcher(t *testing.T, s *store.Store, c classify.Classifier) (*dispatch.Dispatcher, *memory.Memory) {
	t.Helper()
	mem := memory.New(memory.NewDurableTier(s, 40), 40, discardLogger())
	d := dispatch.New(c, mem,
		&dispatch.StoreEntries{Store: s},
		&dispatch.StoreGoals{Store: s},
		&dispatch.StoreHabits{Store: s},
		&dispatch.StoreReminders{Store: s},
		&dispatch.StoreQueries{Store: s},
		s, discardLogger())
	return d, mem
}

func draftEntry(t *testing.T, s *store.Store, owner, text string) *store.Entry {
	t.Helper()
	entry, err := s.CreateEntry(context.Background(), owner, text, "2026-08-31")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return entry
}

func TestDispatch_ClarificationShortCircuit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	classifier := &cannedClassifier{result: &classify.Result{
		Intents: []classify.Intent{{
			Kind:               classify.KindReminder,
			Entities:           map[string]string{},
			NeedsClarification: true,
			Clarification:      "When should I remind you?",
		}},
		Summary: "ambiguous reminder",
	}}
	d, mem := newDispatcher(t, s, classifier)
	entry := draftEntry(t, s, "u1", "remind me")

	outcome, err := d.Dispatch(ctx, "u1", "task-1", entry.ID, "remind me", "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Clarification != "When should I remind you?" {
		t.Fatalf("expected clarification payload, got %+v", outcome)
	}

	// Zero side effects: no reminder, no memory append, entry ended ready.
	if due, _ := s.DueReminders(ctx, time.Now().UTC().AddDate(1, 0, 0)); len(due) != 0 {
		t.Fatalf("clarification created a reminder: %d", len(due))
	}
	if history := mem.Recent(ctx, "u1", 40); len(history) != 0 {
		t.Fatalf("clarification appended to memory: %d", len(history))
	}
	got, err := s.GetEntry(ctx, "u1", entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != store.EntryStatusReady {
		t.Fatalf("expected entry ready after clarification, got %s", got.Status)
	}

	audits, err := s.ListIntentAudit(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audits) != 1 || audits[0].Action != "clarification_returned" {
		t.Fatalf("expected one clarification audit row, got %+v", audits)
	}
}

func TestDispatch_ClassifierErrorFallsBackToJournaling(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	classifier := &cannedClassifier{err: errors.New("network timeout")}
	d, mem := newDispatcher(t, s, classifier)
	entry := draftEntry(t, s, "u1", "remind me")

	outcome, err := d.Dispatch(ctx, "u1", "task-1", entry.ID, "remind me", "")
	if err != nil {
		t.Fatalf("dispatch should not propagate classifier errors: %v", err)
	}
	if outcome.Summary != "Saved as daily entry" {
		t.Fatalf("expected default summary, got %q", outcome.Summary)
	}
	if !outcome.Journaled {
		t.Fatal("expected fallback to journal the message")
	}
	if history := mem.Recent(ctx, "u1", 40); len(history) != 1 || history[0].Content != "remind me" {
		t.Fatalf("expected raw message in memory, got %v", history)
	}

	audits, err := s.ListIntentAudit(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var sawFallback bool
	for _, a := range audits {
		if a.Action == "classifier_fallback" {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Fatalf("expected a fallback audit row, got %+v", audits)
	}
}

func TestDispatch_GoalIntentCreatesGoal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	classifier := &cannedClassifier{result: &classify.Result{
		Intents: []classify.Intent{{
			Kind:     classify.KindGoal,
			Entities: map[string]string{"title": "run a marathon", "target_date": "2027-04-01"},
		}},
		Summary: "Goal created",
	}}
	d, _ := newDispatcher(t, s, classifier)
	entry := draftEntry(t, s, "u1", "I want to run a marathon next spring")

	outcome, err := d.Dispatch(ctx, "u1", "task-1", entry.ID, "I want to run a marathon next spring", "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.EarlyReturn != "" || outcome.Clarification != "" {
		t.Fatalf("unexpected short-circuit: %+v", outcome)
	}

	n, err := s.CountGoals(ctx, "u1")
	if err != nil {
		t.Fatalf("count goals: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 goal, got %d", n)
	}
}

func TestDispatch_QueryIntentEarlyReturns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	classifier := &cannedClassifier{result: &classify.Result{
		Intents: []classify.Intent{{
			Kind:     classify.KindQuery,
			Entities: map[string]string{"question": "how many goals do I have?"},
		}},
		Summary: "Answered",
	}}
	d, _ := newDispatcher(t, s, classifier)
	entry := draftEntry(t, s, "u1", "how many goals do I have?")

	outcome, err := d.Dispatch(ctx, "u1", "task-1", entry.ID, "how many goals do I have?", "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.EarlyReturn == "" {
		t.Fatal("expected an early-return answer")
	}

	audits, err := s.ListIntentAudit(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audits) != 1 || audits[0].Action != "early_return" {
		t.Fatalf("expected early_return audit row, got %+v", audits)
	}
}

func TestDispatch_ReminderWithCronSchedules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	classifier := &cannedClassifier{result: &classify.Result{
		Intents: []classify.Intent{{
			Kind:     classify.KindReminder,
			Entities: map[string]string{"message": "stretch", "cron": "0 9 * * *"},
		}},
		Summary: "Reminder scheduled",
	}}
	d, _ := newDispatcher(t, s, classifier)
	entry := draftEntry(t, s, "u1", "remind me to stretch every morning")

	if _, err := d.Dispatch(ctx, "u1", "task-1", entry.ID, "remind me to stretch every morning", ""); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	due, err := s.DueReminders(ctx, time.Now().UTC().AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Message != "stretch" {
		t.Fatalf("expected scheduled reminder, got %+v", due)
	}
}
