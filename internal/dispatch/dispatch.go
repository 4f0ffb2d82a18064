// Package dispatch maps classified intents onto side-effecting actions. It
// owns the two containment rules of the message pipeline: ambiguous input
// short-circuits before any side effect runs, and a broken classifier is
// replaced by a deterministic journaling intent instead of failing the task.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkwell-app/inkwell/internal/classify"
	"github.com/inkwell-app/inkwell/internal/memory"
	"github.com/inkwell-app/inkwell/internal/shared"
)

// Audit action labels.
const (
	actionClarification = "clarification_returned"
	actionExecuted      = "executed"
	actionEarlyReturn   = "early_return"
	actionFallback      = "classifier_fallback"
	actionSkipped       = "skipped_unknown_kind"
)

// Entries is the journal collaborator.
type Entries interface {
	MarkReady(ctx context.Context, ownerID, entryID string) error
}

// Goals is the goal collaborator.
type Goals interface {
	Create(ctx context.Context, ownerID, title, targetDate string) error
}

// Habits is the habit-log collaborator.
type Habits interface {
	Log(ctx context.Context, ownerID, habit, date string) error
}

// Reminders is the scheduling collaborator.
type Reminders interface {
	Schedule(ctx context.Context, ownerID, message, cronExpr string, at *time.Time) error
}

// Queries answers direct questions. Answers early-return from the pipeline.
type Queries interface {
	Answer(ctx context.Context, ownerID, question string) (string, error)
}

// Auditor records dispatch decisions.
type Auditor interface {
	RecordIntentAudit(ctx context.Context, ownerID, taskID, intentKind, action, detail string) error
}

// Outcome is what a dispatch call produced.
type Outcome struct {
	// Summary is the classifier's one-line description of the message.
	Summary string
	// Clarification, when non-empty, means no side effect ran and this
	// question must go back to the user.
	Clarification string
	// EarlyReturn, when non-empty, is a direct answer that skips enrichment.
	EarlyReturn string
	// Journaled reports whether a journaling intent ran, i.e. whether the
	// draft entry should flow into enrichment.
	Journaled bool
}

// Dispatcher classifies a message and executes the resulting intents.
type Dispatcher struct {
	classifier classify.Classifier
	mem        *memory.Memory
	entries    Entries
	goals      Goals
	habits     Habits
	reminders  Reminders
	queries    Queries
	auditor    Auditor
	log        *slog.Logger
	now        func() time.Time
}

// New builds a Dispatcher.
func New(classifier classify.Classifier, mem *memory.Memory, entries Entries, goals Goals, habits Habits, reminders Reminders, queries Queries, auditor Auditor, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		mem:        mem,
		entries:    entries,
		goals:      goals,
		habits:     habits,
		reminders:  reminders,
		queries:    queries,
		auditor:    auditor,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs the full classification-and-action algorithm for one message.
// entryID names the draft entry created for this message; on the clarification
// path it is marked ready untouched so nothing ambiguous gets committed.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID, taskID, entryID, text, timezone string) (*Outcome, error) {
	history := d.mem.Recent(ctx, ownerID, d.mem.MaxHistory())

	result, err := d.classifier.Classify(ctx, ownerID, text, history, timezone)
	if err != nil {
		// Degraded but successful beats a hard failure: substitute the
		// deterministic journaling intent and keep going.
		d.log.Warn("classification failed, using default intent",
			"owner_id", ownerID,
			"trace_id", shared.TraceID(ctx),
			"error", err)
		result = classify.DefaultResult(d.now(), timezone)
		d.audit(ctx, ownerID, taskID, classify.KindJournaling, actionFallback, err.Error())
	}

	// Clarification short-circuit: zero side effects, artifact ends ready.
	for _, intent := range result.Intents {
		if intent.NeedsClarification {
			if err := d.entries.MarkReady(ctx, ownerID, entryID); err != nil {
				return nil, fmt.Errorf("mark entry ready on clarification: %w", err)
			}
			d.audit(ctx, ownerID, taskID, intent.Kind, actionClarification, intent.Clarification)
			return &Outcome{
				Summary:       result.Summary,
				Clarification: clarificationText(intent),
			}, nil
		}
	}

	// The message is unambiguous; it becomes part of the conversation.
	if err := d.mem.Append(ctx, ownerID, memory.Message{Role: "user", Content: text}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	outcome := &Outcome{Summary: result.Summary}
	for _, intent := range result.Intents {
		early, action, err := d.execute(ctx, ownerID, entryID, intent, timezone)
		if err != nil {
			return nil, fmt.Errorf("execute intent %s: %w", intent.Kind, err)
		}
		d.audit(ctx, ownerID, taskID, intent.Kind, action, entityDetail(intent))
		if intent.Kind == classify.KindJournaling {
			outcome.Journaled = true
		}
		if early != "" {
			// Early-return short-circuits the remaining pipeline.
			outcome.EarlyReturn = early
			return outcome, nil
		}
	}
	return outcome, nil
}

// execute maps one intent onto exactly one collaborator call. A non-empty
// early string is a direct answer; action labels the audit record.
func (d *Dispatcher) execute(ctx context.Context, ownerID, entryID string, intent classify.Intent, timezone string) (early, action string, err error) {
	switch intent.Kind {
	case classify.KindJournaling:
		// The draft entry already holds the content; enrichment finishes it.
		return "", actionExecuted, nil
	case classify.KindGoal:
		return "", actionExecuted, d.goals.Create(ctx, ownerID, intent.Entities["title"], intent.Entities["target_date"])
	case classify.KindHabit:
		date := intent.Entities["date"]
		if date == "" {
			date = localDate(d.now(), timezone)
		}
		return "", actionExecuted, d.habits.Log(ctx, ownerID, intent.Entities["habit"], date)
	case classify.KindReminder:
		var at *time.Time
		if when := intent.Entities["when"]; when != "" {
			t, err := time.Parse(time.RFC3339, when)
			if err != nil {
				return "", actionExecuted, fmt.Errorf("parse reminder time %q: %w", when, err)
			}
			at = &t
		}
		return "", actionExecuted, d.reminders.Schedule(ctx, ownerID, intent.Entities["message"], intent.Entities["cron"], at)
	case classify.KindQuery:
		answer, err := d.queries.Answer(ctx, ownerID, intent.Entities["question"])
		return answer, actionEarlyReturn, err
	default:
		// An unknown kind is ignored rather than failing the whole message.
		d.log.Warn("ignoring unknown intent kind", "kind", intent.Kind, "owner_id", ownerID)
		return "", actionSkipped, nil
	}
}

func (d *Dispatcher) audit(ctx context.Context, ownerID, taskID, kind, action, detail string) {
	if err := d.auditor.RecordIntentAudit(ctx, ownerID, taskID, kind, action, detail); err != nil {
		d.log.Warn("intent audit write failed",
			"owner_id", ownerID,
			"trace_id", shared.TraceID(ctx),
			"error", err)
	}
}

func entityDetail(intent classify.Intent) string {
	if len(intent.Entities) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", intent.Entities)
}

func clarificationText(intent classify.Intent) string {
	if intent.Clarification != "" {
		return intent.Clarification
	}
	return "Could you clarify what you meant?"
}

func localDate(now time.Time, timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	return now.In(loc).Format("2006-01-02")
}
