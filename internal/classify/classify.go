// Package classify turns free-text user input into structured intents. The
// real classifier is an LLM reached through Genkit; callers only see the
// Classifier interface so the dispatcher can be tested with canned results.
package classify

import (
	"context"
	"time"

	"github.com/inkwell-app/inkwell/internal/memory"
)

// Intent kinds the dispatcher knows how to act on.
const (
	KindJournaling = "JOURNALING"
	KindGoal       = "GOAL"
	KindHabit      = "HABIT"
	KindReminder   = "REMINDER"
	KindQuery      = "QUERY"
)

// Intent is one classified user goal.
type Intent struct {
	Kind               string            `json:"kind"`
	Entities           map[string]string `json:"parsed_entities"`
	NeedsClarification bool              `json:"needs_clarification,omitempty"`
	Clarification      string            `json:"clarification,omitempty"`
}

// Result is the classifier's answer for one message.
type Result struct {
	Intents []Intent `json:"intents"`
	Summary string   `json:"summary"`
}

// Classifier extracts intents from raw text given recent conversation.
type Classifier interface {
	Classify(ctx context.Context, ownerID, text string, history []memory.Message, timezone string) (*Result, error)
}

// DefaultResult is the deterministic substitute used when classification
// fails: treat the message as a journal entry for today. The date is computed
// in the owner's zone when one was hinted, UTC otherwise.
func DefaultResult(now time.Time, timezone string) *Result {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	return &Result{
		Intents: []Intent{{
			Kind:     KindJournaling,
			Entities: map[string]string{"date": now.In(loc).Format("2006-01-02")},
		}},
		Summary: "Saved as daily entry",
	}
}
