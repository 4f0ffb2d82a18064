package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inkwell-app/inkwell/internal/enrich"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/store"
	"github.com/inkwell-app/inkwell/internal/workflow"
)

// TaskTypeMessage is the task type for incoming user messages.
const TaskTypeMessage = "message.process"

// MessagePayload is the input of a message task.
type MessagePayload struct {
	Text     string `json:"text"`
	Timezone string `json:"timezone,omitempty"`
}

// MessageResponse is the output of a completed message task.
type MessageResponse struct {
	EntryID       string `json:"entry_id,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Clarification string `json:"clarification,omitempty"`
	Answer        string `json:"answer,omitempty"`
}

// MessageWorkflow drives one user message through draft entry creation,
// dispatch and enrichment.
type MessageWorkflow struct {
	store      *store.Store
	dispatcher *Dispatcher
	pipeline   *enrich.Pipeline
	notifier   notify.Notifier
	log        *slog.Logger
	now        func() time.Time
}

// NewMessageWorkflow builds the workflow.
func NewMessageWorkflow(s *store.Store, d *Dispatcher, p *enrich.Pipeline, n notify.Notifier, log *slog.Logger) *MessageWorkflow {
	return &MessageWorkflow{
		store:      s,
		dispatcher: d,
		pipeline:   p,
		notifier:   n,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (w *MessageWorkflow) Type() string {
	return TaskTypeMessage
}

// Execute runs the message pipeline to a terminal result.
func (w *MessageWorkflow) Execute(ctx context.Context, task *store.Task) (workflow.Result, error) {
	var payload MessagePayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return workflow.Failed(fmt.Sprintf("invalid payload: %s", err)), nil
	}
	if strings.TrimSpace(payload.Text) == "" {
		return workflow.Failed("empty message"), nil
	}

	// Every message gets a draft entry up front; it is the artifact whose
	// state the user ultimately sees.
	entry, err := w.store.CreateEntry(ctx, task.OwnerID, payload.Text, localDate(w.now(), payload.Timezone))
	if err != nil {
		return workflow.Result{}, fmt.Errorf("create draft entry: %w", err)
	}

	outcome, err := w.dispatcher.Dispatch(ctx, task.OwnerID, task.ID, entry.ID, payload.Text, payload.Timezone)
	if err != nil {
		// The draft must not outlive the failure: close it out and tell the
		// owner, the same way the enrichment pipeline does.
		if sErr := w.store.SetEntryStatus(ctx, task.OwnerID, entry.ID, store.EntryStatusFailed); sErr != nil {
			w.log.Error("failed to mark entry failed after dispatch error",
				"owner_id", task.OwnerID,
				"entry_id", entry.ID,
				"error", sErr)
		}
		w.notifier.Notify(ctx, task.OwnerID, notify.EventEntryFailed, map[string]any{
			"entry_id": entry.ID,
			"error":    err.Error(),
		})
		return workflow.Failed(fmt.Sprintf("dispatch: %s", err)), nil
	}

	resp := MessageResponse{EntryID: entry.ID, Summary: outcome.Summary}

	if outcome.Clarification != "" {
		resp.Clarification = outcome.Clarification
		w.notifier.Notify(ctx, task.OwnerID, notify.EventClarification, map[string]any{
			"question": outcome.Clarification,
		})
		return workflow.Completed(encode(resp)), nil
	}

	if outcome.EarlyReturn != "" {
		// Direct answer: the draft entry is closed out untouched and the
		// remaining enrichment is skipped.
		resp.Answer = outcome.EarlyReturn
		if err := w.store.SetEntryStatus(ctx, task.OwnerID, entry.ID, store.EntryStatusReady); err != nil {
			return workflow.Result{}, fmt.Errorf("mark entry ready on early return: %w", err)
		}
		return workflow.Completed(encode(resp)), nil
	}

	if !outcome.Journaled {
		// Goal, habit and reminder messages keep their draft as a plain
		// record; only journaled content flows through enrichment.
		if err := w.store.SetEntryStatus(ctx, task.OwnerID, entry.ID, store.EntryStatusReady); err != nil {
			return workflow.Result{}, fmt.Errorf("mark entry ready: %w", err)
		}
		return workflow.Completed(encode(resp)), nil
	}

	if err := w.pipeline.Run(ctx, task.OwnerID, entry.ID, outcome.Summary); err != nil {
		// The pipeline already marked the entry failed and notified.
		return workflow.Failed(fmt.Sprintf("enrichment: %s", err)), nil
	}
	return workflow.Completed(encode(resp)), nil
}

func encode(resp MessageResponse) string {
	b, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return string(b)
}
