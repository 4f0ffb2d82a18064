package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inkwell-app/inkwell/internal/store"
)

// Store-backed collaborators. These are deliberately thin: the dispatcher
// tests swap them for fakes, and everything interesting lives in the store.

// StoreEntries marks journal entries through the store.
type StoreEntries struct {
	Store *store.Store
}

func (e *StoreEntries) MarkReady(ctx context.Context, ownerID, entryID string) error {
	return e.Store.SetEntryStatus(ctx, ownerID, entryID, store.EntryStatusReady)
}

// StoreGoals creates goals through the store.
type StoreGoals struct {
	Store *store.Store
}

func (g *StoreGoals) Create(ctx context.Context, ownerID, title, targetDate string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("goal title must be non-empty")
	}
	_, err := g.Store.CreateGoal(ctx, ownerID, title, targetDate)
	return err
}

// StoreHabits logs habit completions through the store.
type StoreHabits struct {
	Store *store.Store
}

func (h *StoreHabits) Log(ctx context.Context, ownerID, habit, date string) error {
	if strings.TrimSpace(habit) == "" {
		return fmt.Errorf("habit name must be non-empty")
	}
	return h.Store.LogHabit(ctx, ownerID, habit, date)
}

// StoreReminders schedules reminders through the store. Recurring reminders
// carry a cron expression; the first fire time comes from parsing it.
type StoreReminders struct {
	Store *store.Store
}

func (r *StoreReminders) Schedule(ctx context.Context, ownerID, message, cronExpr string, at *time.Time) error {
	next := at
	if cronExpr != "" {
		sched, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return fmt.Errorf("parse cron %q: %w", cronExpr, err)
		}
		t := sched.Next(time.Now().UTC())
		next = &t
	}
	if next == nil {
		return fmt.Errorf("reminder needs a time or cron expression")
	}
	_, err := r.Store.CreateReminder(ctx, ownerID, message, cronExpr, next)
	return err
}

// StoreQueries answers direct questions from durable state without an LLM
// round trip. Only a couple of question shapes are answered; anything else
// gets a stock reply so the early-return contract still holds.
type StoreQueries struct {
	Store *store.Store
}

func (q *StoreQueries) Answer(ctx context.Context, ownerID, question string) (string, error) {
	lower := strings.ToLower(question)
	switch {
	case strings.Contains(lower, "goal"):
		n, err := q.Store.CountGoals(ctx, ownerID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("You currently have %d goal(s) tracked.", n), nil
	case strings.Contains(lower, "profile"), strings.Contains(lower, "about me"):
		p, err := q.Store.GetPersona(ctx, ownerID)
		if err != nil {
			return "", err
		}
		if p.Summary == "" {
			return "I haven't built up a profile of you yet. Keep journaling!", nil
		}
		return p.Summary, nil
	default:
		return "I've noted your question, but I can't answer it yet.", nil
	}
}
