package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the artifact lifecycle of a journal entry. An entry moves
// draft → processing → {ready, failed}; the enrichment pipeline owns the
// final transition so entries never linger in processing.
type EntryStatus string

const (
	EntryStatusDraft      EntryStatus = "draft"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusReady      EntryStatus = "ready"
	EntryStatusFailed     EntryStatus = "failed"
)

// ErrEntryNotFound is returned for unknown or cross-owner entry reads.
var ErrEntryNotFound = errors.New("entry not found")

// Entry is one journal entry (the artifact produced by a user message).
type Entry struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Content   string            `json:"content"`
	EntryDate string            `json:"entry_date"` // YYYY-MM-DD in the owner's zone
	Status    EntryStatus       `json:"status"`
	Tags      []string          `json:"tags"`
	Entities  map[string]string `json:"entities"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CreateEntry inserts a draft entry for the owner.
func (s *Store) CreateEntry(ctx context.Context, ownerID, content, entryDate string) (*Entry, error) {
	e := &Entry{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Content:   content,
		EntryDate: entryDate,
		Status:    EntryStatusDraft,
		Tags:      []string{},
		Entities:  map[string]string{},
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, owner_id, content, entry_date, status)
		VALUES (?, ?, ?, ?, ?);
	`, e.ID, ownerID, content, entryDate, EntryStatusDraft); err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

// GetEntry returns the entry with the given id, scoped to ownerID.
func (s *Store) GetEntry(ctx context.Context, ownerID, entryID string) (*Entry, error) {
	var e Entry
	var tags, entities string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, content, entry_date, status, tags, entities, created_at, updated_at
		FROM entries
		WHERE id = ? AND owner_id = ?;
	`, entryID, ownerID).Scan(&e.ID, &e.OwnerID, &e.Content, &e.EntryDate, &e.Status, &tags, &entities, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		e.Tags = []string{}
	}
	if err := json.Unmarshal([]byte(entities), &e.Entities); err != nil {
		e.Entities = map[string]string{}
	}
	return &e, nil
}

// SetEntryStatus updates the artifact state of an entry.
func (s *Store) SetEntryStatus(ctx context.Context, ownerID, entryID string, status EntryStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?;
	`, status, entryID, ownerID)
	if err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("entry status rows affected: %w", err)
	}
	if n != 1 {
		return ErrEntryNotFound
	}
	return nil
}

// SetEntryTags replaces the entry's tags.
func (s *Store) SetEntryTags(ctx context.Context, ownerID, entryID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET tags = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?;
	`, string(encoded), entryID, ownerID); err != nil {
		return fmt.Errorf("set entry tags: %w", err)
	}
	return nil
}

// SetEntryEntities replaces the entry's extracted entities.
func (s *Store) SetEntryEntities(ctx context.Context, ownerID, entryID string, entities map[string]string) error {
	if entities == nil {
		entities = map[string]string{}
	}
	encoded, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET entities = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?;
	`, string(encoded), entryID, ownerID); err != nil {
		return fmt.Errorf("set entry entities: %w", err)
	}
	return nil
}

// IndexEntry upserts the entry's embedding vector for retrieval.
func (s *Store) IndexEntry(ctx context.Context, ownerID, entryID string, embedding []float32) error {
	encoded, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO entry_index (entry_id, owner_id, embedding, indexed_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(entry_id) DO UPDATE SET
			embedding = excluded.embedding,
			indexed_at = excluded.indexed_at;
	`, entryID, ownerID, string(encoded)); err != nil {
		return fmt.Errorf("index entry: %w", err)
	}
	return nil
}

// RecentEntries returns the owner's most recent ready entries, newest first.
// Used as synthesis input, so unprocessed drafts are excluded.
func (s *Store) RecentEntries(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, content, entry_date, status, tags, entities, created_at, updated_at
		FROM entries
		WHERE owner_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT ?;
	`, ownerID, EntryStatusReady, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tags, entities string
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Content, &e.EntryDate, &e.Status, &tags, &entities, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			e.Tags = []string{}
		}
		if err := json.Unmarshal([]byte(entities), &e.Entities); err != nil {
			e.Entities = map[string]string{}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entry rows: %w", err)
	}
	return out, nil
}

// Goal is a long-lived objective created from a classified intent.
type Goal struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	TargetDate string    `json:"target_date,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateGoal inserts a goal for the owner.
func (s *Store) CreateGoal(ctx context.Context, ownerID, title, targetDate string) (*Goal, error) {
	g := &Goal{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Title:      title,
		TargetDate: targetDate,
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, owner_id, title, target_date)
		VALUES (?, ?, ?, ?);
	`, g.ID, ownerID, title, targetDate); err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

// CountGoals returns how many goals the owner has. Used by tests and the
// habit summary view.
func (s *Store) CountGoals(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM goals WHERE owner_id = ?;
	`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count goals: %w", err)
	}
	return n, nil
}

// LogHabit records one habit completion for the given day.
func (s *Store) LogHabit(ctx context.Context, ownerID, habit, loggedOn string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_logs (id, owner_id, habit, logged_on)
		VALUES (?, ?, ?, ?);
	`, uuid.NewString(), ownerID, habit, loggedOn); err != nil {
		return fmt.Errorf("insert habit log: %w", err)
	}
	return nil
}

// Reminder is a scheduled nudge. One-shot reminders carry only next_run_at;
// recurring reminders also carry a cron expression used to advance it.
type Reminder struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Message   string     `json:"message"`
	CronExpr  string     `json:"cron_expr,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateReminder inserts a reminder for the owner.
func (s *Store) CreateReminder(ctx context.Context, ownerID, message, cronExpr string, nextRunAt *time.Time) (*Reminder, error) {
	r := &Reminder{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Message:   message,
		CronExpr:  cronExpr,
		NextRunAt: nextRunAt,
		Enabled:   true,
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, owner_id, message, cron_expr, next_run_at, enabled)
		VALUES (?, ?, ?, ?, ?, 1);
	`, r.ID, ownerID, message, cronExpr, nullTime(nextRunAt)); err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return r, nil
}

// DueReminders returns enabled reminders whose next_run_at is at or before now.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, message, cron_expr, next_run_at, last_run_at, enabled, created_at
		FROM reminders
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC;
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		var nextRun, lastRun sql.NullTime
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Message, &r.CronExpr, &nextRun, &lastRun, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.NextRunAt = scanNullTime(nextRun)
		r.LastRunAt = scanNullTime(lastRun)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminder rows: %w", err)
	}
	return out, nil
}

// UpdateReminderRun stamps last_run_at and advances (or clears) next_run_at.
// A nil nextRun disables the reminder; one-shot reminders end up here.
func (s *Store) UpdateReminderRun(ctx context.Context, reminderID string, ranAt time.Time, nextRun *time.Time) error {
	enabled := 1
	if nextRun == nil {
		enabled = 0
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET last_run_at = ?, next_run_at = ?, enabled = ?
		WHERE id = ?;
	`, ranAt.UTC(), nullTime(nextRun), enabled, reminderID); err != nil {
		return fmt.Errorf("update reminder run: %w", err)
	}
	return nil
}
