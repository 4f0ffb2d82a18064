package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PlaceholderPersonaMarkdown seeds a persona record that has never been
// synthesized. Its short length keeps it below the bootstrap threshold so the
// first trigger always enqueues synthesis.
const PlaceholderPersonaMarkdown = "# Profile\n\n(not yet synthesized)\n"

// Persona is the synthesized natural-language profile of an owner.
type Persona struct {
	OwnerID         string     `json:"owner_id"`
	Summary         string     `json:"summary"`
	Markdown        string     `json:"markdown"`
	LastSynthesized *time.Time `json:"last_synthesized,omitempty"`
}

// GetPersona returns the owner's persona, lazily creating a placeholder
// record on first read.
func (s *Store) GetPersona(ctx context.Context, ownerID string) (*Persona, error) {
	p, err := s.readPersona(ctx, ownerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get persona: %w", err)
	}

	// First read for this owner: seed the placeholder. A concurrent seed is
	// harmless because of the conflict clause.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (owner_id, summary, markdown)
		VALUES (?, '', ?)
		ON CONFLICT(owner_id) DO NOTHING;
	`, ownerID, PlaceholderPersonaMarkdown); err != nil {
		return nil, fmt.Errorf("seed persona: %w", err)
	}
	p, err = s.readPersona(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reread persona: %w", err)
	}
	return p, nil
}

func (s *Store) readPersona(ctx context.Context, ownerID string) (*Persona, error) {
	var p Persona
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, summary, markdown, last_synthesized
		FROM personas
		WHERE owner_id = ?;
	`, ownerID).Scan(&p.OwnerID, &p.Summary, &p.Markdown, &last)
	if err != nil {
		return nil, err
	}
	p.LastSynthesized = scanNullTime(last)
	return &p, nil
}

// SavePersona upserts the owner's persona and stamps last_synthesized.
func (s *Store) SavePersona(ctx context.Context, ownerID, summary, markdown string) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (owner_id, summary, markdown, last_synthesized)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			summary = excluded.summary,
			markdown = excluded.markdown,
			last_synthesized = excluded.last_synthesized;
	`, ownerID, summary, markdown, now); err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	return nil
}
