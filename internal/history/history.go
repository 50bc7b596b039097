// Package history implements the short-term history store: the last N
// actions of the current session, injected into decision prompts. Backed
// by the steps table (§6's documented query); every read goes to the
// database, with no in-memory copy.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcway-labs/pilot/internal/db"
)

// DefaultWindow is the bounded history window size the spec names.
const DefaultWindow = 5

// Entry is one short-term history record.
type Entry struct {
	StepNumber int
	ActionType string
	ActionData string
	Error      string
}

// Store fetches the bounded recent-actions window for a session.
type Store struct {
	store *db.Store
}

// New builds a Store around the session database.
func New(store *db.Store) *Store {
	return &Store{store: store}
}

// Recent returns the last DefaultWindow steps for sessionID, oldest first
// (reversed from the DESC query so callers can render it top-to-bottom).
func (s *Store) Recent(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.store.RecentSteps(ctx, sessionID, DefaultWindow)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[len(rows)-1-i] = Entry{
			StepNumber: r.StepNumber,
			ActionType: r.ActionType,
			ActionData: r.ActionDataJSON,
			Error:      r.Error,
		}
	}
	return entries, nil
}

// FormatForPrompt renders entries as the outcome-marked lines the decider's
// prompt embeds.
func FormatForPrompt(entries []Entry) string {
	if len(entries) == 0 {
		return "(no actions yet)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "step %d: %s %s", e.StepNumber, e.ActionType, e.ActionData)
		if e.Error != "" {
			fmt.Fprintf(&b, " [error: %s]", e.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
