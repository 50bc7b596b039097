// Package session implements the session orchestrator: session lifecycle,
// plan traversal, fast-forward, pause/resume, and the synthesis trigger.
// This is the hard engineering core of the repository.
package session

import (
	"context"
	"sync"

	"github.com/arcway-labs/pilot/internal/action"
	"github.com/arcway-labs/pilot/internal/agentloop"
	"github.com/arcway-labs/pilot/internal/browser"
	"github.com/arcway-labs/pilot/internal/planner"
	"github.com/arcway-labs/pilot/internal/synth"
)

// Session is one per task. Destroyed only on explicit stop, never merely
// on completion (I4/§3), so the user can inspect the browser afterwards.
type Session struct {
	mu sync.Mutex

	ID   string
	Task string // read-only after creation (I5)

	Plan            planner.Plan
	PlanIndex       int // invariant: PlanIndex <= len(Plan.Steps) (I2)
	CompletedTitles []string
	ResearchNotes   []synth.Note

	Paused                  bool
	PendingAction           *action.Action
	PauseKind               string
	PausedForHumanObjective *planner.Step
	NeedsSynthesis          bool

	StepCounter int

	// ObjectiveIteration/ObjectiveScroll carry a paused objective's agent-loop
	// budget across a confirmation pause so Resume continues it instead of
	// starting the current step over with a fresh 50-step/5-scroll budget.
	// Reset to zero whenever traverse moves on to a new step.
	ObjectiveIteration int
	ObjectiveScroll    agentloop.ScrollState

	Ctrl   browser.Controller
	Cancel context.CancelFunc
}

// lock/unlock are small helpers so call sites read clearly; Session state
// is mutated from both the traversal goroutine and inbound-message
// handlers, so every field access goes through the mutex.
func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }
