package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/agentloop"
	"github.com/arcway-labs/pilot/internal/browser"
	"github.com/arcway-labs/pilot/internal/channel"
	"github.com/arcway-labs/pilot/internal/config"
	"github.com/arcway-labs/pilot/internal/db"
	"github.com/arcway-labs/pilot/internal/decider"
	"github.com/arcway-labs/pilot/internal/guardrail"
	"github.com/arcway-labs/pilot/internal/history"
	"github.com/arcway-labs/pilot/internal/planner"
	"github.com/arcway-labs/pilot/internal/region"
	"github.com/arcway-labs/pilot/internal/synth"
	"github.com/arcway-labs/pilot/internal/visibility"
)

// Orchestrator owns every active Session. Global mutable state is limited
// to this registry and the DB handle (§9); both are initialized once at
// process start and torn down at process stop.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	hub         *channel.Hub
	store       *db.Store
	history     *history.Store
	launcher    *browser.Launcher
	planner     planner.Planner
	decider     decider.Decider
	guardrail   *guardrail.Gate
	visibility  visibility.Checker
	synthesizer synth.Synthesizer

	cfg config.Config
	log zerolog.Logger
}

// New builds an Orchestrator and registers its inbound-message handlers
// with the channel package, decoupling transport from session logic.
func New(hub *channel.Hub, store *db.Store, launcher *browser.Launcher, pl planner.Planner, dc decider.Decider,
	gr *guardrail.Gate, vis visibility.Checker, sy synth.Synthesizer, cfg config.Config, log zerolog.Logger) *Orchestrator {

	o := &Orchestrator{
		sessions:    map[string]*Session{},
		hub:         hub,
		store:       store,
		history:     history.New(store),
		launcher:    launcher,
		planner:     pl,
		decider:     dc,
		guardrail:   gr,
		visibility:  vis,
		synthesizer: sy,
		cfg:         cfg,
		log:         log.With().Str("comp", "session").Logger(),
	}

	channel.SetTaskHandler(func(c *channel.Client, data channel.TaskData) {
		go o.StartSession(context.Background(), data.Task)
	})
	channel.SetStopHandler(func(c *channel.Client, data channel.StopData) {
		o.Stop(data.SessionID)
	})
	channel.SetConfirmationHandler(func(c *channel.Client, data channel.ConfirmationData) {
		go o.Resume(context.Background(), data.SessionID, data.Approved)
	})

	return o
}

// StartSession runs the full session lifecycle for a new task: plan,
// create the DB row, launch the browser, then drive the objective
// traversal loop. Errors surface as status=error but never close the
// browser, so the user can inspect it (§4.8, error kind 7).
func (o *Orchestrator) StartSession(ctx context.Context, task string) {
	id := uuid.NewString()
	o.hub.EmitStatus(id, channel.StatusStarted, "planning task", "", nil)

	plan, err := o.planner.Plan(ctx, task)
	if err != nil {
		o.failSession(id, fmt.Sprintf("planning failed: %v", err))
		return
	}
	o.hub.EmitLog(id, 0, "PLANNING", summarizePlan(plan), "")

	if err := o.store.CreateSession(ctx, id, task, o.cfg.StartURL, "started"); err != nil {
		o.failSession(id, fmt.Sprintf("db create session failed: %v", err))
		return
	}

	ctrl, err := o.launcher.NewController(ctx, "", o.cfg.ViewportWidth, o.cfg.ViewportHeight)
	if err != nil {
		o.failSession(id, fmt.Sprintf("browser launch failed: %v", err))
		return
	}
	if o.cfg.StartURL != "" && o.cfg.StartURL != "about:blank" {
		if !o.guardrail.AllowedURL(o.cfg.StartURL) {
			o.log.Warn().Str("session", id).Str("url", o.cfg.StartURL).Msg("start url rejected by allowlist, leaving blank")
		} else if err := ctrl.Navigate(ctx, o.cfg.StartURL); err != nil {
			o.log.Warn().Err(err).Str("session", id).Msg("initial navigation failed, continuing")
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID: id, Task: task, Plan: plan, PlanIndex: 0,
		NeedsSynthesis: plan.NeedsSynthesis, Ctrl: ctrl, Cancel: cancel,
	}
	o.mu.Lock()
	o.sessions[id] = sess
	o.mu.Unlock()

	o.hub.EmitStatus(id, channel.StatusRunning, "session started", "", nil)
	o.traverse(sessCtx, sess)
}

// traverse implements the objective traversal loop (§4.8).
func (o *Orchestrator) traverse(ctx context.Context, sess *Session) {
	for {
		if ctx.Err() != nil {
			// Stop cancelled this session's context; it's already out of
			// the active set, so emit nothing further (P6).
			return
		}

		sess.lock()
		idx := sess.PlanIndex
		if idx >= len(sess.Plan.Steps) {
			sess.unlock()
			o.finish(ctx, sess)
			return
		}
		step := sess.Plan.Steps[idx]
		sess.unlock()

		// Zombie-tab fix: re-bind to whichever tab is newest before this
		// objective runs.
		if rebound, changed, err := browser.Rebind(sess.Ctrl); err == nil && changed {
			sess.Ctrl = rebound
			o.log.Debug().Str("session", sess.ID).Msg("rebound to newest tab")
		}

		if step.NeedsAuth {
			sess.lock()
			sess.Paused = true
			sess.PauseKind = agentloop.PauseAskUser
			sess.PausedForHumanObjective = &step
			sess.unlock()
			_ = o.store.UpdateSessionStatus(ctx, sess.ID, "paused")
			o.hub.EmitStatus(sess.ID, channel.StatusPaused, step.Title+": "+step.Description, agentloop.PauseAskUser, nil)
			return
		}

		if step.TargetURL != "" {
			if !o.guardrail.AllowedURL(step.TargetURL) {
				o.log.Warn().Str("session", sess.ID).Str("url", step.TargetURL).Msg("target url rejected by allowlist, skipping pre-navigate")
			} else if err := sess.Ctrl.Navigate(ctx, step.TargetURL); err != nil {
				o.log.Warn().Err(err).Str("session", sess.ID).Msg("pre-navigate to target url failed, continuing")
			}
			_ = sess.Ctrl.WaitForStability(ctx)
		}

		out, runErr := o.runObjective(ctx, sess, step, true)
		if runErr != nil {
			o.failSession(sess.ID, runErr.Error())
			return
		}

		if out.Completed {
			o.recordCompletion(ctx, sess, step, out)
			continue
		}

		// Pause (ASK_USER or CONFIRM from the decider/guardrail).
		sess.lock()
		sess.Paused = true
		sess.PendingAction = out.PendingAction
		sess.PauseKind = out.PauseKind
		sess.unlock()
		_ = o.store.UpdateSessionStatus(ctx, sess.ID, "paused")
		var pendingJSON []byte
		if out.PendingAction != nil {
			pendingJSON, _ = json.Marshal(out.PendingAction)
		}
		msg := "waiting on confirmation"
		if out.PendingAction != nil {
			msg = out.PendingAction.Message
		}
		o.hub.EmitStatus(sess.ID, channel.StatusPaused, msg, out.PauseKind, pendingJSON)
		return
	}
}

func (o *Orchestrator) runObjective(ctx context.Context, sess *Session, step planner.Step, resetStepCount bool) (agentloop.Output, error) {
	loop := agentloop.New(agentloop.Deps{
		Ctrl: sess.Ctrl, Decider: o.decider, Guardrail: o.guardrail, Visibility: o.visibility,
		History: o.history, Logger: o.log, StartStep: sess.StepCounter,
		OnEvent: func(ev agentloop.StepEvent) {
			o.onStepEvent(ctx, sess, ev)
		},
	})

	sess.lock()
	resumeIter, resumeScroll := sess.ObjectiveIteration, sess.ObjectiveScroll
	sess.unlock()

	in := agentloop.Input{
		SessionID: sess.ID, Task: sess.Task, Strategy: sess.Plan.Strategy,
		StepTitle: step.Title, StepDescription: step.Description, TargetURL: step.TargetURL,
		PlanSummary: summarizePlan(sess.Plan), ResearchNotes: truncateNotes(sess.ResearchNotes, 3000),
		StepCap: o.cfg.StepCap, ScrollCap: o.cfg.ScrollCap, ResetStepCount: resetStepCount,
		ResumeIteration: resumeIter, ResumeScroll: resumeScroll,
	}
	out, err := loop.Run(ctx, in)
	sess.lock()
	sess.StepCounter += out.StepsTaken
	if out.Completed {
		// Objective finished: clear carried budget so the next step starts fresh.
		sess.ObjectiveIteration = 0
		sess.ObjectiveScroll = agentloop.ScrollState{}
	} else {
		sess.ObjectiveIteration = out.Iteration
		sess.ObjectiveScroll = out.Scroll
	}
	sess.unlock()
	return out, err
}

func (o *Orchestrator) onStepEvent(ctx context.Context, sess *Session, ev agentloop.StepEvent) {
	_ = o.store.InsertStep(ctx, db.Step{
		SessionID: sess.ID, StepNumber: ev.StepNumber, Phase: ev.Phase,
		ActionType: ev.ActionType, ActionDataJSON: ev.ActionJSON, Observation: ev.Observation, Error: ev.Err,
	})
	o.hub.EmitLog(sess.ID, ev.StepNumber, ev.Phase, ev.Message, ev.Err)

	if ev.Phase == "VERIFY" || ev.Phase == "ACT" {
		o.maybeEmitScreenshot(ctx, sess, ev.StepNumber, ev.Observation)
	}
}

func (o *Orchestrator) maybeEmitScreenshot(ctx context.Context, sess *Session, step int, observation string) {
	if o.hub.ActiveCount(sess.ID) == 0 && o.cfg.ArtifactsDir == "" {
		return
	}
	data, err := sess.Ctrl.Screenshot(ctx)
	if err != nil {
		return
	}
	path := ArtifactPath(o.cfg.ArtifactsDir, sess.ID, step)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return
	}
	_ = o.store.InsertArtifact(ctx, sess.ID, step, path, "png")
	o.hub.EmitScreenshot(sess.ID, step, publicArtifactPath(sess.ID, step), observation, nil)
}

// ArtifactPath is the on-disk location for a step's screenshot.
func ArtifactPath(artifactsDir, sessionID string, step int) string {
	return filepath.Join(artifactsDir, sessionID, fmt.Sprintf("step-%04d.png", step))
}

func publicArtifactPath(sessionID string, step int) string {
	return fmt.Sprintf("/artifacts/%s/step-%04d.png", sessionID, step)
}

func (o *Orchestrator) recordCompletion(ctx context.Context, sess *Session, step planner.Step, out agentloop.Output) {
	text, _ := sess.Ctrl.Read(ctx, "")
	if len(text) > 2000 {
		text = text[:2000]
	}
	sess.lock()
	if len(text) > 50 {
		sess.ResearchNotes = append(sess.ResearchNotes, synth.Note{SourceStepTitle: step.Title, TextSnippet: text})
	}
	sess.CompletedTitles = append(sess.CompletedTitles, step.Title)
	sess.PlanIndex++
	sess.unlock()

	o.fastForward(sess)
}

// fastForward skips plan steps the agent already accomplished out of
// order, by matching each next step's title against the current URL.
// Idempotent (P4): running it twice from the same URL advances no
// further than running it once.
func (o *Orchestrator) fastForward(sess *Session) {
	for {
		sess.lock()
		idx := sess.PlanIndex
		if idx >= len(sess.Plan.Steps) {
			sess.unlock()
			return
		}
		next := sess.Plan.Steps[idx]
		sess.unlock()

		url := sess.Ctrl.CurrentURL()
		if !stepLikelyDone(next, url) {
			return
		}
		sess.lock()
		sess.CompletedTitles = append(sess.CompletedTitles, next.Title+" (fast-forwarded)")
		sess.PlanIndex++
		sess.unlock()
	}
}

var (
	navigateWordsRE = regexp.MustCompile(`(?i)\b(navigate|go to|open)\b`)
	searchWordsRE   = regexp.MustCompile(`(?i)\b(search|type)\b`)
	initiateWordsRE = regexp.MustCompile(`(?i)\binitiate\b`)
	clickDetailRE   = regexp.MustCompile(`(?i)\b(click|view|open)\b.*\b(detail|result|listing|item)\b`)
	searchMarkersRE = regexp.MustCompile(`(?i)(search|results)|[?&](q|query)=`)
	deepPageRE      = regexp.MustCompile(`watch\?v=|/in/|/video/`)
)

func stepLikelyDone(step planner.Step, url string) bool {
	lowerDesc := strings.ToLower(step.Title + " " + step.Description)
	switch {
	case navigateWordsRE.MatchString(lowerDesc) && step.TargetURL != "":
		u, err := extractHost(step.TargetURL)
		return err == nil && strings.Contains(url, u)
	case searchWordsRE.MatchString(lowerDesc) || initiateWordsRE.MatchString(lowerDesc):
		return searchMarkersRE.MatchString(url)
	case clickDetailRE.MatchString(lowerDesc):
		return deepPageRE.MatchString(url)
	default:
		return false
	}
}

func extractHost(rawURL string) (string, error) {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if i := strings.IndexAny(rawURL, "/?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if rawURL == "" {
		return "", fmt.Errorf("empty host")
	}
	return rawURL, nil
}

// finish runs the synthesis trigger (§4.8, P7) then emits status=completed.
func (o *Orchestrator) finish(ctx context.Context, sess *Session) {
	sess.lock()
	needsSynthesis := sess.NeedsSynthesis
	notes := append([]synth.Note(nil), sess.ResearchNotes...)
	sess.unlock()

	hasSubstantialNote := false
	for _, n := range notes {
		if len(n.TextSnippet) > 100 {
			hasSubstantialNote = true
			break
		}
	}

	if needsSynthesis && hasSubstantialNote {
		result, err := o.synthesizer.Synthesize(ctx, sess.Task, notes)
		if err != nil {
			o.log.Warn().Err(err).Str("session", sess.ID).Msg("synthesis failed")
		} else {
			o.hub.EmitLog(sess.ID, sess.StepCounter, "SYNTHESIS", "RESEARCH FINDINGS: "+result, "")
		}
	}

	_ = o.store.UpdateSessionStatus(ctx, sess.ID, "completed")
	o.hub.EmitStatus(sess.ID, channel.StatusCompleted, "task completed", "", nil)
}

func (o *Orchestrator) failSession(id, message string) {
	o.log.Error().Str("session", id).Msg(message)
	_ = o.store.UpdateSessionStatus(context.Background(), id, "error")
	o.hub.EmitStatus(id, channel.StatusError, message, "", nil)
}

// Stop forcibly terminates a session: close the browser, mark stopped,
// and remove it from the active set within one message turn (P6).
func (o *Orchestrator) Stop(id string) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if sess.Cancel != nil {
		sess.Cancel()
	}
	_ = sess.Ctrl.Close()
	_ = o.store.UpdateSessionStatus(context.Background(), id, "stopped")
	o.hub.EmitStatus(id, channel.StatusStopped, "stopped by client", "", nil)
}

// Resume handles an inbound confirmation message: rejection closes the
// browser and marks the session stopped (error kind 6); approval either
// executes a pending guardrail-confirmed action once, or — when there was
// no pendingAction — treats it as completion of a human-owned objective.
func (o *Orchestrator) Resume(ctx context.Context, id string, approved bool) {
	o.mu.RLock()
	sess, ok := o.sessions[id]
	o.mu.RUnlock()
	if !ok {
		return
	}

	if !approved {
		o.Stop(id)
		return
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess.lock()
	sess.Cancel = cancel
	pending := sess.PendingAction
	humanStep := sess.PausedForHumanObjective
	sess.Paused = false
	sess.PendingAction = nil
	sess.PauseKind = ""
	sess.PausedForHumanObjective = nil
	sess.unlock()

	o.hub.EmitStatus(id, channel.StatusRunning, "resumed", "", nil)

	if humanStep != nil {
		sess.lock()
		sess.CompletedTitles = append(sess.CompletedTitles, humanStep.Title)
		sess.PlanIndex++
		sess.unlock()
		o.fastForward(sess)
		o.traverse(sessCtx, sess)
		return
	}

	if pending != nil {
		scanner := region.New(sess.Ctrl, o.log)
		regions, _ := scanner.Scan(sessCtx, true)
		loop := agentloop.New(agentloop.Deps{Ctrl: sess.Ctrl, Logger: o.log})
		if err := loop.ExecuteAction(sessCtx, *pending, regions); err != nil {
			o.log.Warn().Err(err).Str("session", id).Msg("confirmed action execution failed")
		}
	}

	sess.lock()
	idx := sess.PlanIndex
	var step planner.Step
	if idx < len(sess.Plan.Steps) {
		step = sess.Plan.Steps[idx]
	}
	sess.unlock()

	if idx >= len(sess.Plan.Steps) {
		o.finish(sessCtx, sess)
		return
	}

	out, err := o.runObjective(sessCtx, sess, step, false)
	if err != nil {
		o.failSession(id, err.Error())
		return
	}
	if out.Completed {
		o.recordCompletion(sessCtx, sess, step, out)
		o.traverse(sessCtx, sess)
		return
	}
	sess.lock()
	sess.Paused = true
	sess.PendingAction = out.PendingAction
	sess.PauseKind = out.PauseKind
	sess.unlock()
	_ = o.store.UpdateSessionStatus(ctx, id, "paused")
	o.hub.EmitStatus(id, channel.StatusPaused, "waiting on confirmation", out.PauseKind, nil)
}

func summarizePlan(p planner.Plan) string {
	var b strings.Builder
	b.WriteString(p.Strategy)
	b.WriteString(": ")
	for i, s := range p.Steps {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(s.Title)
	}
	return b.String()
}

func truncateNotes(notes []synth.Note, max int) string {
	var b strings.Builder
	for _, n := range notes {
		b.WriteString("[" + n.SourceStepTitle + "] " + n.TextSnippet + "\n")
	}
	s := b.String()
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}
