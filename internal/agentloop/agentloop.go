// Package agentloop implements the per-objective agent loop: the
// observe → auto-recover → auto-scroll → decide → act → verify state
// machine that drives a single Step to completion or pause.
package agentloop

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/action"
	"github.com/arcway-labs/pilot/internal/browser"
	"github.com/arcway-labs/pilot/internal/decider"
	"github.com/arcway-labs/pilot/internal/guardrail"
	"github.com/arcway-labs/pilot/internal/history"
	"github.com/arcway-labs/pilot/internal/region"
	"github.com/arcway-labs/pilot/internal/verify"
	"github.com/arcway-labs/pilot/internal/visibility"
)

const (
	defaultStepCap  = 50
	defaultScrollCap = 5
	scrollAmountPx   = 600
)

// Pause kinds, mirrored from the spec's glossary.
const (
	PauseAskUser = "ASK_USER"
	PauseConfirm = "CONFIRM"
)

// Input configures one Run of the agent loop against a single objective.
type Input struct {
	SessionID       string
	Task            string
	Strategy        string
	StepTitle       string
	StepDescription string
	TargetURL       string
	PlanSummary     string
	ResearchNotes   string
	StepCap         int
	ScrollCap       int
	// ResetStepCount starts a fresh 50-step/5-scroll budget at iteration 0.
	// When false (resuming a paused objective), ResumeIteration/ResumeScroll
	// seed the loop so the budget picks up where it left off instead of
	// restarting.
	ResetStepCount bool
	ResumeIteration int
	ResumeScroll    ScrollState
}

// Output is the agent loop's return shape.
type Output struct {
	Completed     bool
	Reason        string
	PendingAction *action.Action
	PauseKind     string
	StepsTaken    int
	// Iteration and Scroll let the caller resume this same objective later
	// via Input.ResumeIteration/ResumeScroll without losing step/scroll budget.
	Iteration int
	Scroll    ScrollState
}

// StepEvent is emitted once per completed phase so the caller (the session
// orchestrator) can persist it and forward it over the client channel,
// without this package depending on db/channel directly.
type StepEvent struct {
	StepNumber  int
	Phase       string
	Message     string
	ActionType  string
	ActionJSON  string
	Observation string
	Err         string
}

// Deps are the agent loop's collaborators.
type Deps struct {
	Ctrl       browser.Controller
	Decider    decider.Decider
	Guardrail  *guardrail.Gate
	Visibility visibility.Checker
	History    *history.Store
	Logger     zerolog.Logger
	OnEvent    func(StepEvent)
	// StartStep is the session-wide step counter's next value; the loop
	// increments its own local counter for callbacks but reports against
	// this running total so persisted step numbers stay monotonic.
	StartStep int
}

// Loop runs the nine-step iteration to completion, pause, or step-cap
// exhaustion.
type Loop struct {
	deps Deps
	log  zerolog.Logger
}

// New builds a Loop bound to deps for the duration of one objective.
func New(deps Deps) *Loop {
	return &Loop{deps: deps, log: deps.Logger.With().Str("comp", "agentloop").Logger()}
}

// ScrollState is the auto-scroll gate's bookkeeping for one objective. It is
// exported so a paused objective's scroll progress can be threaded back in
// through Input.ResumeScroll on resume.
type ScrollState struct {
	Count            int
	BottomReached    bool
	ContentVisible   bool
	LastScrollY      int
	LastScrollHeight int
}

func (l *Loop) Run(ctx context.Context, in Input) (Output, error) {
	stepCap := in.StepCap
	if stepCap == 0 {
		stepCap = defaultStepCap
	}
	scrollCap := in.ScrollCap
	if scrollCap == 0 {
		scrollCap = defaultScrollCap
	}

	iterStart := 0
	ss := ScrollState{}
	if !in.ResetStepCount {
		iterStart = in.ResumeIteration
		ss = in.ResumeScroll
	}

	var (
		lastURL           string
		lastAction        string
		lastFilledRegion  string
		lastOutcome       verify.Outcome
		globalStep        = in.StartStep
	)

	for iter := iterStart; iter < stepCap; iter++ {
		globalStep++

		// 1. URL-change detection resets auto-scroll bookkeeping.
		currentURL := l.deps.Ctrl.CurrentURL()
		if currentURL != lastURL {
			if lastURL != "" {
				ss = ScrollState{}
			}
			lastURL = currentURL
		}

		// 2. OBSERVE.
		scanner := region.New(l.deps.Ctrl, l.log)
		regions, err := scanner.Scan(ctx, false)
		if err != nil {
			l.emit(globalStep, "OBSERVE", fmt.Sprintf("scan failed: %v", err), "", "", "", err.Error())
			// Transient toolkit error: absorb, next iteration re-observes.
			continue
		}
		pageText, _ := l.deps.Ctrl.Read(ctx, "")
		l.emit(globalStep, "OBSERVE", fmt.Sprintf("%d regions, url=%s, textLen=%d", len(regions), currentURL, len(pageText)), "", "", "", "")

		// 3. Auto-recovery gate: a fill whose outcome didn't change state.
		if lastAction == string(action.VisionFill) || lastAction == string(action.DOMFill) {
			if !lastOutcome.StateChanged {
				recovered, outcome, err := l.autoRecover(ctx, regions, lastFilledRegion)
				lastOutcome = outcome
				if err != nil {
					l.emit(globalStep, "ACT", "auto-recovery exhausted", "", "", "", err.Error())
					return Output{PauseKind: PauseAskUser, PendingAction: &action.Action{Tag: action.AskUser, Message: "the last form fill didn't seem to submit — please check and continue manually"}, StepsTaken: iter - iterStart + 1, Iteration: iter, Scroll: ss}, nil
				}
				if recovered {
					l.emit(globalStep, "ACT", "auto-recovery action applied", "", "", "", "")
					lastAction = ""
					continue
				}
			}
		}

		// 4. Auto-scroll gate.
		if !ss.ContentVisible && !ss.BottomReached && ss.Count < scrollCap {
			labels := make([]string, 0, len(regions))
			for _, r := range regions {
				labels = append(labels, r.Label)
			}
			if l.deps.Visibility.Visible(ctx, in.StepDescription, pageText, labels) {
				ss.ContentVisible = true
			} else {
				geo, gerr := l.deps.Ctrl.ScrollGeometry(ctx)
				if gerr == nil {
					scrollable := geo.ScrollHeight > geo.ViewportHeight+10
					unchanged := geo.ScrollY == ss.LastScrollY && geo.ScrollHeight == ss.LastScrollHeight
					nearBottom := geo.ScrollY+geo.ViewportHeight >= geo.ScrollHeight-5
					if (unchanged && scrollable) || nearBottom {
						if scrollable || ss.Count >= scrollCap-1 {
							ss.BottomReached = true
						}
					}
					ss.LastScrollY, ss.LastScrollHeight = geo.ScrollY, geo.ScrollHeight
				}
				if !ss.BottomReached {
					before := verify.Capture(ctx, l.deps.Ctrl)
					_, _ = l.deps.Ctrl.Scroll(ctx, string(action.Down), scrollAmountPx)
					_ = l.deps.Ctrl.WaitForStability(ctx)
					after := verify.Capture(ctx, l.deps.Ctrl)
					outcome := verify.Compare(before, after)
					ss.Count++
					l.emit(globalStep, "ACT", fmt.Sprintf("auto-scroll %d/%d", ss.Count, scrollCap), string(action.Scroll), "", verify.Message(outcome), "")
					continue
				}
			}
		}

		// 5. DECIDE.
		hist, _ := l.deps.History.Recent(ctx, in.SessionID)
		dc := decider.Context{
			Task: in.Task, Strategy: in.Strategy, StepTitle: in.StepTitle, StepDescription: in.StepDescription,
			TargetURL: in.TargetURL, PlanSummary: in.PlanSummary, ResearchNotes: in.ResearchNotes,
			CurrentURL: currentURL, History: hist, VisibleText: pageText, Regions: regions,
			LastAction: lastAction, LastStateChanged: lastOutcome.StateChanged,
			ScrollCount: ss.Count, ContentVisible: ss.ContentVisible, BottomReached: ss.BottomReached,
		}
		decision, err := l.deps.Decider.Decide(ctx, in.SessionID, dc)
		if err != nil {
			l.emit(globalStep, "DECIDE", "decider error", "", "", "", err.Error())
			continue
		}
		l.emit(globalStep, "DECIDE", decision.Reasoning, string(decision.Action.Tag), actionJSON(decision.Action), "", "")

		if decision.Action.IsTerminal() {
			switch decision.Action.Tag {
			case action.Done:
				return Output{Completed: true, Reason: decision.Action.Reason, StepsTaken: iter - iterStart + 1, Iteration: iter, Scroll: ss}, nil
			case action.AskUser:
				act := decision.Action
				return Output{PauseKind: PauseAskUser, PendingAction: &act, StepsTaken: iter - iterStart + 1, Iteration: iter, Scroll: ss}, nil
			case action.Confirm:
				act := decision.Action
				return Output{PauseKind: PauseConfirm, PendingAction: &act, StepsTaken: iter - iterStart + 1, Iteration: iter, Scroll: ss}, nil
			}
		}

		// 6. Guardrail check.
		verdict := l.deps.Guardrail.Check(decision.Action, regions)
		if !verdict.Allowed {
			if verdict.RequiresConfirmation {
				act := decision.Action
				l.emit(globalStep, "ACT", "guardrail requires confirmation: "+verdict.Reason, string(decision.Action.Tag), actionJSON(decision.Action), "", "")
				return Output{PauseKind: PauseConfirm, PendingAction: &act, StepsTaken: iter - iterStart + 1, Iteration: iter, Scroll: ss}, nil
			}
			l.emit(globalStep, "ACT", "guardrail denied: "+verdict.Reason, string(decision.Action.Tag), actionJSON(decision.Action), "", "")
			continue
		}

		// 7. ACT.
		before := verify.Capture(ctx, l.deps.Ctrl)
		actErr := l.execute(ctx, decision.Action, regions)
		lastAction = string(decision.Action.Tag)
		if (decision.Action.Tag == action.VisionFill || decision.Action.Tag == action.DOMFill) && decision.Action.RegionID != "" {
			lastFilledRegion = decision.Action.RegionID
		}

		// 8. VERIFY — wrapped so a navigation destroying the execution
		// context is treated as success-with-navigation, not failure.
		after := safeCapture(ctx, l.deps.Ctrl)
		outcome := verify.Compare(before, after)
		if actErr != nil {
			l.emit(globalStep, "ACT", "action execution error", string(decision.Action.Tag), actionJSON(decision.Action), "", actErr.Error())
		} else {
			l.emit(globalStep, "VERIFY", verify.Message(outcome), string(decision.Action.Tag), actionJSON(decision.Action), verify.Message(outcome), "")
		}
		lastOutcome = outcome
	}

	return Output{Completed: false, Reason: "max steps", StepsTaken: stepCap - iterStart, Iteration: stepCap, Scroll: ss}, nil
}

func (l *Loop) emit(step int, phase, message, actionType, actionJSON, observation, errStr string) {
	l.log.Info().Int("step", step).Str("phase", phase).Msg(message)
	if l.deps.OnEvent != nil {
		l.deps.OnEvent(StepEvent{StepNumber: step, Phase: phase, Message: message, ActionType: actionType, ActionJSON: actionJSON, Observation: observation, Err: errStr})
	}
}

var submitKeywordRE = regexp.MustCompile(`(?i)search|submit|go|find`)

// autoRecover implements the documented injection order: Enter on the
// filled region → click a search/submit-keyword button if one is found,
// otherwise Enter at the page level → ASK_USER pause (signalled by
// returning an error). filledRegionID is the identity-attribute value of
// the region the prior fill targeted; when empty (the fill addressed a raw
// selector instead) the first Enter is already page-level, so it is not
// repeated when no button is found.
func (l *Loop) autoRecover(ctx context.Context, regions []region.Region, filledRegionID string) (bool, verify.Outcome, error) {
	before := verify.Capture(ctx, l.deps.Ctrl)
	if filledRegionID != "" {
		_ = l.deps.Ctrl.PressKeyOnAttribute(ctx, region.IdentityAttr, filledRegionID, "Enter")
	} else {
		_ = l.deps.Ctrl.PressKey(ctx, "Enter")
	}
	_ = l.deps.Ctrl.WaitForStability(ctx)
	after := verify.Capture(ctx, l.deps.Ctrl)
	outcome := verify.Compare(before, after)
	if outcome.StateChanged {
		return true, outcome, nil
	}

	foundButton := false
	for _, r := range regions {
		if r.Role == region.RoleButton && submitKeywordRE.MatchString(r.Label) {
			foundButton = true
			before = verify.Capture(ctx, l.deps.Ctrl)
			if err := l.deps.Ctrl.ClickByAttribute(ctx, region.IdentityAttr, r.ID); err == nil {
				_ = l.deps.Ctrl.WaitForStability(ctx)
				after = verify.Capture(ctx, l.deps.Ctrl)
				outcome = verify.Compare(before, after)
				if outcome.StateChanged {
					return true, outcome, nil
				}
			}
			break
		}
	}

	if !foundButton && filledRegionID != "" {
		before = verify.Capture(ctx, l.deps.Ctrl)
		_ = l.deps.Ctrl.PressKey(ctx, "Enter")
		_ = l.deps.Ctrl.WaitForStability(ctx)
		after = verify.Capture(ctx, l.deps.Ctrl)
		outcome = verify.Compare(before, after)
		if outcome.StateChanged {
			return true, outcome, nil
		}
	}

	return false, outcome, fmt.Errorf("auto-recovery exhausted without a state change")
}

// ExecuteAction runs a single already-approved action directly, without
// going through OBSERVE/DECIDE/guardrail — used by the session orchestrator
// to apply a confirmed pendingAction once on resume.
func (l *Loop) ExecuteAction(ctx context.Context, a action.Action, regions []region.Region) error {
	return l.execute(ctx, a, regions)
}

// execute dispatches one Action to the toolkit, applying adaptive
// coordinate-fallback recovery on a click failure.
func (l *Loop) execute(ctx context.Context, a action.Action, regions []region.Region) error {
	switch a.Tag {
	case action.VisionClick:
		_ = l.deps.Ctrl.Hover(ctx, fmt.Sprintf("[%s=%q]", region.IdentityAttr, a.RegionID))
		return l.clickWithFallback(ctx, a.RegionID, regions)
	case action.DOMClick:
		if a.RegionID != "" {
			return l.clickWithFallback(ctx, a.RegionID, regions)
		}
		if a.Selector != "" {
			return l.deps.Ctrl.ClickSelector(ctx, sanitizeSelector(a.Selector))
		}
		return l.deps.Ctrl.ClickRole(ctx, a.Role, a.Name)
	case action.VisionFill, action.DOMFill:
		if a.RegionID != "" {
			return l.deps.Ctrl.FillByAttribute(ctx, region.IdentityAttr, a.RegionID, a.Value)
		}
		if a.Selector != "" {
			return l.deps.Ctrl.FillSelector(ctx, sanitizeSelector(a.Selector), a.Value)
		}
		loc := l.deps.Ctrl.Page().GetByRole(*playwright.AriaRole(a.Role), playwright.PageGetByRoleOptions{Name: a.Name})
		return loc.First().Fill(a.Value)
	case action.KeyPress:
		if a.RegionID != "" {
			return l.deps.Ctrl.PressKeyOnAttribute(ctx, region.IdentityAttr, a.RegionID, a.Key)
		}
		return l.deps.Ctrl.PressKey(ctx, a.Key)
	case action.Scroll:
		_, err := l.deps.Ctrl.Scroll(ctx, string(a.Direction), nonZero(a.Amount, scrollAmountPx))
		return err
	case action.Wait:
		if a.DurationMs > 0 {
			d := time.Duration(a.DurationMs) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			return nil
		}
		return l.deps.Ctrl.WaitFor(ctx, string(a.Until), 3*time.Second)
	default:
		return fmt.Errorf("execute: unsupported action tag %s", a.Tag)
	}
}

// clickWithFallback tries identity-attribute click first, then falls back
// to a role/text guess and finally a bbox-center coordinate click — this
// enriches, never replaces, identity-attribute addressing.
func (l *Loop) clickWithFallback(ctx context.Context, regionID string, regions []region.Region) error {
	err := l.deps.Ctrl.ClickByAttribute(ctx, region.IdentityAttr, regionID)
	if err == nil {
		return nil
	}

	var target *region.Region
	for i := range regions {
		if regions[i].ID == regionID {
			target = &regions[i]
			break
		}
	}
	if target == nil {
		return err
	}

	if target.Role == region.RoleButton || target.Role == region.RoleLink {
		if roleErr := l.deps.Ctrl.ClickRole(ctx, string(target.Role), target.Label); roleErr == nil {
			return nil
		}
	}
	if fuzzyErr := l.deps.Ctrl.ClickByTextFuzzy(ctx, target.Label); fuzzyErr == nil {
		return nil
	}
	if target.BBox.Width > 0 && target.BBox.Height > 0 {
		cx := target.BBox.X + target.BBox.Width/2
		cy := target.BBox.Y + target.BBox.Height/2
		if coordErr := l.deps.Ctrl.ClickByCoordinates(ctx, cx, cy); coordErr == nil {
			return nil
		}
	}
	return err
}

func safeCapture(ctx context.Context, ctrl browser.Controller) (snap verify.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			snap = verify.Snapshot{}
		}
	}()
	return verify.Capture(ctx, ctrl)
}

func sanitizeSelector(sel string) string {
	sel = strings.ReplaceAll(sel, `\"`, `"`)
	sel = strings.ReplaceAll(sel, "\n", " ")
	sel = strings.ReplaceAll(sel, "\t", " ")
	for strings.Contains(sel, "  ") {
		sel = strings.ReplaceAll(sel, "  ", " ")
	}
	return strings.TrimSpace(sel)
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func actionJSON(a action.Action) string {
	return fmt.Sprintf("%+v", a)
}
