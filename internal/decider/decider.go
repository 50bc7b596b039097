// Package decider turns the current observation into the next Action via
// an LLM call, falling back to a small heuristic ladder when the LLM
// returns nothing usable. The heuristic ladder exists specifically to
// prevent the "premature DONE" cascade a single malformed LLM response
// could otherwise trigger.
package decider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/action"
	"github.com/arcway-labs/pilot/internal/history"
	"github.com/arcway-labs/pilot/internal/llm"
	"github.com/arcway-labs/pilot/internal/region"
)

// Context is everything the decider needs about the current step and
// observation to produce a Decision.
type Context struct {
	Task             string
	Strategy         string
	StepTitle        string
	StepDescription  string
	TargetURL        string
	PlanSummary      string
	ResearchNotes    string
	CurrentURL       string
	History          []history.Entry
	VisibleText      string
	Regions          []region.Region
	LastAction       string
	LastStateChanged bool
	ScrollCount      int
	ContentVisible   bool
	BottomReached    bool
}

// Decider is the public contract.
type Decider interface {
	Decide(ctx context.Context, sessionID string, dc Context) (action.Decision, error)
}

type decider struct {
	llm llm.Client
	log zerolog.Logger

	mu      sync.Mutex
	retries map[string]int // sessionID → graduated-retry counter
}

// New builds a Decider.
func New(client llm.Client, log zerolog.Logger) Decider {
	return &decider{llm: client, log: log.With().Str("comp", "decider").Logger(), retries: map[string]int{}}
}

func (d *decider) Decide(ctx context.Context, sessionID string, dc Context) (action.Decision, error) {
	prompt := buildPrompt(dc)
	resp, err := d.llm.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.0,
		MaxTokens:   1200,
	})
	if err != nil {
		d.log.Warn().Err(err).Str("session", sessionID).Msg("decider LLM call failed")
		return d.heuristicFallback(sessionID, dc), nil
	}

	span := extractJSON(resp.Text)
	if span == "" {
		d.log.Warn().Str("session", sessionID).Msg("decider response had no JSON object")
		return d.heuristicFallback(sessionID, dc), nil
	}

	decision, err := action.ParseDecision([]byte(span))
	if err != nil {
		d.log.Warn().Err(err).Str("session", sessionID).Msg("decider response failed validation")
		return d.heuristicFallback(sessionID, dc), nil
	}

	d.resetRetry(sessionID)
	return decision, nil
}

const systemPrompt = `You choose the single next browser action to progress the current step.
Action tags: VISION_CLICK, DOM_CLICK, VISION_FILL, DOM_FILL, KEY_PRESS, SCROLL, WAIT, ASK_USER, CONFIRM, DONE.
Rules:
- Fill values must come from the task text — never invent data.
- Never repeat the same action if the previous outcome's stateChanged was false.
- Stay strictly within the current step's objective; do not anticipate later steps.
- DONE is reserved for objective satisfaction, not merely "a search page opened".
- For research tasks, DONE requires that content has actually been extracted, not just that a results page loaded.
Respond with a single JSON object: {"action": {"tag": ..., ...fields}, "reasoning": string, "confidence": number}.
Output raw JSON only.`

func buildPrompt(dc Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nStrategy: %s\n", dc.Task, dc.Strategy)
	fmt.Fprintf(&b, "Current step: %s — %s\n", dc.StepTitle, dc.StepDescription)
	if dc.TargetURL != "" {
		fmt.Fprintf(&b, "Target URL: %s\n", dc.TargetURL)
	}
	fmt.Fprintf(&b, "Plan: %s\n", dc.PlanSummary)
	if dc.ResearchNotes != "" {
		fmt.Fprintf(&b, "Research notes so far: %s\n", truncate(dc.ResearchNotes, 3000))
	}
	fmt.Fprintf(&b, "Current URL: %s\n", dc.CurrentURL)
	fmt.Fprintf(&b, "Recent history:\n%s\n", history.FormatForPrompt(dc.History))
	fmt.Fprintf(&b, "Visible page text (truncated):\n%s\n", truncate(dc.VisibleText, 4000))
	fmt.Fprintf(&b, "Regions:\n%s\n", region.FormatForPrompt(dc.Regions, 40))
	fmt.Fprintf(&b, "Last action: %s, state changed: %v\n", dc.LastAction, dc.LastStateChanged)
	fmt.Fprintf(&b, "Auto-scroll status: ran %d times, content known visible: %v, bottom reached: %v\n",
		dc.ScrollCount, dc.ContentVisible, dc.BottomReached)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	searchMarkerRE = regexp.MustCompile(`(?i)(search|results)|[?&](q|query)=`)
	navigateRE     = regexp.MustCompile(`(?i)navigate to ([a-z0-9.\-]+\.[a-z]{2,})`)
	clickFirstRE   = regexp.MustCompile(`(?i)click (the )?first link`)
)

// heuristicFallback implements the three-step ladder from the spec: a
// literal "click first link"/named-region instruction, an already-done
// check, then a graduated retry counter (scroll → wait → done) that
// resets whenever an LLM decision succeeds.
func (d *decider) heuristicFallback(sessionID string, dc Context) action.Decision {
	if clickFirstRE.MatchString(dc.Task) && len(dc.Regions) > 0 {
		for _, r := range dc.Regions {
			if r.Role == region.RoleLink {
				return action.Decision{
					Action:    action.Action{Tag: action.DOMClick, RegionID: r.ID, Description: "heuristic: click first link"},
					Reasoning: "heuristic fallback: task names clicking the first link",
				}
			}
		}
	}
	task := strings.ToLower(dc.Task)
	for _, r := range dc.Regions {
		label := strings.ToLower(strings.TrimSpace(r.Label))
		if label != "" && strings.Contains(task, label) {
			return action.Decision{
				Action:    action.Action{Tag: action.DOMClick, RegionID: r.ID, Description: "heuristic: click named region"},
				Reasoning: "heuristic fallback: task names region " + r.Label,
			}
		}
	}

	if m := navigateRE.FindStringSubmatch(strings.ToLower(dc.StepDescription)); m != nil {
		if strings.Contains(strings.ToLower(dc.CurrentURL), m[1]) {
			return doneDecision("heuristic: already navigated to target host")
		}
	}
	if strings.Contains(strings.ToLower(dc.StepDescription), "search") && searchMarkerRE.MatchString(dc.CurrentURL) {
		return doneDecision("heuristic: url already shows search-results markers")
	}

	n := d.bumpRetry(sessionID)
	switch n {
	case 1:
		return action.Decision{Action: action.Action{Tag: action.Scroll, Direction: action.Down, Amount: 600}, Reasoning: "heuristic fallback: graduated retry 1 (scroll)"}
	case 2:
		return action.Decision{Action: action.Action{Tag: action.Wait, DurationMs: 2000}, Reasoning: "heuristic fallback: graduated retry 2 (wait)"}
	default:
		return doneDecision("heuristic fallback: graduated retry exhausted")
	}
}

func doneDecision(reason string) action.Decision {
	return action.Decision{Action: action.Action{Tag: action.Done, Reason: reason}, Reasoning: reason, Confidence: 0.4}
}

func (d *decider) bumpRetry(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retries[sessionID]++
	return d.retries[sessionID]
}

func (d *decider) resetRetry(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.retries, sessionID)
}

// extractJSON mirrors planner's brace-depth JSON extractor — duplicated
// rather than imported to keep this package's only internal dependency on
// its own small parsing helper (see internal/planner for the original).
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
