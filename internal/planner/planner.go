// Package planner turns a task into an ordered Plan of Steps, optionally
// preceded by a Scout preflight that verifies ambiguous URLs via a live
// web search before the main planning call.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/llm"
)

const maxSteps = 15

// Step is one entry in a Plan.
type Step struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	NeedsAuth   bool   `json:"needsAuth"`
	TargetURL   string `json:"targetUrl,omitempty"`
}

// Plan is the planner's output.
type Plan struct {
	Strategy       string `json:"strategy"`
	NeedsSynthesis bool   `json:"needsSynthesis"`
	Steps          []Step `json:"steps"`
}

// Scout performs the preflight URL-verification search.
type Scout interface {
	Verify(ctx context.Context, task string) (*ScoutResult, error)
}

// ScoutResult is the scout's verified-URL context, if any.
type ScoutResult struct {
	Query string
	URLs  []string
}

// Planner is the public contract: task → Plan.
type Planner interface {
	Plan(ctx context.Context, task string) (Plan, error)
}

type planner struct {
	llm   llm.Client
	scout Scout
	log   zerolog.Logger
}

// New builds a Planner. scout may be nil, in which case no preflight runs
// and the plan is generated without verified URLs.
func New(client llm.Client, scout Scout, log zerolog.Logger) Planner {
	return &planner{llm: client, scout: scout, log: log.With().Str("comp", "planner").Logger()}
}

func (p *planner) Plan(ctx context.Context, task string) (Plan, error) {
	var scoutCtx string
	if p.scout != nil {
		result, err := p.scout.Verify(ctx, task)
		if err != nil {
			p.log.Warn().Err(err).Msg("scout preflight failed, planning without verified urls")
		} else if result != nil && len(result.URLs) > 0 {
			scoutCtx = fmt.Sprintf("Verified candidate URLs from a live search for %q: %s",
				result.Query, strings.Join(result.URLs, ", "))
		}
	}

	resp, err := p.llm.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: buildUserPrompt(task, scoutCtx)}},
		Temperature: 0.0,
		MaxTokens:   1500,
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("planner LLM call failed, falling back to heuristic plan")
		return heuristicPlan(task), nil
	}

	plan, err := parsePlan(resp.Text)
	if err != nil {
		p.log.Warn().Err(err).Msg("planner response invalid, falling back to heuristic plan")
		return heuristicPlan(task), nil
	}
	return plan, nil
}

const systemPrompt = `You are the planning stage of a browser automation agent.
Given a natural-language task, classify it as one of: simple-action, deep-research, transactional.
Break the task into an ordered list of granular, atomic steps (at most 15).
Rules:
- A search-results page is never the final answer for a deep-research task; add steps to visit and read sources.
- Mark a step needsAuth=true only when it is the human's job (login, MFA, CAPTCHA) — the agent never attempts these.
- targetUrl may only be set from verified scout URLs provided in the prompt context — never invent a URL.
- needsSynthesis is true only for deep-research tasks that must produce a condensed final answer.
Respond with a single JSON object: {"strategy": string, "needsSynthesis": bool, "steps": [{"id": int, "title": string, "description": string, "needsAuth": bool, "targetUrl": string|omit}]}.
Output raw JSON only.`

func buildUserPrompt(task, scoutCtx string) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task)
	if scoutCtx != "" {
		b.WriteString("\n\n")
		b.WriteString(scoutCtx)
	}
	return b.String()
}

func parsePlan(text string) (Plan, error) {
	span := extractJSON(text)
	if span == "" {
		return Plan{}, fmt.Errorf("no JSON object found in planner response")
	}
	var p Plan
	if err := json.Unmarshal([]byte(span), &p); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(p.Steps) == 0 {
		return Plan{}, fmt.Errorf("plan has no steps")
	}
	if len(p.Steps) > maxSteps {
		p.Steps = p.Steps[:maxSteps]
	}
	for i := range p.Steps {
		if p.Steps[i].ID == 0 {
			p.Steps[i].ID = i + 1
		}
	}
	return p, nil
}

var loginKeywordRE = regexp.MustCompile(`(?i)\b(log ?in|sign ?in|password|mfa|2fa|authenticate|portal)\b`)

// heuristicPlan is the fallback when the LLM is unavailable or its output
// doesn't parse: split the task on "then"/","/"." into up to 10 objectives.
func heuristicPlan(task string) Plan {
	parts := splitHeuristic(task)
	if len(parts) == 0 {
		parts = []string{task}
	}
	if len(parts) > 10 {
		parts = parts[:10]
	}
	steps := make([]Step, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		steps = append(steps, Step{
			ID:          i + 1,
			Title:       truncateTitle(part),
			Description: part,
			NeedsAuth:   loginKeywordRE.MatchString(part),
		})
	}
	if len(steps) == 0 {
		steps = []Step{{ID: 1, Title: truncateTitle(task), Description: task}}
	}
	return Plan{Strategy: "heuristic fallback plan", NeedsSynthesis: false, Steps: steps}
}

var splitRE = regexp.MustCompile(`(?i)\bthen\b|,|\.`)

func splitHeuristic(task string) []string {
	return splitRE.Split(task, -1)
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80]
	}
	return s
}

// extractJSON returns the first brace-balanced, quote/escape-aware JSON
// object span found in text, or "" if none is found. Also strips // and
// /* */ comments that sometimes leak into LLM output outside of strings.
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
				return removeJSONComments(text[start : i+1])
			}
		}
	}
	return ""
}

func removeJSONComments(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '*' {
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
