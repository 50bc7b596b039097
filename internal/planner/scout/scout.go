// Package scout implements the planner's preflight phase: a lightweight
// LLM call classifies whether the task names an ambiguous institution-
// specific service whose URL must not be guessed, and if so a visible
// auxiliary browser searches a public engine to verify candidate URLs.
package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/browser"
	"github.com/arcway-labs/pilot/internal/llm"
	"github.com/arcway-labs/pilot/internal/planner"
)

const captchaWaitCap = 2 * time.Minute

// EventSink receives planning-phase log lines the scout emits while it
// runs, so the client channel can stream progress without this package
// importing the channel/session packages (that would cycle back here).
type EventSink interface {
	Log(phase, message string)
}

type noopSink struct{}

func (noopSink) Log(string, string) {}

// Scout implements planner.Scout.
type Scout struct {
	llm            llm.Client
	launcher       *browser.Launcher
	sink           EventSink
	log            zerolog.Logger
	viewportWidth  int
	viewportHeight int
}

// New builds a Scout. launcher must be a *visible* (non-headless) Launcher
// distinct from the main session's — the scout never reuses the main
// session's cookies (an explicitly decided open question), and a user
// needs to be able to see and clear a CAPTCHA in its auxiliary browser.
func New(client llm.Client, launcher *browser.Launcher, sink EventSink, viewportWidth, viewportHeight int, log zerolog.Logger) *Scout {
	if sink == nil {
		sink = noopSink{}
	}
	return &Scout{
		llm: client, launcher: launcher, sink: sink,
		viewportWidth: viewportWidth, viewportHeight: viewportHeight,
		log: log.With().Str("comp", "scout").Logger(),
	}
}

type classification struct {
	Query string `json:"query"`
}

// Verify classifies task and, if the classifier names a search query,
// drives an auxiliary browser to find up to three verified result links.
func (s *Scout) Verify(ctx context.Context, task string) (*planner.ScoutResult, error) {
	query, err := s.classify(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("scout: classify: %w", err)
	}
	if query == "" {
		return nil, nil
	}

	s.sink.Log("PLANNING", fmt.Sprintf("scout: searching for %q to verify a URL before planning", query))

	ctrl, err := s.launcher.NewController(ctx, "", s.viewportWidth, s.viewportHeight)
	if err != nil {
		return nil, fmt.Errorf("scout: launch auxiliary browser: %w", err)
	}
	defer ctrl.Close()

	urls, err := s.search(ctx, ctrl, query)
	if err != nil {
		s.sink.Log("PLANNING", fmt.Sprintf("scout: search failed (%v); planning without verified urls", err))
		return nil, nil
	}

	return &planner.ScoutResult{Query: query, URLs: urls}, nil
}

func (s *Scout) classify(ctx context.Context, task string) (string, error) {
	resp, err := s.llm.Generate(ctx, llm.Request{
		System: `Classify whether this task mentions an ambiguous institution-specific service whose exact
URL cannot be reliably guessed (e.g. a university portal, a company SSO, a niche internal tool).
If so, respond with {"query": "<a concrete web search query that would find it>"}.
If the task already names a well-known, guessable site, respond with {"query": ""}.
Output raw JSON only.`,
		Messages:    []llm.Message{{Role: "user", Content: task}},
		Temperature: 0.0,
		MaxTokens:   150,
	})
	if err != nil {
		return "", err
	}
	start := strings.IndexByte(resp.Text, '{')
	end := strings.LastIndexByte(resp.Text, '}')
	if start == -1 || end == -1 || end < start {
		return "", nil
	}
	var c classification
	if err := json.Unmarshal([]byte(resp.Text[start:end+1]), &c); err != nil {
		return "", nil
	}
	return strings.TrimSpace(c.Query), nil
}

// search drives the auxiliary browser to a public search engine, detects a
// CAPTCHA by probing the page text for well-known phrases and, if present,
// waits (up to captchaWaitCap) for the user to solve it, then extracts the
// result links from the page as it stands; the search is not re-run.
func (s *Scout) search(ctx context.Context, ctrl browser.Controller, query string) ([]string, error) {
	searchURL := "https://duckduckgo.com/html/?q=" + strings.ReplaceAll(query, " ", "+")
	if err := ctrl.Navigate(ctx, searchURL); err != nil {
		return nil, err
	}
	_ = ctrl.WaitForStability(ctx)

	if s.captchaPresent(ctx, ctrl) {
		s.sink.Log("PLANNING", "scout: a CAPTCHA appeared — please solve it in the visible browser window")
		if !s.waitForCaptchaClear(ctx, ctrl) {
			return nil, fmt.Errorf("captcha not cleared within %s", captchaWaitCap)
		}
	}

	return s.extractLinks(ctx, ctrl)
}

func (s *Scout) captchaPresent(ctx context.Context, ctrl browser.Controller) bool {
	text, err := ctrl.Read(ctx, "")
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "unusual traffic") || strings.Contains(lower, "verify you are human") ||
		strings.Contains(lower, "captcha")
}

func (s *Scout) waitForCaptchaClear(ctx context.Context, ctrl browser.Controller) bool {
	deadline := time.Now().Add(captchaWaitCap)
	for time.Now().Before(deadline) {
		time.Sleep(2 * time.Second)
		page := ctrl.Page()
		if count, err := page.Locator("#search").Count(); err == nil && count > 0 {
			return true
		}
		if !s.captchaPresent(ctx, ctrl) {
			return true
		}
	}
	return false
}

func (s *Scout) extractLinks(ctx context.Context, ctrl browser.Controller) ([]string, error) {
	page := ctrl.Page()
	raw, err := page.Evaluate(`() => Array.from(document.querySelectorAll('a.result__a, a[href^="http"]'))
		.map(a => a.href).filter(Boolean).slice(0, 20)`)
	if err != nil {
		return nil, err
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected search result shape")
	}
	var urls []string
	seen := map[string]bool{}
	for _, it := range items {
		u, ok := it.(string)
		if !ok || u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) >= 3 {
			break
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no result links found")
	}
	return urls, nil
}
