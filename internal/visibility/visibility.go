// Package visibility implements the semantic visibility check: a cheap,
// low-token LLM call asking only whether content relevant to the current
// step is already on screen. It gates the agent loop's auto-scroll step so
// a full decision call isn't spent scrolling through content that's
// already visible.
package visibility

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/llm"
)

// Checker is the public contract.
type Checker interface {
	Visible(ctx context.Context, stepObjective, visibleText string, elementLabels []string) bool
}

type checker struct {
	llm llm.Client
	log zerolog.Logger
}

// New builds a Checker.
func New(client llm.Client, log zerolog.Logger) Checker {
	return &checker{llm: client, log: log.With().Str("comp", "visibility").Logger()}
}

const systemPrompt = `Decide whether the current page already shows content, navigation, or links
semantically relevant to the step objective. Accept synonyms (Dining<->Food, Catalog<->Classes) and
treat navigation that leads toward the target as relevant. Answer with exactly one word: YES or NO.`

// Visible returns true when the cheap LLM call judges the objective's
// content already on screen, and also on any failure — on failure the
// decider handles it directly rather than the auto-scroll gate stalling.
func (c *checker) Visible(ctx context.Context, stepObjective, visibleText string, elementLabels []string) bool {
	prompt := "Step objective: " + stepObjective + "\n\nVisible text:\n" + truncate(visibleText, 2000) +
		"\n\nElement labels: " + strings.Join(elementLabels, ", ")

	resp, err := c.llm.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.0,
		MaxTokens:   8,
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("visibility check failed, defaulting to visible=true")
		return true
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Text))
	return strings.HasPrefix(answer, "YES")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
