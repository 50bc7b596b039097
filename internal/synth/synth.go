// Package synth implements the synthesizer: the final LLM call on research
// tasks that condenses accumulated research notes into a user-facing
// answer.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/llm"
)

// Note is one accumulated research note.
type Note struct {
	SourceStepTitle string
	TextSnippet     string
}

// Synthesizer is the public contract.
type Synthesizer interface {
	Synthesize(ctx context.Context, task string, notes []Note) (string, error)
}

type synthesizer struct {
	llm llm.Client
	log zerolog.Logger
}

// New builds a Synthesizer.
func New(client llm.Client, log zerolog.Logger) Synthesizer {
	return &synthesizer{llm: client, log: log.With().Str("comp", "synth").Logger()}
}

const systemPrompt = `Condense the accumulated research notes into a concise, well-organized answer
to the original task. Include concrete facts, names, and URLs found in the notes, and call out
any gaps where the research did not find an answer.`

// Synthesize concatenates the last 6000 chars of notes and asks the LLM for
// a final answer. On transport failure it returns an explanatory message
// rather than propagating the error, per the spec's error-handling design
// (kind 3: LLM transport failure).
func (s *synthesizer) Synthesize(ctx context.Context, task string, notes []Note) (string, error) {
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", n.SourceStepTitle, n.TextSnippet)
	}
	combined := b.String()
	if len(combined) > 6000 {
		combined = combined[len(combined)-6000:]
	}

	resp, err := s.llm.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: "Task: " + task + "\n\nNotes:\n" + combined}},
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("synthesis LLM call failed")
		return "Synthesis unavailable: the research notes could not be condensed due to an LLM error. Raw notes are preserved in the session's history.", nil
	}
	return resp.Text, nil
}
