package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway-labs/pilot/internal/llm"
)

type fakeLLM struct {
	resp     llm.Response
	err      error
	lastReq  llm.Request
	captured bool
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.lastReq = req
	f.captured = true
	return f.resp, f.err
}
func (f *fakeLLM) Name() string { return "fake" }

func TestSynthesizeReturnsFallbackOnLLMError(t *testing.T) {
	fake := &fakeLLM{err: context.DeadlineExceeded}
	sy := New(fake, zerolog.Nop())

	got, err := sy.Synthesize(context.Background(), "find the best flight", []Note{{SourceStepTitle: "step one", TextSnippet: "found a flight for $200"}})
	require.NoError(t, err, "Synthesize() should never propagate the LLM error")
	assert.Contains(t, got, "Synthesis unavailable")
}

func TestSynthesizeReturnsLLMTextOnSuccess(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Text: "Summary: found a flight for $200."}}
	sy := New(fake, zerolog.Nop())

	got, err := sy.Synthesize(context.Background(), "find the best flight", []Note{{SourceStepTitle: "step one", TextSnippet: "found a flight for $200"}})
	require.NoError(t, err)
	assert.Equal(t, "Summary: found a flight for $200.", got)
}

func TestSynthesizeTruncatesNotesToLast6000Chars(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Text: "ok"}}
	sy := New(fake, zerolog.Nop())

	long := strings.Repeat("a", 7000) + "TAILMARKER"
	_, err := sy.Synthesize(context.Background(), "task", []Note{{SourceStepTitle: "s", TextSnippet: long}})
	require.NoError(t, err)
	require.True(t, fake.captured)

	var userContent string
	for _, m := range fake.lastReq.Messages {
		if m.Role == "user" {
			userContent = m.Content
		}
	}
	require.NotEmpty(t, userContent)
	assert.Contains(t, userContent, "TAILMARKER", "truncation should keep the tail of the notes")
	assert.NotContains(t, userContent, strings.Repeat("a", 7000), "notes longer than 6000 chars should be truncated")
}

func TestSynthesizeShortNotesPassThroughWhole(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Text: "ok"}}
	sy := New(fake, zerolog.Nop())

	_, err := sy.Synthesize(context.Background(), "task", []Note{{SourceStepTitle: "first step", TextSnippet: "short note"}})
	require.NoError(t, err)

	var userContent string
	for _, m := range fake.lastReq.Messages {
		if m.Role == "user" {
			userContent = m.Content
		}
	}
	assert.Contains(t, userContent, "first step")
	assert.Contains(t, userContent, "short note")
}
