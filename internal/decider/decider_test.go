package decider

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway-labs/pilot/internal/action"
	"github.com/arcway-labs/pilot/internal/llm"
	"github.com/arcway-labs/pilot/internal/region"
)

type fakeLLM struct {
	resp llm.Response
	err  error
}

func (f fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f.resp, f.err
}
func (f fakeLLM) Name() string { return "fake" }

func TestDecideFallsBackOnLLMError(t *testing.T) {
	d := New(fakeLLM{err: context.DeadlineExceeded}, zerolog.Nop())
	dec, err := d.Decide(context.Background(), "sess-1", Context{})
	require.NoError(t, err, "Decide() must not propagate the LLM error")
	assert.Equal(t, action.Scroll, dec.Action.Tag, "first fallback should be graduated retry 1")
}

func TestHeuristicFallbackGraduatedLadder(t *testing.T) {
	d := &decider{log: zerolog.Nop(), retries: map[string]int{}}
	dc := Context{}

	first := d.heuristicFallback("sess", dc)
	assert.Equal(t, action.Scroll, first.Action.Tag, "retry 1")
	second := d.heuristicFallback("sess", dc)
	assert.Equal(t, action.Wait, second.Action.Tag, "retry 2")
	third := d.heuristicFallback("sess", dc)
	assert.Equal(t, action.Done, third.Action.Tag, "retry 3")
}

func TestHeuristicFallbackResetsPerSession(t *testing.T) {
	d := &decider{log: zerolog.Nop(), retries: map[string]int{}}
	_ = d.heuristicFallback("sess-a", Context{})
	first := d.heuristicFallback("sess-b", Context{})
	assert.Equal(t, action.Scroll, first.Action.Tag, "a fresh session id should start its own retry ladder at 1")
}

func TestHeuristicFallbackClickFirstLink(t *testing.T) {
	d := &decider{log: zerolog.Nop(), retries: map[string]int{}}
	dc := Context{
		Task: "click the first link",
		Regions: []region.Region{
			{ID: "element-1", Role: region.RoleButton, Label: "Not a link"},
			{ID: "element-2", Role: region.RoleLink, Label: "Result one"},
		},
	}
	dec := d.heuristicFallback("sess", dc)
	assert.Equal(t, action.DOMClick, dec.Action.Tag)
	assert.Equal(t, "element-2", dec.Action.RegionID)
}

func TestHeuristicFallbackAlreadyNavigated(t *testing.T) {
	d := &decider{log: zerolog.Nop(), retries: map[string]int{}}
	dc := Context{
		StepDescription: "navigate to example.com",
		CurrentURL:      "https://example.com/dashboard",
	}
	dec := d.heuristicFallback("sess", dc)
	assert.Equal(t, action.Done, dec.Action.Tag, "already on target host")
}

func TestHeuristicFallbackAlreadySearched(t *testing.T) {
	d := &decider{log: zerolog.Nop(), retries: map[string]int{}}
	dc := Context{
		StepDescription: "search for running shoes",
		CurrentURL:      "https://shop.example.com/search?q=running+shoes",
	}
	dec := d.heuristicFallback("sess", dc)
	assert.Equal(t, action.Done, dec.Action.Tag, "url already shows search markers")
}

func TestExtractJSONBalancesBraces(t *testing.T) {
	text := `reasoning here {"action": {"tag": "DONE"}, "reasoning": "ok {nested}"} trailing`
	got := extractJSON(text)
	assert.Equal(t, `{"action": {"tag": "DONE"}, "reasoning": "ok {nested}"}`, got)
}

func TestDecideResetsRetryAfterSuccess(t *testing.T) {
	resp := llm.Response{Text: `{"action": {"tag": "DONE"}, "reasoning": "done", "confidence": 0.9}`}
	d := New(fakeLLM{resp: resp}, zerolog.Nop()).(*decider)
	d.retries["sess"] = 2
	_, err := d.Decide(context.Background(), "sess", Context{})
	require.NoError(t, err)
	assert.Equal(t, 0, d.retries["sess"], "retry counter should reset after a successful LLM decision")
}
