package planner

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway-labs/pilot/internal/llm"
)

type fakeLLM struct {
	resp llm.Response
	err  error
}

func (f fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f.resp, f.err
}
func (f fakeLLM) Name() string { return "fake" }

func TestHeuristicPlanSplitsOnThenCommaPeriod(t *testing.T) {
	p := heuristicPlan("open the site then search for shoes, add to cart.")
	require.NotEmpty(t, p.Steps)
	assert.Equal(t, "heuristic fallback plan", p.Strategy)
	for i, s := range p.Steps {
		assert.Equal(t, i+1, s.ID)
	}
}

func TestHeuristicPlanCapsAtTenSteps(t *testing.T) {
	task := ""
	for i := 0; i < 20; i++ {
		task += "do thing, "
	}
	p := heuristicPlan(task)
	assert.LessOrEqual(t, len(p.Steps), 10)
}

func TestHeuristicPlanFlagsLoginSteps(t *testing.T) {
	p := heuristicPlan("log in to the portal then download the invoice")
	assert.True(t, p.Steps[0].NeedsAuth, "step mentioning 'log in' should be flagged needsAuth")
}

func TestExtractJSONFindsBalancedObject(t *testing.T) {
	text := "here is the plan: {\"a\": 1, \"b\": {\"c\": 2}} trailing prose"
	assert.Equal(t, `{"a": 1, "b": {"c": 2}}`, extractJSON(text))
}

func TestExtractJSONNoObject(t *testing.T) {
	assert.Empty(t, extractJSON("no json here"))
}

func TestRemoveJSONCommentsStripsOutsideStrings(t *testing.T) {
	in := `{"a": 1, // trailing comment
"b": "text // not a comment" /* block */}`
	got := removeJSONComments(in)
	assert.Contains(t, got, `"text // not a comment"`, "string content should survive")
	assert.NotContains(t, got, "trailing comment")
	assert.NotContains(t, got, "block")
}

func TestPlanFallsBackToHeuristicOnLLMError(t *testing.T) {
	p := New(fakeLLM{err: context.DeadlineExceeded}, nil, zerolog.Nop())
	plan, err := p.Plan(context.Background(), "book a flight to Denver")
	require.NoError(t, err, "Plan() should never propagate the LLM error")
	assert.Equal(t, "heuristic fallback plan", plan.Strategy)
}

func TestPlanFallsBackOnUnparsableResponse(t *testing.T) {
	p := New(fakeLLM{resp: llm.Response{Text: "not json at all"}}, nil, zerolog.Nop())
	plan, err := p.Plan(context.Background(), "book a flight")
	require.NoError(t, err)
	assert.Equal(t, "heuristic fallback plan", plan.Strategy)
}

func TestPlanParsesValidLLMResponse(t *testing.T) {
	resp := llm.Response{Text: `{"strategy": "simple-action", "needsSynthesis": false, "steps": [{"id": 1, "title": "Go to site", "description": "navigate", "needsAuth": false}]}`}
	p := New(fakeLLM{resp: resp}, nil, zerolog.Nop())
	plan, err := p.Plan(context.Background(), "go to site")
	require.NoError(t, err)
	assert.Equal(t, "simple-action", plan.Strategy)
	assert.Len(t, plan.Steps, 1)
}

type fakeScout struct {
	result *ScoutResult
	err    error
}

func (f fakeScout) Verify(ctx context.Context, task string) (*ScoutResult, error) {
	return f.result, f.err
}

func TestPlanUsesScoutContextWhenAvailable(t *testing.T) {
	resp := llm.Response{Text: `{"strategy": "simple-action", "steps": [{"id": 1, "title": "go", "description": "go"}]}`}
	p := New(fakeLLM{resp: resp}, fakeScout{result: &ScoutResult{Query: "acme bank login", URLs: []string{"https://acme.bank/login"}}}, zerolog.Nop())
	plan, err := p.Plan(context.Background(), "log into acme bank")
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
}
