package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway-labs/pilot/internal/planner"
	"github.com/arcway-labs/pilot/internal/synth"
)

func TestStepLikelyDoneNavigate(t *testing.T) {
	step := planner.Step{Title: "Navigate to bank", Description: "navigate to the login portal", TargetURL: "https://acme.bank/login"}
	assert.True(t, stepLikelyDone(step, "https://acme.bank/login?sid=1"))
	assert.False(t, stepLikelyDone(step, "https://other.example/"))
}

func TestStepLikelyDoneSearch(t *testing.T) {
	step := planner.Step{Title: "Search", Description: "search for running shoes"}
	assert.True(t, stepLikelyDone(step, "https://shop.example.com/search?q=running+shoes"))
	assert.False(t, stepLikelyDone(step, "https://shop.example.com/"))
}

func TestStepLikelyDoneClickDetail(t *testing.T) {
	step := planner.Step{Title: "Open first result", Description: "click the first result listing"}
	assert.True(t, stepLikelyDone(step, "https://site.example/watch?v=abc123"))
}

func TestStepLikelyDoneDefaultFalse(t *testing.T) {
	step := planner.Step{Title: "Review the summary", Description: "review what was found"}
	assert.False(t, stepLikelyDone(step, "https://anything.example/"))
}

func TestExtractHostStripsSchemeAndPath(t *testing.T) {
	host, err := extractHost("https://shop.example.com/cart?x=1")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", host)
}

func TestExtractHostEmptyIsError(t *testing.T) {
	_, err := extractHost("https://")
	assert.Error(t, err)
}

func TestSummarizePlanJoinsStepTitles(t *testing.T) {
	plan := planner.Plan{Strategy: "simple-action", Steps: []planner.Step{{Title: "one"}, {Title: "two"}}}
	got := summarizePlan(plan)
	assert.True(t, strings.HasPrefix(got, "simple-action: "))
	assert.Contains(t, got, "one; two")
}

func TestTruncateNotesKeepsTail(t *testing.T) {
	notes := []synth.Note{{SourceStepTitle: "a", TextSnippet: strings.Repeat("x", 20)}}
	got := truncateNotes(notes, 10)
	assert.Len(t, got, 10)
}

func TestTruncateNotesUnderLimit(t *testing.T) {
	notes := []synth.Note{{SourceStepTitle: "a", TextSnippet: "short"}}
	got := truncateNotes(notes, 1000)
	assert.Contains(t, got, "short")
	assert.Contains(t, got, "[a]")
}
