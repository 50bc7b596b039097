package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway-labs/pilot/internal/db"
)

func TestRecentReturnsOldestFirstWithinWindow(t *testing.T) {
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "sess-1", "task", "", "started"))
	for i := 1; i <= 7; i++ {
		require.NoError(t, store.InsertStep(ctx, db.Step{SessionID: "sess-1", StepNumber: i, Phase: "ACT", ActionType: "SCROLL"}))
	}

	h := New(store)
	entries, err := h.Recent(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, DefaultWindow)
	assert.Equal(t, 3, entries[0].StepNumber, "oldest-first")
	assert.Equal(t, 7, entries[len(entries)-1].StepNumber)
}

func TestFormatForPromptEmpty(t *testing.T) {
	assert.Equal(t, "(no actions yet)", FormatForPrompt(nil))
}

func TestFormatForPromptIncludesError(t *testing.T) {
	out := FormatForPrompt([]Entry{{StepNumber: 1, ActionType: "DOM_CLICK", Error: "not found"}})
	assert.Contains(t, out, "error: not found")
}
