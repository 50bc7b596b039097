package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndUpdateSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "sess-1", "book a flight", "https://example.com", "started"))
	require.NoError(t, store.UpdateSessionStatus(ctx, "sess-1", "completed"))
}

func TestInsertAndRecentSteps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "sess-1", "task", "", "started"))

	for i := 1; i <= 8; i++ {
		err := store.InsertStep(ctx, Step{
			SessionID: "sess-1", StepNumber: i, Phase: "OBSERVE",
			ActionType: "SCROLL", Observation: "scrolled",
		})
		require.NoError(t, err)
	}

	recent, err := store.RecentSteps(ctx, "sess-1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	// ORDER BY stepNumber DESC LIMIT 5 — newest first.
	assert.Equal(t, 8, recent[0].StepNumber, "newest first")
	assert.Equal(t, 4, recent[4].StepNumber)
}

func TestInsertArtifact(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "sess-1", "task", "", "started"))
	assert.NoError(t, store.InsertArtifact(ctx, "sess-1", 1, "/artifacts/sess-1/step-0001.png", "png"))
}

func TestMarshalActionData(t *testing.T) {
	assert.Empty(t, MarshalActionData(nil))
	assert.Equal(t, `{"a":1}`, MarshalActionData(map[string]int{"a": 1}))
}
