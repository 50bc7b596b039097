package channel

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestActiveCountZeroForUnknownSession(t *testing.T) {
	h := NewHub(zerolog.Nop())
	assert.Equal(t, 0, h.ActiveCount("nonexistent"))
}

func TestEmitWithNoClientsDoesNotPanic(t *testing.T) {
	h := NewHub(zerolog.Nop())
	assert.NotPanics(t, func() {
		h.EmitLog("sess-1", 1, "OBSERVE", "hello", "")
		h.EmitStatus("sess-1", StatusRunning, "running", "", nil)
		h.EmitScreenshot("sess-1", 1, "/artifacts/sess-1/step-0001.png", "", nil)
		h.EmitError("sess-1", "boom")
	})
}

func TestDispatchHandlersRoutedByEnvelopeType(t *testing.T) {
	var gotTask TaskData
	var gotStop StopData
	var gotConfirm ConfirmationData

	SetTaskHandler(func(c *Client, d TaskData) { gotTask = d })
	SetStopHandler(func(c *Client, d StopData) { gotStop = d })
	SetConfirmationHandler(func(c *Client, d ConfirmationData) { gotConfirm = d })
	t.Cleanup(func() {
		SetTaskHandler(nil)
		SetStopHandler(nil)
		SetConfirmationHandler(nil)
	})

	dispatchTask(nil, TaskData{Task: "book a flight"})
	dispatchStop(nil, StopData{SessionID: "sess-1"})
	dispatchConfirmation(nil, ConfirmationData{SessionID: "sess-1", Approved: true})

	assert.Equal(t, "book a flight", gotTask.Task)
	assert.Equal(t, "sess-1", gotStop.SessionID)
	assert.True(t, gotConfirm.Approved)
}

func TestDispatchWithNoHandlerRegisteredIsNoop(t *testing.T) {
	SetTaskHandler(nil)
	assert.NotPanics(t, func() { dispatchTask(nil, TaskData{Task: "anything"}) })
}
