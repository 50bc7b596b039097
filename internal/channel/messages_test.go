package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWrapsTypedPayloadInEnvelope(t *testing.T) {
	raw, err := encode(OutLog, LogData{Step: 3, Phase: "ACT", Message: "clicked"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, OutLog, env.Type)

	var d LogData
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, 3, d.Step)
	assert.Equal(t, "ACT", d.Phase)
	assert.Equal(t, "clicked", d.Message)
}

func TestInboundEnvelopeRoundTrip(t *testing.T) {
	data, _ := json.Marshal(ConfirmationData{SessionID: "sess-1", Approved: true})
	raw, _ := json.Marshal(Envelope{Type: InConfirmation, Data: data})

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, InConfirmation, env.Type)

	var d ConfirmationData
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, "sess-1", d.SessionID)
	assert.True(t, d.Approved)
}
