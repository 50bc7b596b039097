package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresFieldsPerTag(t *testing.T) {
	cases := []struct {
		name    string
		a       Action
		wantErr bool
	}{
		{"vision click needs region", Action{Tag: VisionClick}, true},
		{"vision click ok", Action{Tag: VisionClick, RegionID: "element-abc12345"}, false},
		{"dom click needs addressing", Action{Tag: DOMClick}, true},
		{"dom click by selector ok", Action{Tag: DOMClick, Selector: "#submit"}, false},
		{"dom click by role+name ok", Action{Tag: DOMClick, Role: "button", Name: "Submit"}, false},
		{"key press needs key", Action{Tag: KeyPress}, true},
		{"key press ok", Action{Tag: KeyPress, Key: "Enter"}, false},
		{"scroll needs direction", Action{Tag: Scroll}, true},
		{"scroll ok", Action{Tag: Scroll, Direction: Down}, false},
		{"wait needs duration or until", Action{Tag: Wait}, true},
		{"wait by duration ok", Action{Tag: Wait, DurationMs: 500}, false},
		{"ask user needs message", Action{Tag: AskUser}, true},
		{"confirm with message ok", Action{Tag: Confirm, Message: "proceed?"}, false},
		{"done always ok", Action{Tag: Done}, false},
		{"unknown tag", Action{Tag: "BOGUS"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.a.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeDefaultsFillsScrollAmount(t *testing.T) {
	a := Action{Tag: Scroll, Direction: Down}
	a.NormalizeDefaults()
	assert.Equal(t, defaultScrollAmount, a.Amount)

	a2 := Action{Tag: Scroll, Direction: Up, Amount: 200}
	a2.NormalizeDefaults()
	assert.Equal(t, 200, a2.Amount, "explicit amount should not be overwritten")
}

func TestIsTerminal(t *testing.T) {
	terminal := []Tag{Done, AskUser, Confirm}
	for _, tag := range terminal {
		assert.True(t, (Action{Tag: tag}).IsTerminal(), "%s should be terminal", tag)
	}
	nonTerminal := []Tag{VisionClick, DOMClick, Scroll, Wait, KeyPress}
	for _, tag := range nonTerminal {
		assert.False(t, (Action{Tag: tag}).IsTerminal(), "%s should not be terminal", tag)
	}
}

func TestParseDecisionPatchesOptionalFields(t *testing.T) {
	raw := `{"action": {"tag": "DONE"}}`
	d, err := ParseDecision([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 0.5, d.Confidence, "Confidence should default to 0.5")
	assert.NotEmpty(t, d.Reasoning, "Reasoning should be auto-patched to a placeholder")
}

func TestParseDecisionRejectsInvalidAction(t *testing.T) {
	raw := `{"action": {"tag": "VISION_CLICK"}}`
	_, err := ParseDecision([]byte(raw))
	assert.Error(t, err, "VISION_CLICK with no regionId should fail validation")
}

func TestParseDecisionAppliesScrollDefault(t *testing.T) {
	raw := `{"action": {"tag": "SCROLL", "direction": "down"}, "reasoning": "go", "confidence": 0.9}`
	d, err := ParseDecision([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, defaultScrollAmount, d.Action.Amount)
}

func TestParseDecisionRejectsMalformedJSON(t *testing.T) {
	_, err := ParseDecision([]byte(`not json`))
	assert.Error(t, err)
}
