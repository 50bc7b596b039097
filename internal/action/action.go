// Package action defines the agent's tagged-union action schema and the
// Decision envelope returned by the decider.
package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tag identifies which action payload is populated on an Action.
type Tag string

const (
	VisionClick Tag = "VISION_CLICK"
	DOMClick    Tag = "DOM_CLICK"
	VisionFill  Tag = "VISION_FILL"
	DOMFill     Tag = "DOM_FILL"
	KeyPress    Tag = "KEY_PRESS"
	Scroll      Tag = "SCROLL"
	Wait        Tag = "WAIT"
	AskUser     Tag = "ASK_USER"
	Confirm     Tag = "CONFIRM"
	Done        Tag = "DONE"
)

// Direction is the scroll direction for a SCROLL action.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// WaitUntil is the load-state sentinel for a WAIT action.
type WaitUntil string

const (
	Load             WaitUntil = "load"
	DOMContentLoaded WaitUntil = "domcontentloaded"
	NetworkIdle      WaitUntil = "networkidle"
)

const defaultScrollAmount = 600

// Action is a tagged union of everything the agent loop can execute.
// Validate checks that the fields a Tag requires are present; it does not
// reject fields that are irrelevant to the Tag.
type Action struct {
	Tag Tag `json:"tag"`

	// Addressing — RegionID, (Role+Name) or Selector, per the Tag's
	// requirements. When several are set the executor uses RegionID first,
	// then Selector, then Role+Name.
	RegionID string `json:"regionId,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`

	Value       string    `json:"value,omitempty"`
	Key         string    `json:"key,omitempty"`
	Direction   Direction `json:"direction,omitempty"`
	Amount      int       `json:"amount,omitempty"`
	DurationMs  int       `json:"durationMs,omitempty"`
	Until       WaitUntil `json:"until,omitempty"`
	Message     string    `json:"message,omitempty"`
	ActionID    string    `json:"actionId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Decision is what the decider returns for a single agent-loop iteration.
type Decision struct {
	Action     Action  `json:"action"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// Validate enforces the payload shape required by each Tag. An action that
// fails validation must never reach the toolkit.
func (a Action) Validate() error {
	switch a.Tag {
	case VisionClick:
		if a.RegionID == "" {
			return fmt.Errorf("action %s: regionId required", a.Tag)
		}
	case DOMClick:
		if a.RegionID == "" && a.Selector == "" && !(a.Role != "" && a.Name != "") {
			return fmt.Errorf("action %s: one of regionId, selector, or role+name required", a.Tag)
		}
	case VisionFill:
		if a.RegionID == "" {
			return fmt.Errorf("action %s: regionId required", a.Tag)
		}
	case DOMFill:
		if a.RegionID == "" && a.Selector == "" && !(a.Role != "" && a.Name != "") {
			return fmt.Errorf("action %s: one of regionId, selector, or role+name required", a.Tag)
		}
	case KeyPress:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("action %s: key required", a.Tag)
		}
	case Scroll:
		if a.Direction != Up && a.Direction != Down {
			return fmt.Errorf("action %s: direction must be up or down", a.Tag)
		}
	case Wait:
		if a.DurationMs == 0 && a.Until == "" {
			return fmt.Errorf("action %s: durationMs or until required", a.Tag)
		}
	case AskUser:
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("action %s: message required", a.Tag)
		}
	case Confirm:
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("action %s: message required", a.Tag)
		}
	case Done:
		// reason is optional
	default:
		return fmt.Errorf("unknown action tag %q", a.Tag)
	}
	return nil
}

// NormalizeDefaults fills in the documented default for the one optional
// field that has one (the SCROLL amount) and must run before Validate.
func (a *Action) NormalizeDefaults() {
	if a.Tag == Scroll && a.Amount == 0 {
		a.Amount = defaultScrollAmount
	}
}

// IsTerminal reports whether this action tag ends the current agent-loop
// iteration with a pause or completion rather than falling through to ACT.
func (a Action) IsTerminal() bool {
	switch a.Tag {
	case Done, AskUser, Confirm:
		return true
	default:
		return false
	}
}

// ParseDecision decodes a Decision from raw JSON (already extracted from
// surrounding LLM prose by the caller), auto-patching the two documented
// optional fields before validating.
func ParseDecision(raw []byte) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if d.Confidence == 0 {
		d.Confidence = 0.5
	}
	if strings.TrimSpace(d.Reasoning) == "" {
		d.Reasoning = "no reasoning provided"
	}
	d.Action.NormalizeDefaults()
	if err := d.Action.Validate(); err != nil {
		return Decision{}, err
	}
	return d, nil
}
