// Package channel implements the client channel: a websocket hub that
// pushes logs/screenshots/status to observing clients and accepts inbound
// task/stop/confirmation messages.
package channel

import "encoding/json"

// Inbound message types (§6).
const (
	InTask         = "task"
	InStop         = "stop"
	InConfirmation = "confirmation"
)

// Outbound message types (§6).
const (
	OutLog        = "log"
	OutScreenshot = "screenshot"
	OutStatus     = "status"
	OutError      = "error"
)

// Envelope is the JSON-framed message shape shared by every direction;
// Data carries the type-specific payload as a raw, lazily-decoded blob.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TaskData is the payload of an inbound "task" message.
type TaskData struct {
	Task      string `json:"task"`
	SessionID string `json:"sessionId,omitempty"`
}

// StopData is the payload of an inbound "stop" message.
type StopData struct {
	SessionID string `json:"sessionId"`
}

// ConfirmationData is the payload of an inbound "confirmation" message.
type ConfirmationData struct {
	SessionID string `json:"sessionId"`
	Approved  bool   `json:"approved"`
	ActionID  string `json:"actionId,omitempty"`
}

// LogData is the payload of an outbound "log" message.
type LogData struct {
	Step      int    `json:"step"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// ScreenshotData is the payload of an outbound "screenshot" message.
type ScreenshotData struct {
	SessionID      string   `json:"sessionId"`
	Step           int      `json:"step"`
	ScreenshotPath string   `json:"screenshotPath"`
	Observation    string   `json:"observation,omitempty"`
	Regions        []string `json:"regions,omitempty"`
}

// StatusData is the payload of an outbound "status" message.
type StatusData struct {
	SessionID     string          `json:"sessionId"`
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	PendingAction json.RawMessage `json:"pendingAction,omitempty"`
	PauseKind     string          `json:"pauseKind,omitempty"`
}

// ErrorData is the payload of an outbound "error" message.
type ErrorData struct {
	Message string `json:"message"`
}

// Status values (§6).
const (
	StatusStarted   = "started"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusStopped   = "stopped"
)

func encode(typ string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}
