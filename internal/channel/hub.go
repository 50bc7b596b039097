package channel

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub owns the set of connected Clients, keyed by the session they're
// observing. A session may have zero, one, or several listening clients;
// Emit broadcasts best-effort to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool // sessionID -> set

	register   chan *Client
	unregister chan *Client

	log zerolog.Logger
}

// NewHub builds and starts a Hub's run loop.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		clients:    map[string]map[*Client]bool{},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.With().Str("comp", "channel-hub").Logger(),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.SessionID] == nil {
				h.clients[c.SessionID] = map[*Client]bool{}
			}
			h.clients[c.SessionID][c] = true
			h.mu.Unlock()
			h.log.Debug().Str("session", c.SessionID).Msg("client registered")
		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.SessionID]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.clients, c.SessionID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Emit broadcasts an outbound envelope to every client watching sessionID.
// Best-effort and non-blocking: a disconnected or saturated client is
// simply skipped, never blocks the caller.
func (h *Hub) Emit(sessionID, typ string, data interface{}) {
	raw, err := encode(typ, data)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode outbound message")
		return
	}
	h.mu.RLock()
	set := h.clients[sessionID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(raw); err != nil {
			h.log.Debug().Err(err).Str("client", c.ID).Msg("emit skipped")
		}
	}
}

// EmitLog is a typed convenience wrapper for OutLog.
func (h *Hub) EmitLog(sessionID string, step int, phase, message, errStr string) {
	h.Emit(sessionID, OutLog, LogData{Step: step, Phase: phase, Message: message, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Error: errStr})
}

// EmitScreenshot is a typed convenience wrapper for OutScreenshot.
func (h *Hub) EmitScreenshot(sessionID string, step int, path, observation string, regions []string) {
	h.Emit(sessionID, OutScreenshot, ScreenshotData{SessionID: sessionID, Step: step, ScreenshotPath: path, Observation: observation, Regions: regions})
}

// EmitStatus is a typed convenience wrapper for OutStatus.
func (h *Hub) EmitStatus(sessionID, status, message, pauseKind string, pendingAction []byte) {
	h.Emit(sessionID, OutStatus, StatusData{SessionID: sessionID, Status: status, Message: message, PauseKind: pauseKind, PendingAction: pendingAction})
}

// EmitError is a typed convenience wrapper for OutError.
func (h *Hub) EmitError(sessionID, message string) {
	h.Emit(sessionID, OutError, ErrorData{Message: message})
}

// ActiveCount reports how many clients currently watch sessionID — used
// by callers that only want to do expensive work (e.g. a screenshot
// encode) when someone is actually listening.
func (h *Hub) ActiveCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// TaskHandler, StopHandler and ConfirmationHandler are set by the session
// package to decouple this transport from session lifecycle logic — the
// same pattern the hub/client split is grounded on.
type (
	TaskHandlerFunc         func(c *Client, data TaskData)
	StopHandlerFunc         func(c *Client, data StopData)
	ConfirmationHandlerFunc func(c *Client, data ConfirmationData)
)

var (
	taskHandler         TaskHandlerFunc
	stopHandler         StopHandlerFunc
	confirmationHandler ConfirmationHandlerFunc
)

// SetTaskHandler registers the handler invoked on inbound "task" messages.
func SetTaskHandler(f TaskHandlerFunc) { taskHandler = f }

// SetStopHandler registers the handler invoked on inbound "stop" messages.
func SetStopHandler(f StopHandlerFunc) { stopHandler = f }

// SetConfirmationHandler registers the handler invoked on inbound
// "confirmation" messages.
func SetConfirmationHandler(f ConfirmationHandlerFunc) { confirmationHandler = f }

func dispatchTask(c *Client, d TaskData) {
	if taskHandler != nil {
		taskHandler(c, d)
	}
}

func dispatchStop(c *Client, d StopData) {
	if stopHandler != nil {
		stopHandler(c, d)
	}
}

func dispatchConfirmation(c *Client, d ConfirmationData) {
	if confirmationHandler != nil {
		confirmationHandler(c, d)
	}
}
