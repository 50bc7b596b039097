package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Timing constants, grounded on the hub/client pattern this package is
// built from: ping/pong keepalive with a generous read deadline refreshed
// on every pong.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 256
)

// ErrClientSendBufferFull is returned by Send when the client's outbound
// buffer is saturated — the client channel's broadcast is deliberately
// best-effort and non-blocking.
var ErrClientSendBufferFull = errors.New("channel: client send buffer full")

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("channel: client closed")

// Client wraps one websocket connection.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	log  zerolog.Logger

	ID        string
	SessionID string

	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closedMu sync.RWMutex
	closed   bool
}

func newClient(conn *websocket.Conn, hub *Hub, id, sessionID string, log zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn: conn, hub: hub, log: log.With().Str("comp", "channel").Str("client", id).Logger(),
		ID: id, SessionID: sessionID,
		send: make(chan []byte, sendBufferSize),
		ctx:  ctx, cancel: cancel,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.cancel()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.handleInbound(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleInbound(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn().Err(err).Msg("malformed inbound message")
		return
	}
	switch env.Type {
	case InTask:
		var d TaskData
		if err := json.Unmarshal(env.Data, &d); err == nil {
			dispatchTask(c, d)
		}
	case InStop:
		var d StopData
		if err := json.Unmarshal(env.Data, &d); err == nil {
			dispatchStop(c, d)
		}
	case InConfirmation:
		var d ConfirmationData
		if err := json.Unmarshal(env.Data, &d); err == nil {
			dispatchConfirmation(c, d)
		}
	default:
		c.log.Warn().Str("type", env.Type).Msg("unknown inbound message type")
	}
}

// Send enqueues an already-framed outbound message, non-blocking.
func (c *Client) Send(raw []byte) error {
	c.closedMu.RLock()
	if c.closed {
		c.closedMu.RUnlock()
		return ErrClientClosed
	}
	c.closedMu.RUnlock()

	select {
	case c.send <- raw:
		return nil
	default:
		return ErrClientSendBufferFull
	}
}

// Close idempotently tears the client down.
func (c *Client) Close() {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return
	}
	c.closed = true
	c.closedMu.Unlock()

	c.cancel()
	close(c.send)
	c.conn.Close()
}

// ServeWS upgrades an already-accepted *websocket.Conn into a registered
// Client bound to sessionID and starts its pumps.
func ServeWS(hub *Hub, conn *websocket.Conn, clientID, sessionID string, log zerolog.Logger) *Client {
	c := newClient(conn, hub, clientID, sessionID, log)
	hub.register <- c
	go c.writePump()
	go c.readPump()
	return c
}
