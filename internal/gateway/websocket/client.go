package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	v1 "nbexec/api/v1"
	"nbexec/internal/executor"
	"nbexec/internal/gateway/handlers"
	"nbexec/internal/namespace"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 32 << 20

	// Calls queued behind the running one before the session reports busy.
	maxQueued = 8
)

// Client is one session connection. Calls run one at a time on the
// worker goroutine, which alone touches state.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	calls       chan Message
	id          string
	connectedAt time.Time
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	state namespace.State
}

// NewClient creates a client for conn.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 64),
		calls:       make(chan Message, maxQueued),
		id:          id,
		connectedAt: time.Now(),
		logger:      hub.logger.With().Str("client_id", id).Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// trySend queues data for the write pump. It reports false when the
// client is closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Msg("send buffer full, message dropped")
		return false
	}
}

// shutdown interrupts the running call and stops the write pump.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.send)
}

// readPump reads frames until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.calls)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.trySend(encode(errorMessage("", ErrCodeInvalidMessage, "failed to parse message")))
		return
	}

	switch msg.Type {
	case TypePing:
		c.trySend(encode(Message{Type: TypePong, ID: msg.ID}))
	case TypeExecute, TypeState, TypeReset:
		select {
		case c.calls <- msg:
		default:
			c.trySend(encode(errorMessage(msg.ID, ErrCodeBusy, "too many queued calls")))
		}
	default:
		c.trySend(encode(errorMessage(msg.ID, ErrCodeUnknownType, "unknown message type "+msg.Type)))
	}
}

// worker runs queued calls in order.
func (c *Client) worker() {
	for msg := range c.calls {
		c.trySend(encode(c.handle(msg)))
	}
}

func (c *Client) handle(msg Message) Message {
	switch msg.Type {
	case TypeReset:
		c.state = nil
		return Message{Type: TypeState, ID: msg.ID, State: json.RawMessage("{}")}
	case TypeState:
		return Message{Type: TypeState, ID: msg.ID, State: c.snapshot()}
	default:
		return c.execute(msg)
	}
}

func (c *Client) snapshot() json.RawMessage {
	if len(c.state) == 0 {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(c.state)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode session state")
		return json.RawMessage("{}")
	}
	return data
}

func (c *Client) execute(msg Message) Message {
	if c.hub.executor == nil {
		return errorMessage(msg.ID, handlers.ErrCodeServiceUnavailable, "executor not available")
	}
	if strings.TrimSpace(msg.Code) == "" {
		return errorMessage(msg.ID, handlers.ErrCodeInvalidRequest, "code cannot be empty")
	}

	res, err := c.hub.executor.Execute(c.ctx, executor.Request{
		Code:           msg.Code,
		TimeoutSeconds: msg.TimeoutSeconds,
		InputURL:       msg.InputURL,
		OutputURL:      msg.OutputURL,
		InputTypeHint:  msg.InputTypeHint,
		PriorState:     c.state,
	}, executor.ModeSession)
	if err != nil {
		_, code := v1.BoundaryStatus(err)
		c.logger.Warn().Err(err).Str("id", msg.ID).Msg("session call abandoned")
		return errorMessage(msg.ID, code, err.Error())
	}

	c.state = res.State
	resp := v1.NewExecuteResponse(res)
	return Message{Type: TypeResult, ID: msg.ID, Result: &resp, State: c.snapshot()}
}

// writePump writes queued frames and keepalive pings.
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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
