package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nbexec/internal/executor"
	"nbexec/internal/metrics"
	"nbexec/pkg/logger"
)

// Executor runs calls.
type Executor interface {
	Execute(ctx context.Context, req executor.Request, mode executor.Mode) (*executor.Result, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks live session connections.
type Hub struct {
	executor Executor
	logger   zerolog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	mu sync.RWMutex
}

// NewHub creates a hub whose connections run cells on exec.
func NewHub(exec Executor) *Hub {
	return &Hub{
		executor:   exec,
		logger:     logger.Component("websocket"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.SessionsConnected.Inc()
			h.logger.Info().Str("client_id", client.id).Msg("session connected")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Info().Str("client_id", client.id).Msg("session disconnected")

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.trySend(data)
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.shutdown()
				metrics.SessionsConnected.Dec()
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.shutdown()
		metrics.SessionsConnected.Dec()
	}
}

// Register adds a client to the hub. It reports false once the hub is closed.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends msg to every connected session. It drops the message
// when the broadcast queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- encode(msg):
	case <-h.done:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("broadcast queue full, message dropped")
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every session and stops Run. Running cells are
// interrupted.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeWS upgrades the request and starts a session on the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h, conn)
	if !h.Register(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.worker()
	go client.readPump()
}
