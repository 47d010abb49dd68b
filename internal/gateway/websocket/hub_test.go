package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nbexec/internal/executor"
	"nbexec/internal/gateway/handlers"
	"nbexec/internal/kernelerr"
	"nbexec/internal/namespace"
)

// counterExecutor increments "n" in the session state on every call.
type counterExecutor struct {
	mu    sync.Mutex
	prior []namespace.State
	err   error
	block chan struct{}
}

func (e *counterExecutor) Execute(ctx context.Context, req executor.Request, mode executor.Mode) (*executor.Result, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, kernelerr.ErrInterrupted
		}
	}
	e.mu.Lock()
	e.prior = append(e.prior, req.PriorState)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	n, _ := req.PriorState["n"].(float64)
	return &executor.Result{
		ExecID:  "x",
		Success: true,
		Output:  req.Code + "\n",
		State:   namespace.State{"n": n + 1},
	}, nil
}

func startHub(t *testing.T, exec Executor) (*Hub, string) {
	t.Helper()
	hub := NewHub(exec)
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg Message) Message {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	return reply
}

func stateOf(t *testing.T, msg Message) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(msg.State, &m); err != nil {
		t.Fatalf("decode state %q: %v", msg.State, err)
	}
	return m
}

func TestSession_StateCarriesAcrossCalls(t *testing.T) {
	exec := &counterExecutor{}
	_, url := startHub(t, exec)
	conn := dial(t, url)

	for want := 1.0; want <= 3; want++ {
		reply := roundTrip(t, conn, Message{Type: TypeExecute, ID: "c", Code: "n += 1"})
		if reply.Type != TypeResult || reply.ID != "c" {
			t.Fatalf("reply = %+v", reply)
		}
		if reply.Result == nil || !reply.Result.Success {
			t.Fatalf("result = %+v", reply.Result)
		}
		if got := stateOf(t, reply)["n"]; got != want {
			t.Errorf("n = %v, want %v", got, want)
		}
	}

	reply := roundTrip(t, conn, Message{Type: TypeState, ID: "s"})
	if reply.Type != TypeState || stateOf(t, reply)["n"] != 3.0 {
		t.Errorf("state reply = %+v", reply)
	}
}

func TestSession_ConnectionsAreIsolated(t *testing.T) {
	_, url := startHub(t, &counterExecutor{})
	a := dial(t, url)
	b := dial(t, url)

	roundTrip(t, a, Message{Type: TypeExecute, Code: "x"})
	roundTrip(t, a, Message{Type: TypeExecute, Code: "x"})
	reply := roundTrip(t, b, Message{Type: TypeExecute, Code: "x"})

	if got := stateOf(t, reply)["n"]; got != 1.0 {
		t.Errorf("second connection n = %v, want 1", got)
	}
}

func TestSession_Reset(t *testing.T) {
	_, url := startHub(t, &counterExecutor{})
	conn := dial(t, url)

	roundTrip(t, conn, Message{Type: TypeExecute, Code: "x"})
	reply := roundTrip(t, conn, Message{Type: TypeReset, ID: "r"})
	if reply.Type != TypeState || len(stateOf(t, reply)) != 0 {
		t.Fatalf("reset reply = %+v", reply)
	}

	reply = roundTrip(t, conn, Message{Type: TypeExecute, Code: "x"})
	if got := stateOf(t, reply)["n"]; got != 1.0 {
		t.Errorf("n after reset = %v, want 1", got)
	}
}

func TestSession_Errors(t *testing.T) {
	tests := []struct {
		name     string
		exec     Executor
		msg      any
		wantCode string
	}{
		{"unknown type", &counterExecutor{}, Message{Type: "subscribe", ID: "1"}, ErrCodeUnknownType},
		{"empty code", &counterExecutor{}, Message{Type: TypeExecute, ID: "1", Code: "  "}, handlers.ErrCodeInvalidRequest},
		{"no executor", nil, Message{Type: TypeExecute, ID: "1", Code: "x"}, handlers.ErrCodeServiceUnavailable},
		{"timeout", &counterExecutor{err: kernelerr.ErrTimeout}, Message{Type: TypeExecute, ID: "1", Code: "x"}, handlers.ErrCodeGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := startHub(t, tt.exec)
			conn := dial(t, url)

			if err := conn.WriteJSON(tt.msg); err != nil {
				t.Fatalf("write: %v", err)
			}
			reply := read(t, conn)
			if reply.Type != TypeError || reply.Error == nil {
				t.Fatalf("reply = %+v", reply)
			}
			if reply.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", reply.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestSession_InvalidJSON(t *testing.T) {
	_, url := startHub(t, &counterExecutor{})
	conn := dial(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := read(t, conn)
	if reply.Error == nil || reply.Error.Code != ErrCodeInvalidMessage {
		t.Errorf("reply = %+v", reply)
	}
}

func TestSession_PingWhileBusy(t *testing.T) {
	exec := &counterExecutor{block: make(chan struct{})}
	_, url := startHub(t, exec)
	conn := dial(t, url)

	if err := conn.WriteJSON(Message{Type: TypeExecute, ID: "slow", Code: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := roundTrip(t, conn, Message{Type: TypePing, ID: "p"})
	if reply.Type != TypePong || reply.ID != "p" {
		t.Fatalf("reply = %+v", reply)
	}

	close(exec.block)
	reply = read(t, conn)
	if reply.Type != TypeResult || reply.ID != "slow" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestHub_BroadcastAndClose(t *testing.T) {
	hub, url := startHub(t, &counterExecutor{})
	a := dial(t, url)
	b := dial(t, url)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}

	hub.Broadcast(Message{Type: TypeReload, Message: "configuration reloaded"})
	for _, conn := range []*websocket.Conn{a, b} {
		if reply := read(t, conn); reply.Type != TypeReload {
			t.Errorf("reply = %+v", reply)
		}
	}

	hub.Close()
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := a.ReadMessage(); err == nil {
		t.Error("expected connection to close")
	}
}
