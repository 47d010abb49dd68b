package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nbexec/internal/config"
)

func testConfig(t *testing.T, withStore bool) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: 5 * time.Second},
		Kernel:  config.KernelConfig{PoolSize: 2, AcquireTimeout: 5 * time.Second},
	}
	if withStore {
		cfg.ObjectStore = config.ObjectStoreConfig{
			Enabled:       true,
			Path:          filepath.Join(t.TempDir(), "objects.db"),
			Secret:        "0123456789abcdef0123",
			URLTTL:        time.Minute,
			SweepSchedule: "@every 1h",
		}
	}
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Config: cfg, Logger: zerolog.Nop(), Version: "test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestNewServer_InvalidConfig(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error for nil config")
	}
	cfg := &config.Config{Kernel: config.KernelConfig{PoolSize: 0}}
	if _, err := NewServer(ServerConfig{Config: cfg}); err == nil {
		t.Error("expected error for zero pool size")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000"},
		{"[::]:9000", "http://127.0.0.1:9000"},
		{"[::1]:9000", "http://[::1]:9000"},
		{"nohost", "http://nohost"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.addr); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestServer_ExecuteOverHTTP(t *testing.T) {
	srv := startServer(t, testConfig(t, false))
	if !srv.IsRunning() {
		t.Fatal("server not running")
	}
	if srv.Store() != nil {
		t.Error("store should be nil when disabled")
	}

	resp, err := http.Post(srv.URL()+"/api/v1/execute", "application/json",
		strings.NewReader(`{"code":"print(\"ok\")"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Output != "ok\n" {
		t.Errorf("body = %+v", body)
	}
}

func TestServer_ObjectStoreRoundTrip(t *testing.T) {
	srv := startServer(t, testConfig(t, true))
	store := srv.Store()
	if store == nil {
		t.Fatal("store is nil")
	}

	putURL, err := store.Presign(http.MethodPut, "data.txt")
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	if !strings.HasPrefix(putURL, srv.URL()) {
		t.Errorf("put URL %q does not start with %q", putURL, srv.URL())
	}
	req, _ := http.NewRequest(http.MethodPut, putURL, bytes.NewReader([]byte("payload")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	getURL, _ := store.Presign(http.MethodGet, "data.txt")
	resp, err = http.Get(getURL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "payload" {
		t.Errorf("GET body = %q", data)
	}

	if n := srv.Sweep(); n != 0 {
		t.Errorf("Sweep removed %d live objects", n)
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	srv, err := NewServer(ServerConfig{Config: testConfig(t, false), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	url := srv.URL()
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if srv.IsRunning() {
		t.Error("still running after Stop")
	}
	if _, err := http.Get(url + "/healthz"); err == nil {
		t.Error("gateway still accepting connections")
	}
}
