package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"nbexec/internal/kernel"
	"nbexec/internal/namespace"
)

type stubPresigner struct {
	err error
}

func (p stubPresigner) Presign(method, key string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "http://store.local/objects/" + key + "?token=t&m=" + method, nil
}

func newTestMux(deps *RouterDeps) *mux.Router {
	m := mux.NewRouter()
	NewRouter(deps).RegisterRoutes(m)
	return m
}

func TestRouter_RegisterRoutes(t *testing.T) {
	m := newTestMux(&RouterDeps{Presigner: stubPresigner{}})

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/health"},
		{"GET", "/api/v1/examples"},
		{"GET", "/api/v1/contract"},
		{"POST", "/api/v1/execute"},
		{"POST", "/api/v1/session/execute"},
		{"POST", "/api/v1/objects/presign"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			match := &mux.RouteMatch{}
			if !m.Match(req, match) {
				t.Errorf("Route %s %s not registered", route.method, route.path)
			}
		})
	}
}

func TestRouter_PresignRequiresStore(t *testing.T) {
	m := newTestMux(nil)

	req := httptest.NewRequest("POST", "/api/v1/objects/presign", nil)
	if m.Match(req, &mux.RouteMatch{}) {
		t.Error("presign route registered without an object store")
	}
}

func TestRouter_HandleHealth_NoDeps(t *testing.T) {
	m := newTestMux(nil)

	rr := httptest.NewRecorder()
	m.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
	if resp.Version != "dev" {
		t.Errorf("Version = %q, want dev", resp.Version)
	}
	if resp.Contract != namespace.ContractVersion {
		t.Errorf("Contract = %q, want %q", resp.Contract, namespace.ContractVersion)
	}
	if got := resp.Components["objectstore"].Status; got != "disabled" {
		t.Errorf("objectstore status = %q, want disabled", got)
	}
}

func TestRouter_HandleHealth_PoolSaturated(t *testing.T) {
	m := newTestMux(&RouterDeps{
		Executor:  &fakeExecutor{},
		Presigner: stubPresigner{},
		Version:   "1.2.3",
		PoolStats: func() kernel.PoolStats {
			return kernel.PoolStats{MaxSize: 2, Active: 2, Warm: 0}
		},
	})

	rr := httptest.NewRecorder()
	m.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/health", nil))

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	pool := resp.Components["runtime_pool"]
	if pool.Status != "saturated" {
		t.Errorf("runtime_pool status = %q, want saturated", pool.Status)
	}
	if pool.Message != "active 2/2, warm 0" {
		t.Errorf("runtime_pool message = %q", pool.Message)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("Version = %q", resp.Version)
	}
}

func TestRouter_HandleContract(t *testing.T) {
	m := newTestMux(nil)

	rr := httptest.NewRecorder()
	m.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/contract", nil))

	var resp ContractResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != namespace.ContractVersion {
		t.Errorf("Version = %q", resp.Version)
	}
	want := map[string]bool{}
	for _, s := range namespace.Slots() {
		want[s] = true
	}
	for _, s := range resp.Slots {
		delete(want, s)
	}
	if len(want) != 0 {
		t.Errorf("missing slots: %v", want)
	}
}

func TestRouter_HandlePresign(t *testing.T) {
	tests := []struct {
		name       string
		presigner  stubPresigner
		body       string
		wantStatus int
	}{
		{"ok", stubPresigner{}, `{"method":"put","key":"in.csv"}`, http.StatusOK},
		{"bad json", stubPresigner{}, `{`, http.StatusBadRequest},
		{"rejected", stubPresigner{err: errors.New("unsupported method")}, `{"method":"DELETE","key":"x"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMux(&RouterDeps{Presigner: tt.presigner})
			rr := httptest.NewRecorder()
			m.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/objects/presign", stringReader(tt.body)))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp PresignResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Method != "PUT" {
				t.Errorf("Method = %q, want PUT", resp.Method)
			}
			if resp.URL == "" {
				t.Error("URL is empty")
			}
		})
	}
}
