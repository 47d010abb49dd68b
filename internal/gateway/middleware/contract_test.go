package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nbexec/internal/gateway/handlers"
	"nbexec/internal/namespace"
)

func TestContract(t *testing.T) {
	handler := Contract(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		accept   string
		want     int
		wantCode string
	}{
		{"no header", "", http.StatusOK, ""},
		{"caret match", "^1.0", http.StatusOK, ""},
		{"range match", ">= 1.0, < 2", http.StatusOK, ""},
		{"major mismatch", "^2.0", http.StatusPreconditionFailed, handlers.ErrCodeContractMismatch},
		{"malformed", "not a constraint", http.StatusNotAcceptable, handlers.ErrCodeInvalidContract},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", nil)
			if tt.accept != "" {
				req.Header.Set(AcceptContractHeader, tt.accept)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if got := w.Header().Get(ContractVersionHeader); got != namespace.ContractVersion {
				t.Errorf("Contract-Version = %q, want %q", got, namespace.ContractVersion)
			}
			if tt.wantCode == "" {
				return
			}
			var resp handlers.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}
