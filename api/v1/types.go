// Package v1 provides API v1 data types and handlers.
package v1

import (
	"math"
	"time"

	"nbexec/internal/executor"
	"nbexec/internal/namespace"
)

// Error codes for API responses beyond the gateway's common set.
const (
	ErrCodePoolExhausted   = "POOL_EXHAUSTED"
	ErrCodeClientClosed    = "CLIENT_CLOSED"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

// =============================================================================
// Execute API Models
// =============================================================================

// ExecuteRequest is the body of POST /api/v1/execute.
//
// The legacy field names timeout, input_file_url, output_file_url and
// file_type are accepted when the current name is absent.
type ExecuteRequest struct {
	Code           string  `json:"code"`
	TimeoutSeconds *int    `json:"timeout_seconds,omitempty"`
	InputURL       *string `json:"input_url,omitempty"`
	OutputURL      *string `json:"output_url,omitempty"`
	InputTypeHint  *string `json:"input_type_hint,omitempty"`

	LegacyTimeout   *int    `json:"timeout,omitempty"`
	LegacyInputURL  *string `json:"input_file_url,omitempty"`
	LegacyOutputURL *string `json:"output_file_url,omitempty"`
	LegacyFileType  *string `json:"file_type,omitempty"`
}

// SessionExecuteRequest is the body of POST /api/v1/session/execute.
type SessionExecuteRequest struct {
	ExecuteRequest
	PriorState map[string]any `json:"prior_state,omitempty"`
}

// ExecuteResponse is the result of one call.
type ExecuteResponse struct {
	ExecID  string `json:"exec_id"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
	// Error is null when the call succeeded and wrote nothing to stderr.
	Error *string `json:"error"`
	// ExecutionTime is in seconds; null when the request was rejected
	// before anything ran.
	ExecutionTime *float64 `json:"execution_time"`
	ReturnValue   *string  `json:"return_value"`
	Uploaded      bool     `json:"uploaded"`
	FailedStage   *string  `json:"failed_stage"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	Truncated     bool     `json:"truncated,omitempty"`
	Profile       *Profile `json:"profile,omitempty"`
}

// SessionExecuteResponse adds the state to pass back as prior_state.
type SessionExecuteResponse struct {
	ExecuteResponse
	State map[string]any `json:"state"`
}

// Profile is the logical resource budget requested for a call.
type Profile struct {
	CPU            float64 `json:"cpu"`
	MemoryMB       int     `json:"memory_mb"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// ToExecutor converts the wire request into an executor request.
func (r ExecuteRequest) ToExecutor() executor.Request {
	req := executor.Request{Code: r.Code}
	switch {
	case r.TimeoutSeconds != nil:
		req.TimeoutSeconds = *r.TimeoutSeconds
	case r.LegacyTimeout != nil:
		req.TimeoutSeconds = *r.LegacyTimeout
	}
	req.InputURL = firstNonNil(r.InputURL, r.LegacyInputURL)
	req.OutputURL = firstNonNil(r.OutputURL, r.LegacyOutputURL)
	req.InputTypeHint = firstNonNil(r.InputTypeHint, r.LegacyFileType)
	return req
}

// ToExecutor converts the wire request into an executor request.
func (r SessionExecuteRequest) ToExecutor() executor.Request {
	req := r.ExecuteRequest.ToExecutor()
	req.PriorState = namespace.State(r.PriorState)
	return req
}

func firstNonNil(ptrs ...*string) string {
	for _, p := range ptrs {
		if p != nil {
			return *p
		}
	}
	return ""
}

// NewExecuteResponse converts an executor result into the wire response.
func NewExecuteResponse(res *executor.Result) ExecuteResponse {
	out := ExecuteResponse{
		ExecID:    res.ExecID,
		Success:   res.Success,
		Output:    res.Output,
		Uploaded:  res.Uploaded,
		ErrorKind: res.ErrorKind,
		Truncated: res.Truncated,
	}
	if res.Error != "" {
		e := res.Error
		out.Error = &e
	}
	if res.FailedStage != executor.StageValidate {
		secs := math.Round(res.ExecutionTime.Seconds()*1e6) / 1e6
		out.ExecutionTime = &secs
	}
	if res.HasReturn {
		v := res.ReturnValue
		out.ReturnValue = &v
	}
	if res.FailedStage != "" {
		s := string(res.FailedStage)
		out.FailedStage = &s
	}
	if res.Profile.MemoryMB > 0 {
		out.Profile = &Profile{
			CPU:            res.Profile.CPU,
			MemoryMB:       res.Profile.MemoryMB,
			TimeoutSeconds: int(res.Profile.Timeout / time.Second),
		}
	}
	return out
}

// NewSessionExecuteResponse converts a session-mode result. State is
// never null so callers can always pass it back.
func NewSessionExecuteResponse(res *executor.Result) SessionExecuteResponse {
	state := map[string]any(res.State)
	if state == nil {
		state = map[string]any{}
	}
	return SessionExecuteResponse{ExecuteResponse: NewExecuteResponse(res), State: state}
}

// =============================================================================
// Health / Examples Models
// =============================================================================

// HealthResponse represents health check response.
type HealthResponse struct {
	Status     string                     `json:"status"` // healthy, degraded
	Version    string                     `json:"version"`
	Contract   string                     `json:"contract"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents component health status.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Example is a ready-to-run cell.
type Example struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code"`
}

// ExamplesResponse is the body of GET /api/v1/examples.
type ExamplesResponse struct {
	Examples []Example `json:"examples"`
}

// PresignRequest asks the dev object store for a signed URL.
type PresignRequest struct {
	Method string `json:"method"`
	Key    string `json:"key"`
}

// PresignResponse carries a signed URL.
type PresignResponse struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Key    string `json:"key"`
}

// ContractResponse describes the namespace slot contract.
type ContractResponse struct {
	Version string   `json:"version"`
	Slots   []string `json:"slots"`
}
