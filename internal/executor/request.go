package executor

import (
	"strings"
	"time"

	"nbexec/internal/kernelerr"
	"nbexec/internal/namespace"
	"nbexec/internal/staging"
)

// Mode selects whether variables survive across calls.
type Mode string

const (
	ModeOneShot Mode = "oneshot"
	ModeSession Mode = "session"
)

// Stage names the step of a call that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageInput    Stage = "input"
	StageExecute  Stage = "execute"
	StageOutput   Stage = "output"
)

// Request is one call.
type Request struct {
	Code           string
	TimeoutSeconds int
	InputURL       string
	InputTypeHint  string
	OutputURL      string
	// PriorState is only read in session mode.
	PriorState namespace.State
}

// Config bounds requests.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	// StagingMinTimeout is the floor applied when a staging URL is present.
	StagingMinTimeout time.Duration
	// MaxOutputBytes bounds each captured stream. Zero means unbounded.
	MaxOutputBytes int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:    120 * time.Second,
		MaxTimeout:        600 * time.Second,
		StagingMinTimeout: 300 * time.Second,
		MaxOutputBytes:    1 << 20,
	}
}

const minTimeout = time.Second

// normalized is a validated request with its effective timeout.
type normalized struct {
	Request
	timeout time.Duration
}

// normalize validates req and computes the effective timeout: default when
// unset, raised to the staging floor when a URL is present, then clamped
// to [1s, MaxTimeout].
func (c Config) normalize(req Request) (normalized, error) {
	if strings.TrimSpace(req.Code) == "" {
		return normalized{}, &kernelerr.ValidationError{Field: "code", Message: "must not be empty"}
	}
	hint := strings.ToLower(strings.TrimSpace(req.InputTypeHint))
	if !staging.ValidHint(hint) {
		return normalized{}, &kernelerr.ValidationError{
			Field:   "input_type_hint",
			Message: "must be one of csv, xpt, pdf",
		}
	}
	if hint != "" && req.InputURL == "" {
		return normalized{}, &kernelerr.ValidationError{
			Field:   "input_type_hint",
			Message: "requires input_url",
		}
	}
	req.InputTypeHint = hint

	timeout := c.DefaultTimeout
	if req.TimeoutSeconds != 0 {
		secs := int64(req.TimeoutSeconds)
		if limit := int64(c.MaxTimeout / time.Second); limit > 0 && secs > limit {
			secs = limit
		}
		if floor := int64(minTimeout / time.Second); secs < floor {
			secs = floor
		}
		timeout = time.Duration(secs) * time.Second
	}
	if (req.InputURL != "" || req.OutputURL != "") && timeout < c.StagingMinTimeout {
		timeout = c.StagingMinTimeout
	}
	timeout = clamp(timeout, minTimeout, c.MaxTimeout)

	return normalized{Request: req, timeout: timeout}, nil
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}

// ResourceProfile is the logical budget requested for a call. Enforcement
// belongs to the surrounding runtime.
type ResourceProfile struct {
	CPU      float64       `json:"cpu"`
	MemoryMB int           `json:"memory_mb"`
	Timeout  time.Duration `json:"timeout"`
}

// ProfileFor returns the profile for a call with the given timeout. Calls
// allowed to run longer than two minutes get twice the memory.
func ProfileFor(timeout time.Duration) ResourceProfile {
	mem := 2048
	if timeout > 120*time.Second {
		mem = 4096
	}
	return ResourceProfile{CPU: 2.0, MemoryMB: mem, Timeout: timeout}
}
