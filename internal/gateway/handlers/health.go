package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime records the server start time. Only the first call counts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// ProbeResponse is the body of the liveness and readiness probes.
type ProbeResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime_seconds"`
	Reason  string `json:"reason,omitempty"`
}

func uptimeSeconds() int64 {
	if startTime.IsZero() {
		return 0
	}
	return int64(time.Since(startTime).Seconds())
}

// Liveness answers 200 while the process is serving.
func Liveness(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SendJSON(w, http.StatusOK, ProbeResponse{
			Status:  "ok",
			Version: version,
			Uptime:  uptimeSeconds(),
		})
	}
}

// Readiness answers 503 with the reason while ready returns an error.
func Readiness(version string, ready func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := ProbeResponse{Status: "ready", Version: version, Uptime: uptimeSeconds()}
		if ready != nil {
			if err := ready(); err != nil {
				resp.Status = "not_ready"
				resp.Reason = err.Error()
				SendJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
