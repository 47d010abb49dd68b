package v1

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"nbexec/internal/executor"
	"nbexec/internal/gateway/handlers"
	"nbexec/internal/kernel"
	"nbexec/internal/namespace"
)

// Executor runs calls.
type Executor interface {
	Execute(ctx context.Context, req executor.Request, mode executor.Mode) (*executor.Result, error)
}

// Presigner issues signed object URLs.
type Presigner interface {
	Presign(method, key string) (string, error)
}

// RouterDeps holds dependencies for the v1 API router.
type RouterDeps struct {
	Executor Executor
	// PoolStats reports runtime pool occupancy for health checks.
	PoolStats func() kernel.PoolStats
	// Presigner is nil unless the dev object store is enabled.
	Presigner Presigner
	Version   string
}

// Router wraps v1 API dependencies.
type Router struct {
	executor  Executor
	poolStats func() kernel.PoolStats
	presigner Presigner
	version   string
	startedAt time.Time
}

// NewRouter creates a new v1 API router.
func NewRouter(deps *RouterDeps) *Router {
	if deps == nil {
		deps = &RouterDeps{}
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	return &Router{
		executor:  deps.Executor,
		poolStats: deps.PoolStats,
		presigner: deps.Presigner,
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers all v1 API routes.
func (r *Router) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", r.HandleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/examples", r.HandleExamples).Methods(http.MethodGet)
	v1.HandleFunc("/contract", r.HandleContract).Methods(http.MethodGet)

	v1.HandleFunc("/execute", r.HandleExecute).Methods(http.MethodPost)
	v1.HandleFunc("/session/execute", r.HandleSessionExecute).Methods(http.MethodPost)

	if r.presigner != nil {
		v1.HandleFunc("/objects/presign", r.HandlePresign).Methods(http.MethodPost)
	}
}

// HandleHealth returns the health status of the API.
func (r *Router) HandleHealth(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]ComponentHealth)

	if r.executor != nil {
		components["executor"] = ComponentHealth{Status: "healthy"}
	} else {
		components["executor"] = ComponentHealth{Status: "unhealthy", Message: "executor not configured"}
	}

	if r.poolStats != nil {
		st := r.poolStats()
		c := ComponentHealth{Status: "healthy", Message: poolMessage(st)}
		if st.Active >= st.MaxSize {
			c.Status = "saturated"
		}
		components["runtime_pool"] = c
	}

	if r.presigner != nil {
		components["objectstore"] = ComponentHealth{Status: "healthy"}
	} else {
		components["objectstore"] = ComponentHealth{Status: "disabled"}
	}

	status := "healthy"
	for _, comp := range components {
		if comp.Status == "unhealthy" {
			status = "degraded"
			break
		}
	}

	handlers.SendJSON(w, http.StatusOK, HealthResponse{
		Status:     status,
		Version:    r.version,
		Contract:   namespace.ContractVersion,
		Uptime:     time.Since(r.startedAt).Truncate(time.Second).String(),
		Timestamp:  time.Now().Format(time.RFC3339),
		Components: components,
	})
}

func poolMessage(st kernel.PoolStats) string {
	return fmt.Sprintf("active %d/%d, warm %d", st.Active, st.MaxSize, st.Warm)
}

// HandleContract returns the namespace slot contract.
func (r *Router) HandleContract(w http.ResponseWriter, req *http.Request) {
	handlers.SendJSON(w, http.StatusOK, ContractResponse{
		Version: namespace.ContractVersion,
		Slots:   namespace.Slots(),
	})
}
