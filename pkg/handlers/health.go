package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/config"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/workqueue"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// StatusResponse reports the engines this build can talk to and the
// background request queue's counters.
type StatusResponse struct {
	Engines []datasource.EngineInfo `json:"engines"`
	Queue   *workqueue.Progress     `json:"queue,omitempty"`
}

// QueueStats is the part of the work queue the status endpoint reads.
type QueueStats interface {
	Progress() workqueue.Progress
}

// HealthHandler handles health check, ping and status endpoints.
type HealthHandler struct {
	cfg    *config.Config
	queue  QueueStats
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. queue may be nil.
func NewHealthHandler(cfg *config.Config, queue QueueStats, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, queue: queue, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /status", h.Status)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "catalog-mirror",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Status handles GET /status requests.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{Engines: datasource.RegisteredEngines()}
	if h.queue != nil {
		progress := h.queue.Progress()
		response.Queue = &progress
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}
