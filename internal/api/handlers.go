package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"shaper/internal/models"
	"shaper/internal/ratelimit"
	"shaper/internal/version"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PartitionCounter reports how many partitions the limiter tracks.
type PartitionCounter interface {
	Len() int
}

// Handlers contains HTTP handlers for the mock upstream
type Handlers struct {
	version version.Info
	started time.Time
	limiter PartitionCounter
	stats   Pinger
}

// NewHandlers creates a new handlers instance. limiter and stats may be nil.
func NewHandlers(ver version.Info, limiter PartitionCounter, stats Pinger) *Handlers {
	return &Handlers{
		version: ver,
		started: time.Now(),
		limiter: limiter,
		stats:   stats,
	}
}

// maxBodyBytes bounds how much of a POST body the resource handler reads.
const maxBodyBytes = 1 << 20

// GetResource handles requests to the rate limited sample resource
// GET|POST /api/v1/resource
func (h *Handlers) GetResource(w http.ResponseWriter, r *http.Request) {
	response := models.ResourceResponse{
		RequestID: RequestIDFromContext(r.Context()),
		Method:    r.Method,
		Timestamp: time.Now(),
	}

	if pk, ok := ratelimit.PartitionFromContext(r.Context()); ok {
		response.Partition = pk
	}
	if info, ok := ratelimit.InfoFromContext(r.Context()); ok {
		response.Policy = info.Policy
		response.Remaining = int64(info.Remaining)
	}

	if r.Body != nil && r.Method == http.MethodPost {
		n, err := io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Request body too large")
			return
		}
		response.BodyBytes = n
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetVersion returns build information
// GET /api/v1/version
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.version)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if h.limiter != nil {
		response.AddComponent("rate_limiter", models.StatusHealthy, "Rate limiter is operational")
		response.AddMetric("partitions", h.limiter.Len())
	}

	statusCode := http.StatusOK
	if h.stats != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.stats.Ping(ctx); err != nil {
			slog.Warn("Stats store health check failed", "error", err)
			response.Status = models.StatusDegraded
			response.AddComponent("stats", models.StatusUnhealthy, "Stats store is unreachable")
			statusCode = http.StatusServiceUnavailable
		} else {
			response.AddComponent("stats", models.StatusHealthy, "Stats store is operational")
		}
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response tagged with the request ID
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = RequestIDFromContext(r.Context())
	h.writeJSONResponse(w, statusCode, errorResp)
}
