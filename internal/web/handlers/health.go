package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	log "github.com/sirupsen/logrus"
)

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the kiosk can serve verifications.
type HealthHandler struct {
	db    Pinger
	index database.HNSWRebuilder
}

// NewHealthHandler creates a readiness handler. index may be nil.
func NewHealthHandler(db Pinger, index database.HNSWRebuilder) *HealthHandler {
	return &HealthHandler{db: db, index: index}
}

type readinessResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	HNSWEnabled bool   `json:"hnsw_enabled"`
	HNSWCount   int    `json:"hnsw_count"`
}

// Ready handles GET /api/v1/health/ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readinessResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if h.db == nil {
		resp.Status, resp.Database = "degraded", "not configured"
		status = http.StatusServiceUnavailable
	} else if err := h.db.Ping(ctx); err != nil {
		log.WithError(err).Warn("Readiness check failed")
		resp.Status, resp.Database = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.index != nil {
		resp.HNSWEnabled = h.index.IsHNSWEnabled()
		resp.HNSWCount = h.index.HNSWCount()
	}
	respondJSON(w, status, resp)
}
