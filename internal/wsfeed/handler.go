package wsfeed

import (
	"net/http"

	"go.uber.org/zap"
)

// Handler serves the websocket upgrade endpoint for interval-sample
// observers (adapted from server/internal/api/ws.go's WSHandler, trimmed of
// JWT auth — this feed is read-only telemetry, not a privileged control
// surface, and is mounted on its own listener the operator can firewall
// independently of the control and stat ports).
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler builds a Handler bound to hub.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, logger: logger.Named("wsfeed.handler")}
}

// ServeHTTP handles GET /observe?job_id=<id>, upgrading the connection and
// subscribing it to that job's interval-sample topic. It blocks until the
// connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id query parameter is required", http.StatusBadRequest)
		return
	}

	o, err := newObserver(h.hub, w, r, jobID, h.logger)
	if err != nil {
		h.logger.Warn("wsfeed: upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("wsfeed: observer connected", zap.String("job_id", jobID), zap.String("remote_addr", r.RemoteAddr))
	o.run()
	h.logger.Info("wsfeed: observer disconnected", zap.String("job_id", jobID), zap.String("remote_addr", r.RemoteAddr))
}
