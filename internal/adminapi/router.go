// Package adminapi exposes a read-only JSON introspection surface over the
// coordinator's connected workers (health, the worker list, and one worker
// by ID); it has no job-state endpoint — explicitly not a GUI
// (spec.md Non-goal (c) "UI/CLI presentation"; SPEC_FULL.md DOMAIN STACK:
// "github.com/go-chi/chi/v5 | internal/adminapi | read-only JSON
// status/introspection endpoint"). Grounded on the shape of the teacher's
// server/internal/api router registration and response envelope, not its
// content — this package never mutates dispatcher state, only reads it.
package adminapi

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/dispatcher"
)

// Config holds the dependencies NewRouter needs.
type Config struct {
	Manager *dispatcher.Manager
	Logger  *zap.Logger
}

// NewRouter builds the admin introspection router, mounted by the
// coordinator binary under its own listen address (never the control or
// stat ports).
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	h := &handler{manager: cfg.Manager}
	r.Get("/healthz", h.healthz)
	r.Get("/workers", h.listWorkers)
	r.Get("/workers/{id}", h.getWorker)

	return r
}

type handler struct {
	manager *dispatcher.Manager
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	Ok(w, envelope{"status": "ok"})
}

type workerView struct {
	ID             string `json:"id"`
	Version        string `json:"version"`
	RestrictedMode bool   `json:"restricted_mode"`
	ConnectedFor   string `json:"connected_for"`
}

func (h *handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	conns := h.manager.Connected()
	out := make([]workerView, 0, len(conns))
	for _, wc := range conns {
		out = append(out, toWorkerView(wc))
	}
	Ok(w, out)
}

func (h *handler) getWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wc, err := h.manager.Get(id)
	if err != nil {
		ErrNotFound(w)
		return
	}
	Ok(w, toWorkerView(wc))
}

func toWorkerView(wc *dispatcher.WorkerConn) workerView {
	return workerView{
		ID:             wc.ID,
		Version:        wc.Hello.ClientVersion,
		RestrictedMode: wc.Hello.RestrictedMode,
		ConnectedFor:   humanize.Time(wc.ConnectedAt),
	}
}

// requestLogger logs each request's method, path, status, and latency
// through the supplied zap.Logger (grounded on the teacher's
// server/internal/api.RequestLogger middleware shape).
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("admin api request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
