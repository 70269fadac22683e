package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hubbridge/internal/platform/middleware"
	"hubbridge/pkg/platform/httputil"
)

// NewRouter assembles the middleware chain and mounts the handler plus the
// operational endpoints.
func NewRouter(h *Handler, logger *slog.Logger, checks map[string]func() error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			}
		}
		httputil.WriteJSON(w, status, body)
	})
	r.Handle("/metrics", promhttp.Handler())

	h.Register(r)
	return r
}
