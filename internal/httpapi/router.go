// Package httpapi exposes the bridge's status/control surface over
// HTTP/JSON (spec.md §6), as a thin adapter over internal/bridge.Bridge.
// Grounded on agentoven-agentoven's control-plane router
// (internal/api/router.go): chi.NewRouter, chi's built-in
// RequestID/RealIP/Recoverer middleware, and a route tree nested under
// /api with a handler struct holding the service dependencies.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridge"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

// AuthMiddleware is the injection point for an external auth layer
// (spec.md §6's web_ui.auth surface is "consumed by external
// collaborators" — this package only provides the hook). A nil
// AuthMiddleware means every request passes through unauthenticated.
type AuthMiddleware func(http.Handler) http.Handler

// NewRouter builds the full route tree over b. auth, if non-nil, wraps
// every /api/* route and is expected to write 401 itself on failure.
func NewRouter(b *bridge.Bridge, log logging.Logger, auth AuthMiddleware) http.Handler {
	h := &handlers{bridge: b, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.healthz)

	r.Route("/api", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Get("/status", h.getStatus)
		r.Get("/metrics", h.getMetrics)
		r.Get("/diagnostics/pipeline", h.getDiagnostics)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.listSources)
			r.Post("/", h.createSource)
			r.Route("/{name}", func(r chi.Router) {
				r.Put("/", h.updateSource)
				r.Delete("/", h.deleteSource)
				r.Post("/start", h.startSource)
				r.Post("/stop", h.stopSource)
			})
		})

		r.Route("/bridge", func(r chi.Router) {
			r.Post("/start", h.startBridge)
			r.Post("/stop", h.stopBridge)
		})

		r.Route("/zerobus", func(r chi.Router) {
			r.Get("/config", h.getZerobusConfig)
			r.Post("/config", h.setZerobusConfig)
			r.Post("/start", h.startBridge)
			r.Post("/stop", h.stopBridge)
			r.Get("/diagnostics", h.getZerobusDiagnostics)
		})

		r.Route("/discovery", func(r chi.Router) {
			r.Post("/scan", h.discoveryScan)
			r.Get("/servers", h.discoveryServers)
			r.Post("/test", h.discoveryTest)
		})
	})

	return r
}

func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug("http request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
