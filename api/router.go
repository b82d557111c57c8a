package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/previewhq/preview-core/preview"
	"github.com/previewhq/preview-core/proxy"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(svc *preview.Service, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	previewH := NewPreviewHandler(svc)
	systemH := NewSystemHandler(svc)
	router := proxy.NewRouter(svc.Store)

	r.Route("/api", func(r chi.Router) {
		r.Route("/previews", func(r chi.Router) {
			r.Get("/", previewH.List)
			r.Post("/", previewH.Start)
			r.Get("/{id}/health", previewH.Health)
			r.Delete("/{id}", previewH.Stop)
		})
		r.Get("/system", systemH.Stats)
	})

	// Session traffic: /preview/<id>/... is proxied; anything else is
	// given a chance to be re-homed from its Referer before 404ing.
	r.Handle("/preview/*", router)
	r.NotFound(router.RefererFallback(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})).ServeHTTP)

	return r
}
