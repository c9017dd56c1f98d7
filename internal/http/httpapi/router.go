package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"portraitserver/internal/http/handlers"
	"portraitserver/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/generations", func(r chi.Router) {
		r.With(middleware.RateLimit(30, time.Minute)).Post("/", app.EnqueueGeneration)
		r.Get("/{id}/state", app.WorkflowState)
		r.Get("/{id}/assets", app.ListAssets)
		r.Get("/{id}/artifacts", app.DownloadArtifacts)
	})
	r.Get("/v1/jobs/{id}", app.JobStatus)

	return r
}
