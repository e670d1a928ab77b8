package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"carstudio/internal/http/handlers"
	"carstudio/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Method(http.MethodGet, "/metrics", http.HandlerFunc(app.ServeMetrics))
	r.Get("/v1/blobs/{handle}", app.GetBlob)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session)

		// backend calls are the expensive part, so only these are limited
		limited := middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)
		r.With(limited).Post("/v1/batches", app.SubmitBatch)

		r.Route("/v1/batches/{batch_id}", func(r chi.Router) {
			r.Get("/", app.GetBatch)
			r.Delete("/", app.DiscardBatch)
			r.Get("/export", app.ExportBatch)
			r.Get("/jobs/{job_id}", app.GetJob)
			r.With(limited).Post("/jobs/{job_id}/refine", app.RefineJob)
		})
	})

	return r
}
