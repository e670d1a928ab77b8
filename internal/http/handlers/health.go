package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"blobs":       a.Blobs.Len(),
		"environment": a.Config.AppEnv,
	})
}

// Metrics serves the Prometheus registry.
func (a *App) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	a.Metrics.Handler().ServeHTTP(w, r)
}
