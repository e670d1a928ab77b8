package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"carstudio/internal/storage"
)

// GetBlob serves a preview or result image. Handles never change content,
// so the response can be cached until the handle is released.
func (a *App) GetBlob(w http.ResponseWriter, r *http.Request) {
	payload, err := a.Blobs.Get(r.Context(), storage.Handle(chi.URLParam(r, "handle")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", payload.MediaType())
	w.Header().Set("Content-Length", strconv.Itoa(len(payload.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload.Data)
}
