package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"carstudio/internal/domain"
	"carstudio/internal/infra"
	"carstudio/internal/metrics"
	"carstudio/internal/pipeline"
	"carstudio/internal/storage"
)

// Pipeline is the orchestrator surface the handlers drive.
type Pipeline interface {
	Submit(ctx context.Context, session string, req pipeline.SubmitRequest) (*pipeline.Batch, error)
	Batch(batchID string) (*pipeline.Batch, error)
	Refine(ctx context.Context, batchID, jobID, instruction string) error
	Export(ctx context.Context, batchID string) (*pipeline.Export, error)
	Discard(batchID string) error
}

type App struct {
	Pipeline Pipeline
	Blobs    storage.BlobStore
	Metrics  *metrics.Recorder
	Logger   infra.Logger
	Config   *infra.Config

	validate *validator.Validate
}

func NewApp(p Pipeline, blobs storage.BlobStore, rec *metrics.Recorder, logger infra.Logger, cfg *infra.Config) *App {
	return &App{
		Pipeline: p,
		Blobs:    blobs,
		Metrics:  rec,
		Logger:   logger,
		Config:   cfg,
		validate: newValidator(),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps pipeline and domain errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNoSources):
		a.error(w, http.StatusBadRequest, "no_sources", "at least one car photo is required")
	case errors.Is(err, domain.ErrMissingInput):
		a.error(w, http.StatusBadRequest, "missing_input", domain.UserMessage(err))
	case errors.Is(err, domain.ErrInvalidOptions):
		a.error(w, http.StatusBadRequest, "invalid_options", err.Error())
	case errors.Is(err, pipeline.ErrEmptyInstruction):
		a.error(w, http.StatusBadRequest, "bad_request", "instruction is required")
	case errors.Is(err, pipeline.ErrBatchNotFound):
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
	case errors.Is(err, pipeline.ErrJobNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, storage.ErrHandleNotFound):
		a.error(w, http.StatusNotFound, "not_found", "image not found")
	case errors.Is(err, pipeline.ErrJobNotDone):
		a.error(w, http.StatusConflict, "job_not_done", "only finished images can be refined")
	case errors.Is(err, pipeline.ErrNothingToExport):
		a.error(w, http.StatusConflict, "nothing_to_export", "no finished images to export")
	case errors.Is(err, pipeline.ErrExportFailed):
		a.error(w, http.StatusInternalServerError, "export_failed", "could not build the download")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
