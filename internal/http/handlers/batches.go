package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"carstudio/internal/domain"
	"carstudio/internal/middleware"
	"carstudio/internal/pipeline"
	"carstudio/internal/storage"
)

const multipartMemory = 32 << 20

type submitForm struct {
	Mode          string `validate:"required,processing_mode"`
	FloorEffect   string `validate:"omitempty,floor_effect"`
	TurntableTint string `validate:"omitempty,tint_color"`
}

type refineRequest struct {
	Instruction string `json:"instruction" validate:"required,max=2000"`
}

type jobView struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	PreviewURL  string    `json:"preview_url,omitempty"`
	ResultURL   string    `json:"result_url,omitempty"`
	Refinements int       `json:"refinements"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type batchView struct {
	BatchID string                   `json:"batch_id"`
	Mode    domain.ProcessingMode    `json:"mode"`
	Options domain.ProcessingOptions `json:"options"`
	Settled bool                     `json:"settled"`
	Jobs    []jobView                `json:"jobs"`
}

func blobURL(h storage.Handle) string {
	if h == "" {
		return ""
	}
	return "/v1/blobs/" + string(h)
}

func newJobView(j pipeline.Job) jobView {
	return jobView{
		ID:          j.ID,
		Filename:    j.Source.Filename,
		Status:      string(j.Status),
		Error:       j.ErrorMessage,
		PreviewURL:  blobURL(j.PreviewHandle),
		ResultURL:   blobURL(j.ResultHandle),
		Refinements: j.Refinements,
		UpdatedAt:   j.UpdatedAt,
	}
}

func newBatchView(b *pipeline.Batch) batchView {
	jobs := b.Jobs()
	view := batchView{
		BatchID: b.ID,
		Mode:    b.Mode,
		Options: b.Options,
		Settled: true,
		Jobs:    make([]jobView, 0, len(jobs)),
	}
	for _, j := range jobs {
		view.Jobs = append(view.Jobs, newJobView(j))
		if !j.Settled() {
			view.Settled = false
		}
	}
	return view
}

// SubmitBatch accepts the car photos, optional background and processing
// options as multipart form data.
func (a *App) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := submitForm{
		Mode:          r.FormValue("mode"),
		FloorEffect:   r.FormValue("floor_effect"),
		TurntableTint: r.FormValue("turntable_tint"),
	}
	if err := a.validate.Struct(&form); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_options", formatValidationErrors(err))
		return
	}
	mode, _ := domain.ParseMode(form.Mode)

	matchReflections := false
	if raw := strings.TrimSpace(r.FormValue("match_reflections")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "invalid_options", "match_reflections must be a boolean")
			return
		}
		matchReflections = v
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		a.fail(w, r, pipeline.ErrNoSources)
		return
	}
	if len(files) > a.Config.MaxBatchImages {
		a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("at most %d images per batch", a.Config.MaxBatchImages))
		return
	}

	sources := make([]domain.Payload, 0, len(files))
	for _, fh := range files {
		payload, err := readImagePart(fh)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		sources = append(sources, payload)
	}

	var background *domain.Payload
	if parts := r.MultipartForm.File["background"]; len(parts) > 0 {
		payload, err := readImagePart(parts[0])
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		background = &payload
	}

	session := middleware.SessionFromContext(r.Context())
	batch, err := a.Pipeline.Submit(r.Context(), session, pipeline.SubmitRequest{
		Sources: sources,
		Mode:    mode,
		Options: domain.ProcessingOptions{
			FloorEffect:      domain.FloorEffect(form.FloorEffect),
			MatchReflections: matchReflections,
			TurntableTint:    domain.TintColor(form.TurntableTint),
		},
		Background: background,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, newBatchView(batch))
}

// readImagePart loads one uploaded file and resolves its media type, sniffing
// the bytes when the client sent none.
func readImagePart(fh *multipart.FileHeader) (domain.Payload, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.Payload{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}

	mime := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mime == "" || mime == "application/octet-stream" {
		mime = mimetype.Detect(data).String()
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if len(data) > 0 && !strings.HasPrefix(mime, "image/") {
		return domain.Payload{}, fmt.Errorf("%s is not an image (%s)", fh.Filename, mime)
	}
	return domain.Payload{Data: data, MIMEType: mime, Filename: fh.Filename}, nil
}

// sessionBatch resolves the batch from the URL and hides batches owned by
// other sessions.
func (a *App) sessionBatch(r *http.Request) (*pipeline.Batch, error) {
	batch, err := a.Pipeline.Batch(chi.URLParam(r, "batch_id"))
	if err != nil {
		return nil, err
	}
	if batch.Session != middleware.SessionFromContext(r.Context()) {
		return nil, pipeline.ErrBatchNotFound
	}
	return batch, nil
}

func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.sessionBatch(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newBatchView(batch))
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	batch, err := a.sessionBatch(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	job, ok := batch.Job(chi.URLParam(r, "job_id"))
	if !ok {
		a.fail(w, r, pipeline.ErrJobNotFound)
		return
	}
	a.json(w, http.StatusOK, newJobView(job))
}

func (a *App) RefineJob(w http.ResponseWriter, r *http.Request) {
	batch, err := a.sessionBatch(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req refineRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", formatValidationErrors(err))
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := a.Pipeline.Refine(r.Context(), batch.ID, jobID, req.Instruction); err != nil {
		a.fail(w, r, err)
		return
	}
	job, _ := batch.Job(jobID)
	a.json(w, http.StatusAccepted, newJobView(job))
}

func (a *App) ExportBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.sessionBatch(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	export, err := a.Pipeline.Export(r.Context(), batch.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=car-backgrounds-%s.zip", batch.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Archive)))
	w.Header().Set("X-Export-Skipped", strconv.Itoa(len(export.Skipped)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Archive)
}

func (a *App) DiscardBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.sessionBatch(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Pipeline.Discard(batch.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
