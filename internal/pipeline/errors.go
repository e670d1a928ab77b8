package pipeline

import "errors"

var (
	ErrNoSources        = errors.New("pipeline: at least one source image is required")
	ErrBatchNotFound    = errors.New("pipeline: batch not found")
	ErrJobNotFound      = errors.New("pipeline: job not found")
	ErrJobNotDone       = errors.New("pipeline: job is not done")
	ErrEmptyInstruction = errors.New("pipeline: refinement instruction is empty")
	ErrNothingToExport  = errors.New("pipeline: no completed jobs to export")
	ErrExportFailed     = errors.New("pipeline: export failed")
)
