package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"carstudio/internal/domain"
	"carstudio/pkg/zip"
)

const (
	exportSuffix     = "-processed"
	defaultExportExt = "png"
)

type ExportedFile struct {
	JobID    string
	Filename string
	Size     int
}

// Export is a finished archive plus what went into it. Skipped lists job ids
// whose result could not be read.
type Export struct {
	Archive []byte
	Files   []ExportedFile
	Skipped []string
}

// Export bundles every done job of the batch. A job whose bytes cannot be
// fetched is logged and skipped; only a failure to build the archive fails
// the whole export.
func (o *Orchestrator) Export(ctx context.Context, batchID string) (*Export, error) {
	batch, err := o.Batch(batchID)
	if err != nil {
		return nil, err
	}

	var done []Job
	for _, job := range batch.Jobs() {
		if job.Status == domain.JobStatusDone {
			done = append(done, job)
		}
	}
	if len(done) == 0 {
		o.metrics.Export("empty")
		return nil, ErrNothingToExport
	}

	out := &Export{}
	assets := make([]zip.Asset, 0, len(done))
	used := make(map[string]int, len(done))
	for _, job := range done {
		payload, err := o.store.Get(ctx, job.ResultHandle)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("batch_id", batchID).
				Str("job_id", job.ID).
				Msg("pipeline: export skipped job")
			out.Skipped = append(out.Skipped, job.ID)
			continue
		}
		name := uniqueName(ExportFilename(job.Source.Filename), used)
		assets = append(assets, zip.Asset{
			Filename: name,
			MIME:     payload.MediaType(),
			Data:     payload.Data,
			Modified: job.UpdatedAt,
		})
		out.Files = append(out.Files, ExportedFile{JobID: job.ID, Filename: name, Size: len(payload.Data)})
	}

	if len(assets) == 0 {
		o.metrics.Export("failed")
		return nil, fmt.Errorf("%w: none of %d results could be read", ErrExportFailed, len(done))
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		o.metrics.Export("failed")
		o.logger.Error().Err(err).Str("batch_id", batchID).Msg("pipeline: build archive failed")
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	out.Archive = archive
	o.metrics.Export("ok")
	o.logger.Info().
		Str("batch_id", batchID).
		Int("files", len(out.Files)).
		Int("skipped", len(out.Skipped)).
		Msg("pipeline: export built")
	return out, nil
}

// ExportFilename derives the archive entry name from the original upload
// name: the part after the last dot is kept as the extension, falling back
// to png.
func ExportFilename(original string) string {
	name := norm.NFC.String(strings.TrimSpace(original))
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx+1:]
	}
	if ext == "" {
		ext = defaultExportExt
	}
	if base == "" {
		base = "image"
	}
	return base + exportSuffix + "." + ext
}

// uniqueName appends -2, -3, ... before the extension for repeated names.
func uniqueName(name string, used map[string]int) string {
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx:]
	}
	for {
		candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
		if _, taken := used[candidate]; !taken {
			used[candidate] = 1
			return candidate
		}
		n++
	}
}
