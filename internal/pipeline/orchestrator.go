package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"carstudio/internal/domain"
	"carstudio/internal/imagegen"
	"carstudio/internal/infra"
	"carstudio/internal/metrics"
	"carstudio/internal/providers/image"
	"carstudio/internal/storage"
)

type Options struct {
	Generator image.Generator
	Store     storage.BlobStore
	Logger    *infra.Logger
	Metrics   *metrics.Recorder
	// MaxConcurrentJobs caps backend calls per batch. Zero means no cap.
	MaxConcurrentJobs int
	Now               func() time.Time
}

// SubmitRequest is everything a batch needs. The background is ignored for
// modes that do not use one.
type SubmitRequest struct {
	Sources    []domain.Payload
	Mode       domain.ProcessingMode
	Options    domain.ProcessingOptions
	Background *domain.Payload
}

// Orchestrator owns every live batch, at most one per session.
type Orchestrator struct {
	generator image.Generator
	store     storage.BlobStore
	logger    infra.Logger
	metrics   *metrics.Recorder
	limit     int
	now       func() time.Time

	mu       sync.Mutex
	batches  map[string]*Batch
	sessions map[string]string
	closed   bool
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: blob store is required")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		generator: opts.Generator,
		store:     opts.Store,
		logger:    logger,
		metrics:   opts.Metrics,
		limit:     opts.MaxConcurrentJobs,
		now:       now,
		batches:   make(map[string]*Batch),
		sessions:  make(map[string]string),
	}, nil
}

// Submit validates the request, creates one pending job per source and
// returns before any backend call completes. A previous batch of the same
// session is discarded.
func (o *Orchestrator) Submit(ctx context.Context, session string, req SubmitRequest) (*Batch, error) {
	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}
	opts := req.Options.Normalize()
	if err := opts.Validate(req.Mode); err != nil {
		return nil, err
	}
	background := req.Background
	if !req.Mode.RequiresBackground() {
		background = nil
	} else if background.IsZero() {
		return nil, domain.NewMissingInput(fmt.Sprintf("mode %s requires a background image", req.Mode))
	}

	batch := newBatch(uuid.NewString(), session, req.Mode, opts, background, o.store, o.now)
	for _, source := range req.Sources {
		preview, err := o.store.Put(ctx, source)
		if err != nil {
			batch.discard()
			return nil, fmt.Errorf("pipeline: store preview: %w", err)
		}
		created := o.now()
		batch.add(&Job{
			ID:            uuid.NewString(),
			Source:        source,
			PreviewHandle: preview,
			Status:        domain.JobStatusPending,
			CreatedAt:     created,
			UpdatedAt:     created,
		})
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		batch.discard()
		return nil, errors.New("pipeline: orchestrator closed")
	}
	previous := o.sessions[session]
	o.sessions[session] = batch.ID
	o.batches[batch.ID] = batch
	o.mu.Unlock()

	if previous != "" {
		o.Discard(previous)
	}

	o.metrics.BatchSubmitted()
	o.logger.Info().
		Str("batch_id", batch.ID).
		Str("session", session).
		Str("mode", string(batch.Mode)).
		Int("jobs", len(batch.order)).
		Msg("pipeline: batch submitted")

	prompt := imagegen.BuildPrompt(batch.Mode, batch.Options)
	go o.dispatch(context.WithoutCancel(ctx), batch, prompt)
	return batch, nil
}

// dispatch runs one generation per job. Jobs beyond the concurrency cap stay
// pending until a slot frees.
func (o *Orchestrator) dispatch(ctx context.Context, batch *Batch, prompt string) {
	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}
	for _, job := range batch.Jobs() {
		job := job
		g.Go(func() error {
			o.generate(ctx, batch, job, prompt)
			return nil
		})
	}
	_ = g.Wait()
	o.logger.Debug().Str("batch_id", batch.ID).Msg("pipeline: initial generation finished")
}

func (o *Orchestrator) generate(ctx context.Context, batch *Batch, job Job, prompt string) {
	if err := batch.apply(job.ID, toProcessing()); err != nil {
		return
	}
	observe := o.metrics.ObserveCall("generate")
	result, err := o.generator.Generate(ctx, image.GenerateRequest{
		Mode:       batch.Mode,
		Source:     job.Source,
		Background: batch.Background,
		Prompt:     prompt,
		RequestID:  job.ID,
	})
	observe()
	o.complete(ctx, batch, job, result, err)
}

// Refine starts a correction of a done job. The job is processing when
// Refine returns; the call itself runs in the background.
func (o *Orchestrator) Refine(ctx context.Context, batchID, jobID, instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return ErrEmptyInstruction
	}
	batch, err := o.Batch(batchID)
	if err != nil {
		return err
	}
	job, ok := batch.Job(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if !domain.CanRefine(job.Status) {
		return ErrJobNotDone
	}
	prior, err := o.store.Get(ctx, job.ResultHandle)
	if err != nil {
		if errors.Is(err, storage.ErrHandleNotFound) {
			// released by a concurrent refinement or discard
			return ErrJobNotDone
		}
		return fmt.Errorf("pipeline: load result: %w", err)
	}
	if err := batch.apply(jobID, toProcessing()); err != nil {
		if errors.Is(err, errBatchDiscarded) {
			return ErrBatchNotFound
		}
		if errors.Is(err, domain.ErrInvalidTransition) {
			return ErrJobNotDone
		}
		return err
	}

	o.metrics.RefinementStarted()
	o.logger.Info().
		Str("batch_id", batchID).
		Str("job_id", jobID).
		Msg("pipeline: refinement started")

	go func(ctx context.Context) {
		observe := o.metrics.ObserveCall("refine")
		result, err := o.generator.Refine(ctx, image.RefineRequest{
			Prior:       prior,
			Instruction: imagegen.BuildRefinementPrompt(instruction),
			RequestID:   jobID,
		})
		observe()
		o.complete(ctx, batch, job, result, err)
	}(context.WithoutCancel(ctx))
	return nil
}

// complete converts a backend outcome into the job's terminal transition.
// Failures never leave the job boundary.
func (o *Orchestrator) complete(ctx context.Context, batch *Batch, job Job, result *domain.Payload, callErr error) {
	log := o.logger.With().Str("batch_id", batch.ID).Str("job_id", job.ID).Logger()

	if callErr == nil && result.IsZero() {
		callErr = domain.NewNoImageProduced()
	}
	if callErr != nil {
		log.Warn().Err(callErr).Msg("pipeline: job failed")
		if err := batch.apply(job.ID, toError(domain.UserMessage(callErr))); err == nil {
			o.metrics.JobFinished(string(batch.Mode), string(domain.JobStatusError))
		}
		return
	}

	stored := *result
	if stored.Filename == "" {
		stored.Filename = job.Source.Filename
	}
	handle, err := o.store.Put(ctx, stored)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: store result failed")
		if applyErr := batch.apply(job.ID, toError("could not store the generated image")); applyErr == nil {
			o.metrics.JobFinished(string(batch.Mode), string(domain.JobStatusError))
		}
		return
	}
	if err := batch.apply(job.ID, toDone(handle)); err != nil {
		// batch discarded while the call was in flight
		o.store.Release(handle)
		log.Debug().Err(err).Msg("pipeline: dropped late result")
		return
	}
	o.metrics.JobFinished(string(batch.Mode), string(domain.JobStatusDone))
	log.Info().Msg("pipeline: job done")
}

func (o *Orchestrator) Batch(batchID string) (*Batch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch, ok := o.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

// SessionBatch returns the live batch of session, if any.
func (o *Orchestrator) SessionBatch(session string) (*Batch, error) {
	o.mu.Lock()
	id, ok := o.sessions[session]
	o.mu.Unlock()
	if !ok {
		return nil, ErrBatchNotFound
	}
	return o.Batch(id)
}

// Discard forgets the batch and releases its handles. In-flight calls finish
// but their results are dropped.
func (o *Orchestrator) Discard(batchID string) error {
	o.mu.Lock()
	batch, ok := o.batches[batchID]
	if ok {
		delete(o.batches, batchID)
		if o.sessions[batch.Session] == batchID {
			delete(o.sessions, batch.Session)
		}
	}
	o.mu.Unlock()
	if !ok {
		return ErrBatchNotFound
	}
	batch.discard()
	o.logger.Info().Str("batch_id", batchID).Msg("pipeline: batch discarded")
	return nil
}

// Close discards every batch. Submit fails afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	batches := make([]*Batch, 0, len(o.batches))
	for _, b := range o.batches {
		batches = append(batches, b)
	}
	o.batches = make(map[string]*Batch)
	o.sessions = make(map[string]string)
	o.mu.Unlock()

	for _, b := range batches {
		b.discard()
	}
}
