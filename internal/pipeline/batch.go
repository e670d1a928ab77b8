package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"carstudio/internal/domain"
	"carstudio/internal/storage"
)

var errBatchDiscarded = errors.New("pipeline: batch discarded")

// Batch is the set of jobs created by one submission. Mode, options and
// background are a snapshot taken at submission and never change.
type Batch struct {
	ID         string
	Session    string
	Mode       domain.ProcessingMode
	Options    domain.ProcessingOptions
	Background *domain.Payload
	CreatedAt  time.Time

	store storage.BlobStore
	now   func() time.Time

	mu        sync.Mutex
	jobs      map[string]*Job
	order     []string
	discarded bool
	// changed is closed and replaced on every applied transition.
	changed chan struct{}
}

func newBatch(id, session string, mode domain.ProcessingMode, opts domain.ProcessingOptions, background *domain.Payload, store storage.BlobStore, now func() time.Time) *Batch {
	return &Batch{
		ID:         id,
		Session:    session,
		Mode:       mode,
		Options:    opts,
		Background: background,
		CreatedAt:  now(),
		store:      store,
		now:        now,
		jobs:       make(map[string]*Job),
		changed:    make(chan struct{}),
	}
}

func (b *Batch) add(job *Job) {
	b.jobs[job.ID] = job
	b.order = append(b.order, job.ID)
}

// Jobs returns a snapshot of every job in submission order.
func (b *Batch) Jobs() []Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Job, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.jobs[id])
	}
	return out
}

func (b *Batch) Job(id string) (Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (b *Batch) AllSettled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settledLocked()
}

func (b *Batch) settledLocked() bool {
	for _, job := range b.jobs {
		if !job.Settled() {
			return false
		}
	}
	return true
}

// Wait blocks until every job is done or error. ctx bounds only the wait,
// never the calls themselves.
func (b *Batch) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		discarded := b.discarded
		settled := b.settledLocked()
		changed := b.changed
		b.mu.Unlock()

		if discarded {
			return ErrBatchNotFound
		}
		if settled {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply moves a job through the state machine. It is the single mutation
// path for jobs after creation. A result handle superseded by the
// transition is released.
func (b *Batch) apply(jobID string, t transition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.discarded {
		return errBatchDiscarded
	}
	job, ok := b.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if err := domain.ValidateTransition(job.Status, t.to); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	if job.ResultHandle != "" && job.ResultHandle != t.result {
		b.store.Release(job.ResultHandle)
		job.ResultHandle = ""
	}
	if job.Status == domain.JobStatusDone && t.to == domain.JobStatusProcessing {
		job.Refinements++
	}

	job.Status = t.to
	job.ErrorMessage = ""
	switch t.to {
	case domain.JobStatusDone:
		job.ResultHandle = t.result
	case domain.JobStatusError:
		job.ErrorMessage = t.message
	}
	job.UpdatedAt = b.now()

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// discard releases every handle the batch owns. Later transitions fail with
// errBatchDiscarded.
func (b *Batch) discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discarded {
		return
	}
	b.discarded = true
	for _, job := range b.jobs {
		b.store.Release(job.PreviewHandle)
		b.store.Release(job.ResultHandle)
		job.PreviewHandle = ""
		job.ResultHandle = ""
	}
	close(b.changed)
	b.changed = make(chan struct{})
}
