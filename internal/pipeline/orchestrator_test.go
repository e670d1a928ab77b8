package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carstudio/internal/domain"
	"carstudio/internal/metrics"
	"carstudio/internal/providers/image"
	"carstudio/internal/storage"
)

type fakeGenerator struct {
	mu       sync.Mutex
	generate func(req image.GenerateRequest) (*domain.Payload, error)
	refine   func(req image.RefineRequest) (*domain.Payload, error)
	gate     chan struct{}

	generateCalls atomic.Int32
	refineCalls   atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, req image.GenerateRequest) (*domain.Payload, error) {
	f.generateCalls.Add(1)
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)
	if f.gate != nil {
		<-f.gate
	}
	if _, err := req.Inputs(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn := f.generate
	f.mu.Unlock()
	if fn == nil {
		return &domain.Payload{Data: append([]byte("out:"), req.Source.Data...), MIMEType: "image/png"}, nil
	}
	return fn(req)
}

func (f *fakeGenerator) Refine(ctx context.Context, req image.RefineRequest) (*domain.Payload, error) {
	f.refineCalls.Add(1)
	f.mu.Lock()
	fn := f.refine
	f.mu.Unlock()
	if fn == nil {
		return &domain.Payload{Data: append([]byte("refined:"), req.Prior.Data...), MIMEType: "image/png"}, nil
	}
	return fn(req)
}

func newTestOrchestrator(t *testing.T, gen image.Generator, limit int) (*Orchestrator, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	o, err := NewOrchestrator(Options{
		Generator:         gen,
		Store:             store,
		Metrics:           metrics.New(),
		MaxConcurrentJobs: limit,
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o, store
}

func sources(names ...string) []domain.Payload {
	out := make([]domain.Payload, len(names))
	for i, n := range names {
		out[i] = domain.Payload{Data: []byte(n), MIMEType: "image/jpeg", Filename: n}
	}
	return out
}

func background() *domain.Payload {
	return &domain.Payload{Data: []byte("studio"), MIMEType: "image/jpeg", Filename: "studio.jpg"}
}

func waitSettled(t *testing.T, b *Batch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

func TestSubmitCreatesPendingJobPerSource(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	o, store := newTestOrchestrator(t, gen, 0)

	batch, err := o.Submit(context.Background(), "s1", SubmitRequest{
		Sources:    sources("a.jpg", "b.jpg", "c.jpg"),
		Mode:       domain.ModeFull,
		Background: background(),
	})
	require.NoError(t, err)

	jobs := batch.Jobs()
	require.Len(t, jobs, 3)
	ids := map[string]bool{}
	for i, job := range jobs {
		assert.Contains(t, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}, job.Status)
		assert.Equal(t, sources("a.jpg", "b.jpg", "c.jpg")[i].Filename, job.Source.Filename)
		assert.NotEmpty(t, job.PreviewHandle)
		assert.Empty(t, job.ResultHandle)
		ids[job.ID] = true
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, 3, store.Len())

	close(gen.gate)
	waitSettled(t, batch)
	for _, job := range batch.Jobs() {
		assert.Equal(t, domain.JobStatusDone, job.Status)
		assert.NotEmpty(t, job.ResultHandle)
		assert.Empty(t, job.ErrorMessage)
	}
	assert.Equal(t, 6, store.Len())
}

func TestSubmitValidation(t *testing.T) {
	gen := &fakeGenerator{}
	o, _ := newTestOrchestrator(t, gen, 0)
	ctx := context.Background()

	_, err := o.Submit(ctx, "s", SubmitRequest{Mode: domain.ModeFull, Background: background()})
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = o.Submit(ctx, "s", SubmitRequest{Sources: sources("a.jpg"), Mode: domain.ModeFull})
	assert.ErrorIs(t, err, domain.ErrMissingInput)

	_, err = o.Submit(ctx, "s", SubmitRequest{Sources: sources("a.jpg"), Mode: "sideways", Background: background()})
	assert.ErrorIs(t, err, domain.ErrInvalidOptions)

	_, err = o.Submit(ctx, "s", SubmitRequest{Sources: sources("a.jpg"), Mode: domain.ModeTintTurntableOnly})
	assert.ErrorIs(t, err, domain.ErrInvalidOptions)

	assert.Zero(t, gen.generateCalls.Load())
}

func TestTintOnlyAcceptedWithoutBackground(t *testing.T) {
	gen := &fakeGenerator{}
	o, _ := newTestOrchestrator(t, gen, 0)

	batch, err := o.Submit(context.Background(), "s", SubmitRequest{
		Sources: sources("a.jpg"),
		Mode:    domain.ModeTintTurntableOnly,
		Options: domain.ProcessingOptions{TurntableTint: domain.TintRed},
	})
	require.NoError(t, err)
	waitSettled(t, batch)
	assert.Equal(t, domain.JobStatusDone, batch.Jobs()[0].Status)
	assert.Nil(t, batch.Background)
}

func TestTextOnlyResponseBecomesJobError(t *testing.T) {
	gen := &fakeGenerator{generate: func(req image.GenerateRequest) (*domain.Payload, error) {
		if string(req.Source.Data) == "b.jpg" {
			return nil, domain.NewBackendRefused("I cannot edit this photo.")
		}
		return &domain.Payload{Data: []byte("ok"), MIMEType: "image/png"}, nil
	}}
	o, _ := newTestOrchestrator(t, gen, 0)

	batch, err := o.Submit(context.Background(), "s", SubmitRequest{
		Sources:    sources("a.jpg", "b.jpg"),
		Mode:       domain.ModePartialWall,
		Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, batch)

	jobs := batch.Jobs()
	assert.Equal(t, domain.JobStatusDone, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].ResultHandle)
	assert.Equal(t, domain.JobStatusError, jobs[1].Status)
	assert.Equal(t, "I cannot edit this photo.", jobs[1].ErrorMessage)
	assert.Empty(t, jobs[1].ResultHandle)
}

func TestNilResultBecomesNoImageProduced(t *testing.T) {
	gen := &fakeGenerator{generate: func(image.GenerateRequest) (*domain.Payload, error) {
		return nil, nil
	}}
	o, _ := newTestOrchestrator(t, gen, 0)
	batch, err := o.Submit(context.Background(), "s", SubmitRequest{
		Sources: sources("a.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, batch)
	job := batch.Jobs()[0]
	assert.Equal(t, domain.JobStatusError, job.Status)
	assert.Equal(t, domain.UserMessage(domain.NewNoImageProduced()), job.ErrorMessage)
}

func TestRefineTouchesOnlyTargetJob(t *testing.T) {
	gen := &fakeGenerator{}
	o, store := newTestOrchestrator(t, gen, 0)
	ctx := context.Background()

	batch, err := o.Submit(ctx, "s", SubmitRequest{
		Sources: sources("a.jpg", "b.jpg", "c.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, batch)
	before := batch.Jobs()

	release := make(chan struct{})
	gen.mu.Lock()
	gen.refine = func(req image.RefineRequest) (*domain.Payload, error) {
		<-release
		return &domain.Payload{Data: []byte("refined"), MIMEType: "image/png"}, nil
	}
	gen.mu.Unlock()

	target := before[1]
	require.NoError(t, o.Refine(ctx, batch.ID, target.ID, "make the shadow softer"))

	mid, _ := batch.Job(target.ID)
	assert.Equal(t, domain.JobStatusProcessing, mid.Status)
	assert.Empty(t, mid.ResultHandle)
	_, err = store.Get(ctx, target.ResultHandle)
	assert.ErrorIs(t, err, storage.ErrHandleNotFound, "superseded result must be released")

	// a second refinement while in flight is rejected
	assert.ErrorIs(t, o.Refine(ctx, batch.ID, target.ID, "again"), ErrJobNotDone)

	close(release)
	waitSettled(t, batch)

	after := batch.Jobs()
	assert.Equal(t, before[0], after[0])
	assert.Equal(t, before[2], after[2])
	assert.Equal(t, domain.JobStatusDone, after[1].Status)
	assert.Equal(t, 1, after[1].Refinements)
	got, err := store.Get(ctx, after[1].ResultHandle)
	require.NoError(t, err)
	assert.Equal(t, []byte("refined"), got.Data)
	assert.EqualValues(t, 1, gen.refineCalls.Load())
}

func TestRefineFailureOnlyAffectsTarget(t *testing.T) {
	gen := &fakeGenerator{refine: func(image.RefineRequest) (*domain.Payload, error) {
		return nil, domain.NewTransportError(context.DeadlineExceeded)
	}}
	o, _ := newTestOrchestrator(t, gen, 0)
	ctx := context.Background()
	batch, err := o.Submit(ctx, "s", SubmitRequest{
		Sources: sources("a.jpg", "b.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, batch)

	jobs := batch.Jobs()
	require.NoError(t, o.Refine(ctx, batch.ID, jobs[0].ID, "brighter"))
	waitSettled(t, batch)

	after := batch.Jobs()
	assert.Equal(t, domain.JobStatusError, after[0].Status)
	assert.NotEmpty(t, after[0].ErrorMessage)
	assert.Equal(t, jobs[1], after[1])
}

func TestRefineErrors(t *testing.T) {
	gen := &fakeGenerator{generate: func(req image.GenerateRequest) (*domain.Payload, error) {
		return nil, domain.NewBackendRefused("no")
	}}
	o, _ := newTestOrchestrator(t, gen, 0)
	ctx := context.Background()
	batch, err := o.Submit(ctx, "s", SubmitRequest{
		Sources: sources("a.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, batch)
	jobID := batch.Jobs()[0].ID

	assert.ErrorIs(t, o.Refine(ctx, batch.ID, jobID, "  "), ErrEmptyInstruction)
	assert.ErrorIs(t, o.Refine(ctx, "missing", jobID, "x"), ErrBatchNotFound)
	assert.ErrorIs(t, o.Refine(ctx, batch.ID, "missing", "x"), ErrJobNotFound)
	assert.ErrorIs(t, o.Refine(ctx, batch.ID, jobID, "x"), ErrJobNotDone)
	assert.Zero(t, gen.refineCalls.Load())
}

func TestResubmitDiscardsPreviousBatch(t *testing.T) {
	gen := &fakeGenerator{}
	o, store := newTestOrchestrator(t, gen, 0)
	ctx := context.Background()

	first, err := o.Submit(ctx, "s", SubmitRequest{
		Sources: sources("a.jpg", "b.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, first)

	second, err := o.Submit(ctx, "s", SubmitRequest{
		Sources: sources("c.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	waitSettled(t, second)

	_, err = o.Batch(first.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	current, err := o.SessionBatch("s")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, 2, store.Len(), "only the live batch's preview and result remain")
}

type countingStore struct {
	*storage.MemoryStore
	puts atomic.Int32
}

func (c *countingStore) Put(ctx context.Context, p domain.Payload) (storage.Handle, error) {
	h, err := c.MemoryStore.Put(ctx, p)
	c.puts.Add(1)
	return h, err
}

func TestLateCompletionAfterDiscardReleasesHandle(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	o, err := NewOrchestrator(Options{Generator: gen, Store: store})
	require.NoError(t, err)
	t.Cleanup(o.Close)

	batch, err := o.Submit(context.Background(), "s", SubmitRequest{
		Sources: sources("a.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.generateCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Discard(batch.ID))
	assert.Equal(t, 0, store.Len())
	close(gen.gate)

	// preview plus the late result
	require.Eventually(t, func() bool {
		return store.puts.Load() == 2 && store.Len() == 0
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, o.Discard(batch.ID), ErrBatchNotFound)
	assert.ErrorIs(t, batch.Wait(context.Background()), ErrBatchNotFound)
}

func TestConcurrencyCapKeepsJobsPending(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	o, _ := newTestOrchestrator(t, gen, 2)

	batch, err := o.Submit(context.Background(), "s", SubmitRequest{
		Sources: sources("a", "b", "c", "d", "e"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.generateCalls.Load() == 2 }, time.Second, 5*time.Millisecond)

	pending := 0
	for _, job := range batch.Jobs() {
		if job.Status == domain.JobStatusPending {
			pending++
		}
	}
	assert.Equal(t, 3, pending)

	close(gen.gate)
	waitSettled(t, batch)
	assert.LessOrEqual(t, gen.maxInFlight.Load(), int32(2))
	assert.EqualValues(t, 5, gen.generateCalls.Load())
}

func TestCallerCancellationDoesNotStopJobs(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	o, _ := newTestOrchestrator(t, gen, 0)

	ctx, cancel := context.WithCancel(context.Background())
	batch, err := o.Submit(ctx, "s", SubmitRequest{
		Sources: sources("a.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)
	cancel()
	close(gen.gate)

	waitSettled(t, batch)
	assert.Equal(t, domain.JobStatusDone, batch.Jobs()[0].Status)
}

func TestWaitHonoursContext(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	o, _ := newTestOrchestrator(t, gen, 0)
	batch, err := o.Submit(context.Background(), "s", SubmitRequest{
		Sources: sources("a.jpg"), Mode: domain.ModeFull, Background: background(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, batch.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, batch.AllSettled())
	close(gen.gate)
	waitSettled(t, batch)
	assert.True(t, batch.AllSettled())
}
