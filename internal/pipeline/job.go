package pipeline

import (
	"time"

	"carstudio/internal/domain"
	"carstudio/internal/storage"
)

// Job tracks one source photo through generation and refinement. Values
// returned from a Batch are snapshots.
type Job struct {
	ID            string
	Source        domain.Payload
	PreviewHandle storage.Handle
	ResultHandle  storage.Handle
	Status        domain.JobStatus
	ErrorMessage  string
	Refinements   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Settled reports whether the job has no call in flight or queued.
func (j Job) Settled() bool {
	return domain.IsTerminal(j.Status)
}

// transition is the only way a Job changes after creation.
type transition struct {
	to      domain.JobStatus
	result  storage.Handle
	message string
}

func toProcessing() transition { return transition{to: domain.JobStatusProcessing} }

func toDone(handle storage.Handle) transition {
	return transition{to: domain.JobStatusDone, result: handle}
}

func toError(message string) transition {
	return transition{to: domain.JobStatusError, message: message}
}
