package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// Sentinel errors returned by JobQueue implementations.
var (
	// ErrJobNotFound indicates the scheduler has no record of the job.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueUnavailable indicates the ready queue cannot accept work.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// JobQueue is the ready queue behind the delivery scheduler, ordered by run
// time. Pushing a job with an existing ID replaces its run time.
type JobQueue interface {
	Push(ctx context.Context, job model.Job) error
	// PopDue removes and returns up to limit jobs whose run time is at or
	// before now. A job is returned to at most one caller.
	PopDue(ctx context.Context, now time.Time, limit int) ([]model.Job, error)
	Status(ctx context.Context, jobID string) (model.JobStatus, error)
}

// DeliveryScheduler hands messages to the delivery executor at or after a
// target time. Implementations fail loudly when the underlying transport
// cannot accept the job.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, messageID string, at time.Time) (string, error)
	EnqueueImmediate(ctx context.Context, messageID string) (string, error)
	Status(ctx context.Context, jobID string) (model.JobStatus, error)
}
