// Package application implements the dead man's switch: check-ins, escalation,
// scheduled message delivery, message chains and the digital locker.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DeliveryScheduler = (*SchedulerService)(nil)

const pollBatchSize = 100

// Executor receives the work the scheduler hands out.
type Executor interface {
	Deliver(ctx context.Context, messageID string) error
	DeliverDue(ctx context.Context) (SweepReport, error)
}

// JobID returns the scheduler handle for a message's delivery job.
func JobID(messageID string) string {
	return "deliver_message_" + messageID
}

// SchedulerService is the delivery scheduler: it accepts jobs into a ready
// queue and, once started, polls the queue on a fixed interval and hands due
// jobs to the executor. Each poll also sweeps the store for due messages that
// have no queued job, such as messages released by the escalation engine.
type SchedulerService struct {
	queue    driven.JobQueue
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSchedulerService creates a SchedulerService over the given ready queue.
func NewSchedulerService(queue driven.JobQueue, interval time.Duration) *SchedulerService {
	return &SchedulerService{
		queue:    queue,
		interval: interval,
		now:      time.Now,
	}
}

// Schedule queues delivery of the message at or after at. Queue failures are
// returned; the caller keeps the message in the created state.
func (s *SchedulerService) Schedule(ctx context.Context, messageID string, at time.Time) (string, error) {
	job := model.Job{ID: JobID(messageID), MessageID: messageID, RunAt: at.UTC()}
	if err := s.queue.Push(ctx, job); err != nil {
		return "", fmt.Errorf("schedule message %s: %w", messageID, err)
	}

	slog.Debug("delivery scheduled", "message_id", messageID, "job_id", job.ID, "run_at", job.RunAt)
	return job.ID, nil
}

// EnqueueImmediate queues delivery of the message for the next poll.
func (s *SchedulerService) EnqueueImmediate(ctx context.Context, messageID string) (string, error) {
	return s.Schedule(ctx, messageID, s.now())
}

// Status reports the queue's view of a job. Jobs the queue does not know
// are reported as unknown rather than as an error.
func (s *SchedulerService) Status(ctx context.Context, jobID string) (model.JobStatus, error) {
	status, err := s.queue.Status(ctx, jobID)
	if errors.Is(err, driven.ErrJobNotFound) {
		return model.JobStatus{ID: jobID, State: model.JobStateUnknown}, nil
	}
	if err != nil {
		return model.JobStatus{}, fmt.Errorf("job %s status: %w", jobID, err)
	}
	return status, nil
}

// Start launches the poll loop in the background. It runs an immediate poll,
// then polls on the configured interval until Stop is called or ctx is done.
func (s *SchedulerService) Start(ctx context.Context, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(ctx, exec)
	}()
}

// Stop cancels the poll loop and waits for the in-flight poll to finish.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *SchedulerService) run(ctx context.Context, exec Executor) {
	s.Poll(ctx, exec)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("delivery scheduler stopped")
			return
		case <-ticker.C:
			s.Poll(ctx, exec)
		}
	}
}

// Poll hands every due job to exec, then runs the executor's due sweep.
func (s *SchedulerService) Poll(ctx context.Context, exec Executor) {
	start := time.Now()
	var dispatched, failed int

	for ctx.Err() == nil {
		jobs, err := s.queue.PopDue(ctx, s.now(), pollBatchSize)
		if err != nil {
			slog.Error("pop due jobs failed", "error", err)
			break
		}

		for _, job := range jobs {
			dispatched++
			if err := exec.Deliver(ctx, job.MessageID); err != nil {
				failed++
				logDeliveryError(job.MessageID, err)
			}
		}

		if len(jobs) < pollBatchSize {
			break
		}
	}

	if ctx.Err() != nil {
		return
	}

	if _, err := exec.DeliverDue(ctx); err != nil {
		slog.Error("due sweep failed", "error", err)
	}

	if dispatched > 0 {
		slog.Info("scheduler poll complete",
			"dispatched", dispatched,
			"failed", failed,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

func logDeliveryError(messageID string, err error) {
	switch {
	case errors.Is(err, ErrDeliveryInProgress), errors.Is(err, ErrNotDue):
		slog.Debug("delivery skipped", "message_id", messageID, "reason", err)
	default:
		slog.Error("delivery failed", "message_id", messageID, "error", err)
	}
}
