// Package memqueue provides an in-process JobQueue ordered by run time.
// Jobs do not survive a restart; the reconcile sweep re-pushes them.
package memqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobQueue = (*Queue)(nil)

// Queue is a min-heap of jobs keyed by RunAt, safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	items      jobHeap
	byID       map[string]*item
	dispatched map[string]model.JobStatus
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		byID:       make(map[string]*item),
		dispatched: make(map[string]model.JobStatus),
	}
}

// Push adds the job, or moves it to the new run time if already queued.
func (q *Queue) Push(_ context.Context, job model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.dispatched, job.ID)

	if it, ok := q.byID[job.ID]; ok {
		it.job = job
		heap.Fix(&q.items, it.index)
		return nil
	}

	it := &item{job: job}
	heap.Push(&q.items, it)
	q.byID[job.ID] = it
	return nil
}

// PopDue removes up to limit jobs whose run time is at or before now.
func (q *Queue) PopDue(_ context.Context, now time.Time, limit int) ([]model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []model.Job
	for len(q.items) > 0 && len(due) < limit {
		next := q.items[0]
		if next.job.RunAt.After(now) {
			break
		}
		heap.Pop(&q.items)
		delete(q.byID, next.job.ID)
		q.dispatched[next.job.ID] = model.JobStatus{
			ID:        next.job.ID,
			MessageID: next.job.MessageID,
			State:     model.JobStateDispatched,
			RunAt:     next.job.RunAt,
		}
		due = append(due, next.job)
	}

	return due, nil
}

// Status reports whether the job is still queued or has been handed out.
func (q *Queue) Status(_ context.Context, jobID string) (model.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.byID[jobID]; ok {
		return model.JobStatus{
			ID:        it.job.ID,
			MessageID: it.job.MessageID,
			State:     model.JobStateQueued,
			RunAt:     it.job.RunAt,
		}, nil
	}
	if st, ok := q.dispatched[jobID]; ok {
		return st, nil
	}
	return model.JobStatus{}, driven.ErrJobNotFound
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type item struct {
	job   model.Job
	index int
}

type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].job.ID < h[j].job.ID
	}
	return h[i].job.RunAt.Before(h[j].job.RunAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
