package memqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func job(id string, at time.Time) model.Job {
	return model.Job{ID: "deliver_message_" + id, MessageID: id, RunAt: at}
}

func TestQueue_PopDueOrdersByRunAt(t *testing.T) {
	q := New()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, job("c", base.Add(3*time.Minute))))
	require.NoError(t, q.Push(ctx, job("a", base.Add(time.Minute))))
	require.NoError(t, q.Push(ctx, job("b", base.Add(2*time.Minute))))
	require.NoError(t, q.Push(ctx, job("later", base.Add(time.Hour))))

	due, err := q.PopDue(ctx, base.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "a", due[0].MessageID)
	assert.Equal(t, "b", due[1].MessageID)
	assert.Equal(t, "c", due[2].MessageID)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PopDueRespectsLimit(t *testing.T) {
	q := New()
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, q.Push(ctx, job(fmt.Sprint(i), base)))
	}

	due, err := q.PopDue(ctx, base, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
	assert.Equal(t, 3, q.Len())
}

func TestQueue_PushReplacesRunAt(t *testing.T) {
	q := New()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, job("a", base.Add(time.Hour))))
	require.NoError(t, q.Push(ctx, job("a", base)))
	assert.Equal(t, 1, q.Len())

	due, err := q.PopDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, base, due[0].RunAt)
}

func TestQueue_Status(t *testing.T) {
	q := New()
	ctx := context.Background()
	j := job("a", base)

	_, err := q.Status(ctx, j.ID)
	assert.ErrorIs(t, err, driven.ErrJobNotFound)

	require.NoError(t, q.Push(ctx, j))
	st, err := q.Status(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateQueued, st.State)
	assert.Equal(t, "a", st.MessageID)

	_, err = q.PopDue(ctx, base, 1)
	require.NoError(t, err)
	st, err = q.Status(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateDispatched, st.State)
}

func TestQueue_ConcurrentPopDeliversEachJobOnce(t *testing.T) {
	q := New()
	ctx := context.Background()
	for i := range 100 {
		require.NoError(t, q.Push(ctx, job(fmt.Sprint(i), base)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				due, err := q.PopDue(ctx, base, 3)
				if err != nil || len(due) == 0 {
					return
				}
				mu.Lock()
				for _, j := range due {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s popped more than once", id)
	}
}
