// Package redisqueue provides a JobQueue backed by a Redis sorted set, so
// scheduled deliveries survive process restarts and can be shared by
// several instances.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobQueue = (*Queue)(nil)

// DefaultPrefix namespaces every key the queue writes.
const DefaultPrefix = "afteryou:jobs"

// Queue stores job IDs in a sorted set scored by run time in Unix
// milliseconds. Job bodies live in a hash next to it; jobs handed out by
// PopDue move to a second hash so Status can still report them.
type Queue struct {
	client     *redis.Client
	readyKey   string
	jobsKey    string
	dispatched string
}

// New returns a Queue using client, namespacing keys under prefix.
func New(client *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{
		client:     client,
		readyKey:   prefix + ":ready",
		jobsKey:    prefix + ":body",
		dispatched: prefix + ":dispatched",
	}
}

// Dial parses a redis:// URL, applies pool and timeout settings, and pings
// the server before returning the client.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

type storedJob struct {
	MessageID string    `json:"message_id"`
	RunAt     time.Time `json:"run_at"`
}

// Push adds the job to the ready set, replacing any earlier run time.
func (q *Queue) Push(ctx context.Context, job model.Job) error {
	body, err := json.Marshal(storedJob{MessageID: job.MessageID, RunAt: job.RunAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobsKey, job.ID, body)
		pipe.HDel(ctx, q.dispatched, job.ID)
		pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: score(job.RunAt), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("push job %s: %w: %w", job.ID, driven.ErrQueueUnavailable, err)
	}
	return nil
}

// popDueScript moves up to ARGV[2] jobs scored at or before ARGV[1] from the
// ready set into the dispatched hash and returns them as id, body pairs.
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local body = redis.call('HGET', KEYS[2], id)
  if body then
    redis.call('HDEL', KEYS[2], id)
    redis.call('HSET', KEYS[3], id, body)
    table.insert(out, id)
    table.insert(out, body)
  end
end
return out
`)

// PopDue hands out due jobs. The claim runs as one Lua script, so
// concurrent pollers never share a job and a crash cannot strand one
// between the ready set and the dispatched hash.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	pairs, err := popDueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.jobsKey, q.dispatched},
		strconv.FormatFloat(score(now), 'f', -1, 64), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due jobs: %w: %w", driven.ErrQueueUnavailable, err)
	}

	due := make([]model.Job, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		job, err := decode(pairs[i], []byte(pairs[i+1]))
		if err != nil {
			return due, err
		}
		due = append(due, job)
	}

	return due, nil
}

// Status reports whether the job is still waiting or has been handed out.
func (q *Queue) Status(ctx context.Context, jobID string) (model.JobStatus, error) {
	if _, err := q.client.ZScore(ctx, q.readyKey, jobID).Result(); err == nil {
		job, err := q.load(ctx, q.jobsKey, jobID)
		if err != nil {
			return model.JobStatus{}, err
		}
		return jobStatus(job, model.JobStateQueued), nil
	} else if !errors.Is(err, redis.Nil) {
		return model.JobStatus{}, fmt.Errorf("job %s status: %w: %w", jobID, driven.ErrQueueUnavailable, err)
	}

	job, err := q.load(ctx, q.dispatched, jobID)
	if err != nil {
		return model.JobStatus{}, err
	}
	return jobStatus(job, model.JobStateDispatched), nil
}

func (q *Queue) load(ctx context.Context, key, id string) (model.Job, error) {
	raw, err := q.client.HGet(ctx, key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Job{}, fmt.Errorf("load job %s: %w", id, driven.ErrJobNotFound)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("load job %s: %w: %w", id, driven.ErrQueueUnavailable, err)
	}

	return decode(id, raw)
}

func decode(id string, raw []byte) (model.Job, error) {
	var stored storedJob
	if err := json.Unmarshal(raw, &stored); err != nil {
		return model.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return model.Job{ID: id, MessageID: stored.MessageID, RunAt: stored.RunAt}, nil
}

func jobStatus(job model.Job, state model.JobState) model.JobStatus {
	return model.JobStatus{ID: job.ID, MessageID: job.MessageID, State: state, RunAt: job.RunAt}
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
