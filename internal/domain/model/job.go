package model

import "time"

// Job is a delivery job held by the scheduler's ready queue.
type Job struct {
	ID        string
	MessageID string
	RunAt     time.Time
}

// JobStatus describes a delivery job as reported by the scheduler.
type JobStatus struct {
	ID        string
	MessageID string
	State     JobState
	RunAt     time.Time
}
