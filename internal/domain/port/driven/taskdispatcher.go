package driven

import (
	"context"
	"time"
)

// TaskDispatcher defines the driven port for the external task-dispatch
// transport that calls the task hooks.
type TaskDispatcher interface {
	// Publish asks the transport to call the named task once after delay.
	Publish(ctx context.Context, task string, payload any, delay time.Duration) (string, error)
	// CreateSchedule registers a recurring call of the named task.
	CreateSchedule(ctx context.Context, task, cron string) (string, error)
}
