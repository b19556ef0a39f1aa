// Package qstash is the client for the HTTP task-dispatch transport that
// calls the service's signed task hooks.
package qstash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TaskDispatcher = (*Client)(nil)

// DefaultBaseURL is the public dispatch endpoint.
const DefaultBaseURL = "https://qstash.upstash.io"

// ErrUnexpectedStatus is returned when the transport answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected dispatch status")

// Config holds the client settings.
type Config struct {
	BaseURL string
	Token   string
	// BackendURL is this service's public base URL; task hooks live under
	// BackendURL + "/api/tasks/".
	BackendURL string
	Timeout    time.Duration
	Retries    int
}

// Schedule is a recurring task registration.
type Schedule struct {
	ScheduleID  string `json:"scheduleId"`
	Cron        string `json:"cron"`
	Destination string `json:"destination"`
}

// Client publishes task calls and manages cron schedules.
type Client struct {
	http       *resty.Client
	backendURL string
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: client, backendURL: strings.TrimRight(cfg.BackendURL, "/")}
}

// Destination returns the hook URL the transport calls for task.
func (c *Client) Destination(task string) string {
	return c.backendURL + "/api/tasks/" + task
}

// Publish asks the transport to call the task once, after delay.
func (c *Client) Publish(ctx context.Context, task string, payload any, delay time.Duration) (string, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", task, err)
	}

	req := c.http.R().SetContext(ctx).SetBody(body)
	if delay > 0 {
		req.SetHeader("Upstash-Delay", strconv.FormatInt(int64(delay/time.Second), 10)+"s")
	}

	var result struct {
		MessageID string `json:"messageId"`
	}
	resp, err := req.SetResult(&result).Post("/v2/publish/" + c.Destination(task))
	if err := checkResponse("publish "+task, resp, err); err != nil {
		return "", err
	}
	return result.MessageID, nil
}

// CreateSchedule registers a recurring call of the task.
func (c *Client) CreateSchedule(ctx context.Context, task, cron string) (string, error) {
	var result struct {
		ScheduleID string `json:"scheduleId"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Upstash-Cron", cron).
		SetBody(json.RawMessage("{}")).
		SetResult(&result).
		Post("/v2/schedules/" + c.Destination(task))
	if err := checkResponse("schedule "+task, resp, err); err != nil {
		return "", err
	}
	return result.ScheduleID, nil
}

// ListSchedules returns every schedule of the account.
func (c *Client) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	resp, err := c.http.R().SetContext(ctx).SetResult(&schedules).Get("/v2/schedules")
	if err := checkResponse("list schedules", resp, err); err != nil {
		return nil, err
	}
	return schedules, nil
}

// DeleteSchedule removes a schedule.
func (c *Client) DeleteSchedule(ctx context.Context, scheduleID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/v2/schedules/" + scheduleID)
	return checkResponse("delete schedule "+scheduleID, resp, err)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %w: %d %s", op, ErrUnexpectedStatus, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
