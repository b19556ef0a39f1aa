// Command afteryou-schedules registers the recurring task-hook schedules with
// the dispatch transport, or publishes a single task call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/afteryou/internal/adapter/driven/qstash"
	httphandler "github.com/ericfisherdev/afteryou/internal/adapter/driving/http"
	"github.com/ericfisherdev/afteryou/internal/config"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// schedules maps each task hook to its cron expression.
var schedules = map[string]string{
	httphandler.TaskEscalation:    "0 * * * *",
	httphandler.TaskDeliverDue:    "*/5 * * * *",
	httphandler.TaskRetryFailed:   "30 * * * *",
	httphandler.TaskReconcile:     "*/15 * * * *",
	httphandler.TaskExpireLockers: "0 3 * * *",
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	replace := flag.Bool("replace", false, "delete existing schedules for the task hooks before creating them")
	publish := flag.String("publish", "", "publish one call to the named task instead of registering schedules")
	delay := flag.Duration("delay", 0, "delay for -publish")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.QStashToken == "" {
		return errors.New("AFTERYOU_QSTASH_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := qstash.New(qstash.Config{
		BaseURL:    cfg.QStashURL,
		Token:      cfg.QStashToken,
		BackendURL: cfg.BackendURL,
		Timeout:    30 * time.Second,
		Retries:    3,
	})

	if *publish != "" {
		if !slices.Contains(httphandler.Tasks, *publish) {
			return fmt.Errorf("unknown task %q", *publish)
		}
		id, err := client.Publish(ctx, *publish, struct{}{}, *delay)
		if err != nil {
			return err
		}
		slog.Info("task published", "task", *publish, "message_id", id, "delay", *delay)
		return nil
	}

	if *replace {
		if err := deleteExisting(ctx, client); err != nil {
			return err
		}
	}
	return register(ctx, client)
}

func deleteExisting(ctx context.Context, client *qstash.Client) error {
	existing, err := client.ListSchedules(ctx)
	if err != nil {
		return err
	}

	ours := make(map[string]bool, len(httphandler.Tasks))
	for _, task := range httphandler.Tasks {
		ours[client.Destination(task)] = true
	}

	for _, s := range existing {
		if !ours[s.Destination] {
			continue
		}
		if err := client.DeleteSchedule(ctx, s.ScheduleID); err != nil {
			return err
		}
		slog.Info("schedule deleted", "schedule_id", s.ScheduleID, "destination", s.Destination)
	}
	return nil
}

func register(ctx context.Context, dispatcher driven.TaskDispatcher) error {
	for _, task := range httphandler.Tasks {
		cron := schedules[task]
		id, err := dispatcher.CreateSchedule(ctx, task, cron)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", task, err)
		}
		slog.Info("schedule registered", "task", task, "cron", cron, "schedule_id", id)
	}
	return nil
}
