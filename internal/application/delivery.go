package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
	"github.com/ericfisherdev/afteryou/internal/mailtemplate"
)

// Compile-time interface satisfaction check.
var _ Executor = (*DeliveryService)(nil)

// ArchiveAge is the age past sent_at after which a message counts as archivable.
const ArchiveAge = 365 * 24 * time.Hour

// DeliveryConfig holds the delivery timing settings.
type DeliveryConfig struct {
	// Lease is how long a claimed message stays reserved for one executor.
	Lease time.Duration
	// RetryWindow bounds how long after its delivery date a failed message is retried.
	RetryWindow time.Duration
	// MailTimeout bounds a single send.
	MailTimeout time.Duration
}

// SweepReport summarizes one delivery sweep.
type SweepReport struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *SweepReport) record(err error) {
	r.Processed++
	switch {
	case err == nil:
		r.Delivered++
	case errors.Is(err, ErrDeliveryInProgress), errors.Is(err, ErrNotDue):
		r.Skipped++
	default:
		r.Failed++
	}
}

// DeliveryService is the delivery executor. It also runs the due, retry and
// reconcile sweeps and reports delivery statistics.
type DeliveryService struct {
	messages  driven.MessageStore
	users     driven.UserStore
	mailer    driven.Mailer
	composer  *mailtemplate.Composer
	scheduler driven.DeliveryScheduler
	cfg       DeliveryConfig
	now       func() time.Time
}

// NewDeliveryService creates a DeliveryService with all required dependencies.
func NewDeliveryService(
	messages driven.MessageStore,
	users driven.UserStore,
	mailer driven.Mailer,
	composer *mailtemplate.Composer,
	scheduler driven.DeliveryScheduler,
	cfg DeliveryConfig,
) *DeliveryService {
	return &DeliveryService{
		messages:  messages,
		users:     users,
		mailer:    mailer,
		composer:  composer,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Deliver sends one message. It is safe to call repeatedly: a sent message is
// a successful no-op, and only the caller that claims the message sends it.
func (s *DeliveryService) Deliver(ctx context.Context, messageID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg.Status == model.MessageStatusSent {
		return nil
	}

	now := s.now()
	won, err := s.messages.Claim(ctx, messageID, now, now.Add(s.cfg.Lease))
	if err != nil {
		return err
	}
	if !won {
		return s.claimLost(ctx, messageID, now)
	}

	email := s.compose(ctx, *msg)

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.MailTimeout)
	sendErr := s.mailer.Send(sendCtx, email)
	cancel()

	// The outcome is recorded even if the caller's context ended mid-send.
	storeCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		slog.Error("message send failed", "message_id", messageID, "error", sendErr)
		if err := s.messages.MarkFailed(storeCtx, messageID); err != nil {
			return errors.Join(fmt.Errorf("deliver message %s: %w: %w", messageID, ErrDeliveryFailed, sendErr), err)
		}
		return fmt.Errorf("deliver message %s: %w: %w", messageID, ErrDeliveryFailed, sendErr)
	}

	if err := s.messages.MarkSent(storeCtx, messageID, s.now()); err != nil {
		return fmt.Errorf("record delivery of message %s: %w", messageID, err)
	}

	slog.Info("message delivered", "message_id", messageID, "chain_id", msg.ChainID, "generation", msg.Generation)
	return nil
}

func (s *DeliveryService) claimLost(ctx context.Context, messageID string, now time.Time) error {
	current, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("reload message %s: %w", messageID, err)
	}

	switch current.Status {
	case model.MessageStatusSent:
		return nil
	case model.MessageStatusPending:
		return fmt.Errorf("message %s: %w", messageID, ErrDeliveryInProgress)
	case model.MessageStatusCreated, model.MessageStatusScheduled:
		if current.DeliveryDate.After(now) {
			return fmt.Errorf("message %s due at %s: %w", messageID, current.DeliveryDate.Format(time.RFC3339), ErrNotDue)
		}
		return fmt.Errorf("message %s: %w", messageID, ErrDeliveryInProgress)
	default:
		return fmt.Errorf("message %s is %s: %w", messageID, current.Status, ErrDeliveryFailed)
	}
}

func (s *DeliveryService) compose(ctx context.Context, msg model.Message) model.Email {
	var senderName string
	if !msg.IsChainReply() && msg.UserID != nil {
		if owner, err := s.users.GetByID(ctx, *msg.UserID); err == nil {
			senderName = owner.Name
		} else {
			slog.Warn("message owner lookup failed", "message_id", msg.ID, "error", err)
		}
	}
	return s.composer.LegacyMessage(msg, senderName)
}

// DeliverDue delivers scheduled messages whose delivery date has passed and
// pending messages with no live lease.
func (s *DeliveryService) DeliverDue(ctx context.Context) (SweepReport, error) {
	ids, err := s.messages.ListDue(ctx, s.now(), pollBatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list due messages: %w", err)
	}

	var report SweepReport
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		err := s.Deliver(ctx, id)
		if err != nil {
			logDeliveryError(id, err)
		}
		report.record(err)
	}

	if report.Processed > 0 {
		slog.Info("due sweep complete", "processed", report.Processed, "delivered", report.Delivered,
			"skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

// RetryFailed re-attempts, once per sweep, failed messages whose delivery date
// lies inside the retry window. Older failures are terminal.
func (s *DeliveryService) RetryFailed(ctx context.Context) (SweepReport, error) {
	ids, err := s.messages.ListRetryable(ctx, s.now().Add(-s.cfg.RetryWindow), pollBatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list retryable messages: %w", err)
	}

	var report SweepReport
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		requeued, err := s.messages.RequeueFailed(ctx, id)
		if err != nil {
			slog.Error("requeue failed message", "message_id", id, "error", err)
			report.record(err)
			continue
		}
		if !requeued {
			continue
		}

		err = s.Deliver(ctx, id)
		if err != nil {
			logDeliveryError(id, err)
		}
		report.record(err)
	}

	slog.Info("retry sweep complete", "processed", report.Processed, "delivered", report.Delivered,
		"failed", report.Failed)
	return report, nil
}

// Reconcile retries scheduling for messages left in the created state by an
// unavailable queue. Future messages are scheduled; past-due ones are queued
// for immediate delivery.
func (s *DeliveryService) Reconcile(ctx context.Context) (SweepReport, error) {
	msgs, err := s.messages.ListUnscheduled(ctx, pollBatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list unscheduled messages: %w", err)
	}

	now := s.now()
	var report SweepReport
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Processed++

		if msg.DeliveryDate.After(now) {
			_, err := scheduleMessage(ctx, s.messages, s.scheduler, msg.ID, msg.DeliveryDate)
			if err != nil {
				slog.Warn("reconcile schedule failed", "message_id", msg.ID, "error", err)
				report.Failed++
				continue
			}
		} else {
			if _, err := enqueueMessage(ctx, s.messages, s.scheduler, msg.ID); err != nil {
				slog.Warn("reconcile enqueue failed", "message_id", msg.ID, "error", err)
				report.Failed++
				continue
			}
		}
		report.Delivered++
	}

	slog.Info("reconcile sweep complete", "processed", report.Processed, "rescheduled", report.Delivered,
		"failed", report.Failed)
	return report, nil
}

// Stats reports delivery statistics for one user, or for all users when
// userID is nil.
func (s *DeliveryService) Stats(ctx context.Context, userID *int64) (model.DeliveryStats, error) {
	now := s.now()
	stats, err := s.messages.Stats(ctx, userID, now.Add(-s.cfg.RetryWindow), now.Add(-ArchiveAge))
	if err != nil {
		return model.DeliveryStats{}, err
	}
	return stats, nil
}

// scheduleMessage queues a future delivery and moves the message to scheduled.
func scheduleMessage(ctx context.Context, messages driven.MessageStore, scheduler driven.DeliveryScheduler,
	id string, at time.Time,
) (string, error) {
	jobID, err := scheduler.Schedule(ctx, id, at)
	if err != nil {
		return "", err
	}
	if _, err := messages.MarkScheduled(ctx, id, jobID); err != nil {
		return "", err
	}
	return jobID, nil
}

// enqueueMessage queues an immediate delivery. The message stays created and
// is claimed straight from that state by the executor.
func enqueueMessage(ctx context.Context, messages driven.MessageStore, scheduler driven.DeliveryScheduler, id string) (string, error) {
	jobID, err := scheduler.EnqueueImmediate(ctx, id)
	if err != nil {
		return "", err
	}
	if err := messages.SetJobID(ctx, id, jobID); err != nil {
		return "", err
	}
	return jobID, nil
}
