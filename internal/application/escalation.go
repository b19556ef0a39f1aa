package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
	"github.com/ericfisherdev/afteryou/internal/mailtemplate"
)

// Evaluate decides the next escalation step for a user snapshot at now. It
// performs no I/O.
func Evaluate(user model.User, now time.Time) model.EscalationDecision {
	d := model.EscalationDecision{
		Action:   model.DecisionNoAction,
		Deadline: user.NextCheckInDue(),
	}

	if user.TriggeredAt != nil {
		d.AlreadyTriggered = true
		return d
	}
	if now.Before(d.Deadline) {
		return d
	}
	if user.NotificationSentAt == nil {
		d.Action = model.DecisionSendNotification
		return d
	}

	d.GraceDeadline = user.GraceDeadline()
	if now.Before(d.GraceDeadline) {
		d.GraceRemaining = d.GraceDeadline.Sub(now)
		return d
	}

	d.Action = model.DecisionTriggerDelivery
	return d
}

// InheritanceTrigger releases a user's digital locker when their switch fires.
type InheritanceTrigger interface {
	TriggerForUser(ctx context.Context, userID int64) error
}

// EscalationOutcome is the result of processing one user.
type EscalationOutcome struct {
	UserID   int64                    `json:"user_id"`
	Decision model.EscalationDecision `json:"-"`
	Action   model.EscalationAction   `json:"action"`
	Applied  bool                     `json:"applied"`
	Released int                      `json:"released_messages"`
}

// EscalationReport summarizes one sweep over all users.
type EscalationReport struct {
	DryRun    bool                `json:"dry_run"`
	Users     int                 `json:"users"`
	Notified  int                 `json:"notified"`
	Triggered int                 `json:"triggered"`
	Released  int                 `json:"released_messages"`
	Errors    int                 `json:"errors"`
	Outcomes  []EscalationOutcome `json:"outcomes,omitempty"`
}

// EscalationService applies escalation decisions to stored users.
type EscalationService struct {
	users       driven.UserStore
	mailer      driven.Mailer
	composer    *mailtemplate.Composer
	inheritance InheritanceTrigger
	workers     int
	mailTimeout time.Duration
	now         func() time.Time
}

// NewEscalationService creates an EscalationService. inheritance may be nil.
func NewEscalationService(
	users driven.UserStore,
	mailer driven.Mailer,
	composer *mailtemplate.Composer,
	inheritance InheritanceTrigger,
	workers int,
	mailTimeout time.Duration,
) *EscalationService {
	if workers < 1 {
		workers = 1
	}
	return &EscalationService{
		users:       users,
		mailer:      mailer,
		composer:    composer,
		inheritance: inheritance,
		workers:     workers,
		mailTimeout: mailTimeout,
		now:         time.Now,
	}
}

// RunSweep processes every user with bounded parallelism. A failure for one
// user is logged and counted; it does not stop the sweep. In a dry run only
// the decisions are reported.
func (s *EscalationService) RunSweep(ctx context.Context, dryRun bool) (EscalationReport, error) {
	start := time.Now()

	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return EscalationReport{}, fmt.Errorf("list users: %w", err)
	}

	report := EscalationReport{DryRun: dryRun, Users: len(ids)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := s.ProcessUser(ctx, id, dryRun)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				slog.Error("escalation failed", "user_id", id, "error", err)
				report.Errors++
				return nil
			}
			if outcome.Action == model.DecisionNoAction {
				return nil
			}
			report.Outcomes = append(report.Outcomes, outcome)
			if !outcome.Applied {
				return nil
			}
			switch outcome.Action {
			case model.DecisionSendNotification:
				report.Notified++
			case model.DecisionTriggerDelivery:
				report.Triggered++
				report.Released += outcome.Released
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("escalation sweep complete",
		"users", report.Users,
		"notified", report.Notified,
		"triggered", report.Triggered,
		"released", report.Released,
		"errors", report.Errors,
		"dry_run", dryRun,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return report, ctx.Err()
}

// ProcessUser reloads the user, evaluates it at the current time and applies
// the decision. Transitions are compare-and-set against the reloaded snapshot,
// so a check-in racing the sweep wins.
func (s *EscalationService) ProcessUser(ctx context.Context, userID int64, dryRun bool) (EscalationOutcome, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return EscalationOutcome{}, fmt.Errorf("load user %d: %w", userID, err)
	}

	now := s.now()
	decision := Evaluate(*user, now)
	outcome := EscalationOutcome{UserID: userID, Decision: decision, Action: decision.Action}

	if dryRun || decision.Action == model.DecisionNoAction {
		return outcome, nil
	}

	switch decision.Action {
	case model.DecisionSendNotification:
		outcome.Applied, err = s.notify(ctx, *user, now)
	case model.DecisionTriggerDelivery:
		outcome.Released, outcome.Applied, err = s.trigger(ctx, *user, now)
	}
	if err != nil {
		return outcome, err
	}

	slog.Info("escalation decision applied",
		"user_id", userID,
		"decision", string(decision.Action),
		"applied", outcome.Applied,
		"released", outcome.Released,
	)

	return outcome, nil
}

func (s *EscalationService) notify(ctx context.Context, user model.User, now time.Time) (bool, error) {
	won, err := s.users.ClaimNotification(ctx, user.ID, user.LastCheckIn, now)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	if !won {
		slog.Debug("notification already claimed", "user_id", user.ID)
		return false, nil
	}

	email := s.composer.CheckInReminder(user, now.Add(user.GracePeriod()))

	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()

	if sendErr := s.mailer.Send(sendCtx, email); sendErr != nil {
		if err := s.users.ReleaseNotification(context.WithoutCancel(ctx), user.ID, now); err != nil {
			return false, errors.Join(fmt.Errorf("send reminder: %w", sendErr), err)
		}
		return false, fmt.Errorf("send reminder: %w", sendErr)
	}

	return true, nil
}

func (s *EscalationService) trigger(ctx context.Context, user model.User, now time.Time) (int, bool, error) {
	released, applied, err := s.users.TriggerDelivery(ctx, user.ID, user.LastCheckIn, *user.NotificationSentAt, now)
	if err != nil {
		return 0, false, fmt.Errorf("trigger delivery: %w", err)
	}
	if !applied {
		slog.Debug("trigger lost to a concurrent update", "user_id", user.ID)
		return 0, false, nil
	}

	if s.inheritance != nil {
		if err := s.inheritance.TriggerForUser(ctx, user.ID); err != nil {
			slog.Error("locker inheritance trigger failed", "user_id", user.ID, "error", err)
		}
	}

	return released, true, nil
}
