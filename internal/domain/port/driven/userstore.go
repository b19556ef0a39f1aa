// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// Sentinel errors returned by UserStore implementations.
var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same email already exists.
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserStore defines the driven port for user persistence and the per-user
// compare-and-set transitions the escalation engine relies on.
type UserStore interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	ListIDs(ctx context.Context) ([]int64, error)

	// CheckIn sets last_check_in and clears notification_sent_at and triggered_at.
	CheckIn(ctx context.Context, id int64, at time.Time) error
	UpdateSettings(ctx context.Context, id int64, intervalMonths, graceDays int) error

	// ClaimNotification sets notification_sent_at to at only if it is unset,
	// the user is not triggered and last_check_in still equals lastCheckIn.
	// It returns false when another writer won or the user checked in.
	ClaimNotification(ctx context.Context, id int64, lastCheckIn, at time.Time) (bool, error)

	// ReleaseNotification clears notification_sent_at if it still equals at.
	ReleaseNotification(ctx context.Context, id int64, at time.Time) error

	// TriggerDelivery atomically marks the user triggered, clears
	// notification_sent_at and moves every scheduled message of the user to
	// pending. The transition only applies while last_check_in and
	// notification_sent_at still equal the supplied values. It returns the
	// number of released messages and whether the transition applied.
	TriggerDelivery(ctx context.Context, id int64, lastCheckIn, notifiedAt, at time.Time) (int, bool, error)
}
