package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// Sentinel errors returned by the locker stores.
var (
	// ErrLockerNotFound indicates the requested locker does not exist.
	ErrLockerNotFound = errors.New("locker not found")

	// ErrLockerExists indicates the user already owns a locker.
	ErrLockerExists = errors.New("locker already exists")

	// ErrTokenNotFound indicates no access token matches the request.
	ErrTokenNotFound = errors.New("access token not found")
)

// LockerStore defines the driven port for digital locker persistence.
// Mark* transitions are conditional on the locker's current status.
type LockerStore interface {
	Create(ctx context.Context, locker model.DigitalLocker) (model.DigitalLocker, error)
	GetByID(ctx context.Context, id int64) (*model.DigitalLocker, error)
	GetByUser(ctx context.Context, userID int64) (*model.DigitalLocker, error)
	// UpdateSettings returns false when the locker is missing or no longer active.
	UpdateSettings(ctx context.Context, id int64, settings model.LockerSettings) (bool, error)

	// MarkTriggered moves an active locker to triggered and inserts its access
	// token in one transaction. A code collision returns ErrDuplicateToken and
	// leaves the locker active.
	MarkTriggered(ctx context.Context, id int64, at, expiresAt time.Time,
		token model.LockerAccessToken) (model.LockerAccessToken, bool, error)
	// MarkExpired moves a triggered locker to expired.
	MarkExpired(ctx context.Context, id int64) (bool, error)
	// MarkDeleted moves an accessed or expired locker to deleted and purges its credentials.
	MarkDeleted(ctx context.Context, id int64) (bool, error)

	// ListExpired returns triggered lockers whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time) ([]model.DigitalLocker, error)
	// ListAutoDeletable returns accessed lockers flagged for deletion after access.
	ListAutoDeletable(ctx context.Context) ([]model.DigitalLocker, error)
}

// AccessTokenStore defines the driven port for locker OTP persistence.
type AccessTokenStore interface {
	// Create returns ErrDuplicateToken when the code is already in use.
	Create(ctx context.Context, token model.LockerAccessToken) (model.LockerAccessToken, error)
	// FindByCode returns ErrTokenNotFound when no token of the locker has the code.
	FindByCode(ctx context.Context, lockerID int64, code string) (*model.LockerAccessToken, error)
	// LatestOpen returns the newest unused token of the locker, or ErrTokenNotFound.
	LatestOpen(ctx context.Context, lockerID int64) (*model.LockerAccessToken, error)
	// IncrementAttempts bumps attempts_used and returns the new value.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	// Redeem marks the token used and moves the locker to accessed in one
	// transaction. It returns false when the token is used, expired at at, or
	// has reached attemptsLimit, or when the locker is no longer triggered.
	Redeem(ctx context.Context, id, lockerID int64, attemptsLimit int, at time.Time) (bool, error)
}

// AccessLogStore defines the driven port for the append-only locker audit trail.
type AccessLogStore interface {
	Append(ctx context.Context, entry model.AccessLog) error
	List(ctx context.Context, lockerID int64, limit int) ([]model.AccessLog, error)
}
