package application

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// Registration is the input for a new user. Zero settings take the defaults.
type Registration struct {
	Email          string
	Name           string
	IntervalMonths int
	GraceDays      int
}

// UserStatus is a user's check-in state as shown to the owner.
type UserStatus struct {
	User           model.User
	NextCheckInDue time.Time
	IsOverdue      bool
	GraceDeadline  *time.Time
	DaysRemaining  int
}

// UserService handles registration, check-ins and check-in settings.
type UserService struct {
	users driven.UserStore
	now   func() time.Time
}

// NewUserService creates a UserService.
func NewUserService(users driven.UserStore) *UserService {
	return &UserService{users: users, now: time.Now}
}

// Register creates a user whose inactivity clock starts now.
func (s *UserService) Register(ctx context.Context, in Registration) (model.User, error) {
	if in.IntervalMonths == 0 {
		in.IntervalMonths = model.DefaultCheckInIntervalMonths
	}
	if in.GraceDays == 0 {
		in.GraceDays = model.DefaultGracePeriodDays
	}
	if err := validateEmail("email", in.Email); err != nil {
		return model.User{}, err
	}
	if err := validateSettings(in.IntervalMonths, in.GraceDays); err != nil {
		return model.User{}, err
	}

	now := s.now().UTC()
	user, err := s.users.Create(ctx, model.User{
		Email:                strings.ToLower(strings.TrimSpace(in.Email)),
		Name:                 strings.TrimSpace(in.Name),
		LastCheckIn:          now,
		CheckInIntervalMonth: in.IntervalMonths,
		GracePeriodDays:      in.GraceDays,
		CreatedAt:            now,
	})
	if err != nil {
		return model.User{}, fmt.Errorf("register user: %w", err)
	}
	return user, nil
}

// CheckIn resets the user's inactivity clock and ends any escalation in progress.
func (s *UserService) CheckIn(ctx context.Context, userID int64) (UserStatus, error) {
	if err := s.users.CheckIn(ctx, userID, s.now().UTC()); err != nil {
		return UserStatus{}, err
	}
	return s.Status(ctx, userID)
}

// UpdateSettings changes the check-in interval and grace period.
func (s *UserService) UpdateSettings(ctx context.Context, userID int64, intervalMonths, graceDays int) (UserStatus, error) {
	if err := validateSettings(intervalMonths, graceDays); err != nil {
		return UserStatus{}, err
	}
	if err := s.users.UpdateSettings(ctx, userID, intervalMonths, graceDays); err != nil {
		return UserStatus{}, err
	}
	return s.Status(ctx, userID)
}

// Status returns the user's current check-in state.
func (s *UserService) Status(ctx context.Context, userID int64) (UserStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserStatus{}, err
	}
	return statusAt(*user, s.now()), nil
}

func statusAt(user model.User, now time.Time) UserStatus {
	due := user.NextCheckInDue()
	status := UserStatus{
		User:           user,
		NextCheckInDue: due,
		IsOverdue:      !now.Before(due),
	}
	if user.NotificationSentAt != nil {
		grace := user.GraceDeadline()
		status.GraceDeadline = &grace
	}
	if remaining := due.Sub(now); remaining > 0 {
		status.DaysRemaining = int(math.Ceil(remaining.Hours() / 24))
	}
	return status
}

func validateSettings(intervalMonths, graceDays int) error {
	if err := validateRange("check_in_interval", intervalMonths,
		model.MinCheckInIntervalMonths, model.MaxCheckInIntervalMonths); err != nil {
		return err
	}
	return validateRange("grace_period_days", graceDays, model.MinGracePeriodDays, model.MaxGracePeriodDays)
}
