package model

import "time"

// DaysPerMonth is the month length used for check-in interval arithmetic.
// Intervals are stored in months but deadlines are always computed with
// 30-day months.
const DaysPerMonth = 30

// Check-in setting bounds and defaults.
const (
	MinCheckInIntervalMonths     = 1
	MaxCheckInIntervalMonths     = 24
	DefaultCheckInIntervalMonths = 1
	MinGracePeriodDays           = 1
	MaxGracePeriodDays           = 30
	DefaultGracePeriodDays       = 7
)

// User is the subject of the switch. LastCheckIn drives the inactivity clock;
// NotificationSentAt is non-nil while the user is inside a grace period, and
// TriggeredAt is non-nil once delivery has been released and the user has not
// checked in since.
type User struct {
	ID                   int64
	Email                string
	Name                 string
	LastCheckIn          time.Time
	CheckInIntervalMonth int
	GracePeriodDays      int
	NotificationSentAt   *time.Time
	TriggeredAt          *time.Time
	CreatedAt            time.Time
}

// CheckInInterval returns the interval as a duration using 30-day months.
func (u User) CheckInInterval() time.Duration {
	return time.Duration(u.CheckInIntervalMonth*DaysPerMonth) * 24 * time.Hour
}

// GracePeriod returns the grace period as a duration.
func (u User) GracePeriod() time.Duration {
	return time.Duration(u.GracePeriodDays) * 24 * time.Hour
}

// NextCheckInDue returns the deadline after which the user is considered inactive.
func (u User) NextCheckInDue() time.Time {
	return u.LastCheckIn.Add(u.CheckInInterval())
}

// GraceDeadline returns the end of the grace period, or the zero time when no
// notification has been sent in the current cycle.
func (u User) GraceDeadline() time.Time {
	if u.NotificationSentAt == nil {
		return time.Time{}
	}
	return u.NotificationSentAt.Add(u.GracePeriod())
}
