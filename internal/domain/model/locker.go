package model

import "time"

// Locker setting bounds and defaults.
const (
	DefaultOTPValidHours       = 24
	MaxOTPValidHours           = 168
	DefaultAccessAttemptsLimit = 3
	MaxAccessAttemptsLimit     = 10
	DefaultAutoDeleteDays      = 30
	MaxAutoDeleteDays          = 365
)

// DigitalLocker is a per-user vault of encrypted credentials released to an
// inheritor after the switch triggers and an OTP exchange succeeds.
// WrappedKey is the locker's master key sealed with the service key.
type DigitalLocker struct {
	ID                    int64
	UserID                int64
	InheritorName         string
	InheritorEmail        string
	InheritorPhone        string
	WrappedKey            string
	OTPValidHours         int
	AccessAttemptsLimit   int
	AutoDeleteAfterAccess bool
	AutoDeleteDays        int
	Status                LockerStatus
	TriggeredAt           *time.Time
	AccessedAt            *time.Time
	ExpiresAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// LockerSettings holds the owner-editable fields of a locker.
type LockerSettings struct {
	InheritorName         string
	InheritorEmail        string
	InheritorPhone        string
	OTPValidHours         int
	AccessAttemptsLimit   int
	AutoDeleteAfterAccess bool
	AutoDeleteDays        int
}

// DefaultLockerSettings returns the settings applied to a new locker.
func DefaultLockerSettings() LockerSettings {
	return LockerSettings{
		OTPValidHours:       DefaultOTPValidHours,
		AccessAttemptsLimit: DefaultAccessAttemptsLimit,
		AutoDeleteDays:      DefaultAutoDeleteDays,
	}
}

// LockerAccessToken is a one-time passcode gating inheritor access.
type LockerAccessToken struct {
	ID           int64
	LockerID     int64
	Token        string
	AttemptsUsed int
	IsUsed       bool
	ExpiresAt    time.Time
	AccessedAt   *time.Time
	CreatedAt    time.Time
}

// Valid reports whether the token can still be redeemed at now.
func (t LockerAccessToken) Valid(now time.Time, attemptsLimit int) bool {
	return !t.IsUsed && now.Before(t.ExpiresAt) && t.AttemptsUsed < attemptsLimit
}

// AccessLog is one entry of a locker's append-only audit trail.
type AccessLog struct {
	ID        int64
	LockerID  int64
	Action    AccessAction
	IPAddress string
	UserAgent string
	Details   string
	CreatedAt time.Time
}
