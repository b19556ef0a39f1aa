package model

// MessageStatus is the delivery state of a Message.
type MessageStatus string

const (
	MessageStatusCreated   MessageStatus = "created"
	MessageStatusScheduled MessageStatus = "scheduled"
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
)

// LockerStatus is the lifecycle state of a DigitalLocker.
type LockerStatus string

const (
	LockerStatusActive    LockerStatus = "active"
	LockerStatusLocked    LockerStatus = "locked"
	LockerStatusTriggered LockerStatus = "triggered"
	LockerStatusAccessed  LockerStatus = "accessed"
	LockerStatusExpired   LockerStatus = "expired"
	LockerStatusDeleted   LockerStatus = "deleted"
)

// CredentialCategory groups credential entries for the inheritor.
type CredentialCategory string

const (
	CategoryEmail        CredentialCategory = "email"
	CategoryBanking      CredentialCategory = "banking"
	CategoryCrypto       CredentialCategory = "crypto"
	CategorySocial       CredentialCategory = "social"
	CategoryCloud        CredentialCategory = "cloud"
	CategoryDomain       CredentialCategory = "domain"
	CategorySubscription CredentialCategory = "subscription"
	CategoryOther        CredentialCategory = "other"
)

// Valid reports whether c is a known category.
func (c CredentialCategory) Valid() bool {
	switch c {
	case CategoryEmail, CategoryBanking, CategoryCrypto, CategorySocial,
		CategoryCloud, CategoryDomain, CategorySubscription, CategoryOther:
		return true
	}
	return false
}

// AccessAction is the kind of event recorded in a locker's audit trail.
type AccessAction string

const (
	ActionCreated           AccessAction = "created"
	ActionUpdated           AccessAction = "updated"
	ActionTriggered         AccessAction = "triggered"
	ActionOTPSent           AccessAction = "otp_sent"
	ActionAccessGranted     AccessAction = "access_granted"
	ActionFailedAttempt     AccessAction = "failed_attempt"
	ActionViewedCredentials AccessAction = "viewed_credentials"
	ActionExportedData      AccessAction = "exported_data"
	ActionAutoDeleted       AccessAction = "auto_deleted"
	ActionExpired           AccessAction = "expired"
)

// JobState is the scheduler-side state of a delivery job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateDispatched JobState = "dispatched"
	JobStateUnknown    JobState = "unknown"
)
