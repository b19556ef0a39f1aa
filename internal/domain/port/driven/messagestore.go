package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// Sentinel errors returned by MessageStore implementations.
var (
	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateToken indicates a generated token collided with an existing one.
	ErrDuplicateToken = errors.New("duplicate token")
)

// MessageStore defines the driven port for legacy message persistence.
// Status transitions are conditional updates; methods returning a bool report
// whether this caller won the transition.
type MessageStore interface {
	Create(ctx context.Context, msg model.Message) (model.Message, error)
	// AppendToChain inserts msg as the next generation of msg.ChainID. The
	// generation is assigned by the store and is unique within the chain.
	AppendToChain(ctx context.Context, msg model.Message) (model.Message, error)

	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetByAccessToken(ctx context.Context, token string) (*model.Message, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Message, error)
	// ListChain returns every message of the chain ordered by generation, then creation time.
	ListChain(ctx context.Context, chainID string) ([]model.Message, error)

	// MarkScheduled moves a created message to scheduled and records its job.
	MarkScheduled(ctx context.Context, id, jobID string) (bool, error)
	SetJobID(ctx context.Context, id, jobID string) error

	// Claim flips the message to pending with a lease ending at leaseUntil.
	// Created and scheduled messages can be claimed once their delivery date
	// is not after now, as can pending messages whose lease is unset or
	// expired at now.
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	// RequeueFailed moves a failed message back to scheduled.
	RequeueFailed(ctx context.Context, id string) (bool, error)

	// ListDue returns ids of scheduled messages whose delivery date has passed
	// and of claimable pending messages.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListRetryable returns ids of failed messages with a delivery date at or after since.
	ListRetryable(ctx context.Context, since time.Time, limit int) ([]string, error)
	// ListUnscheduled returns messages still in the created state.
	ListUnscheduled(ctx context.Context, limit int) ([]model.Message, error)

	// Stats counts messages by status. userID nil means all users. Failed
	// messages with a delivery date at or after retrySince count as
	// retryable; sent messages older than archiveBefore count as archivable.
	Stats(ctx context.Context, userID *int64, retrySince, archiveBefore time.Time) (model.DeliveryStats, error)
}
