package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// NewMessage is the owner's input for a legacy message.
type NewMessage struct {
	Title          string
	Content        string
	RecipientEmail string
	DeliveryDate   time.Time
}

// MessageService manages the legacy messages a user authors.
type MessageService struct {
	messages  driven.MessageStore
	users     driven.UserStore
	scheduler driven.DeliveryScheduler
	now       func() time.Time
}

// NewMessageService creates a MessageService.
func NewMessageService(messages driven.MessageStore, users driven.UserStore, scheduler driven.DeliveryScheduler) *MessageService {
	return &MessageService{messages: messages, users: users, scheduler: scheduler, now: time.Now}
}

// Create validates and stores a message, then schedules its delivery. When
// the scheduler is unavailable the message is still created and left for the
// reconcile sweep; the failure is logged, not returned.
func (s *MessageService) Create(ctx context.Context, userID int64, in NewMessage) (model.Message, error) {
	now := s.now()
	if err := validateNewMessage(in, now); err != nil {
		return model.Message{}, err
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return model.Message{}, err
	}

	id := uuid.NewString()
	msg := model.Message{
		ID:                   id,
		UserID:               &userID,
		Title:                strings.TrimSpace(in.Title),
		Content:              in.Content,
		RecipientEmail:       strings.TrimSpace(in.RecipientEmail),
		DeliveryDate:         in.DeliveryDate.UTC(),
		Status:               model.MessageStatusCreated,
		CreatedAt:            now.UTC(),
		ChainID:              id,
		Generation:           1,
		RecipientAccessToken: uuid.NewString(),
	}

	msg, err := s.messages.Create(ctx, msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}

	jobID, err := scheduleMessage(ctx, s.messages, s.scheduler, msg.ID, msg.DeliveryDate)
	if err != nil {
		slog.Error("message scheduling failed, left for reconcile", "message_id", msg.ID, "error", err)
		return msg, nil
	}

	msg.Status = model.MessageStatusScheduled
	msg.JobID = jobID

	slog.Info("message created", "message_id", msg.ID, "user_id", userID, "delivery_date", msg.DeliveryDate)
	return msg, nil
}

// List returns the user's messages.
func (s *MessageService) List(ctx context.Context, userID int64) ([]model.Message, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.messages.ListByUser(ctx, userID)
}

// Get returns one of the user's messages. Messages of other users are
// reported as not found.
func (s *MessageService) Get(ctx context.Context, userID int64, messageID string) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.UserID == nil || *msg.UserID != userID {
		return nil, fmt.Errorf("message %s: %w", messageID, driven.ErrMessageNotFound)
	}
	return msg, nil
}

func validateNewMessage(in NewMessage, now time.Time) error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if strings.TrimSpace(in.Content) == "" {
		return invalid("content", "is required")
	}
	if err := validateEmail("recipient_email", in.RecipientEmail); err != nil {
		return err
	}
	if in.DeliveryDate.IsZero() {
		return invalid("delivery_date", "is required")
	}
	if !in.DeliveryDate.After(now) {
		return invalid("delivery_date", "must be in the future")
	}
	return nil
}
