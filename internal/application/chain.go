package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

const (
	replyPrefix      = "Re: "
	anonymousSender  = "Anonymous"
	maxSenderName    = 100
	tokenInsertTries = 3
)

// Extension is a recipient's reply continuing a chain.
type Extension struct {
	RecipientEmail string
	Content        string
	SenderName     string
}

// ChainService implements reading and extending message chains by access token.
type ChainService struct {
	messages  driven.MessageStore
	scheduler driven.DeliveryScheduler
	now       func() time.Time
}

// NewChainService creates a ChainService.
func NewChainService(messages driven.MessageStore, scheduler driven.DeliveryScheduler) *ChainService {
	return &ChainService{messages: messages, scheduler: scheduler, now: time.Now}
}

// View returns the message behind token with its chain metadata.
func (s *ChainService) View(ctx context.Context, token string) (model.ChainView, error) {
	msg, err := s.messages.GetByAccessToken(ctx, token)
	if err != nil {
		return model.ChainView{}, err
	}

	chain, err := s.messages.ListChain(ctx, msg.ChainID)
	if err != nil {
		return model.ChainView{}, fmt.Errorf("list chain %s: %w", msg.ChainID, err)
	}

	view := model.ChainView{
		Message:          *msg,
		ChainID:          msg.ChainID,
		Generation:       msg.Generation,
		TotalGenerations: len(chain),
	}
	for _, m := range chain {
		if m.ID == msg.ParentID {
			view.ParentToken = m.RecipientAccessToken
			break
		}
	}

	return view, nil
}

// FullChain returns every message in the chain of token, ordered by generation.
func (s *ChainService) FullChain(ctx context.Context, token string) ([]model.Message, error) {
	msg, err := s.messages.GetByAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.messages.ListChain(ctx, msg.ChainID)
}

// Extend appends a reply to the chain of the message behind parentToken and
// queues it for immediate delivery. The store assigns the next free
// generation of the chain.
func (s *ChainService) Extend(ctx context.Context, parentToken string, in Extension) (model.Message, error) {
	if err := validateEmail("recipient_email", in.RecipientEmail); err != nil {
		return model.Message{}, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return model.Message{}, invalid("content", "is required")
	}

	parent, err := s.messages.GetByAccessToken(ctx, parentToken)
	if err != nil {
		return model.Message{}, err
	}

	sender := strings.TrimSpace(in.SenderName)
	if sender == "" {
		sender = anonymousSender
	}

	now := s.now().UTC()
	var reply model.Message
	for attempt := 1; ; attempt++ {
		reply, err = s.messages.AppendToChain(ctx, model.Message{
			ID:                   uuid.NewString(),
			Title:                replyTitle(parent.Title),
			Content:              in.Content,
			RecipientEmail:       strings.TrimSpace(in.RecipientEmail),
			DeliveryDate:         now,
			Status:               model.MessageStatusCreated,
			CreatedAt:            now,
			ChainID:              parent.ChainID,
			ParentID:             parent.ID,
			SenderName:           truncateRunes(sender, maxSenderName),
			RecipientAccessToken: uuid.NewString(),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, driven.ErrDuplicateToken) || attempt == tokenInsertTries {
			return model.Message{}, fmt.Errorf("extend chain %s: %w", parent.ChainID, err)
		}
	}

	jobID, err := enqueueMessage(ctx, s.messages, s.scheduler, reply.ID)
	if err != nil {
		slog.Error("chain reply enqueue failed, left for reconcile", "message_id", reply.ID, "error", err)
		return reply, nil
	}
	reply.JobID = jobID

	slog.Info("chain extended", "chain_id", reply.ChainID, "generation", reply.Generation, "message_id", reply.ID)
	return reply, nil
}

func replyTitle(parent string) string {
	if strings.HasPrefix(parent, replyPrefix) {
		return parent
	}
	return truncateRunes(replyPrefix+parent, maxTitleLength)
}
