package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

func TestCreateMessage(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "owner@example.com", 1, 10)

	msg := h.createMessage(t, user.ID, "  For you  ", t0.Add(time.Hour))
	assert.Equal(t, "For you", msg.Title)
	assert.Equal(t, model.MessageStatusScheduled, msg.Status)
	assert.Equal(t, 1, msg.Generation)
	assert.Equal(t, msg.ID, msg.ChainID)
	assert.NotEmpty(t, msg.RecipientAccessToken)
	require.NotNil(t, msg.UserID)
	assert.Equal(t, user.ID, *msg.UserID)

	status, err := h.scheduler.Status(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateQueued, status.State)
	assert.Equal(t, t0.Add(time.Hour), status.RunAt)
}

func TestCreateMessage_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com", 1, 10)

	valid := NewMessage{
		Title:          "Hello",
		Content:        "Body",
		RecipientEmail: "friend@example.com",
		DeliveryDate:   t0.Add(time.Hour),
	}

	tests := []struct {
		name  string
		edit  func(*NewMessage)
		field string
	}{
		{"empty title", func(m *NewMessage) { m.Title = "  " }, "title"},
		{"long title", func(m *NewMessage) { m.Title = strings.Repeat("x", 201) }, "title"},
		{"empty content", func(m *NewMessage) { m.Content = "" }, "content"},
		{"bad recipient", func(m *NewMessage) { m.RecipientEmail = "Friend <friend@example.com>" }, "recipient_email"},
		{"missing date", func(m *NewMessage) { m.DeliveryDate = time.Time{} }, "delivery_date"},
		{"date is now", func(m *NewMessage) { m.DeliveryDate = t0 }, "delivery_date"},
		{"date in past", func(m *NewMessage) { m.DeliveryDate = t0.Add(-time.Minute) }, "delivery_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.edit(&in)
			_, err := h.messageSvc.Create(ctx, user.ID, in)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	msgs, err := h.messageSvc.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected input stores nothing")

	_, err = h.messageSvc.Create(ctx, 9999, valid)
	require.ErrorIs(t, err, driven.ErrUserNotFound)
}

func TestCreateMessage_QueueDownLeavesCreated(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "owner@example.com", 1, 10)
	h.queue.SetDown(true)

	msg := h.createMessage(t, user.ID, "Hello", t0.Add(time.Hour))
	assert.Equal(t, model.MessageStatusCreated, msg.Status)
	assert.Empty(t, msg.JobID)
	assert.Equal(t, model.MessageStatusCreated, h.status(t, msg.ID))
}

func TestGetMessage_ScopedToOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com", 1, 10)
	other := h.register(t, "other@example.com", 1, 10)
	msg := h.createMessage(t, owner.ID, "Private", t0.Add(time.Hour))

	got, err := h.messageSvc.Get(ctx, owner.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Private", got.Title)

	_, err = h.messageSvc.Get(ctx, other.ID, msg.ID)
	require.ErrorIs(t, err, driven.ErrMessageNotFound)

	list, err := h.messageSvc.List(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
