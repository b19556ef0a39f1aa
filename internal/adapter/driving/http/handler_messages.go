package httphandler

import (
	"net/http"
	"time"

	"github.com/ericfisherdev/afteryou/internal/application"
)

// CreateMessageRequest is the body of POST /api/v1/users/{userID}/messages.
type CreateMessageRequest struct {
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	RecipientEmail string    `json:"recipient_email"`
	DeliveryDate   time.Time `json:"delivery_date"`
}

// ExtendChainRequest is the body of POST /api/v1/chain/{token}/extend.
type ExtendChainRequest struct {
	RecipientEmail string `json:"recipient_email"`
	Content        string `json:"content"`
	SenderName     string `json:"sender_name"`
}

// ListMessages returns the messages authored by the user.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	msgs, err := h.svc.Messages.List(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

// CreateMessage stores a legacy message and schedules its delivery.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req CreateMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.svc.Messages.Create(r.Context(), userID, application.NewMessage{
		Title:          req.Title,
		Content:        req.Content,
		RecipientEmail: req.RecipientEmail,
		DeliveryDate:   req.DeliveryDate,
	})
	if err != nil {
		h.writeServiceError(w, "create message", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// GetMessage returns one of the user's messages.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	msg, err := h.svc.Messages.Get(r.Context(), userID, r.PathValue("messageID"))
	if err != nil {
		h.writeServiceError(w, "get message", err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponse(*msg))
}

// UserStats reports delivery statistics for the user's messages.
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if _, err := h.svc.Users.Status(r.Context(), userID); err != nil {
		h.writeServiceError(w, "get user status", err)
		return
	}

	stats, err := h.svc.Delivery.Stats(r.Context(), &userID)
	if err != nil {
		h.writeServiceError(w, "user stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GlobalStats reports delivery statistics across all users, including the
// number of messages old enough to archive.
func (h *Handler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Delivery.Stats(r.Context(), nil)
	if err != nil {
		h.writeServiceError(w, "global stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetJob reports the scheduler's view of a delivery job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Scheduler.Status(r.Context(), r.PathValue("jobID"))
	if err != nil {
		h.writeServiceError(w, "job status", err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(status))
}

// ViewChain returns the message behind an access token with its chain position.
func (h *Handler) ViewChain(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Chain.View(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeServiceError(w, "view chain", err)
		return
	}

	writeJSON(w, http.StatusOK, toChainViewResponse(view))
}

// FullChain returns every generation of the chain behind an access token.
func (h *Handler) FullChain(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Chain.FullChain(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeServiceError(w, "full chain", err)
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

// ExtendChain appends a recipient's reply to a chain.
func (h *Handler) ExtendChain(w http.ResponseWriter, r *http.Request) {
	var req ExtendChainRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, err := h.svc.Chain.Extend(r.Context(), r.PathValue("token"), application.Extension{
		RecipientEmail: req.RecipientEmail,
		Content:        req.Content,
		SenderName:     req.SenderName,
	})
	if err != nil {
		h.writeServiceError(w, "extend chain", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(reply))
}
