package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ericfisherdev/afteryou/internal/application"
	"github.com/ericfisherdev/afteryou/internal/domain/model"
	"github.com/ericfisherdev/afteryou/internal/domain/port/driven"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// attemptErrorResponse is returned for a rejected locker access code.
type attemptErrorResponse struct {
	Error             string `json:"error"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

// HealthResponse is the JSON representation of a health check.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// UserResponse is the JSON representation of a user's check-in state.
type UserResponse struct {
	ID                 int64   `json:"id"`
	Email              string  `json:"email"`
	Name               string  `json:"name"`
	LastCheckIn        string  `json:"last_check_in"`
	CheckInInterval    int     `json:"check_in_interval"`
	GracePeriod        int     `json:"grace_period"`
	NotificationSentAt *string `json:"notification_sent_at"`
	TriggeredAt        *string `json:"triggered_at"`
	NextCheckInDue     string  `json:"next_check_in_due"`
	IsOverdue          bool    `json:"is_overdue"`
	GraceDeadline      *string `json:"grace_deadline"`
	DaysRemaining      int     `json:"days_remaining"`
}

// MessageResponse is the JSON representation of a legacy message.
type MessageResponse struct {
	ID                   string  `json:"id"`
	Title                string  `json:"title"`
	Content              string  `json:"content"`
	RecipientEmail       string  `json:"recipient_email"`
	DeliveryDate         string  `json:"delivery_date"`
	Status               string  `json:"status"`
	CreatedAt            string  `json:"created_at"`
	SentAt               *string `json:"sent_at"`
	JobID                string  `json:"job_id,omitempty"`
	ChainID              string  `json:"chain_id"`
	Generation           int     `json:"generation"`
	ParentID             string  `json:"parent_message,omitempty"`
	SenderName           string  `json:"sender_name,omitempty"`
	RecipientAccessToken string  `json:"recipient_access_token"`
}

// ChainViewResponse is what a recipient sees when opening a message link.
type ChainViewResponse struct {
	Message          MessageResponse `json:"message"`
	ChainID          string          `json:"chain_id"`
	Generation       int             `json:"generation"`
	TotalGenerations int             `json:"total_generations"`
	ParentToken      string          `json:"parent_token,omitempty"`
}

// JobResponse is the JSON representation of a scheduler job.
type JobResponse struct {
	ID        string  `json:"id"`
	MessageID string  `json:"message_id,omitempty"`
	State     string  `json:"state"`
	RunAt     *string `json:"run_at"`
}

// LockerResponse is the JSON representation of a digital locker. The wrapped
// master key is never exposed.
type LockerResponse struct {
	ID                    int64   `json:"id"`
	UserID                int64   `json:"user_id"`
	InheritorName         string  `json:"inheritor_name"`
	InheritorEmail        string  `json:"inheritor_email"`
	InheritorPhone        string  `json:"inheritor_phone"`
	OTPValidHours         int     `json:"otp_valid_hours"`
	AccessAttemptsLimit   int     `json:"access_attempts_limit"`
	AutoDeleteAfterAccess bool    `json:"auto_delete_after_access"`
	AutoDeleteDays        int     `json:"auto_delete_days"`
	Status                string  `json:"status"`
	TriggeredAt           *string `json:"triggered_at"`
	AccessedAt            *string `json:"accessed_at"`
	ExpiresAt             *string `json:"expires_at"`
	CreatedAt             string  `json:"created_at"`
}

// CredentialResponse is the JSON representation of a credential entry. The
// secret fields are only populated for an inheritor after a successful
// access code exchange.
type CredentialResponse struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Category          string `json:"category"`
	Website           string `json:"website"`
	AccountIdentifier string `json:"account_identifier"`
	Notes             string `json:"notes"`
	Priority          int    `json:"priority"`
	IsActive          bool   `json:"is_active"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"`
	AdditionalData    string `json:"additional_data,omitempty"`
}

// AccessLogResponse is the JSON representation of a locker audit entry.
type AccessLogResponse struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TriggerResponse reports an inheritance trigger.
type TriggerResponse struct {
	Locker  LockerResponse `json:"locker"`
	OTPSent bool           `json:"otp_sent"`
}

// AccessGrantResponse is returned to the inheritor after a valid access code.
type AccessGrantResponse struct {
	Locker      LockerResponse       `json:"locker"`
	Credentials []CredentialResponse `json:"credentials"`
}

// TaskResponse wraps the report of a task hook run.
type TaskResponse struct {
	Task   string `json:"task"`
	Status string `json:"status"`
	Result any    `json:"result"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toUserResponse(s application.UserStatus) UserResponse {
	u := s.User
	return UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		LastCheckIn:        formatTime(u.LastCheckIn),
		CheckInInterval:    u.CheckInIntervalMonth,
		GracePeriod:        u.GracePeriodDays,
		NotificationSentAt: formatOptionalTime(u.NotificationSentAt),
		TriggeredAt:        formatOptionalTime(u.TriggeredAt),
		NextCheckInDue:     formatTime(s.NextCheckInDue),
		IsOverdue:          s.IsOverdue,
		GraceDeadline:      formatOptionalTime(s.GraceDeadline),
		DaysRemaining:      s.DaysRemaining,
	}
}

func toMessageResponse(m model.Message) MessageResponse {
	return MessageResponse{
		ID:                   m.ID,
		Title:                m.Title,
		Content:              m.Content,
		RecipientEmail:       m.RecipientEmail,
		DeliveryDate:         formatTime(m.DeliveryDate),
		Status:               string(m.Status),
		CreatedAt:            formatTime(m.CreatedAt),
		SentAt:               formatOptionalTime(m.SentAt),
		JobID:                m.JobID,
		ChainID:              m.ChainID,
		Generation:           m.Generation,
		ParentID:             m.ParentID,
		SenderName:           m.SenderName,
		RecipientAccessToken: m.RecipientAccessToken,
	}
}

func toMessageResponses(msgs []model.Message) []MessageResponse {
	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return resp
}

func toChainViewResponse(v model.ChainView) ChainViewResponse {
	return ChainViewResponse{
		Message:          toMessageResponse(v.Message),
		ChainID:          v.ChainID,
		Generation:       v.Generation,
		TotalGenerations: v.TotalGenerations,
		ParentToken:      v.ParentToken,
	}
}

func toJobResponse(s model.JobStatus) JobResponse {
	resp := JobResponse{ID: s.ID, MessageID: s.MessageID, State: string(s.State)}
	if !s.RunAt.IsZero() {
		resp.RunAt = formatOptionalTime(&s.RunAt)
	}
	return resp
}

func toLockerResponse(l model.DigitalLocker) LockerResponse {
	return LockerResponse{
		ID:                    l.ID,
		UserID:                l.UserID,
		InheritorName:         l.InheritorName,
		InheritorEmail:        l.InheritorEmail,
		InheritorPhone:        l.InheritorPhone,
		OTPValidHours:         l.OTPValidHours,
		AccessAttemptsLimit:   l.AccessAttemptsLimit,
		AutoDeleteAfterAccess: l.AutoDeleteAfterAccess,
		AutoDeleteDays:        l.AutoDeleteDays,
		Status:                string(l.Status),
		TriggeredAt:           formatOptionalTime(l.TriggeredAt),
		AccessedAt:            formatOptionalTime(l.AccessedAt),
		ExpiresAt:             formatOptionalTime(l.ExpiresAt),
		CreatedAt:             formatTime(l.CreatedAt),
	}
}

func toCredentialResponse(e model.CredentialEntry) CredentialResponse {
	return CredentialResponse{
		ID:                e.ID,
		Title:             e.Title,
		Category:          string(e.Category),
		Website:           e.Website,
		AccountIdentifier: e.AccountIdentifier,
		Notes:             e.Notes,
		Priority:          e.Priority,
		IsActive:          e.IsActive,
		CreatedAt:         formatTime(e.CreatedAt),
		UpdatedAt:         formatTime(e.UpdatedAt),
	}
}

func toRevealedResponse(c model.RevealedCredential) CredentialResponse {
	resp := toCredentialResponse(c.Entry)
	resp.Username = c.Secrets.Username
	resp.Password = c.Secrets.Password
	resp.AdditionalData = c.Secrets.AdditionalData
	return resp
}

func toAccessLogResponse(l model.AccessLog) AccessLogResponse {
	return AccessLogResponse{
		ID:        l.ID,
		Action:    string(l.Action),
		IPAddress: l.IPAddress,
		UserAgent: l.UserAgent,
		Details:   l.Details,
		CreatedAt: formatTime(l.CreatedAt),
	}
}

// writeServiceError maps an application or store error to its HTTP status.
// Unmapped errors are logged and reported as a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var verr *application.ValidationError
	var aerr *application.AttemptError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, driven.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, driven.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, driven.ErrLockerNotFound):
		writeError(w, http.StatusNotFound, "locker not found")
	case errors.Is(err, driven.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, driven.ErrUserAlreadyExists):
		writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, application.ErrLockerNotActive),
		errors.Is(err, application.ErrLockerNotTriggered),
		errors.Is(err, application.ErrLockerExpired),
		errors.Is(err, application.ErrInheritorMissing),
		errors.Is(err, application.ErrOTPAlreadyUsed):
		writeError(w, http.StatusConflict, rootMessage(err))
	case errors.As(err, &aerr):
		writeJSON(w, http.StatusForbidden, attemptErrorResponse{
			Error:             aerr.Err.Error(),
			AttemptsRemaining: aerr.AttemptsRemaining,
		})
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage returns the message of the application sentinel wrapped by err.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		application.ErrLockerNotActive,
		application.ErrLockerNotTriggered,
		application.ErrLockerExpired,
		application.ErrInheritorMissing,
		application.ErrOTPAlreadyUsed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
