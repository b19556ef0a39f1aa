package httphandler

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ericfisherdev/afteryou/internal/application"
	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// LockerSettingsRequest is the body of PUT /api/v1/users/{userID}/locker.
// Omitted fields keep their current value.
type LockerSettingsRequest struct {
	InheritorName         *string `json:"inheritor_name"`
	InheritorEmail        *string `json:"inheritor_email"`
	InheritorPhone        *string `json:"inheritor_phone"`
	OTPValidHours         *int    `json:"otp_valid_hours"`
	AccessAttemptsLimit   *int    `json:"access_attempts_limit"`
	AutoDeleteAfterAccess *bool   `json:"auto_delete_after_access"`
	AutoDeleteDays        *int    `json:"auto_delete_days"`
}

func (req LockerSettingsRequest) apply(l model.DigitalLocker) model.LockerSettings {
	s := model.LockerSettings{
		InheritorName:         l.InheritorName,
		InheritorEmail:        l.InheritorEmail,
		InheritorPhone:        l.InheritorPhone,
		OTPValidHours:         l.OTPValidHours,
		AccessAttemptsLimit:   l.AccessAttemptsLimit,
		AutoDeleteAfterAccess: l.AutoDeleteAfterAccess,
		AutoDeleteDays:        l.AutoDeleteDays,
	}
	if req.InheritorName != nil {
		s.InheritorName = *req.InheritorName
	}
	if req.InheritorEmail != nil {
		s.InheritorEmail = *req.InheritorEmail
	}
	if req.InheritorPhone != nil {
		s.InheritorPhone = *req.InheritorPhone
	}
	if req.OTPValidHours != nil {
		s.OTPValidHours = *req.OTPValidHours
	}
	if req.AccessAttemptsLimit != nil {
		s.AccessAttemptsLimit = *req.AccessAttemptsLimit
	}
	if req.AutoDeleteAfterAccess != nil {
		s.AutoDeleteAfterAccess = *req.AutoDeleteAfterAccess
	}
	if req.AutoDeleteDays != nil {
		s.AutoDeleteDays = *req.AutoDeleteDays
	}
	return s
}

// CredentialRequest is the body for adding or replacing a credential entry.
type CredentialRequest struct {
	Title             string `json:"title"`
	Category          string `json:"category"`
	Website           string `json:"website"`
	AccountIdentifier string `json:"account_identifier"`
	Notes             string `json:"notes"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	AdditionalData    string `json:"additional_data"`
	Priority          int    `json:"priority"`
	IsActive          *bool  `json:"is_active"`
}

func (req CredentialRequest) input() application.CredentialInput {
	return application.CredentialInput{
		Title:             req.Title,
		Category:          model.CredentialCategory(req.Category),
		Website:           req.Website,
		AccountIdentifier: req.AccountIdentifier,
		Notes:             req.Notes,
		Username:          req.Username,
		Password:          req.Password,
		AdditionalData:    req.AdditionalData,
		Priority:          req.Priority,
		IsActive:          req.IsActive,
	}
}

// AccessRequest is the body of POST /api/v1/lockers/{lockerID}/access.
type AccessRequest struct {
	OTPCode string `json:"otp_code"`
}

// GetLocker returns the user's locker, creating it on first access.
func (h *Handler) GetLocker(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	locker, err := h.svc.Locker.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get locker", err)
		return
	}

	writeJSON(w, http.StatusOK, toLockerResponse(locker))
}

// UpdateLocker changes the inheritor and access settings of the user's locker.
func (h *Handler) UpdateLocker(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req LockerSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	current, err := h.svc.Locker.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get locker", err)
		return
	}

	locker, err := h.svc.Locker.UpdateSettings(r.Context(), userID, req.apply(current))
	if err != nil {
		h.writeServiceError(w, "update locker", err)
		return
	}

	writeJSON(w, http.StatusOK, toLockerResponse(locker))
}

// ListCredentials returns the locker's entries with their secrets redacted.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	entries, err := h.svc.Locker.ListCredentials(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list credentials", err)
		return
	}

	resp := make([]CredentialResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toCredentialResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddCredential stores a new credential entry.
func (h *Handler) AddCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req CredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := h.svc.Locker.AddCredential(r.Context(), userID, req.input())
	if err != nil {
		h.writeServiceError(w, "add credential", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCredentialResponse(entry))
}

// UpdateCredential replaces a credential entry.
func (h *Handler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	credentialID, ok := pathID(w, r, "credentialID")
	if !ok {
		return
	}

	var req CredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := h.svc.Locker.UpdateCredential(r.Context(), userID, credentialID, req.input())
	if err != nil {
		h.writeServiceError(w, "update credential", err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(entry))
}

// DeleteCredential removes a credential entry.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	credentialID, ok := pathID(w, r, "credentialID")
	if !ok {
		return
	}

	if err := h.svc.Locker.DeleteCredential(r.Context(), userID, credentialID); err != nil {
		h.writeServiceError(w, "delete credential", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TriggerLocker releases the locker to its inheritor by hand.
func (h *Handler) TriggerLocker(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	result, err := h.svc.Locker.TriggerInheritance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "trigger locker", err)
		return
	}

	writeJSON(w, http.StatusOK, TriggerResponse{
		Locker:  toLockerResponse(result.Locker),
		OTPSent: result.OTPSent,
	})
}

// LockerLogs returns the locker's newest audit entries. The optional limit
// query parameter defaults to 100.
func (h *Handler) LockerLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := h.svc.Locker.Logs(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, "locker logs", err)
		return
	}

	resp := make([]AccessLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, toAccessLogResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AccessLocker exchanges an inheritor's access code for the credentials.
func (h *Handler) AccessLocker(w http.ResponseWriter, r *http.Request) {
	lockerID, ok := pathID(w, r, "lockerID")
	if !ok {
		return
	}

	var req AccessRequest
	if !decodeBody(w, r, &req) {
		return
	}

	grant, err := h.svc.Locker.Attempt(r.Context(), lockerID, application.AccessRequest{
		Code:      req.OTPCode,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(w, "locker access", err)
		return
	}

	creds := make([]CredentialResponse, 0, len(grant.Credentials))
	for _, c := range grant.Credentials {
		creds = append(creds, toRevealedResponse(c))
	}
	writeJSON(w, http.StatusOK, AccessGrantResponse{
		Locker:      toLockerResponse(grant.Locker),
		Credentials: creds,
	})
}

// clientIP returns the first X-Forwarded-For hop, falling back to the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
