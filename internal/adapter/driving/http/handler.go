package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/afteryou/internal/application"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Services groups the application services the REST API drives.
type Services struct {
	Users      *application.UserService
	Messages   *application.MessageService
	Chain      *application.ChainService
	Delivery   *application.DeliveryService
	Scheduler  *application.SchedulerService
	Locker     *application.LockerService
	Escalation *application.EscalationService
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	svc    Services
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(svc Services, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
		now:    time.Now,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request ID, logging and recovery middleware. A nil verifier disables
// the task hooks.
func NewServeMux(h *Handler, verifier *TaskVerifier, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("POST /api/v1/users", h.RegisterUser)
	mux.HandleFunc("GET /api/v1/users/{userID}", h.GetUser)
	mux.HandleFunc("POST /api/v1/users/{userID}/check-in", h.CheckIn)
	mux.HandleFunc("PUT /api/v1/users/{userID}/settings", h.UpdateUserSettings)

	mux.HandleFunc("GET /api/v1/users/{userID}/messages", h.ListMessages)
	mux.HandleFunc("POST /api/v1/users/{userID}/messages", h.CreateMessage)
	mux.HandleFunc("GET /api/v1/users/{userID}/messages/{messageID}", h.GetMessage)
	mux.HandleFunc("GET /api/v1/users/{userID}/stats", h.UserStats)
	mux.HandleFunc("GET /api/v1/stats", h.GlobalStats)
	mux.HandleFunc("GET /api/v1/jobs/{jobID}", h.GetJob)

	mux.HandleFunc("GET /api/v1/chain/{token}", h.ViewChain)
	mux.HandleFunc("GET /api/v1/chain/{token}/full", h.FullChain)
	mux.HandleFunc("POST /api/v1/chain/{token}/extend", h.ExtendChain)

	mux.HandleFunc("GET /api/v1/users/{userID}/locker", h.GetLocker)
	mux.HandleFunc("PUT /api/v1/users/{userID}/locker", h.UpdateLocker)
	mux.HandleFunc("GET /api/v1/users/{userID}/locker/credentials", h.ListCredentials)
	mux.HandleFunc("POST /api/v1/users/{userID}/locker/credentials", h.AddCredential)
	mux.HandleFunc("PUT /api/v1/users/{userID}/locker/credentials/{credentialID}", h.UpdateCredential)
	mux.HandleFunc("DELETE /api/v1/users/{userID}/locker/credentials/{credentialID}", h.DeleteCredential)
	mux.HandleFunc("POST /api/v1/users/{userID}/locker/trigger", h.TriggerLocker)
	mux.HandleFunc("GET /api/v1/users/{userID}/locker/logs", h.LockerLogs)
	mux.HandleFunc("POST /api/v1/lockers/{lockerID}/access", h.AccessLocker)

	mux.Handle("POST /api/tasks/{task}", h.taskHandler(verifier))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   formatTime(h.now()),
	})
}

// RegisterUserRequest is the body of POST /api/v1/users.
type RegisterUserRequest struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	CheckInInterval int    `json:"check_in_interval"`
	GracePeriod     int    `json:"grace_period"`
}

// RegisterUser creates a user whose inactivity clock starts now.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.svc.Users.Register(r.Context(), application.Registration{
		Email:          req.Email,
		Name:           req.Name,
		IntervalMonths: req.CheckInInterval,
		GraceDays:      req.GracePeriod,
	})
	if err != nil {
		h.writeServiceError(w, "register user", err)
		return
	}

	status, err := h.svc.Users.Status(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, "get user status", err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(status))
}

// GetUser returns the user's check-in status.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	status, err := h.svc.Users.Status(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get user status", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(status))
}

// CheckIn restarts the user's inactivity clock.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	status, err := h.svc.Users.CheckIn(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "check in", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(status))
}

// UserSettingsRequest is the body of PUT /api/v1/users/{userID}/settings.
type UserSettingsRequest struct {
	CheckInInterval int `json:"check_in_interval"`
	GracePeriod     int `json:"grace_period"`
}

// UpdateUserSettings changes the check-in interval and grace period.
func (h *Handler) UpdateUserSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req UserSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := h.svc.Users.UpdateSettings(r.Context(), userID, req.CheckInInterval, req.GracePeriod)
	if err != nil {
		h.writeServiceError(w, "update user settings", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(status))
}

// pathID parses a positive integer path value, writing a 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
