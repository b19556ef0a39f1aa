package httphandler

import (
	"context"
	"io"
	"net/http"
	"strconv"
)

// Task names accepted by POST /api/tasks/{task}.
const (
	TaskEscalation    = "escalation"
	TaskDeliverDue    = "deliver-due"
	TaskRetryFailed   = "retry-failed"
	TaskReconcile     = "reconcile"
	TaskExpireLockers = "expire-lockers"
)

// Tasks lists every task hook in registration order.
var Tasks = []string{TaskEscalation, TaskDeliverDue, TaskRetryFailed, TaskReconcile, TaskExpireLockers}

type taskFunc func(ctx context.Context, r *http.Request) (any, error)

func (h *Handler) tasks() map[string]taskFunc {
	return map[string]taskFunc{
		TaskEscalation: func(ctx context.Context, r *http.Request) (any, error) {
			dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
			return h.svc.Escalation.RunSweep(ctx, dryRun)
		},
		TaskDeliverDue: func(ctx context.Context, _ *http.Request) (any, error) {
			return h.svc.Delivery.DeliverDue(ctx)
		},
		TaskRetryFailed: func(ctx context.Context, _ *http.Request) (any, error) {
			return h.svc.Delivery.RetryFailed(ctx)
		},
		TaskReconcile: func(ctx context.Context, _ *http.Request) (any, error) {
			return h.svc.Delivery.Reconcile(ctx)
		},
		TaskExpireLockers: func(ctx context.Context, _ *http.Request) (any, error) {
			return h.svc.Locker.ExpireSweep(ctx)
		},
	}
}

// taskHandler serves the signed task hooks called by the external scheduler.
// The signature is checked before the task name is looked up.
func (h *Handler) taskHandler(verifier *TaskVerifier) http.HandlerFunc {
	tasks := h.tasks()

	return func(w http.ResponseWriter, r *http.Request) {
		if verifier == nil {
			writeError(w, http.StatusServiceUnavailable, "task hooks are disabled")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := verifier.Verify(r.Header.Get(SignatureHeader), body, r.URL.Path); err != nil {
			h.logger.Warn("task signature rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		name := r.PathValue("task")
		run, ok := tasks[name]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown task")
			return
		}

		result, err := run(r.Context(), r)
		if err != nil {
			h.writeServiceError(w, "task "+name, err)
			return
		}

		h.logger.Info("task completed", "task", name)
		writeJSON(w, http.StatusOK, TaskResponse{Task: name, Status: "ok", Result: result})
	}
}
