package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/repodocs/repodocs-api/internal/api/middleware"
	"github.com/repodocs/repodocs-api/internal/api/shared"
	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/queue"
)

// WorkerHandler handles the worker-facing queue endpoints: claim,
// heartbeat, complete, fail and log append. Apart from claim, every
// endpoint sits behind the callback-token middleware, which guarantees the
// path job id matches the token the worker presented.
type WorkerHandler struct {
	queue     queue.JobQueue
	validator *validator.Validate
}

// NewWorkerHandler creates a new WorkerHandler.
func NewWorkerHandler(q queue.JobQueue) *WorkerHandler {
	return &WorkerHandler{
		queue:     q,
		validator: validator.New(),
	}
}

// ClaimJob handles POST /api/worker/claim requests. Responds 204 when no
// job is ready; an empty queue is the normal idle state, not an error.
func (h *WorkerHandler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	var req ClaimJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	lease := time.Duration(req.LeaseSeconds) * time.Second
	job, err := h.queue.Claim(r.Context(), req.WorkerID, lease)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ClaimJobResponse{
		Job:           jobToResponse(job),
		CallbackToken: job.CallbackToken,
	})
}

// HeartbeatJob handles POST /api/worker/jobs/{id}/heartbeat requests.
func (h *WorkerHandler) HeartbeatJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := middleware.GetJobID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Job ID not found in request context")
		return
	}

	var req HeartbeatJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	hbReq := queue.HeartbeatRequest{
		JobID:    jobID,
		WorkerID: req.WorkerID,
		SubState: domain.JobStatus(req.Status),
		Lease:    time.Duration(req.LeaseSeconds) * time.Second,
	}
	if req.CurrentStep > 0 || req.TotalSteps > 0 || req.Progress != "" {
		hbReq.Progress = &queue.ProgressUpdate{
			CurrentStep: req.CurrentStep,
			TotalSteps:  req.TotalSteps,
			Description: req.Progress,
		}
	}

	result, err := h.queue.Heartbeat(r.Context(), hbReq)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, HeartbeatJobResponse{
		LeaseUntil:      result.LeaseUntil,
		CancelRequested: result.CancelRequested,
	})
}

// CompleteJob handles POST /api/worker/jobs/{id}/complete requests.
func (h *WorkerHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := middleware.GetJobID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Job ID not found in request context")
		return
	}

	var req CompleteJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	err := h.queue.Complete(r.Context(), queue.CompleteRequest{
		JobID:       jobID,
		WorkerID:    req.WorkerID,
		Result:      req.Result,
		ResultCount: req.ResultCount,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FailJob handles POST /api/worker/jobs/{id}/fail requests. The response
// tells the worker whether the job will retry or was dead-lettered.
func (h *WorkerHandler) FailJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := middleware.GetJobID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Job ID not found in request context")
		return
	}

	var req FailJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	result, err := h.queue.RetryOrFail(r.Context(), jobID, req.WorkerID, req.Error)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, FailJobResponse{
		Outcome:   result.Outcome,
		Attempts:  result.Attempts,
		NextRunAt: result.NextRunAt,
	})
}

// AppendJobLog handles POST /api/worker/jobs/{id}/logs requests.
func (h *WorkerHandler) AppendJobLog(w http.ResponseWriter, r *http.Request) {
	jobID, ok := middleware.GetJobID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Job ID not found in request context")
		return
	}

	var req AppendLogRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	if err := h.queue.AppendLog(r.Context(), jobID, domain.LogLevel(req.Level), req.Msg); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.WriteHeader(http.StatusCreated)
}
