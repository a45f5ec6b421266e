package api

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/api/shared"
	"github.com/repodocs/repodocs-api/internal/queue"
)

// JobHandler handles the submitter-facing job endpoints: enqueue, inspect,
// list, cancel and log retrieval.
type JobHandler struct {
	queue     queue.JobQueue
	validator *validator.Validate
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(q queue.JobQueue) *JobHandler {
	return &JobHandler{
		queue:     q,
		validator: validator.New(),
	}
}

// EnqueueJob handles POST /api/jobs requests.
func (h *JobHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid owner_id")
		return
	}

	result, err := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		OwnerID:   ownerID,
		RepoID:    req.RepoID,
		Prompt:    req.Prompt,
		DedupeKey: req.DedupeKey,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	response := EnqueueJobResponse{JobID: result.JobID, Duplicate: result.Duplicate}

	// A duplicate submission still succeeds; it just points at the
	// already-active job instead of a fresh one.
	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	shared.RespondWithJSON(w, r, status, response)
}

// GetJob handles GET /api/jobs/{id} requests.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, err := h.queue.GetJob(r.Context(), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /api/jobs?owner_id={uuid} requests.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerParam := r.URL.Query().Get("owner_id")
	if ownerParam == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	ownerID, err := uuid.Parse(ownerParam)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid owner_id")
		return
	}

	jobs, err := h.queue.ListJobsForOwner(r.Context(), ownerID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// CancelJob handles POST /api/jobs/{id}/cancel requests. Only the job's
// submitter may cancel it through this endpoint.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var req CancelJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid owner_id")
		return
	}

	if err := h.queue.Cancel(r.Context(), jobID, ownerID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, err := h.queue.GetJob(r.Context(), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// RequestCancelJob handles POST /api/jobs/{id}/request-cancel requests: the
// cooperative path that flags a running job for its worker to abort.
func (h *JobHandler) RequestCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.queue.RequestCancel(r.Context(), jobID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetJobLogs handles GET /api/jobs/{id}/logs?after={seq} requests. Entries
// are returned in ascending sequence order; the after parameter supports
// incremental polling.
func (h *JobHandler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var afterSeq int64
	if afterParam := r.URL.Query().Get("after"); afterParam != "" {
		afterSeq, err = strconv.ParseInt(afterParam, 10, 64)
		if err != nil || afterSeq < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid after parameter")
			return
		}
	}

	entries, err := h.queue.GetLogs(r.Context(), jobID, afterSeq)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	responses := make([]LogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, logEntryToResponse(entry))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetMetrics handles GET /api/metrics requests.
func (h *JobHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := h.queue.Metrics(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	counts := make(map[string]int, len(report.Counts))
	for status, count := range report.Counts {
		counts[string(status)] = count
	}

	recent := make([]JobResponse, 0, len(report.RecentActivity))
	for _, job := range report.RecentActivity {
		recent = append(recent, jobToResponse(job))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, MetricsResponse{
		Counts:         counts,
		RecentActivity: recent,
	})
}
