package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
)

// Common request/response structures

// EnqueueJobRequest defines the payload for the job submission endpoint.
type EnqueueJobRequest struct {
	OwnerID string `json:"owner_id"   validate:"required,uuid"`
	RepoID  string `json:"repo_id"    validate:"required,min=1,max=512"`
	Prompt  string `json:"prompt"     validate:"required,min=1"`

	// DedupeKey optionally collapses identical submissions onto one
	// active job. Empty disables deduplication by key.
	DedupeKey string `json:"dedupe_key,omitempty" validate:"max=512"`
}

// EnqueueJobResponse defines the successful response for job submission.
// Duplicate is true when an already-active job absorbed the request.
type EnqueueJobResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Duplicate bool      `json:"duplicate"`
}

// JobResponse is the client-facing representation of a job.
type JobResponse struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	RepoID  string    `json:"repo_id"`
	Status  string    `json:"status"`
	Prompt  string    `json:"prompt"`

	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LeaseUntil  *time.Time `json:"lease_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Progress    string `json:"progress,omitempty"`

	Result          json.RawMessage `json:"result,omitempty"`
	ResultCount     int             `json:"result_count"`
	Error           string          `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClaimJobRequest defines the payload for the worker claim endpoint.
type ClaimJobRequest struct {
	WorkerID string `json:"worker_id" validate:"required,min=1,max=256"`

	// LeaseSeconds optionally overrides the server's default lease.
	LeaseSeconds int `json:"lease_seconds,omitempty" validate:"omitempty,min=1,max=86400"`
}

// ClaimJobResponse defines the response for a successful claim. The
// callback token authorizes every subsequent status update for this job.
type ClaimJobResponse struct {
	Job           JobResponse `json:"job"`
	CallbackToken string      `json:"callback_token"`
}

// HeartbeatJobRequest defines the payload for the worker heartbeat endpoint.
type HeartbeatJobRequest struct {
	WorkerID string `json:"worker_id" validate:"required,min=1,max=256"`

	// Status optionally narrows the job into a descriptive active
	// sub-state: cloning, analyzing, gathering or running.
	Status string `json:"status,omitempty" validate:"omitempty,oneof=cloning analyzing gathering running"`

	CurrentStep  int    `json:"current_step,omitempty"  validate:"omitempty,min=0"`
	TotalSteps   int    `json:"total_steps,omitempty"   validate:"omitempty,min=0"`
	Progress     string `json:"progress,omitempty"      validate:"max=1024"`
	LeaseSeconds int    `json:"lease_seconds,omitempty" validate:"omitempty,min=1,max=86400"`
}

// HeartbeatJobResponse reports the renewed lease and whether cancellation
// has been requested. Workers must abort promptly when CancelRequested is set.
type HeartbeatJobResponse struct {
	LeaseUntil      time.Time `json:"lease_until"`
	CancelRequested bool      `json:"cancel_requested"`
}

// CompleteJobRequest defines the payload for the worker completion endpoint.
type CompleteJobRequest struct {
	WorkerID    string          `json:"worker_id" validate:"required,min=1,max=256"`
	Result      json.RawMessage `json:"result,omitempty"`
	ResultCount int             `json:"result_count"  validate:"min=0"`
}

// FailJobRequest defines the payload for the worker failure endpoint.
type FailJobRequest struct {
	WorkerID string `json:"worker_id" validate:"required,min=1,max=256"`
	Error    string `json:"error"     validate:"required,min=1"`
}

// FailJobResponse reports the retry decision: "retrying" with the next run
// time, or "dead" once the attempt budget is exhausted.
type FailJobResponse struct {
	Outcome   string     `json:"outcome"`
	Attempts  int        `json:"attempts"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// AppendLogRequest defines the payload for the worker log append endpoint.
type AppendLogRequest struct {
	Level string `json:"level" validate:"required,oneof=info error"`
	Msg   string `json:"msg"   validate:"required,min=1,max=8192"`
}

// LogEntryResponse is the client-facing representation of one log entry.
type LogEntryResponse struct {
	Seq       int64     `json:"seq"`
	Level     string    `json:"level"`
	Msg       string    `json:"msg"`
	CreatedAt time.Time `json:"created_at"`
}

// CancelJobRequest defines the payload for the submitter cancel endpoint.
type CancelJobRequest struct {
	OwnerID string `json:"owner_id" validate:"required,uuid"`
}

// MetricsResponse aggregates queue counts and recent activity.
type MetricsResponse struct {
	Counts         map[string]int `json:"counts"`
	RecentActivity []JobResponse  `json:"recent_activity"`
}

// jobToResponse converts a domain.Job to its client representation. The
// callback token is deliberately excluded; it travels only in the claim
// response.
func jobToResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:              job.ID,
		OwnerID:         job.OwnerID,
		RepoID:          job.RepoID,
		Status:          string(job.Status),
		Prompt:          job.Prompt,
		RunAt:           job.RunAt,
		Attempts:        job.Attempts,
		MaxAttempts:     job.MaxAttempts,
		LeaseUntil:      job.LeaseUntil,
		LastError:       job.LastError,
		CurrentStep:     job.CurrentStep,
		TotalSteps:      job.TotalSteps,
		Progress:        job.Progress,
		Result:          job.Result,
		ResultCount:     job.ResultCount,
		Error:           job.Error,
		CancelRequested: job.CancelRequested,
		CompletedAt:     job.CompletedAt,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// logEntryToResponse converts a domain.LogEntry to its client representation.
func logEntryToResponse(entry *domain.LogEntry) LogEntryResponse {
	return LogEntryResponse{
		Seq:       entry.Seq,
		Level:     string(entry.Level),
		Msg:       entry.Msg,
		CreatedAt: entry.CreatedAt,
	}
}
