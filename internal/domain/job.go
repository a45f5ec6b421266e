package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of an analysis job.
type JobStatus string

// Possible job status values.
//
// A job starts pending, is claimed by exactly one worker, may be narrowed
// into one of the descriptive active sub-states while the worker reports
// progress, and finally lands in one of the terminal states. Terminal
// states are final: no transition ever leaves them.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusClaimed JobStatus = "claimed"

	// Descriptive sub-states of "claimed". They refine what the worker is
	// doing but behave identically for control purposes: the job is active,
	// locked and lease-bound.
	JobStatusCloning   JobStatus = "cloning"
	JobStatusAnalyzing JobStatus = "analyzing"
	JobStatusGathering JobStatus = "gathering"
	JobStatusRunning   JobStatus = "running"

	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusDead      JobStatus = "dead"
)

// DefaultMaxAttempts is the retry budget assigned to new jobs.
const DefaultMaxAttempts = 5

// Common validation and transition errors for Job.
var (
	ErrEmptyJobID      = errors.New("job ID cannot be empty")
	ErrEmptyJobOwnerID = errors.New("job owner ID cannot be empty")
	ErrEmptyJobRepoID  = errors.New("job repo ID cannot be empty")
	ErrEmptyJobPrompt  = errors.New("job prompt cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrNotClaimable indicates a claim was attempted on a job that is not
	// in the pending state.
	ErrNotClaimable = errors.New("job is not claimable")

	// ErrNotActive indicates an operation that requires an active
	// (claimed or sub-state) job was attempted on a job in another state.
	ErrNotActive = errors.New("job is not active")

	// ErrTerminal indicates an attempted transition out of a terminal state.
	ErrTerminal = errors.New("job is in a terminal state")

	// ErrInvalidSubState indicates a heartbeat tried to set a status that
	// is not one of the descriptive active sub-states.
	ErrInvalidSubState = errors.New("invalid active sub-state")
)

// Job is the unit of schedulable work: one analysis run against one
// repository. Jobs are created pending and mutated exclusively through the
// transition methods below; terminal jobs are retained for history and are
// never deleted.
type Job struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	RepoID  string    `json:"repo_id"`

	Status        JobStatus `json:"status"`
	Prompt        string    `json:"prompt"`
	CallbackToken string    `json:"-"`

	// Queue fields.
	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LockedBy    *string    `json:"locked_by,omitempty"`
	LeaseUntil  *time.Time `json:"lease_until,omitempty"`
	DedupeKey   string     `json:"dedupe_key,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	// Progress fields are advisory only. They are never consulted for
	// control decisions.
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Progress    string `json:"progress,omitempty"`

	// Result fields.
	Result          json.RawMessage `json:"result,omitempty"`
	ResultCount     int             `json:"result_count"`
	Error           string          `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	// LogSeq is the per-job counter backing log entry sequence numbers.
	// It only ever increases.
	LogSeq int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a new Job in the pending state for the given owner,
// repository and prompt. The callback token is assigned by the caller
// (typically the queue service) after creation.
// Returns an error if validation fails.
func NewJob(ownerID uuid.UUID, repoID, prompt, dedupeKey string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		RepoID:      repoID,
		Status:      JobStatusPending,
		Prompt:      prompt,
		RunAt:       now,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.OwnerID == uuid.Nil {
		return ErrEmptyJobOwnerID
	}

	if j.RepoID == "" {
		return ErrEmptyJobRepoID
	}

	if j.Prompt == "" {
		return ErrEmptyJobPrompt
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	return nil
}

// IsTerminal reports whether the status is one of the final states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled, JobStatusDead:
		return true
	default:
		return false
	}
}

// IsActive reports whether the status means a worker currently holds the
// job: claimed or one of its descriptive sub-states.
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusClaimed, JobStatusCloning, JobStatusAnalyzing,
		JobStatusGathering, JobStatusRunning:
		return true
	default:
		return false
	}
}

// IsActiveSubState reports whether the status is one of the descriptive
// refinements of claimed that a heartbeat may set.
func (s JobStatus) IsActiveSubState() bool {
	switch s {
	case JobStatusCloning, JobStatusAnalyzing, JobStatusGathering, JobStatusRunning:
		return true
	default:
		return false
	}
}

// ActiveStatuses returns the set of statuses counted as "active" for
// deduplication and one-job-per-repo checks: pending plus every state where
// a worker may still be holding or about to hold the job.
func ActiveStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusClaimed,
		JobStatusCloning,
		JobStatusAnalyzing,
		JobStatusGathering,
		JobStatusRunning,
	}
}

// Claim transitions a pending job to claimed, assigning the worker identity
// and lease expiry. Both lock fields are set together; HeldBy/lease
// invariants are maintained exclusively through these mutators.
func (j *Job) Claim(workerID string, leaseUntil time.Time) error {
	if j.Status != JobStatusPending {
		return ErrNotClaimable
	}

	j.Status = JobStatusClaimed
	j.LockedBy = &workerID
	j.LeaseUntil = &leaseUntil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// HeldBy reports whether the given worker currently holds the job's lease.
func (j *Job) HeldBy(workerID string) bool {
	return j.LockedBy != nil && *j.LockedBy == workerID
}

// ExtendLease pushes the lease expiry forward. The job must be active.
func (j *Job) ExtendLease(leaseUntil time.Time) error {
	if !j.Status.IsActive() {
		return ErrNotActive
	}

	j.LeaseUntil = &leaseUntil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// SetSubState narrows an active job into one of the descriptive sub-states.
func (j *Job) SetSubState(status JobStatus) error {
	if !j.Status.IsActive() {
		return ErrNotActive
	}

	if !status.IsActiveSubState() {
		return ErrInvalidSubState
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// SetProgress updates the advisory progress fields.
func (j *Job) SetProgress(currentStep, totalSteps int, progress string) {
	j.CurrentStep = currentStep
	j.TotalSteps = totalSteps
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
}

// Complete transitions an active job to the terminal completed state,
// storing the result payload and releasing the lease.
func (j *Job) Complete(result json.RawMessage, resultCount int, now time.Time) error {
	if !j.Status.IsActive() {
		return ErrNotActive
	}

	j.Status = JobStatusCompleted
	j.Result = result
	j.ResultCount = resultCount
	j.clearLease()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// ScheduleRetry records a failed attempt and re-queues the job with the
// given delay. The caller is responsible for the attempts accounting; this
// method only applies the transition.
func (j *Job) ScheduleRetry(errMsg string, runAt time.Time) error {
	if !j.Status.IsActive() {
		return ErrNotActive
	}

	j.Status = JobStatusPending
	j.RunAt = runAt
	j.LastError = errMsg
	j.clearLease()
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDead transitions the job to the terminal dead-letter state after the
// retry budget is exhausted. Dead jobs are never resurrected automatically;
// the submitter must enqueue a new job.
func (j *Job) MarkDead(errMsg string, now time.Time) error {
	if !j.Status.IsActive() {
		return ErrNotActive
	}

	j.Status = JobStatusDead
	j.Error = errMsg
	j.LastError = errMsg
	j.clearLease()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Cancel transitions a pending or active job to the terminal canceled
// state. The cancel-requested flag stays set so a still-live worker polling
// it can abort early; the cleared lock fields make any subsequent
// ownership-checked call from that worker fail.
func (j *Job) Cancel(reason string, now time.Time) error {
	if j.Status.IsTerminal() {
		return ErrTerminal
	}

	j.Status = JobStatusCanceled
	j.Error = reason
	j.CancelRequested = true
	j.clearLease()
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (j *Job) clearLease() {
	j.LockedBy = nil
	j.LeaseUntil = nil
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending, JobStatusClaimed, JobStatusCloning,
		JobStatusAnalyzing, JobStatusGathering, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCanceled, JobStatusDead:
		return true
	default:
		return false
	}
}
