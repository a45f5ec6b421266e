package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/events"
	"github.com/repodocs/repodocs-api/internal/store"
)

// ErrNotJobOwner indicates a cancel request from someone other than the
// job's submitter. Distinct from store.ErrNotOwner, which is about the
// worker lease.
var ErrNotJobOwner = errors.New("job does not belong to the caller")

// Lifecycle event types emitted by the queue.
const (
	EventJobEnqueued  = "job.enqueued"
	EventJobCompleted = "job.completed"
	EventJobDead      = "job.dead"
	EventJobCanceled  = "job.canceled"
)

// TokenIssuer mints callback capability tokens bound to a job id. The
// token authorizes the worker-side status updates for exactly that job.
type TokenIssuer interface {
	Issue(jobID uuid.UUID) (string, error)
}

// Config holds the tuning knobs for the queue service.
type Config struct {
	// DefaultLease is granted to claims that do not request a duration.
	DefaultLease time.Duration

	// MaxAttempts is the retry budget for newly enqueued jobs.
	MaxAttempts int

	// Backoff is the retry delay schedule.
	Backoff Backoff

	// RecentActivityLimit caps the recent-jobs list in metrics reports.
	RecentActivityLimit int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLease:        5 * time.Minute,
		MaxAttempts:         domain.DefaultMaxAttempts,
		Backoff:             DefaultBackoff(),
		RecentActivityLimit: 10,
	}
}

// EnqueueRequest carries a job submission.
type EnqueueRequest struct {
	OwnerID   uuid.UUID
	RepoID    string
	Prompt    string
	DedupeKey string
}

// EnqueueResult reports the outcome of a submission. Duplicate means an
// active job already covered the request and JobID refers to it; no new
// row was written.
type EnqueueResult struct {
	JobID     uuid.UUID
	Duplicate bool
}

// HeartbeatRequest carries a lease extension from a worker.
type HeartbeatRequest struct {
	JobID    uuid.UUID
	WorkerID string

	// SubState optionally narrows the active status (cloning, analyzing,
	// gathering, running). Empty leaves the status unchanged.
	SubState domain.JobStatus

	// Progress optionally updates the advisory progress fields.
	Progress *ProgressUpdate

	// Lease optionally overrides the default lease duration.
	Lease time.Duration
}

// ProgressUpdate is the advisory progress payload of a heartbeat.
type ProgressUpdate struct {
	CurrentStep int
	TotalSteps  int
	Description string
}

// HeartbeatResult is returned to the worker on a successful heartbeat.
// CancelRequested is the cooperative-cancellation flag: workers are
// expected to check it on every heartbeat and abort promptly when set, so
// the effective cancellation granularity is the heartbeat cadence.
type HeartbeatResult struct {
	LeaseUntil      time.Time
	CancelRequested bool
}

// CompleteRequest carries a successful result from a worker.
type CompleteRequest struct {
	JobID       uuid.UUID
	WorkerID    string
	Result      json.RawMessage
	ResultCount int
}

// Retry outcomes reported by RetryOrFail.
const (
	RetryOutcomeRetrying = "retrying"
	RetryOutcomeDead     = "dead"
)

// RetryResult reports what RetryOrFail decided: re-queue with backoff
// (NextRunAt set) or dead-letter.
type RetryResult struct {
	Outcome   string
	Attempts  int
	NextRunAt *time.Time
}

// MetricsReport aggregates queue observability data.
type MetricsReport struct {
	Counts         map[domain.JobStatus]int
	RecentActivity []*domain.Job
}

// JobQueue is the queue surface consumed by the API layer.
// Version: 1.0
type JobQueue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error)
	Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResult, error)
	Complete(ctx context.Context, req CompleteRequest) error
	RetryOrFail(ctx context.Context, jobID uuid.UUID, workerID, errMsg string) (*RetryResult, error)
	Cancel(ctx context.Context, jobID, ownerID uuid.UUID) error
	RequestCancel(ctx context.Context, jobID uuid.UUID) error
	AppendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, msg string) error
	GetLogs(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]*domain.LogEntry, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	ListJobsForOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error)
	Metrics(ctx context.Context) (*MetricsReport, error)
}

// Service implements JobQueue over a transactional JobStore. Every
// operation is one atomic read-verify-write transaction; the store's
// transaction isolation is the only concurrency primitive relied upon.
type Service struct {
	jobs    store.JobStore
	logs    store.JobLogStore
	tokens  TokenIssuer
	emitter events.EventEmitter
	cfg     Config
	logger  *slog.Logger

	// runTx executes fn within a database transaction. Injectable so
	// queue semantics can be tested against an in-memory store.
	runTx func(ctx context.Context, fn store.TxFn) error

	// now is injectable for tests.
	now func() time.Time
}

// Ensure Service implements the JobQueue interface
var _ JobQueue = (*Service)(nil)

// NewService creates a queue service backed by the given database and
// stores. emitter may be nil, in which case no lifecycle events are
// published. If logger is nil, a default logger will be used.
func NewService(
	db *sql.DB,
	jobs store.JobStore,
	logs store.JobLogStore,
	tokens TokenIssuer,
	emitter events.EventEmitter,
	cfg Config,
	logger *slog.Logger,
) (*Service, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if jobs == nil {
		return nil, errors.New("jobs store cannot be nil")
	}
	if logs == nil {
		return nil, errors.New("logs store cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token issuer cannot be nil")
	}
	if cfg.DefaultLease <= 0 {
		cfg.DefaultLease = DefaultConfig().DefaultLease
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.RecentActivityLimit <= 0 {
		cfg.RecentActivityLimit = DefaultConfig().RecentActivityLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		jobs:    jobs,
		logs:    logs,
		tokens:  tokens,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.With("component", "job_queue"),
		runTx: func(ctx context.Context, fn store.TxFn) error {
			return store.RunInTransaction(ctx, db, fn)
		},
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue inserts a new pending job, applying deduplication. Both the
// dedupe-key check and the one-active-job-per-repo check run inside the
// same transaction as the insert; a concurrent duplicate that slips past
// the reads is caught by the partial unique index and resolved to the
// existing job.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	job, err := domain.NewJob(req.OwnerID, req.RepoID, req.Prompt, req.DedupeKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	job.MaxAttempts = s.cfg.MaxAttempts

	token, err := s.tokens.Issue(job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue callback token: %w", err)
	}
	job.CallbackToken = token

	var result *EnqueueResult
	err = s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)

		if req.DedupeKey != "" {
			existing, err := js.FindActiveByDedupeKey(ctx, req.DedupeKey)
			if err == nil {
				result = &EnqueueResult{JobID: existing.ID, Duplicate: true}
				return nil
			}
			if !errors.Is(err, store.ErrJobNotFound) {
				return err
			}
		}

		existing, err := js.FindActiveByRepo(ctx, req.RepoID)
		if err == nil {
			result = &EnqueueResult{JobID: existing.ID, Duplicate: true}
			return nil
		}
		if !errors.Is(err, store.ErrJobNotFound) {
			return err
		}

		if err := js.Create(ctx, job); err != nil {
			return err
		}
		result = &EnqueueResult{JobID: job.ID, Duplicate: false}
		return nil
	})

	if err != nil {
		// Lost an insert race on the dedupe index: some concurrent
		// submission created the active job first. Resolve to it.
		if errors.Is(err, store.ErrDedupeKeyExists) && req.DedupeKey != "" {
			existing, lookupErr := s.jobs.FindActiveByDedupeKey(ctx, req.DedupeKey)
			if lookupErr == nil {
				return &EnqueueResult{JobID: existing.ID, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	if !result.Duplicate {
		s.logger.Info("job enqueued",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"repo_id", job.RepoID)
		s.emit(ctx, EventJobEnqueued, job)
	}

	return result, nil
}

// Claim atomically assigns the oldest ready pending job to the worker and
// starts its lease. Returns (nil, nil) when no job is eligible; an empty
// queue or losing a claim race is the normal outcome, not an error.
func (s *Service) Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id cannot be empty", store.ErrInvalidEntity)
	}
	if lease <= 0 {
		lease = s.cfg.DefaultLease
	}

	var claimed *domain.Job
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)

		job, err := js.NextPending(ctx, s.now())
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				return nil
			}
			return err
		}

		// The selected row is locked, but re-verify the status so the
		// exclusivity guarantee does not depend on the store's locking
		// details alone.
		if job.Status != domain.JobStatusPending {
			return nil
		}

		if err := job.Claim(workerID, s.now().Add(lease)); err != nil {
			return nil
		}
		if err := js.Update(ctx, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed != nil {
		s.logger.Info("job claimed",
			"job_id", claimed.ID,
			"worker_id", workerID,
			"attempt", claimed.Attempts+1,
			"lease_until", claimed.LeaseUntil)
	}

	return claimed, nil
}

// Heartbeat extends the worker's lease and optionally records a
// descriptive sub-state and progress. Returns store.ErrNotOwner when the
// caller no longer holds the lease; the worker must then abandon the work.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResult, error) {
	if req.Lease <= 0 {
		req.Lease = s.cfg.DefaultLease
	}

	var result *HeartbeatResult
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)

		job, err := js.GetByIDForUpdate(ctx, req.JobID)
		if err != nil {
			return err
		}

		if !job.HeldBy(req.WorkerID) {
			return store.ErrNotOwner
		}

		if req.SubState != "" {
			if err := job.SetSubState(req.SubState); err != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
			}
		}
		if req.Progress != nil {
			job.SetProgress(req.Progress.CurrentStep, req.Progress.TotalSteps, req.Progress.Description)
		}
		if err := job.ExtendLease(s.now().Add(req.Lease)); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
		}

		if err := js.Update(ctx, job); err != nil {
			return err
		}

		result = &HeartbeatResult{
			LeaseUntil:      *job.LeaseUntil,
			CancelRequested: job.CancelRequested,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Complete marks a claimed job as successfully finished, storing the
// result payload and releasing the lease. One-way: no retries afterward.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) error {
	var completed *domain.Job
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)

		job, err := js.GetByIDForUpdate(ctx, req.JobID)
		if err != nil {
			return err
		}

		if !job.HeldBy(req.WorkerID) {
			return store.ErrNotOwner
		}

		if err := job.Complete(req.Result, req.ResultCount, s.now()); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
		}

		if err := js.Update(ctx, job); err != nil {
			return err
		}
		completed = job
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("job completed",
		"job_id", completed.ID,
		"worker_id", req.WorkerID,
		"result_count", req.ResultCount)
	s.emit(ctx, EventJobCompleted, completed)
	return nil
}

// RetryOrFail records a failed attempt. Below the retry ceiling the job is
// re-queued with exponential backoff; at the ceiling it is dead-lettered
// and requires manual resubmission.
func (s *Service) RetryOrFail(
	ctx context.Context,
	jobID uuid.UUID,
	workerID, errMsg string,
) (*RetryResult, error) {
	var (
		result *RetryResult
		dead   *domain.Job
	)
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)

		job, err := js.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return err
		}

		if !job.HeldBy(workerID) {
			return store.ErrNotOwner
		}

		job.Attempts++

		if job.Attempts >= job.MaxAttempts {
			if err := job.MarkDead(errMsg, s.now()); err != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
			}
			if err := js.Update(ctx, job); err != nil {
				return err
			}
			result = &RetryResult{Outcome: RetryOutcomeDead, Attempts: job.Attempts}
			dead = job
			return nil
		}

		delay := s.cfg.Backoff.Delay(job.Attempts)
		runAt := s.now().Add(delay)
		if err := job.ScheduleRetry(errMsg, runAt); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
		}
		if err := js.Update(ctx, job); err != nil {
			return err
		}
		result = &RetryResult{Outcome: RetryOutcomeRetrying, Attempts: job.Attempts, NextRunAt: &runAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dead != nil {
		s.logger.Warn("job dead-lettered",
			"job_id", jobID,
			"attempts", result.Attempts,
			"error", errMsg)
		s.emit(ctx, EventJobDead, dead)
	} else {
		s.logger.Info("job scheduled for retry",
			"job_id", jobID,
			"attempts", result.Attempts,
			"next_run_at", result.NextRunAt,
			"error", errMsg)
	}

	return result, nil
}

// ReclaimExpired sweeps jobs whose lease lapsed while still held and
// returns them to the pending pool, treating the silence as a worker
// crash. Jobs that terminated between the scan and the per-job transaction
// are skipped. Returns the number of jobs reclaimed or dead-lettered.
func (s *Service) ReclaimExpired(ctx context.Context) (int, error) {
	expired, err := s.jobs.ListLeaseExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}

	reclaimed := 0
	for _, candidate := range expired {
		var dead *domain.Job
		err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			js := s.jobs.WithTx(tx)

			job, err := js.GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				if errors.Is(err, store.ErrJobNotFound) {
					return nil
				}
				return err
			}

			// Tolerate the race: the job may have terminated, or been
			// re-leased, since the scan.
			now := s.now()
			if !job.Status.IsActive() || job.LeaseUntil == nil || job.LeaseUntil.After(now) {
				return nil
			}

			job.Attempts++

			// A crash consumes an attempt like any other failure; at the
			// ceiling the job dead-letters instead of re-pending.
			if job.Attempts >= job.MaxAttempts {
				if err := job.MarkDead("lease expired: retry limit reached", now); err != nil {
					return err
				}
				dead = job
			} else {
				if err := job.ScheduleRetry("lease expired", now); err != nil {
					return err
				}
			}

			if err := js.Update(ctx, job); err != nil {
				return err
			}
			reclaimed++
			return nil
		})
		if err != nil {
			return reclaimed, err
		}

		if dead != nil {
			s.emit(ctx, EventJobDead, dead)
		}
	}

	if reclaimed > 0 {
		s.logger.Info("reclaimed expired leases", "count", reclaimed)
	}

	return reclaimed, nil
}

// Cancel terminates a pending or active job on behalf of its submitter.
// Returns ErrNotJobOwner if ownerID does not match, and
// store.ErrInvalidTransition if the job already reached a terminal state.
func (s *Service) Cancel(ctx context.Context, jobID, ownerID uuid.UUID) error {
	return s.cancel(ctx, jobID, &ownerID, "canceled by user")
}

// RequestCancel terminates an active job cooperatively: the job is marked
// canceled, its lease is released so the worker's next ownership-checked
// call fails, and the cancel-requested flag stays set for workers that
// poll it directly.
func (s *Service) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	return s.cancel(ctx, jobID, nil, "cancel requested")
}

func (s *Service) cancel(ctx context.Context, jobID uuid.UUID, ownerID *uuid.UUID, reason string) error {
	var canceled *domain.Job
	err := s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)

		job, err := js.GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return err
		}

		if ownerID != nil && job.OwnerID != *ownerID {
			return ErrNotJobOwner
		}

		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job is already %s", store.ErrInvalidTransition, job.Status)
		}

		if err := job.Cancel(reason, s.now()); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidTransition, err)
		}

		if err := js.Update(ctx, job); err != nil {
			return err
		}
		canceled = job
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("job canceled", "job_id", jobID, "reason", reason)
	s.emit(ctx, EventJobCanceled, canceled)
	return nil
}

// AppendLog appends one entry to the job's diagnostic trail. The sequence
// number comes from the job row's counter, incremented in the same
// transaction as the insert, so ordering holds even under clock skew or
// concurrent appends.
func (s *Service) AppendLog(
	ctx context.Context,
	jobID uuid.UUID,
	level domain.LogLevel,
	msg string,
) error {
	return s.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		js := s.jobs.WithTx(tx)
		ls := s.logs.WithTx(tx)

		seq, err := js.NextLogSeq(ctx, jobID)
		if err != nil {
			return err
		}

		entry, err := domain.NewLogEntry(jobID, seq, level, msg)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}

		return ls.Append(ctx, entry)
	})
}

// GetLogs returns the job's log entries with seq greater than afterSeq in
// ascending order. Returns store.ErrJobNotFound for unknown jobs.
func (s *Service) GetLogs(
	ctx context.Context,
	jobID uuid.UUID,
	afterSeq int64,
) ([]*domain.LogEntry, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.logs.ListByJob(ctx, jobID, afterSeq)
}

// GetJob retrieves a job by id.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ListJobsForOwner retrieves all jobs submitted by the given owner.
func (s *Service) ListJobsForOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error) {
	return s.jobs.ListByOwner(ctx, ownerID)
}

// Metrics returns aggregate counts by status plus the most recently
// updated jobs.
func (s *Service) Metrics(ctx context.Context) (*MetricsReport, error) {
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.jobs.ListRecent(ctx, s.cfg.RecentActivityLimit)
	if err != nil {
		return nil, err
	}

	return &MetricsReport{Counts: counts, RecentActivity: recent}, nil
}

// emit publishes a lifecycle event if an emitter is configured. Event
// delivery is best effort; failures are logged and never affect the
// originating operation.
func (s *Service) emit(ctx context.Context, eventType string, job *domain.Job) {
	if s.emitter == nil || job == nil {
		return
	}

	payload := struct {
		JobID  uuid.UUID        `json:"job_id"`
		RepoID string           `json:"repo_id"`
		Status domain.JobStatus `json:"status"`
	}{
		JobID:  job.ID,
		RepoID: job.RepoID,
		Status: job.Status,
	}

	event, err := events.NewJobLifecycleEvent(eventType, payload)
	if err != nil {
		s.logger.Error("failed to build lifecycle event", "error", err, "event_type", eventType)
		return
	}

	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Error("failed to emit lifecycle event", "error", err, "event_type", eventType)
	}
}
