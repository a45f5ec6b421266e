package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
)

// JobStore defines the interface for job persistence. Every queue operation
// composes these methods inside a single transaction (via WithTx and
// RunInTransaction); the store itself performs no cross-call coordination.
// Version: 1.0
type JobStore interface {
	// Create saves a new job to the store.
	// Returns ErrDuplicate (wrapping the constraint violation) if an active
	// job with the same dedupe key already exists.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// GetByIDForUpdate retrieves a job by ID with a row lock, for use inside
	// a transaction that will update it. Returns ErrJobNotFound if the job
	// does not exist.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Update saves changes to an existing job.
	// Returns ErrJobNotFound if the job does not exist.
	Update(ctx context.Context, job *domain.Job) error

	// NextPending retrieves the oldest pending job whose run_at is at or
	// before now, locking the row and skipping rows locked by concurrent
	// claimers. Returns ErrJobNotFound when the queue is empty.
	NextPending(ctx context.Context, now time.Time) (*domain.Job, error)

	// FindActiveByDedupeKey retrieves the job with the given dedupe key
	// whose status is pending or active, if any.
	// Returns ErrJobNotFound if no such job exists.
	FindActiveByDedupeKey(ctx context.Context, key string) (*domain.Job, error)

	// FindActiveByRepo retrieves the pending-or-active job for the given
	// repository, if any. Returns ErrJobNotFound if no such job exists.
	FindActiveByRepo(ctx context.Context, repoID string) (*domain.Job, error)

	// ListByOwner retrieves all jobs submitted by the given owner, newest
	// first. Returns an empty slice if the owner has no jobs.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error)

	// ListLeaseExpired retrieves jobs whose lease_until is at or before now
	// and whose status is still active. Used by the reclaim sweep.
	ListLeaseExpired(ctx context.Context, now time.Time) ([]*domain.Job, error)

	// CountByStatus returns the number of jobs in each status.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// ListRecent retrieves the most recently updated jobs, newest first,
	// capped at limit.
	ListRecent(ctx context.Context, limit int) ([]*domain.Job, error)

	// NextLogSeq atomically increments and returns the job's log sequence
	// counter. Returns ErrJobNotFound if the job does not exist.
	NextLogSeq(ctx context.Context, jobID uuid.UUID) (int64, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) JobStore
}
