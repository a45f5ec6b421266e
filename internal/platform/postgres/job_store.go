package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/platform/logger"
	"github.com/repodocs/repodocs-api/internal/store"
)

// activeStatusList is the SQL literal for the statuses counted as active
// for dedupe, per-repo exclusivity and reclaim scans. The set is fixed by
// the state machine, so inlining it keeps the queries parameter-free.
const activeStatusList = `('pending', 'claimed', 'cloning', 'analyzing', 'gathering', 'running')`

// heldStatusList is the subset of activeStatusList in which a worker holds
// the job (everything but pending).
const heldStatusList = `('claimed', 'cloning', 'analyzing', 'gathering', 'running')`

// jobColumns is the canonical column list used by every SELECT so scanJob
// stays in lockstep with it.
const jobColumns = `id, owner_id, repo_id, prompt, status, callback_token,
		run_at, attempts, max_attempts, locked_by, lease_until, dedupe_key,
		last_error, current_step, total_steps, progress, result, result_count,
		error, cancel_requested, log_seq, completed_at, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// WithTx implements store.JobStore.WithTx
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.JobStore.Create
// It saves a new job to the database, handling domain validation.
// Returns store.ErrDuplicate if an active job with the same dedupe key
// already exists (enforced by a partial unique index).
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.OwnerID,
		job.RepoID,
		job.Prompt,
		job.Status,
		job.CallbackToken,
		job.RunAt,
		job.Attempts,
		job.MaxAttempts,
		job.LockedBy,
		job.LeaseUntil,
		job.DedupeKey,
		job.LastError,
		job.CurrentStep,
		job.TotalSteps,
		job.Progress,
		nullRawMessage(job.Result),
		job.ResultCount,
		job.Error,
		job.CancelRequested,
		job.LogSeq,
		job.CompletedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		mapped := MapError(err)
		if store.IsDuplicateError(mapped) {
			log.Debug("duplicate active job for dedupe key",
				slog.String("job_id", job.ID.String()),
				slog.String("dedupe_key", job.DedupeKey))
			return fmt.Errorf("%w: %v", store.ErrDedupeKeyExists, err)
		}

		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()),
			slog.String("repo_id", job.RepoID))
		return mapped
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", job.OwnerID.String()),
		slog.String("repo_id", job.RepoID))
	return nil
}

// GetByID implements store.JobStore.GetByID
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return s.getJob(ctx, query, id)
}

// GetByIDForUpdate implements store.JobStore.GetByIDForUpdate
// It locks the row for the duration of the surrounding transaction.
func (s *PostgresJobStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	return s.getJob(ctx, query, id)
}

// NextPending implements store.JobStore.NextPending
// It locks the selected row and skips rows already locked by concurrent
// claim transactions, so two claimers never receive the same job.
func (s *PostgresJobStore) NextPending(ctx context.Context, now time.Time) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_at <= $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	return s.getJob(ctx, query, now)
}

// FindActiveByDedupeKey implements store.JobStore.FindActiveByDedupeKey
func (s *PostgresJobStore) FindActiveByDedupeKey(ctx context.Context, key string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE dedupe_key = $1 AND status IN ` + activeStatusList + `
		LIMIT 1
	`
	return s.getJob(ctx, query, key)
}

// FindActiveByRepo implements store.JobStore.FindActiveByRepo
func (s *PostgresJobStore) FindActiveByRepo(ctx context.Context, repoID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE repo_id = $1 AND status IN ` + activeStatusList + `
		ORDER BY created_at ASC
		LIMIT 1
	`
	return s.getJob(ctx, query, repoID)
}

// Update implements store.JobStore.Update
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) Update(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $2, run_at = $3, attempts = $4, max_attempts = $5,
			locked_by = $6, lease_until = $7, last_error = $8,
			current_step = $9, total_steps = $10, progress = $11,
			result = $12, result_count = $13, error = $14,
			cancel_requested = $15, completed_at = $16, updated_at = $17
		WHERE id = $1
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Status,
		job.RunAt,
		job.Attempts,
		job.MaxAttempts,
		job.LockedBy,
		job.LeaseUntil,
		job.LastError,
		job.CurrentStep,
		job.TotalSteps,
		job.Progress,
		nullRawMessage(job.Result),
		job.ResultCount,
		job.Error,
		job.CancelRequested,
		job.CompletedAt,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to update job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrJobNotFound
	}

	return nil
}

// ListByOwner implements store.JobStore.ListByOwner
func (s *PostgresJobStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	return s.listJobs(ctx, query, ownerID)
}

// ListLeaseExpired implements store.JobStore.ListLeaseExpired
// It returns jobs the reclaim sweep should examine: lease lapsed while the
// status still says a worker holds them.
func (s *PostgresJobStore) ListLeaseExpired(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE lease_until IS NOT NULL
		  AND lease_until <= $1
		  AND status IN ` + heldStatusList + `
		ORDER BY lease_until ASC
	`
	return s.listJobs(ctx, query, now)
}

// ListRecent implements store.JobStore.ListRecent
func (s *PostgresJobStore) ListRecent(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		ORDER BY updated_at DESC
		LIMIT $1
	`
	return s.listJobs(ctx, query, limit)
}

// CountByStatus implements store.JobStore.CountByStatus
func (s *PostgresJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		log.Error("failed to count jobs by status", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count row: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status count rows: %w", err)
	}

	return counts, nil
}

// NextLogSeq implements store.JobStore.NextLogSeq
// The job row doubles as the atomic per-job counter for log sequence
// numbers; the UPDATE both increments and reads it in one statement.
// updated_at is deliberately untouched so log appends do not surface the
// job as recently active.
func (s *PostgresJobStore) NextLogSeq(ctx context.Context, jobID uuid.UUID) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var seq int64
	err := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs SET log_seq = log_seq + 1 WHERE id = $1 RETURNING log_seq`,
		jobID,
	).Scan(&seq)
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return 0, store.ErrJobNotFound
		}
		log.Error("failed to advance log sequence",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return 0, mapped
	}

	return seq, nil
}

// getJob runs a single-row job query and maps the absence of a row to
// store.ErrJobNotFound.
func (s *PostgresJobStore) getJob(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	row := s.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to query job", slog.String("error", err.Error()))
		return nil, mapped
	}

	return job, nil
}

// listJobs runs a multi-row job query.
func (s *PostgresJobStore) listJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row in jobColumns order into a domain.Job.
func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		lockedBy    sql.NullString
		leaseUntil  sql.NullTime
		result      []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.RepoID,
		&job.Prompt,
		&job.Status,
		&job.CallbackToken,
		&job.RunAt,
		&job.Attempts,
		&job.MaxAttempts,
		&lockedBy,
		&leaseUntil,
		&job.DedupeKey,
		&job.LastError,
		&job.CurrentStep,
		&job.TotalSteps,
		&job.Progress,
		&result,
		&job.ResultCount,
		&job.Error,
		&job.CancelRequested,
		&job.LogSeq,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lockedBy.Valid {
		job.LockedBy = &lockedBy.String
	}
	if leaseUntil.Valid {
		t := leaseUntil.Time
		job.LeaseUntil = &t
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}

// nullRawMessage maps an absent payload to SQL NULL.
func nullRawMessage(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
