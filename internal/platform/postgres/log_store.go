package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/platform/logger"
	"github.com/repodocs/repodocs-api/internal/store"
)

// PostgresJobLogStore implements the store.JobLogStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobLogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobLogStore creates a new PostgreSQL implementation of the
// JobLogStore interface. If logger is nil, a default logger will be used.
func NewPostgresJobLogStore(db store.DBTX, logger *slog.Logger) *PostgresJobLogStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobLogStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_log_store")),
	}
}

// Ensure PostgresJobLogStore implements store.JobLogStore interface
var _ store.JobLogStore = (*PostgresJobLogStore)(nil)

// WithTx implements store.JobLogStore.WithTx
func (s *PostgresJobLogStore) WithTx(tx *sql.Tx) store.JobLogStore {
	return &PostgresJobLogStore{
		db:     tx,
		logger: s.logger,
	}
}

// Append implements store.JobLogStore.Append
// Entries are immutable after insert; there is no corresponding update or
// delete operation.
func (s *PostgresJobLogStore) Append(ctx context.Context, entry *domain.LogEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		log.Warn("log entry validation failed during append",
			slog.String("error", err.Error()),
			slog.String("job_id", entry.JobID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO job_logs (job_id, seq, level, msg, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		entry.JobID,
		entry.Seq,
		entry.Level,
		entry.Msg,
		entry.CreatedAt,
	)
	if err != nil {
		log.Error("failed to append log entry",
			slog.String("error", err.Error()),
			slog.String("job_id", entry.JobID.String()),
			slog.Int64("seq", entry.Seq))
		return MapError(err)
	}

	return nil
}

// ListByJob implements store.JobLogStore.ListByJob
// Entries come back in ascending seq order so clients can poll with the
// last seq they saw as the watermark.
func (s *PostgresJobLogStore) ListByJob(
	ctx context.Context,
	jobID uuid.UUID,
	afterSeq int64,
) ([]*domain.LogEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT job_id, seq, level, msg, created_at
		FROM job_logs
		WHERE job_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, jobID, afterSeq)
	if err != nil {
		log.Error("failed to query log entries",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*domain.LogEntry, 0)
	for rows.Next() {
		var entry domain.LogEntry
		if err := rows.Scan(
			&entry.JobID,
			&entry.Seq,
			&entry.Level,
			&entry.Msg,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan log entry row: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entry rows: %w", err)
	}

	return entries, nil
}
