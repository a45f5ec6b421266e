package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
)

// JobLogStore defines the interface for the append-only per-job diagnostic
// trail. Entries are immutable after insert.
// Version: 1.0
type JobLogStore interface {
	// Append inserts a new log entry. The sequence number must already be
	// assigned (from JobStore.NextLogSeq) and unique within the job.
	Append(ctx context.Context, entry *domain.LogEntry) error

	// ListByJob retrieves all entries for a job with seq greater than
	// afterSeq, sorted ascending by seq. Pass afterSeq=0 for the full
	// history. Returns an empty slice if there are no matching entries.
	ListByJob(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]*domain.LogEntry, error)

	// WithTx returns a new JobLogStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) JobLogStore
}
