package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// LogLevel classifies a diagnostic log entry.
type LogLevel string

// Possible log entry levels.
const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// Common validation errors for LogEntry.
var (
	ErrEmptyLogJobID   = errors.New("log entry job ID cannot be empty")
	ErrEmptyLogMessage = errors.New("log entry message cannot be empty")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidLogSeq   = errors.New("log sequence number must be positive")
)

// LogEntry is one line of a job's append-only diagnostic trail. Entries are
// never mutated after insert and are read back in ascending Seq order. Seq
// is strictly increasing per job and comes from the job row's atomic
// counter, not from wall-clock time.
type LogEntry struct {
	JobID     uuid.UUID `json:"job_id"`
	Seq       int64     `json:"seq"`
	Level     LogLevel  `json:"level"`
	Msg       string    `json:"msg"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLogEntry creates a log entry for the given job with the given
// sequence number. Returns an error if validation fails.
func NewLogEntry(jobID uuid.UUID, seq int64, level LogLevel, msg string) (*LogEntry, error) {
	entry := &LogEntry{
		JobID:     jobID,
		Seq:       seq,
		Level:     level,
		Msg:       msg,
		CreatedAt: time.Now().UTC(),
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the LogEntry has valid data.
func (e *LogEntry) Validate() error {
	if e.JobID == uuid.Nil {
		return ErrEmptyLogJobID
	}

	if e.Seq <= 0 {
		return ErrInvalidLogSeq
	}

	if e.Level != LogLevelInfo && e.Level != LogLevelError {
		return ErrInvalidLogLevel
	}

	if e.Msg == "" {
		return ErrEmptyLogMessage
	}

	return nil
}
