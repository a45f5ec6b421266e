package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/queue"
)

// mockJobQueue implements queue.JobQueue with overridable function fields,
// so each test only wires the calls it expects.
type mockJobQueue struct {
	enqueueFn          func(ctx context.Context, req queue.EnqueueRequest) (*queue.EnqueueResult, error)
	claimFn            func(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error)
	heartbeatFn        func(ctx context.Context, req queue.HeartbeatRequest) (*queue.HeartbeatResult, error)
	completeFn         func(ctx context.Context, req queue.CompleteRequest) error
	retryOrFailFn      func(ctx context.Context, jobID uuid.UUID, workerID, errMsg string) (*queue.RetryResult, error)
	cancelFn           func(ctx context.Context, jobID, ownerID uuid.UUID) error
	requestCancelFn    func(ctx context.Context, jobID uuid.UUID) error
	appendLogFn        func(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, msg string) error
	getLogsFn          func(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]*domain.LogEntry, error)
	getJobFn           func(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	listJobsForOwnerFn func(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error)
	metricsFn          func(ctx context.Context) (*queue.MetricsReport, error)
}

var _ queue.JobQueue = (*mockJobQueue)(nil)

func (m *mockJobQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.EnqueueResult, error) {
	return m.enqueueFn(ctx, req)
}

func (m *mockJobQueue) Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	return m.claimFn(ctx, workerID, lease)
}

func (m *mockJobQueue) Heartbeat(ctx context.Context, req queue.HeartbeatRequest) (*queue.HeartbeatResult, error) {
	return m.heartbeatFn(ctx, req)
}

func (m *mockJobQueue) Complete(ctx context.Context, req queue.CompleteRequest) error {
	return m.completeFn(ctx, req)
}

func (m *mockJobQueue) RetryOrFail(ctx context.Context, jobID uuid.UUID, workerID, errMsg string) (*queue.RetryResult, error) {
	return m.retryOrFailFn(ctx, jobID, workerID, errMsg)
}

func (m *mockJobQueue) Cancel(ctx context.Context, jobID, ownerID uuid.UUID) error {
	return m.cancelFn(ctx, jobID, ownerID)
}

func (m *mockJobQueue) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	return m.requestCancelFn(ctx, jobID)
}

func (m *mockJobQueue) AppendLog(ctx context.Context, jobID uuid.UUID, level domain.LogLevel, msg string) error {
	return m.appendLogFn(ctx, jobID, level, msg)
}

func (m *mockJobQueue) GetLogs(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]*domain.LogEntry, error) {
	return m.getLogsFn(ctx, jobID, afterSeq)
}

func (m *mockJobQueue) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return m.getJobFn(ctx, jobID)
}

func (m *mockJobQueue) ListJobsForOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error) {
	return m.listJobsForOwnerFn(ctx, ownerID)
}

func (m *mockJobQueue) Metrics(ctx context.Context) (*queue.MetricsReport, error) {
	return m.metricsFn(ctx)
}
