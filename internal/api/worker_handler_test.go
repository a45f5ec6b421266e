package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repodocs/repodocs-api/internal/api/shared"
	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/queue"
	"github.com/repodocs/repodocs-api/internal/store"
)

// withVerifiedJobID stands in for the callback-token middleware: it places
// the path job id straight into the request context.
func withVerifiedJobID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), shared.JobIDContextKey, jobID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newWorkerRouter mounts a WorkerHandler on the same routes the server uses.
func newWorkerRouter(q queue.JobQueue) http.Handler {
	handler := NewWorkerHandler(q)
	r := chi.NewRouter()
	r.Post("/api/worker/claim", handler.ClaimJob)
	r.Route("/api/worker/jobs/{id}", func(r chi.Router) {
		r.Use(withVerifiedJobID)
		r.Post("/heartbeat", handler.HeartbeatJob)
		r.Post("/complete", handler.CompleteJob)
		r.Post("/fail", handler.FailJob)
		r.Post("/logs", handler.AppendJobLog)
	})
	return r
}

func TestClaimJobEndpoint(t *testing.T) {
	t.Run("returns the claimed job with its callback token", func(t *testing.T) {
		job := testJob(uuid.New())
		leaseUntil := time.Now().UTC().Add(5 * time.Minute)
		require.NoError(t, job.Claim("worker-1", leaseUntil))
		job.CallbackToken = "signed-token"

		q := &mockJobQueue{
			claimFn: func(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
				assert.Equal(t, "worker-1", workerID)
				assert.Equal(t, 600*time.Second, lease)
				return job, nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/claim", map[string]any{
			"worker_id":     "worker-1",
			"lease_seconds": 600,
		})

		assert.Equal(t, http.StatusOK, w.Code)

		var resp ClaimJobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, job.ID, resp.Job.ID)
		assert.Equal(t, "claimed", resp.Job.Status)
		assert.Equal(t, "signed-token", resp.CallbackToken)
	})

	t.Run("returns 204 when the queue is empty", func(t *testing.T) {
		q := &mockJobQueue{
			claimFn: func(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
				return nil, nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/claim", map[string]any{
			"worker_id": "worker-1",
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("rejects a missing worker id", func(t *testing.T) {
		router := newWorkerRouter(&mockJobQueue{})

		w := postJSON(t, router, "/api/worker/claim", map[string]any{})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHeartbeatJobEndpoint(t *testing.T) {
	jobID := uuid.New()

	t.Run("extends the lease and reports the cancel flag", func(t *testing.T) {
		leaseUntil := time.Now().UTC().Add(5 * time.Minute).Truncate(time.Second)
		q := &mockJobQueue{
			heartbeatFn: func(ctx context.Context, req queue.HeartbeatRequest) (*queue.HeartbeatResult, error) {
				assert.Equal(t, jobID, req.JobID)
				assert.Equal(t, "worker-1", req.WorkerID)
				assert.Equal(t, domain.JobStatusAnalyzing, req.SubState)
				require.NotNil(t, req.Progress)
				assert.Equal(t, 2, req.Progress.CurrentStep)
				assert.Equal(t, 5, req.Progress.TotalSteps)
				assert.Equal(t, "reading package manifests", req.Progress.Description)
				return &queue.HeartbeatResult{LeaseUntil: leaseUntil, CancelRequested: true}, nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/heartbeat", map[string]any{
			"worker_id":    "worker-1",
			"status":       "analyzing",
			"current_step": 2,
			"total_steps":  5,
			"progress":     "reading package manifests",
		})

		assert.Equal(t, http.StatusOK, w.Code)

		var resp HeartbeatJobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.LeaseUntil.Equal(leaseUntil))
		assert.True(t, resp.CancelRequested)
	})

	t.Run("returns 409 when the lease is no longer held", func(t *testing.T) {
		q := &mockJobQueue{
			heartbeatFn: func(ctx context.Context, req queue.HeartbeatRequest) (*queue.HeartbeatResult, error) {
				return nil, store.ErrNotOwner
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/heartbeat", map[string]any{
			"worker_id": "worker-2",
		})

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("rejects a status outside the active sub-states", func(t *testing.T) {
		router := newWorkerRouter(&mockJobQueue{})

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/heartbeat", map[string]any{
			"worker_id": "worker-1",
			"status":    "completed",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCompleteJobEndpoint(t *testing.T) {
	jobID := uuid.New()

	t.Run("stores the result", func(t *testing.T) {
		q := &mockJobQueue{
			completeFn: func(ctx context.Context, req queue.CompleteRequest) error {
				assert.Equal(t, jobID, req.JobID)
				assert.Equal(t, "worker-1", req.WorkerID)
				assert.JSONEq(t, `{"documents": ["README.md"]}`, string(req.Result))
				assert.Equal(t, 1, req.ResultCount)
				return nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/complete", map[string]any{
			"worker_id":    "worker-1",
			"result":       map[string]any{"documents": []string{"README.md"}},
			"result_count": 1,
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("returns 409 when the lease is no longer held", func(t *testing.T) {
		q := &mockJobQueue{
			completeFn: func(ctx context.Context, req queue.CompleteRequest) error {
				return store.ErrNotOwner
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/complete", map[string]any{
			"worker_id": "worker-2",
		})

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestFailJobEndpoint(t *testing.T) {
	jobID := uuid.New()

	t.Run("reports a retry decision", func(t *testing.T) {
		nextRunAt := time.Now().UTC().Add(10 * time.Second).Truncate(time.Second)
		q := &mockJobQueue{
			retryOrFailFn: func(ctx context.Context, id uuid.UUID, workerID, errMsg string) (*queue.RetryResult, error) {
				assert.Equal(t, jobID, id)
				assert.Equal(t, "worker-1", workerID)
				assert.Equal(t, "clone failed: connection reset", errMsg)
				return &queue.RetryResult{
					Outcome:   queue.RetryOutcomeRetrying,
					Attempts:  1,
					NextRunAt: &nextRunAt,
				}, nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/fail", map[string]any{
			"worker_id": "worker-1",
			"error":     "clone failed: connection reset",
		})

		assert.Equal(t, http.StatusOK, w.Code)

		var resp FailJobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "retrying", resp.Outcome)
		assert.Equal(t, 1, resp.Attempts)
		require.NotNil(t, resp.NextRunAt)
		assert.True(t, resp.NextRunAt.Equal(nextRunAt))
	})

	t.Run("reports a dead-letter decision", func(t *testing.T) {
		q := &mockJobQueue{
			retryOrFailFn: func(ctx context.Context, id uuid.UUID, workerID, errMsg string) (*queue.RetryResult, error) {
				return &queue.RetryResult{Outcome: queue.RetryOutcomeDead, Attempts: 5}, nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/fail", map[string]any{
			"worker_id": "worker-1",
			"error":     "analysis crashed",
		})

		assert.Equal(t, http.StatusOK, w.Code)

		var resp FailJobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "dead", resp.Outcome)
		assert.Equal(t, 5, resp.Attempts)
		assert.Nil(t, resp.NextRunAt)
	})

	t.Run("requires an error message", func(t *testing.T) {
		router := newWorkerRouter(&mockJobQueue{})

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/fail", map[string]any{
			"worker_id": "worker-1",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAppendJobLogEndpoint(t *testing.T) {
	jobID := uuid.New()

	t.Run("appends an entry", func(t *testing.T) {
		q := &mockJobQueue{
			appendLogFn: func(ctx context.Context, id uuid.UUID, level domain.LogLevel, msg string) error {
				assert.Equal(t, jobID, id)
				assert.Equal(t, domain.LogLevelInfo, level)
				assert.Equal(t, "cloning repository", msg)
				return nil
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/logs", map[string]any{
			"level": "info",
			"msg":   "cloning repository",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("rejects an unknown level", func(t *testing.T) {
		router := newWorkerRouter(&mockJobQueue{})

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/logs", map[string]any{
			"level": "debug",
			"msg":   "noise",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns 404 for an unknown job", func(t *testing.T) {
		q := &mockJobQueue{
			appendLogFn: func(ctx context.Context, id uuid.UUID, level domain.LogLevel, msg string) error {
				return store.ErrJobNotFound
			},
		}
		router := newWorkerRouter(q)

		w := postJSON(t, router, "/api/worker/jobs/"+jobID.String()+"/logs", map[string]any{
			"level": "info",
			"msg":   "cloning repository",
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
