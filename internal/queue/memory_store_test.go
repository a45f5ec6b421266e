package queue

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/store"
)

// fakeJobStore is an in-memory store.JobStore used to exercise queue
// semantics without a database. The test service's runTx serializes whole
// transactions on a dedicated mutex, which stands in for the row locking a
// real database provides; the store's own mutex only guards the map.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func copyJob(job *domain.Job) *domain.Job {
	dup := *job
	if job.LockedBy != nil {
		v := *job.LockedBy
		dup.LockedBy = &v
	}
	if job.LeaseUntil != nil {
		v := *job.LeaseUntil
		dup.LeaseUntil = &v
	}
	if job.CompletedAt != nil {
		v := *job.CompletedAt
		dup.CompletedAt = &v
	}
	if job.Result != nil {
		dup.Result = append([]byte(nil), job.Result...)
	}
	return &dup
}

func (s *fakeJobStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := job.Validate(); err != nil {
		return store.ErrInvalidEntity
	}
	if job.DedupeKey != "" {
		for _, existing := range s.jobs {
			if existing.DedupeKey == job.DedupeKey && (existing.Status == domain.JobStatusPending || existing.Status.IsActive()) {
				return store.ErrDedupeKeyExists
			}
		}
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *fakeJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *fakeJobStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.GetByID(ctx, id)
}

func (s *fakeJobStore) Update(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return store.ErrJobNotFound
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *fakeJobStore) NextPending(ctx context.Context, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending || job.RunAt.After(now) {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, store.ErrJobNotFound
	}
	return copyJob(oldest), nil
}

func (s *fakeJobStore) FindActiveByDedupeKey(ctx context.Context, key string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.DedupeKey != key {
			continue
		}
		if job.Status == domain.JobStatusPending || job.Status.IsActive() {
			return copyJob(job), nil
		}
	}
	return nil, store.ErrJobNotFound
}

func (s *fakeJobStore) FindActiveByRepo(ctx context.Context, repoID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.RepoID != repoID {
			continue
		}
		if job.Status == domain.JobStatusPending || job.Status.IsActive() {
			return copyJob(job), nil
		}
	}
	return nil, store.ErrJobNotFound
}

func (s *fakeJobStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*domain.Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *fakeJobStore) ListLeaseExpired(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*domain.Job
	for _, job := range s.jobs {
		if job.Status.IsActive() && job.LeaseUntil != nil && !job.LeaseUntil.After(now) {
			jobs = append(jobs, copyJob(job))
		}
	}
	return jobs, nil
}

func (s *fakeJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *fakeJobStore) ListRecent(ctx context.Context, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*domain.Job
	for _, job := range s.jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *fakeJobStore) NextLogSeq(ctx context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, store.ErrJobNotFound
	}
	job.LogSeq++
	return job.LogSeq, nil
}

func (s *fakeJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return s
}

// fakeJobLogStore is an in-memory store.JobLogStore.
type fakeJobLogStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]*domain.LogEntry
}

func newFakeJobLogStore() *fakeJobLogStore {
	return &fakeJobLogStore{entries: make(map[uuid.UUID][]*domain.LogEntry)}
}

func (s *fakeJobLogStore) Append(ctx context.Context, entry *domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *entry
	s.entries[entry.JobID] = append(s.entries[entry.JobID], &dup)
	return nil
}

func (s *fakeJobLogStore) ListByJob(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]*domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []*domain.LogEntry
	for _, entry := range s.entries[jobID] {
		if entry.Seq > afterSeq {
			dup := *entry
			entries = append(entries, &dup)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func (s *fakeJobLogStore) WithTx(tx *sql.Tx) store.JobLogStore {
	return s
}

// staticTokenIssuer mints predictable tokens for tests.
type staticTokenIssuer struct{}

func (staticTokenIssuer) Issue(jobID uuid.UUID) (string, error) {
	return "token-" + jobID.String(), nil
}

// newTestService wires a Service over the in-memory stores. Transactions
// are emulated by serializing runTx calls on one mutex, and the clock is
// adjustable through the returned pointer.
func newTestService(jobs *fakeJobStore, logs *fakeJobLogStore, cfg Config) (*Service, *time.Time) {
	if cfg.DefaultLease <= 0 {
		cfg.DefaultLease = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.RecentActivityLimit <= 0 {
		cfg.RecentActivityLimit = 10
	}

	var txMu sync.Mutex
	current := time.Now().UTC()
	svc := &Service{
		jobs:   jobs,
		logs:   logs,
		tokens: staticTokenIssuer{},
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runTx: func(ctx context.Context, fn store.TxFn) error {
			txMu.Lock()
			defer txMu.Unlock()
			return fn(ctx, nil)
		},
		now: func() time.Time { return current },
	}
	return svc, &current
}
