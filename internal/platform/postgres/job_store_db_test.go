package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/repodocs/repodocs-api/internal/domain"
	"github.com/repodocs/repodocs-api/internal/store"
)

// isIntegrationTestEnvironment returns true if the environment is configured
// for running integration tests with a database connection
func isIntegrationTestEnvironment() bool {
	return os.Getenv("DATABASE_URL") != ""
}

// openTestDB connects to the integration database, applies migrations and
// starts every test from empty tables.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", os.Getenv("DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, MigrateUp(db))

	_, err = db.Exec("TRUNCATE job_logs, jobs")
	require.NoError(t, err)

	return db
}

func TestPostgresJobStore_Integration(t *testing.T) {
	if !isIntegrationTestEnvironment() {
		t.Skip("Skipping integration test - DATABASE_URL environment variable required")
	}

	ctx := context.Background()

	t.Run("create without dedupe key round-trips", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		job := newStorableJob("")
		job.CallbackToken = "signed-token"
		require.NoError(t, s.Create(ctx, job))

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Equal(t, "", got.DedupeKey)
		assert.Equal(t, "signed-token", got.CallbackToken)
		assert.Nil(t, got.LockedBy)
		assert.Nil(t, got.LeaseUntil)
	})

	t.Run("two jobs without dedupe keys coexist", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		first := newStorableJob("")
		second := newStorableJob("")
		second.RepoID = "github.com/example/gadgets"

		require.NoError(t, s.Create(ctx, first))
		require.NoError(t, s.Create(ctx, second),
			"the dedupe index must not collide jobs that have no dedupe key")
	})

	t.Run("dedupe index rejects a second active job with the same key", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		first := newStorableJob("widgets-docs")
		require.NoError(t, s.Create(ctx, first))

		second := newStorableJob("widgets-docs")
		err := s.Create(ctx, second)
		assert.ErrorIs(t, err, store.ErrDedupeKeyExists)
	})

	t.Run("dedupe key is reusable after the holder terminates", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		first := newStorableJob("widgets-docs")
		require.NoError(t, s.Create(ctx, first))

		now := time.Now().UTC()
		require.NoError(t, first.Claim("worker-1", now.Add(time.Minute)))
		require.NoError(t, first.Complete(nil, 0, now))
		require.NoError(t, s.Update(ctx, first))

		second := newStorableJob("widgets-docs")
		require.NoError(t, s.Create(ctx, second))
	})

	t.Run("next pending returns the oldest ready job", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		older := newStorableJob("")
		older.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
		newer := newStorableJob("")
		newer.RepoID = "github.com/example/gadgets"

		require.NoError(t, s.Create(ctx, newer))
		require.NoError(t, s.Create(ctx, older))

		got, err := s.NextPending(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, older.ID, got.ID)
	})

	t.Run("next pending skips jobs scheduled in the future", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		job := newStorableJob("")
		job.RunAt = time.Now().UTC().Add(time.Hour)
		require.NoError(t, s.Create(ctx, job))

		_, err := s.NextPending(ctx, time.Now().UTC())
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})

	t.Run("update of a missing job reports not found", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		ghost := newStorableJob("")
		err := s.Update(ctx, ghost)
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})

	t.Run("log seq increments per job", func(t *testing.T) {
		db := openTestDB(t)
		s := NewPostgresJobStore(db, nil)

		job := newStorableJob("")
		other := newStorableJob("")
		other.RepoID = "github.com/example/gadgets"
		require.NoError(t, s.Create(ctx, job))
		require.NoError(t, s.Create(ctx, other))

		for want := int64(1); want <= 3; want++ {
			seq, err := s.NextLogSeq(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, want, seq)
		}

		seq, err := s.NextLogSeq(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq, "counters are per job")

		_, err = s.NextLogSeq(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})
}

func TestPostgresJobLogStore_Integration(t *testing.T) {
	if !isIntegrationTestEnvironment() {
		t.Skip("Skipping integration test - DATABASE_URL environment variable required")
	}

	ctx := context.Background()
	db := openTestDB(t)
	jobs := NewPostgresJobStore(db, nil)
	logs := NewPostgresJobLogStore(db, nil)

	job := newStorableJob("")
	require.NoError(t, jobs.Create(ctx, job))

	for seq := int64(1); seq <= 3; seq++ {
		entry, err := domain.NewLogEntry(job.ID, seq, domain.LogLevelInfo, "step")
		require.NoError(t, err)
		require.NoError(t, logs.Append(ctx, entry))
	}

	t.Run("entries come back in ascending seq order", func(t *testing.T) {
		entries, err := logs.ListByJob(ctx, job.ID, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, entry := range entries {
			assert.Equal(t, int64(i+1), entry.Seq)
		}
	})

	t.Run("afterSeq acts as a watermark", func(t *testing.T) {
		entries, err := logs.ListByJob(ctx, job.ID, 2)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(3), entries[0].Seq)
	})

	t.Run("duplicate seq for the same job is rejected", func(t *testing.T) {
		entry, err := domain.NewLogEntry(job.ID, 2, domain.LogLevelInfo, "replayed")
		require.NoError(t, err)
		assert.Error(t, logs.Append(ctx, entry))
	})
}
