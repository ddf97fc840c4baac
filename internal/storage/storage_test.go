package storage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/cuongbtq/doc-converter/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB spins up a Postgres container and returns an unmigrated connection
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("converter_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// setupTestStore returns a store over a freshly migrated database
func setupTestStore(t *testing.T) *storage.ResultStore {
	t.Helper()
	db := setupTestDB(t)

	require.NoError(t, storage.RunMigrations(db.DB))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return storage.NewResultStore(db, logger)
}

func testKey(t *testing.T, fill string, opts domain.Options) domain.CacheKey {
	t.Helper()
	key, err := domain.NewCacheKey(strings.Repeat(fill, domain.ContentHashLength), opts)
	require.NoError(t, err)
	return key
}

func TestResultStore_LookupMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)

	_, err := s.Lookup(context.Background(), testKey(t, "a", domain.DefaultOptions()))
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestResultStore_PendingThenSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()
	key := testKey(t, "b", domain.DefaultOptions())

	pending, err := s.CreatePending(ctx, key, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusPending, pending.Status)
	assert.Nil(t, pending.Payload)

	count, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.CreatePending(ctx, key, "report.pdf")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	rec, err := s.RecordSuccess(ctx, key, "report.pdf", "# Report", []string{key.ContentHash + "/assets/fig1.png"})
	require.NoError(t, err)
	assert.True(t, rec.Completed())
	assert.Equal(t, "# Report", *rec.Payload)
	assert.Equal(t, []string{key.ContentHash + "/assets/fig1.png"}, rec.AssetPaths)
	assert.Equal(t, pending.ID, rec.ID)

	count, err = s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Completed())
	assert.Equal(t, key, got.Key())
}

func TestResultStore_FirstSuccessWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()
	key := testKey(t, "c", domain.DefaultOptions())

	_, err := s.RecordSuccess(ctx, key, "first.pdf", "first", nil)
	require.NoError(t, err)

	existing, err := s.RecordSuccess(ctx, key, "second.pdf", "second", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.NotNil(t, existing)
	assert.Equal(t, "first", *existing.Payload)
	assert.Equal(t, "first.pdf", existing.OriginalName)
}

func TestResultStore_ConcurrentSuccessLeavesOneRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()
	key := testKey(t, "d", domain.DefaultOptions())

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		benign   int
		failures []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordSuccess(ctx, key, "doc.pdf", "payload", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, domain.ErrAlreadyExists):
				benign++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, winners)
	assert.Equal(t, writers-1, benign)
}

func TestResultStore_ParameterSetsAreIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()

	plain := testKey(t, "e", domain.DefaultOptions())
	paged := testKey(t, "e", domain.Options{ExtractAssets: true, Paginate: true})

	_, err := s.RecordSuccess(ctx, plain, "doc.pdf", "plain", nil)
	require.NoError(t, err)

	_, err = s.Lookup(ctx, paged)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	_, err = s.RecordSuccess(ctx, paged, "doc.pdf", "paged", nil)
	require.NoError(t, err)

	got, err := s.Lookup(ctx, paged)
	require.NoError(t, err)
	assert.Equal(t, "paged", *got.Payload)
}

func TestResultStore_FailureThenRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()
	key := testKey(t, "f", domain.DefaultOptions())

	_, err := s.CreatePending(ctx, key, "broken.pdf")
	require.NoError(t, err)

	require.NoError(t, s.RecordFailure(ctx, key, "broken.pdf", "engine exited with status 1"))

	rec, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusFailed, rec.Status)
	assert.False(t, rec.Completed())
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "engine exited with status 1", *rec.ErrorMessage)

	retry, err := s.CreatePending(ctx, key, "broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusPending, retry.Status)
	assert.Nil(t, retry.ErrorMessage)
}

func TestResultStore_FailureDoesNotOverwriteCompleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()
	key := testKey(t, "0", domain.DefaultOptions())

	_, err := s.RecordSuccess(ctx, key, "doc.pdf", "done", nil)
	require.NoError(t, err)

	err = s.RecordFailure(ctx, key, "doc.pdf", "late failure")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	rec, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.Completed())
}

func TestResultStore_RevertPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()

	t.Run("fresh pending row is deleted", func(t *testing.T) {
		key := testKey(t, "7", domain.DefaultOptions())
		_, err := s.CreatePending(ctx, key, "new.pdf")
		require.NoError(t, err)

		require.NoError(t, s.RevertPending(ctx, key, nil))

		_, err = s.Lookup(ctx, key)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("retried failure is restored", func(t *testing.T) {
		key := testKey(t, "8", domain.DefaultOptions())
		require.NoError(t, s.RecordFailure(ctx, key, "old.pdf", "engine crashed"))
		prior, err := s.Lookup(ctx, key)
		require.NoError(t, err)

		_, err = s.CreatePending(ctx, key, "renamed.pdf")
		require.NoError(t, err)
		require.NoError(t, s.RevertPending(ctx, key, prior))

		got, err := s.Lookup(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.RecordStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "engine crashed", *got.ErrorMessage)
		assert.Equal(t, "old.pdf", got.OriginalName)
	})

	t.Run("row moved on by a worker is kept", func(t *testing.T) {
		key := testKey(t, "9", domain.DefaultOptions())
		_, err := s.CreatePending(ctx, key, "fast.pdf")
		require.NoError(t, err)
		require.NoError(t, s.RecordFailure(ctx, key, "fast.pdf", "unsupported encoding"))

		require.NoError(t, s.RevertPending(ctx, key, nil))

		got, err := s.Lookup(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.RecordStatusFailed, got.Status)
	})

	count, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResultStore_Touch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupTestStore(t)
	ctx := context.Background()
	key := testKey(t, "1", domain.DefaultOptions())

	created, err := s.RecordSuccess(ctx, key, "doc.pdf", "done", nil)
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, key))
	require.NoError(t, s.Touch(ctx, key))

	rec, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.AccessCount)
	assert.False(t, rec.LastAccessedAt.Before(created.LastAccessedAt))

	// touching an unknown key is a no-op
	require.NoError(t, s.Touch(ctx, testKey(t, "2", domain.DefaultOptions())))
}

func TestMigrations_VersionAndRollback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := setupTestDB(t)

	version, dirty, err := storage.MigrationVersion(db.DB)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, storage.RunMigrations(db.DB))
	// applying twice is a no-op
	require.NoError(t, storage.RunMigrations(db.DB))

	version, dirty, err = storage.MigrationVersion(db.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, storage.RollbackMigrations(db.DB, 1))

	var exists bool
	require.NoError(t, db.Get(&exists, `SELECT to_regclass('public.result_records') IS NOT NULL`))
	assert.False(t, exists)

	assert.Error(t, storage.RollbackMigrations(db.DB, 0))
}
