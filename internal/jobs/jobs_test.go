package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
)

// ticking returns a clock that advances one second per call.
func ticking() func() time.Time {
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemoryStore()
	mem.now = ticking()

	sqlStore, err := OpenSQL(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	sqlStore.now = ticking()
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{"memory": mem, "sqlite": sqlStore}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			job, err := store.Create(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, StateRunning, job.State)

			got, err := store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, StateRunning, got.State)
			assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

			require.NoError(t, store.Complete(ctx, job.ID, "/data/runs/x/ptd.xlsx", "/download?job_id="+job.ID))
			got, err = store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, StateCompleted, got.State)
			assert.Equal(t, "/data/runs/x/ptd.xlsx", got.Output)
			assert.Equal(t, "/download?job_id="+job.ID, got.DownloadURL)
			assert.True(t, got.UpdatedAt.After(got.CreatedAt))

			failed, err := store.Create(ctx)
			require.NoError(t, err)
			require.NoError(t, store.Fail(ctx, failed.ID, "no schedule table"))
			got, err = store.Get(ctx, failed.ID)
			require.NoError(t, err)
			assert.Equal(t, StateFailed, got.State)
			assert.Equal(t, "no schedule table", got.Error)
		})
	}
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Latest(ctx)
			assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeJobNotFound))

			first, err := store.Create(ctx)
			require.NoError(t, err)
			second, err := store.Create(ctx)
			require.NoError(t, err)
			running, err := store.Create(ctx)
			require.NoError(t, err)

			require.NoError(t, store.Complete(ctx, second.ID, "second.xlsx", ""))
			require.NoError(t, store.Complete(ctx, first.ID, "first.xlsx", ""))

			latest, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, second.ID, latest.ID)

			require.NoError(t, store.Fail(ctx, second.ID, "overwritten"))
			latest, err = store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, first.ID, latest.ID)
			assert.NotEqual(t, running.ID, latest.ID)
		})
	}
}

func TestUnknownJob(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeJobNotFound))
			assert.True(t, ptderrors.IsType(store.Complete(ctx, "missing", "x", ""), ptderrors.ErrorTypeJobNotFound))
			assert.True(t, ptderrors.IsType(store.Fail(ctx, "missing", "x"), ptderrors.ErrorTypeJobNotFound))
		})
	}
}

func TestSQLStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := OpenSQL(ctx, path)
	require.NoError(t, err)
	job, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQL(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLStore{}, s)

	_, err = OpenSQL(ctx, "  ")
	assert.Error(t, err)
}
