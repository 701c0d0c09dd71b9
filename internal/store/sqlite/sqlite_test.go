package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobrunner/internal/job"
	"jobrunner/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, Migrate(s.DB()))
	return s
}

func create(t *testing.T, s *Store, def job.Definition) []*job.Job {
	t.Helper()
	tree, err := job.Expand(def)
	require.NoError(t, err)
	created, err := s.Create(context.Background(), tree)
	require.NoError(t, err)
	return created
}

func TestCreateAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := create(t, s, job.Definition{
		Name:      "root",
		Arguments: job.Arguments{"path": "/tmp", "n": 2},
		Jobs:      []job.Definition{{Name: "a"}, {Name: "b", Jobs: []job.Definition{{Name: "c"}}}},
	})
	require.Len(t, created, 4)

	got, err := s.FindByID(ctx, created[0].ID)
	require.NoError(t, err)
	require.Equal(t, "root", got.Name)
	require.Equal(t, "/tmp", got.Arguments.StringValue("path"))
	require.Equal(t, created[0].ArgumentsHash, got.ArgumentsHash)
	require.Equal(t, job.StateReady, got.State)
	require.Nil(t, got.ParentJobID)
	require.Nil(t, got.StartedAt)

	children, err := s.FindChildren(ctx, created[0].ID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	all, err := s.FindWithDescendants(ctx, created[0].ID)
	require.NoError(t, err)
	tree, err := job.BuildTree(all)
	require.NoError(t, err)
	require.Equal(t, 4, tree.Size())

	sub, err := s.FindWithDescendants(ctx, created[2].ID)
	require.NoError(t, err)
	require.Len(t, sub, 2)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, created[3].ID, list[0].ID)

	_, err = s.FindByID(ctx, 999)
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	j := create(t, s, job.Definition{Name: "x"})[0]

	started, err := s.MarkRunning(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, started)

	_, err = s.MarkRunning(ctx, j.ID)
	require.ErrorIs(t, err, job.ErrInvariant)

	require.NoError(t, s.RequestStop(ctx, j.ID))
	got, err := s.FindByID(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateStopping, got.State)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.MarkCompletedOrStopped(ctx, j.ID))
	got, err = s.FindByID(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateStopped, got.State)
	require.NotNil(t, got.DurationMs)
	require.NotNil(t, got.CompletedAt)

	require.ErrorIs(t, s.MarkFailed(ctx, j.ID, "late"), job.ErrInvariant)
	require.NoError(t, s.RecordError(ctx, j.ID, "late"))

	got, err = s.FindByID(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateStopped, got.State)
	require.Equal(t, "late", *got.Error)
}

func TestFailAndQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := create(t, s, job.Definition{Name: "x", Arguments: job.Arguments{"k": 1}})[0]
	b := create(t, s, job.Definition{Name: "x"})[0]

	_, err := s.MarkRunning(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, a.ID, "boom"))

	failed, err := s.FindByStates(ctx, []job.State{job.StateFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "boom", *failed[0].Error)
	require.NotNil(t, failed[0].CompletedAt)

	match, err := s.FindDedupMatch(ctx, "x", a.ArgumentsHash)
	require.NoError(t, err)
	require.Equal(t, a.ID, match.ID)

	ongoing, err := s.FindOngoing(ctx, "x", job.DoneStates)
	require.NoError(t, err)
	require.Equal(t, b.ID, ongoing.ID)

	n, err := s.CountActive(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.ErrorIs(t, s.RequestStop(ctx, 999), job.ErrNotFound)
}

func TestWithNameLock_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithNameLock(ctx, "x", func(tx store.JobStore) error {
				if _, err := tx.FindOngoing(ctx, "x", job.DoneStates); err == nil {
					return nil
				}
				tree, _ := job.Expand(job.Definition{Name: "x"})
				if _, err := tx.Create(ctx, tree); err != nil {
					return err
				}
				mu.Lock()
				created++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
}
