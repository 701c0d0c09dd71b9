// Package memory implements the store interfaces in process memory.
// It backs tests and single-process deployments that need no durability.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"jobrunner/internal/job"
	"jobrunner/internal/store"
)

// Store keeps jobs in a map guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	jobs   map[int64]*job.Job
	nextID int64
	now    func() time.Time

	namesMu sync.Mutex
	names   map[string]*sync.Mutex
}

var _ store.Gateway = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:  make(map[int64]*job.Job),
		names: make(map[string]*sync.Mutex),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func clone(j *job.Job) *job.Job {
	c := *j
	return &c
}

func (s *Store) FindByID(ctx context.Context, id int64) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return clone(j), nil
}

func (s *Store) List(ctx context.Context) ([]*job.Job, error) {
	jobs := s.filter(func(*job.Job) bool { return true })
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID > jobs[k].ID })
	return jobs, nil
}

func (s *Store) FindByStates(ctx context.Context, states []job.State) ([]*job.Job, error) {
	return s.filter(func(j *job.Job) bool { return slices.Contains(states, j.State) }), nil
}

func (s *Store) FindChildren(ctx context.Context, parentID int64) ([]*job.Job, error) {
	return s.filter(func(j *job.Job) bool {
		return j.ParentJobID != nil && *j.ParentJobID == parentID
	}), nil
}

func (s *Store) FindWithDescendants(ctx context.Context, id int64) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}

	out := []*job.Job{clone(root)}
	frontier := []int64{id}
	for len(frontier) > 0 {
		var next []int64
		for _, j := range s.sorted() {
			if j.ParentJobID != nil && slices.Contains(frontier, *j.ParentJobID) {
				out = append(out, clone(j))
				next = append(next, j.ID)
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *Store) CountActive(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, j := range s.jobs {
		if !j.State.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindDedupMatch(ctx context.Context, name, hash string) (*job.Job, error) {
	return s.latest(func(j *job.Job) bool {
		return j.Name == name && j.ArgumentsHash == hash
	})
}

func (s *Store) FindOngoing(ctx context.Context, name string, doneStates []job.State) (*job.Job, error) {
	return s.latest(func(j *job.Job) bool {
		return j.Name == name && !slices.Contains(doneStates, j.State)
	})
}

func (s *Store) Create(ctx context.Context, tree *job.Tree) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := make([]*job.Job, len(tree.Nodes))
	for i, node := range tree.Nodes {
		s.nextID++
		j := node.Job
		j.ID = s.nextID
		j.CreatedAt = now
		j.ParentJobID = nil
		if node.Parent >= 0 {
			parentID := created[node.Parent].ID
			j.ParentJobID = &parentID
		}
		s.jobs[j.ID] = &j
		created[i] = clone(&j)
	}
	return created, nil
}

func (s *Store) MarkRunning(ctx context.Context, id int64) (bool, error) {
	var started bool
	err := s.update(id, func(j *job.Job, now time.Time) error {
		switch j.State {
		case job.StateReady:
			j.State = job.StateRunning
			j.StartedAt = &now
			started = true
			return nil
		case job.StateStopping:
			j.State = job.StateStopped
			j.DurationMs = job.DurationSince(j.StartedAt, now)
			return nil
		default:
			return job.InvariantErrorf("job %d cannot start from state %s", id, j.State)
		}
	})
	return started, err
}

func (s *Store) MarkStoppedIfStopping(ctx context.Context, id int64) error {
	return s.update(id, func(j *job.Job, now time.Time) error {
		if j.State == job.StateStopping {
			j.State = job.StateStopped
			j.DurationMs = job.DurationSince(j.StartedAt, now)
		}
		return nil
	})
}

func (s *Store) MarkCompletedOrStopped(ctx context.Context, id int64) error {
	return s.update(id, func(j *job.Job, now time.Time) error {
		switch j.State {
		case job.StateStopping:
			j.State = job.StateStopped
			j.CompletedAt = &now
		case job.StateRunning:
			j.State = job.StateCompleted
			j.CompletedAt = &now
		default:
			return job.InvariantErrorf("job %d cannot complete from state %s", id, j.State)
		}
		j.DurationMs = job.DurationSince(j.StartedAt, now)
		return nil
	})
}

func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.update(id, func(j *job.Job, now time.Time) error {
		if j.State.IsTerminal() {
			return job.InvariantErrorf("job %d cannot fail from terminal state %s", id, j.State)
		}
		j.State = job.StateFailed
		j.CompletedAt = &now
		j.DurationMs = job.DurationSince(j.StartedAt, now)
		j.Error = &message
		return nil
	})
}

func (s *Store) RequestStop(ctx context.Context, id int64) error {
	return s.update(id, func(j *job.Job, now time.Time) error {
		if j.State == job.StateReady || j.State == job.StateRunning {
			j.State = job.StateStopping
		}
		return nil
	})
}

func (s *Store) RecordError(ctx context.Context, id int64, message string) error {
	return s.update(id, func(j *job.Job, now time.Time) error {
		j.Error = &message
		return nil
	})
}

// WithNameLock serializes callers per name. The store itself is not
// transactional, so fn's writes are visible as soon as they are made.
func (s *Store) WithNameLock(ctx context.Context, name string, fn func(store.JobStore) error) error {
	s.namesMu.Lock()
	lock, ok := s.names[name]
	if !ok {
		lock = &sync.Mutex{}
		s.names[name] = lock
	}
	s.namesMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(s)
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// update applies fn to the job under the write lock. updated_at is stamped
// only when fn changes something.
func (s *Store) update(id int64, fn func(j *job.Job, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	working := clone(j)
	now := s.now()
	if err := fn(working, now); err != nil {
		return err
	}
	if changed(j, working) {
		working.UpdatedAt = &now
	}
	s.jobs[id] = working
	return nil
}

func changed(before, after *job.Job) bool {
	if before.State != after.State {
		return true
	}
	if (before.Error == nil) != (after.Error == nil) {
		return true
	}
	return before.Error != nil && *before.Error != *after.Error
}

func (s *Store) filter(keep func(*job.Job) bool) []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.sorted() {
		if keep(j) {
			out = append(out, clone(j))
		}
	}
	return out
}

func (s *Store) latest(keep func(*job.Job) bool) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *job.Job
	for _, j := range s.jobs {
		if keep(j) && (found == nil || j.ID > found.ID) {
			found = j
		}
	}
	if found == nil {
		return nil, job.ErrNotFound
	}
	return clone(found), nil
}

// sorted returns the stored jobs ordered by id. Callers hold the lock.
func (s *Store) sorted() []*job.Job {
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}
