// Package store defines the persistence contract for jobs. Implementations
// live in the postgres, sqlite and memory subpackages.
package store

import (
	"context"
	"database/sql"

	"jobrunner/internal/job"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobReader answers read-only queries. Missing ids yield job.ErrNotFound.
type JobReader interface {
	// FindByID returns the job with the given id.
	FindByID(ctx context.Context, id int64) (*job.Job, error)

	// List returns every job, newest first.
	List(ctx context.Context) ([]*job.Job, error)

	// FindByStates returns the jobs in any of the given states, oldest first.
	FindByStates(ctx context.Context, states []job.State) ([]*job.Job, error)

	// FindChildren returns the direct children of a job, oldest first.
	FindChildren(ctx context.Context, parentID int64) ([]*job.Job, error)

	// FindWithDescendants returns the job and all its transitive children.
	// The result is empty when the id does not exist.
	FindWithDescendants(ctx context.Context, id int64) ([]*job.Job, error)

	// CountActive returns the number of jobs not in a terminal state.
	CountActive(ctx context.Context) (int64, error)
}

// JobWriter holds the queries and inserts used by the submission protocol.
type JobWriter interface {
	// FindDedupMatch returns the most recent job (highest id) with the given
	// name and argument digest, in any state, or job.ErrNotFound.
	FindDedupMatch(ctx context.Context, name, hash string) (*job.Job, error)

	// FindOngoing returns the most recently created job with the given name
	// whose state is not in doneStates, or job.ErrNotFound.
	FindOngoing(ctx context.Context, name string, doneStates []job.State) (*job.Job, error)

	// Create persists every job of the tree in one transaction, parents before
	// children, and returns the stored jobs in tree order (index 0 is the root).
	Create(ctx context.Context, tree *job.Tree) ([]*job.Job, error)
}

// Transitions are the atomic state changes of the lifecycle. Each reads and
// updates a single row under a lock, so concurrent callers observe a
// serialized order.
type Transitions interface {
	// MarkRunning moves READY to RUNNING and returns true. A STOPPING job is
	// moved to STOPPED instead and false is returned. Any other state is an
	// invariant violation.
	MarkRunning(ctx context.Context, id int64) (bool, error)

	// MarkStoppedIfStopping moves STOPPING to STOPPED and is a no-op otherwise.
	MarkStoppedIfStopping(ctx context.Context, id int64) error

	// MarkCompletedOrStopped finishes a successful execution: STOPPING becomes
	// STOPPED, RUNNING becomes COMPLETED, anything else is an invariant violation.
	MarkCompletedOrStopped(ctx context.Context, id int64) error

	// MarkFailed moves a non-terminal job to FAILED with the given message.
	MarkFailed(ctx context.Context, id int64, message string) error

	// RequestStop moves READY or RUNNING to STOPPING and is a no-op for other states.
	RequestStop(ctx context.Context, id int64) error

	// RecordError stores a diagnostic message without changing the state.
	RecordError(ctx context.Context, id int64, message string) error
}

// JobStore is everything a single unit of work can do against the store.
type JobStore interface {
	JobReader
	JobWriter
	Transitions
}

// Gateway is the full persistence contract used by the coordinator.
type Gateway interface {
	JobStore

	// WithNameLock runs fn while holding a lock scoped to name, inside a
	// transaction when the backend supports one. fn must use the JobStore it
	// is given. Two submissions of the same name never interleave.
	WithNameLock(ctx context.Context, name string, fn func(JobStore) error) error

	Ping(ctx context.Context) error
	Close() error
}
