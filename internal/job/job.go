// Package job contains the job model, its lifecycle states, the expansion of
// submitted definitions into job trees, and the reconstruction of persisted
// parent/child records into a tree.
package job

import (
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateReady     State = "READY"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
	StateStopped   State = "STOPPED"
	StateFailed    State = "FAILED"
	StateCompleted State = "COMPLETED"
)

// DoneStates are the terminal states. No transition leaves them.
var DoneStates = []State{StateCompleted, StateFailed, StateStopped}

// IsTerminal reports whether s is one of DoneStates.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateStopped:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateReady, StateRunning, StateStopping, StateStopped, StateFailed, StateCompleted:
		return true
	}
	return false
}

// Job is a persisted unit of work.
type Job struct {
	ID            int64
	Name          string
	Arguments     Arguments
	ArgumentsHash string
	State         State
	CreatedAt     time.Time
	UpdatedAt     *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DurationMs    *int64
	RetryCount    int
	RetryLimit    int
	ParentJobID   *int64
	Error         *string
}

// IsRoot reports whether the job has no parent.
func (j *Job) IsRoot() bool {
	return j.ParentJobID == nil
}

// Description is the classification returned to a submitter.
type Description string

const (
	DescriptionCreated   Description = "CREATED"
	DescriptionRunning   Description = "RUNNING"
	DescriptionCompleted Description = "COMPLETED"
)

// Describe classifies a submission result. A FAILED or STOPPED job reports
// COMPLETED: it is done, whatever the outcome.
func Describe(state State, created bool) Description {
	if created {
		return DescriptionCreated
	}
	if state.IsTerminal() {
		return DescriptionCompleted
	}
	return DescriptionRunning
}

// DurationSince returns the milliseconds elapsed between started and end, or
// nil when the job never started.
func DurationSince(started *time.Time, end time.Time) *int64 {
	if started == nil {
		return nil
	}
	ms := end.Sub(*started).Milliseconds()
	return &ms
}
