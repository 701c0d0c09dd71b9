package job

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateDefinition is returned when a submitted tree contains the
	// same name and arguments twice.
	ErrDuplicateDefinition = errors.New("duplicate job definitions in submission")

	// ErrInvariant marks an impossible state transition, such as starting a
	// job that is already RUNNING.
	ErrInvariant = errors.New("job state invariant violated")

	// ErrNoRoot is returned by BuildTree when no record lacks a parent.
	ErrNoRoot = errors.New("no root job in record set")

	// ErrIncompleteTree is returned by BuildTree when records cannot be attached.
	ErrIncompleteTree = errors.New("could not fully form job tree")
)

// ValidationError reports a malformed submission.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UnknownProcessorsError builds the validation error listing every name that
// has no registered processor.
func UnknownProcessorsError(names []string) *ValidationError {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return &ValidationError{
		Message: fmt.Sprintf("Jobs: %s not exist, check /jobs/available for available jobs", strings.Join(quoted, ", ")),
	}
}

// InvariantErrorf wraps ErrInvariant with job context.
func InvariantErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
