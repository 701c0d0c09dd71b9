package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jobrunner/internal/job"
)

// Empty does nothing. It is useful as the root of a tree that only groups children.
type Empty struct{}

func (Empty) Name() string { return "empty" }

func (Empty) Execute(ctx context.Context, args job.Arguments) error {
	return nil
}

// DefaultSleep is used when a sleep job has no duration argument.
const DefaultSleep = 5 * time.Second

// Sleep waits for the "duration" argument, either a Go duration string ("250ms")
// or a number of milliseconds. It returns early with the context error when
// the context is cancelled.
type Sleep struct{}

func (Sleep) Name() string { return "sleep" }

func (Sleep) Execute(ctx context.Context, args job.Arguments) error {
	d, err := sleepDuration(args)
	if err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepDuration(args job.Arguments) (time.Duration, error) {
	raw, ok := args["duration"]
	if !ok || raw == nil {
		return DefaultSleep, nil
	}

	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return d, nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	case float64:
		return time.Duration(v) * time.Millisecond, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("invalid duration type %T", raw)
	}
}

// Builtins returns the processors that need no configuration.
func Builtins() []Processor {
	return []Processor{Empty{}, Sleep{}, NewCommand("")}
}
