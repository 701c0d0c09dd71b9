package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"jobrunner/internal/job"
	"jobrunner/internal/processor"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// panicError carries a recovered panic and the stack it happened on.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.value, e.stack)
}

// execute drives one job from READY to a terminal state and then schedules
// its children. Errors never escape: they end up on the job or in the log.
func (c *Coordinator) execute(ctx context.Context, id int64) {
	// Transitions must land even if the processor context was cancelled.
	storeCtx := context.WithoutCancel(ctx)

	j, err := c.store.FindByID(storeCtx, id)
	if err != nil {
		c.logger.Error("failed to load job for execution", slog.Int64("job_id", id), slog.Any("error", err))
		return
	}
	log := c.logger.With(slog.Int64("job_id", j.ID), slog.String("job_name", j.Name))
	if j.State.IsTerminal() {
		log.Debug("job already finished, skipping", slog.String("state", string(j.State)))
		return
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.execute",
		trace.WithAttributes(
			attribute.Int64("job.id", j.ID),
			attribute.String("job.name", j.Name),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	p, ok := c.registry.Lookup(j.Name)
	if !ok {
		msg := fmt.Sprintf("processor %q is not registered", j.Name)
		log.Error("cannot execute job", slog.String("reason", msg))
		span.SetStatus(codes.Error, msg)
		if err := c.store.MarkFailed(storeCtx, j.ID, msg); err != nil {
			c.invariant(storeCtx, log, j.ID, err)
			return
		}
		c.finish(storeCtx, log, j.ID)
		return
	}

	if h, ok := p.(processor.BeforeHook); ok {
		c.hook(log, "before", func() { h.Before(ctx, j.Arguments) })
	}
	if h, ok := p.(processor.AfterHook); ok {
		defer c.hook(log, "after", func() { h.After(ctx, j.Arguments) })
	}

	started, err := c.store.MarkRunning(storeCtx, j.ID)
	if err != nil {
		c.invariant(storeCtx, log, j.ID, err)
		return
	}
	if !started {
		log.Info("job stopped before it started")
		c.finish(storeCtx, log, j.ID)
		return
	}

	log.Info("job started")
	runErr := c.run(ctx, p, j)
	if runErr != nil && ctx.Err() != nil {
		// Only pool shutdown cancels the task context. The row stays RUNNING
		// and the next Recover fails it as interrupted.
		log.Warn("job interrupted by shutdown, left for recovery", slog.Any("error", runErr))
		span.SetStatus(codes.Error, "interrupted by shutdown")
		return
	}
	if runErr == nil {
		err = c.store.MarkCompletedOrStopped(storeCtx, j.ID)
	} else {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "processor failed")
		log.Warn("job failed", slog.Any("error", runErr))
		err = c.store.MarkFailed(storeCtx, j.ID, renderFailure(j, runErr))
	}
	if err != nil {
		c.invariant(storeCtx, log, j.ID, err)
		return
	}
	c.finish(storeCtx, log, j.ID)
}

func (c *Coordinator) run(ctx context.Context, p processor.Processor, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return p.Execute(ctx, j.Arguments)
}

func (c *Coordinator) hook(log *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("processor hook panicked",
				slog.String("hook", name),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}

// renderFailure is the text stored on a FAILED job.
func renderFailure(j *job.Job, err error) string {
	return fmt.Sprintf("processor %s failed on job %d: %+v", j.Name, j.ID, err)
}

// invariant logs a transition failure and, for state-machine violations,
// notes it on the job. Recording is best effort.
func (c *Coordinator) invariant(ctx context.Context, log *slog.Logger, id int64, err error) {
	if !errors.Is(err, job.ErrInvariant) {
		log.Error("job transition failed", slog.Any("error", err))
		return
	}
	log.Error("job state invariant violated", slog.Any("error", err))
	c.metrics.invariantViolated(ctx)
	if rerr := c.store.RecordError(ctx, id, err.Error()); rerr != nil {
		log.Warn("failed to record invariant violation", slog.Any("error", rerr))
	}
}

// finish reports the job's final state and schedules its children: they run
// after a COMPLETED parent and are stopped after a FAILED or STOPPED one.
func (c *Coordinator) finish(ctx context.Context, log *slog.Logger, id int64) {
	j, err := c.store.FindByID(ctx, id)
	if err != nil {
		log.Error("failed to reload finished job", slog.Any("error", err))
		return
	}
	log.Info("job finished", slog.String("state", string(j.State)))
	c.metrics.finished(ctx, j)

	if !j.State.IsTerminal() {
		return
	}

	children, err := c.store.FindChildren(ctx, id)
	if err != nil {
		log.Error("failed to load child jobs", slog.Any("error", err))
		return
	}
	for _, child := range children {
		if child.State != job.StateReady && child.State != job.StateStopping {
			continue
		}
		if j.State != job.StateCompleted {
			if err := c.store.RequestStop(ctx, child.ID); err != nil {
				log.Error("failed to stop child job", slog.Int64("child_id", child.ID), slog.Any("error", err))
				continue
			}
		}
		c.dispatch(child.ID)
	}
}
