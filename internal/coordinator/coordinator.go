// Package coordinator owns the job lifecycle: it accepts submissions,
// deduplicates them against persisted jobs and drives execution through the
// store's state transitions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"jobrunner/internal/job"
	"jobrunner/internal/logger"
	"jobrunner/internal/processor"
	"jobrunner/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher runs tasks asynchronously. worker.Pool satisfies it.
type Dispatcher interface {
	Dispatch(key string, task func(ctx context.Context)) bool
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	store    store.Gateway
	registry *processor.Registry
	pool     Dispatcher
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics
}

func New(st store.Gateway, registry *processor.Registry, pool Dispatcher, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    st,
		registry: registry,
		pool:     pool,
		logger:   log,
		tracer:   otel.Tracer("jobrunner/coordinator"),
		metrics:  newMetrics(log),
	}
}

// Submission is the outcome of Submit: the job the caller should track and
// whether it was created by this call.
type Submission struct {
	Job     *job.Job
	Created bool
}

func (s *Submission) Description() job.Description {
	return job.Describe(s.Job.State, s.Created)
}

// Submit expands def, checks every processor exists and then, holding the
// lock for the root name, returns the newest job with identical arguments,
// else the newest unfinished job with that name, else the newly created tree.
// A created root is dispatched once the transaction has committed.
func (c *Coordinator) Submit(ctx context.Context, def job.Definition) (*Submission, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.submit",
		trace.WithAttributes(attribute.String("job.name", def.Name)),
	)
	defer span.End()

	sub, outcome, err := c.submit(ctx, def)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("job.id", sub.Job.ID),
		attribute.String("submit.outcome", outcome),
	)
	c.metrics.submitted(ctx, outcome)

	logger.FromContext(ctx, c.logger).Info("job submitted",
		slog.Int64("job_id", sub.Job.ID),
		slog.String("job_name", sub.Job.Name),
		slog.String("state", string(sub.Job.State)),
		slog.String("outcome", outcome),
	)

	if sub.Created {
		c.dispatch(sub.Job.ID)
	}
	return sub, nil
}

func (c *Coordinator) submit(ctx context.Context, def job.Definition) (*Submission, string, error) {
	tree, err := job.Expand(def)
	if err != nil {
		return nil, "", err
	}
	if missing := c.registry.Missing(tree.Names()); len(missing) > 0 {
		return nil, "", job.UnknownProcessorsError(missing)
	}

	root := tree.Root()
	var (
		sub     *Submission
		outcome string
	)
	err = c.store.WithNameLock(ctx, root.Name, func(tx store.JobStore) error {
		match, err := tx.FindDedupMatch(ctx, root.Name, root.ArgumentsHash)
		if err == nil {
			sub, outcome = &Submission{Job: match}, "duplicate"
			return nil
		}
		if !errors.Is(err, job.ErrNotFound) {
			return err
		}

		ongoing, err := tx.FindOngoing(ctx, root.Name, job.DoneStates)
		if err == nil {
			sub, outcome = &Submission{Job: ongoing}, "ongoing"
			return nil
		}
		if !errors.Is(err, job.ErrNotFound) {
			return err
		}

		created, err := tx.Create(ctx, tree)
		if err != nil {
			return err
		}
		sub, outcome = &Submission{Job: created[0], Created: true}, "created"
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to submit job %s: %w", root.Name, err)
	}
	return sub, outcome, nil
}

func (c *Coordinator) dispatch(id int64) {
	ok := c.pool.Dispatch(strconv.FormatInt(id, 10), func(ctx context.Context) {
		c.execute(ctx, id)
	})
	if !ok {
		c.logger.Warn("worker pool closed, job left for recovery", slog.Int64("job_id", id))
	}
}

func (c *Coordinator) Get(ctx context.Context, id int64) (*job.Job, error) {
	return c.store.FindByID(ctx, id)
}

func (c *Coordinator) List(ctx context.Context) ([]*job.Job, error) {
	return c.store.List(ctx)
}

// Stop asks a job to stop. READY and RUNNING jobs move to STOPPING and reach
// STOPPED when their executor next touches them; other states are left alone.
func (c *Coordinator) Stop(ctx context.Context, id int64) error {
	if err := c.store.RequestStop(ctx, id); err != nil {
		return err
	}
	logger.FromContext(ctx, c.logger).Info("job stop requested", slog.Int64("job_id", id))
	return nil
}

// Dependencies returns the whole tree the job belongs to, rooted at its
// top-level ancestor.
func (c *Coordinator) Dependencies(ctx context.Context, id int64) (*job.Node, error) {
	top, err := c.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{top.ID: true}
	for top.ParentJobID != nil && !seen[*top.ParentJobID] {
		parent, err := c.store.FindByID(ctx, *top.ParentJobID)
		if errors.Is(err, job.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = true
		top = parent
	}

	jobs, err := c.store.FindWithDescendants(ctx, top.ID)
	if err != nil {
		return nil, err
	}
	// A top that lost its parent row still roots the tree.
	for _, j := range jobs {
		if j.ID == top.ID {
			j.ParentJobID = nil
		}
	}

	node, err := job.BuildTree(jobs)
	if err != nil {
		c.logger.Error("failed to build job tree", slog.Int64("job_id", id), slog.Any("error", err))
		return nil, err
	}
	return node, nil
}

// Available returns the registered processor names, sorted.
func (c *Coordinator) Available() []string {
	return c.registry.Names()
}

// Recover reconciles jobs left behind by a previous process: RUNNING jobs
// fail as interrupted, STOPPING jobs stop, and READY jobs are dispatched or
// cascade-stopped depending on their parent.
func (c *Coordinator) Recover(ctx context.Context) error {
	running, err := c.store.FindByStates(ctx, []job.State{job.StateRunning})
	if err != nil {
		return fmt.Errorf("failed to load running jobs: %w", err)
	}
	for _, j := range running {
		if err := c.store.MarkFailed(ctx, j.ID, "interrupted: controller stopped while the job was running"); err != nil {
			c.logger.Error("failed to fail interrupted job", slog.Int64("job_id", j.ID), slog.Any("error", err))
		}
	}

	stopping, err := c.store.FindByStates(ctx, []job.State{job.StateStopping})
	if err != nil {
		return fmt.Errorf("failed to load stopping jobs: %w", err)
	}
	for _, j := range stopping {
		if err := c.store.MarkStoppedIfStopping(ctx, j.ID); err != nil {
			c.logger.Error("failed to stop job", slog.Int64("job_id", j.ID), slog.Any("error", err))
		}
	}

	ready, err := c.store.FindByStates(ctx, []job.State{job.StateReady})
	if err != nil {
		return fmt.Errorf("failed to load ready jobs: %w", err)
	}

	var dispatched, cancelled int
	for _, j := range ready {
		parentState := job.StateCompleted
		if j.ParentJobID != nil {
			parent, err := c.store.FindByID(ctx, *j.ParentJobID)
			switch {
			case err == nil:
				parentState = parent.State
			case !errors.Is(err, job.ErrNotFound):
				return fmt.Errorf("failed to load parent of job %d: %w", j.ID, err)
			}
		}

		switch parentState {
		case job.StateCompleted:
			c.dispatch(j.ID)
			dispatched++
		case job.StateFailed, job.StateStopped:
			if err := c.store.RequestStop(ctx, j.ID); err != nil {
				c.logger.Error("failed to stop orphaned job", slog.Int64("job_id", j.ID), slog.Any("error", err))
				continue
			}
			c.dispatch(j.ID)
			cancelled++
		}
	}

	c.logger.Info("recovery finished",
		slog.Int("interrupted", len(running)),
		slog.Int("stopped", len(stopping)),
		slog.Int("dispatched", dispatched),
		slog.Int("cancelled", cancelled),
	)
	return nil
}
