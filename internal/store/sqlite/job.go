package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobrunner/internal/job"
	"jobrunner/internal/store"
)

const jobColumns = `id, name, arguments, arguments_hash, state, created_at, updated_at, started_at,
	completed_at, duration_ms, retry_count, retry_limit, parent_job_id, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID, &j.Name, &j.Arguments, &j.ArgumentsHash, &j.State,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.DurationMs,
		&j.RetryCount, &j.RetryLimit, &j.ParentJobID, &j.Error,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) queryJob(ctx context.Context, query string, args ...any) (*job.Job, error) {
	j, err := scanJob(s.executor().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	return j, err
}

// inStates expands states into "?, ?, ?" and the matching arguments.
func inStates(states []job.State) (string, []any) {
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", "), args
}

func (s *Store) FindByID(ctx context.Context, id int64) (*job.Job, error) {
	j, err := s.queryJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return j, nil
}

func (s *Store) List(ctx context.Context) ([]*job.Job, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) FindByStates(ctx context.Context, states []job.State) ([]*job.Job, error) {
	if len(states) == 0 {
		return nil, nil
	}
	in, args := inStates(states)
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state IN (`+in+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs by state: %w", err)
	}
	return jobs, nil
}

func (s *Store) FindChildren(ctx context.Context, parentID int64) ([]*job.Job, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE parent_job_id = ? ORDER BY id ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find children of job %d: %w", parentID, err)
	}
	return jobs, nil
}

func (s *Store) FindWithDescendants(ctx context.Context, id int64) ([]*job.Job, error) {
	query := `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM jobs WHERE id = ?
			UNION
			SELECT j.id FROM jobs j INNER JOIN tree t ON j.parent_job_id = t.id
		)
		SELECT ` + jobColumns + ` FROM jobs WHERE id IN (SELECT id FROM tree) ORDER BY id ASC
	`
	jobs, err := s.queryJobs(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find dependencies of job %d: %w", id, err)
	}
	return jobs, nil
}

func (s *Store) CountActive(ctx context.Context) (int64, error) {
	in, args := inStates(job.DoneStates)
	var count int64
	err := s.executor().QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state NOT IN (`+in+`)`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

func (s *Store) FindDedupMatch(ctx context.Context, name, hash string) (*job.Job, error) {
	j, err := s.queryJob(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE name = ? AND arguments_hash = ? ORDER BY id DESC LIMIT 1`,
		name, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find job %s with matching arguments: %w", name, err)
	}
	return j, nil
}

func (s *Store) FindOngoing(ctx context.Context, name string, doneStates []job.State) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE name = ?`
	args := []any{name}
	if len(doneStates) > 0 {
		in, stateArgs := inStates(doneStates)
		query += ` AND state NOT IN (` + in + `)`
		args = append(args, stateArgs...)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	j, err := s.queryJob(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find ongoing job %s: %w", name, err)
	}
	return j, nil
}

func (s *Store) Create(ctx context.Context, tree *job.Tree) ([]*job.Job, error) {
	query := `
		INSERT INTO jobs (name, arguments, arguments_hash, state, created_at, retry_count, retry_limit, parent_job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := s.now()
	created := make([]*job.Job, len(tree.Nodes))
	err := s.inTx(ctx, func(tx store.DBTransaction) error {
		for i, node := range tree.Nodes {
			j := node.Job
			j.CreatedAt = now
			j.ParentJobID = nil
			if node.Parent >= 0 {
				parentID := created[node.Parent].ID
				j.ParentJobID = &parentID
			}

			args, err := j.Arguments.Value()
			if err != nil {
				return fmt.Errorf("failed to encode arguments of %s: %w", j.Name, err)
			}
			if b, ok := args.([]byte); ok {
				args = string(b)
			}

			res, err := tx.ExecContext(ctx, query,
				j.Name, args, j.ArgumentsHash, string(j.State), j.CreatedAt,
				j.RetryCount, j.RetryLimit, j.ParentJobID,
			)
			if err != nil {
				return fmt.Errorf("failed to insert job %s: %w", j.Name, err)
			}
			if j.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read id of job %s: %w", j.Name, err)
			}
			created[i] = &j
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// lockedJob is the slice of a row the transitions need.
type lockedJob struct {
	state     job.State
	startedAt *time.Time
}

func (s *Store) transition(ctx context.Context, id int64, fn func(tx store.DBTransaction, cur lockedJob, now time.Time) error) error {
	return s.inTx(ctx, func(tx store.DBTransaction) error {
		var cur lockedJob
		err := tx.QueryRowContext(ctx, `SELECT state, started_at FROM jobs WHERE id = ?`, id).Scan(&cur.state, &cur.startedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read job %d: %w", id, err)
		}
		return fn(tx, cur, s.now())
	})
}

func update(ctx context.Context, tx store.DBTransaction, id int64, set string, args ...any) error {
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET `+set+` WHERE id = ?`, append(args, id)...); err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	return nil
}

func (s *Store) MarkRunning(ctx context.Context, id int64) (bool, error) {
	var started bool
	err := s.transition(ctx, id, func(tx store.DBTransaction, cur lockedJob, now time.Time) error {
		switch cur.state {
		case job.StateReady:
			started = true
			return update(ctx, tx, id, `state = ?, started_at = ?, updated_at = ?`,
				string(job.StateRunning), now, now)
		case job.StateStopping:
			return update(ctx, tx, id, `state = ?, updated_at = ?, duration_ms = ?`,
				string(job.StateStopped), now, job.DurationSince(cur.startedAt, now))
		default:
			return job.InvariantErrorf("job %d cannot start from state %s", id, cur.state)
		}
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

func (s *Store) MarkStoppedIfStopping(ctx context.Context, id int64) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, cur lockedJob, now time.Time) error {
		if cur.state != job.StateStopping {
			return nil
		}
		return update(ctx, tx, id, `state = ?, updated_at = ?, duration_ms = ?`,
			string(job.StateStopped), now, job.DurationSince(cur.startedAt, now))
	})
}

func (s *Store) MarkCompletedOrStopped(ctx context.Context, id int64) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, cur lockedJob, now time.Time) error {
		switch cur.state {
		case job.StateStopping:
			return update(ctx, tx, id, `state = ?, updated_at = ?, completed_at = ?, duration_ms = ?`,
				string(job.StateStopped), now, now, job.DurationSince(cur.startedAt, now))
		case job.StateRunning:
			return update(ctx, tx, id, `state = ?, updated_at = ?, completed_at = ?, duration_ms = ?`,
				string(job.StateCompleted), now, now, job.DurationSince(cur.startedAt, now))
		default:
			return job.InvariantErrorf("job %d cannot complete from state %s", id, cur.state)
		}
	})
}

func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, cur lockedJob, now time.Time) error {
		if cur.state.IsTerminal() {
			return job.InvariantErrorf("job %d cannot fail from terminal state %s", id, cur.state)
		}
		return update(ctx, tx, id, `state = ?, updated_at = ?, completed_at = ?, duration_ms = ?, error = ?`,
			string(job.StateFailed), now, now, job.DurationSince(cur.startedAt, now), message)
	})
}

func (s *Store) RequestStop(ctx context.Context, id int64) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, cur lockedJob, now time.Time) error {
		if cur.state != job.StateReady && cur.state != job.StateRunning {
			return nil
		}
		return update(ctx, tx, id, `state = ?, updated_at = ?`, string(job.StateStopping), now)
	})
}

func (s *Store) RecordError(ctx context.Context, id int64, message string) error {
	res, err := s.executor().ExecContext(ctx, `UPDATE jobs SET error = ?, updated_at = ? WHERE id = ?`, message, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to record error on job %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	return nil
}
