package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jobrunner/internal/job"
	"jobrunner/internal/store"
)

// transition locks the job row, hands its current state to fn and commits
// whatever fn writes.
func (s *Store) transition(ctx context.Context, id int64, fn func(tx store.DBTransaction, state job.State) error) error {
	return s.inTx(ctx, func(tx store.DBTransaction) error {
		var state job.State
		err := tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock job %d: %w", id, err)
		}
		return fn(tx, state)
	})
}

func exec(ctx context.Context, tx store.DBTransaction, id int64, query string, args ...any) error {
	if _, err := tx.ExecContext(ctx, query, append([]any{id}, args...)...); err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	return nil
}

func (s *Store) MarkRunning(ctx context.Context, id int64) (bool, error) {
	var started bool
	err := s.transition(ctx, id, func(tx store.DBTransaction, state job.State) error {
		switch state {
		case job.StateReady:
			started = true
			return exec(ctx, tx, id,
				`UPDATE jobs SET state = $2, started_at = NOW(), updated_at = NOW() WHERE id = $1`,
				string(job.StateRunning))
		case job.StateStopping:
			return exec(ctx, tx, id,
				`UPDATE jobs SET state = $2, updated_at = NOW(), duration_ms = `+durationExpr+` WHERE id = $1`,
				string(job.StateStopped))
		default:
			return job.InvariantErrorf("job %d cannot start from state %s", id, state)
		}
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

func (s *Store) MarkStoppedIfStopping(ctx context.Context, id int64) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, state job.State) error {
		if state != job.StateStopping {
			return nil
		}
		return exec(ctx, tx, id,
			`UPDATE jobs SET state = $2, updated_at = NOW(), duration_ms = `+durationExpr+` WHERE id = $1`,
			string(job.StateStopped))
	})
}

func (s *Store) MarkCompletedOrStopped(ctx context.Context, id int64) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, state job.State) error {
		switch state {
		case job.StateStopping:
			return exec(ctx, tx, id,
				`UPDATE jobs SET state = $2, updated_at = NOW(), completed_at = NOW(), duration_ms = `+durationExpr+` WHERE id = $1`,
				string(job.StateStopped))
		case job.StateRunning:
			return exec(ctx, tx, id,
				`UPDATE jobs SET state = $2, updated_at = NOW(), completed_at = NOW(), duration_ms = `+durationExpr+` WHERE id = $1`,
				string(job.StateCompleted))
		default:
			return job.InvariantErrorf("job %d cannot complete from state %s", id, state)
		}
	})
}

func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, state job.State) error {
		if state.IsTerminal() {
			return job.InvariantErrorf("job %d cannot fail from terminal state %s", id, state)
		}
		return exec(ctx, tx, id,
			`UPDATE jobs SET state = $2, updated_at = NOW(), completed_at = NOW(), duration_ms = `+durationExpr+`, error = $3 WHERE id = $1`,
			string(job.StateFailed), message)
	})
}

func (s *Store) RequestStop(ctx context.Context, id int64) error {
	return s.transition(ctx, id, func(tx store.DBTransaction, state job.State) error {
		if state != job.StateReady && state != job.StateRunning {
			return nil
		}
		return exec(ctx, tx, id,
			`UPDATE jobs SET state = $2, updated_at = NOW() WHERE id = $1`,
			string(job.StateStopping))
	})
}

func (s *Store) RecordError(ctx context.Context, id int64, message string) error {
	res, err := s.executor().ExecContext(ctx, `UPDATE jobs SET error = $2, updated_at = NOW() WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("failed to record error on job %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	return nil
}
