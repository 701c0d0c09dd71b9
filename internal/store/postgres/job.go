package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jobrunner/internal/job"
	"jobrunner/internal/store"

	"github.com/lib/pq"
)

const jobColumns = `id, name, arguments, arguments_hash, state, created_at, updated_at, started_at,
	completed_at, duration_ms, retry_count, retry_limit, parent_job_id, error`

// durationExpr computes the elapsed milliseconds since started_at; NULL when never started.
const durationExpr = `CAST(EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000 AS BIGINT)`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID,
		&j.Name,
		&j.Arguments,
		&j.ArgumentsHash,
		&j.State,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.DurationMs,
		&j.RetryCount,
		&j.RetryLimit,
		&j.ParentJobID,
		&j.Error,
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

func stateStrings(states []job.State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

func (s *Store) FindByID(ctx context.Context, id int64) (*job.Job, error) {
	j, err := s.queryJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
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
	jobs, err := s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ANY($1) ORDER BY id ASC`,
		pq.Array(stateStrings(states)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs by state: %w", err)
	}
	return jobs, nil
}

func (s *Store) FindChildren(ctx context.Context, parentID int64) ([]*job.Job, error) {
	jobs, err := s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE parent_job_id = $1 ORDER BY id ASC`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find children of job %d: %w", parentID, err)
	}
	return jobs, nil
}

func (s *Store) FindWithDescendants(ctx context.Context, id int64) ([]*job.Job, error) {
	query := `
		WITH RECURSIVE job_dependencies AS (
			SELECT ` + jobColumns + `
			FROM jobs
			WHERE id = $1
			UNION
			SELECT j.id, j.name, j.arguments, j.arguments_hash, j.state, j.created_at, j.updated_at, j.started_at,
				j.completed_at, j.duration_ms, j.retry_count, j.retry_limit, j.parent_job_id, j.error
			FROM jobs j
			INNER JOIN job_dependencies d ON d.id = j.parent_job_id
		)
		SELECT ` + jobColumns + ` FROM job_dependencies
	`
	jobs, err := s.queryJobs(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find dependencies of job %d: %w", id, err)
	}
	return jobs, nil
}

func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.executor().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state <> ALL($1)`,
		pq.Array(stateStrings(job.DoneStates)),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

func (s *Store) FindDedupMatch(ctx context.Context, name, hash string) (*job.Job, error) {
	j, err := s.queryJob(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE name = $1 AND arguments_hash = $2 ORDER BY id DESC LIMIT 1`,
		name, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find job %s with matching arguments: %w", name, err)
	}
	return j, nil
}

func (s *Store) FindOngoing(ctx context.Context, name string, doneStates []job.State) (*job.Job, error) {
	j, err := s.queryJob(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE name = $1 AND state <> ALL($2) ORDER BY created_at DESC, id DESC LIMIT 1`,
		name, pq.Array(stateStrings(doneStates)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find ongoing job %s: %w", name, err)
	}
	return j, nil
}

// Create inserts the tree root first; children reference the ids returned
// for their parents.
func (s *Store) Create(ctx context.Context, tree *job.Tree) ([]*job.Job, error) {
	query := `
		INSERT INTO jobs (name, arguments, arguments_hash, state, retry_count, retry_limit, parent_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	created := make([]*job.Job, len(tree.Nodes))
	err := s.inTx(ctx, func(tx store.DBTransaction) error {
		for i, node := range tree.Nodes {
			j := node.Job
			j.ParentJobID = nil
			if node.Parent >= 0 {
				parentID := created[node.Parent].ID
				j.ParentJobID = &parentID
			}

			err := tx.QueryRowContext(ctx, query,
				j.Name,
				j.Arguments,
				j.ArgumentsHash,
				string(j.State),
				j.RetryCount,
				j.RetryLimit,
				j.ParentJobID,
			).Scan(&j.ID, &j.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert job %s: %w", j.Name, err)
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
