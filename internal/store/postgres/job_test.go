package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"jobrunner/internal/job"
	"jobrunner/internal/store"
)

var jobRowColumns = []string{
	"id", "name", "arguments", "arguments_hash", "state", "created_at", "updated_at", "started_at",
	"completed_at", "duration_ms", "retry_count", "retry_limit", "parent_job_id", "error",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func addJobRow(rows *sqlmock.Rows, id int64, name string, state job.State, parent any) *sqlmock.Rows {
	return rows.AddRow(id, name, []byte(`{"k":"v"}`), "hash", string(state), time.Now(), nil, nil,
		nil, nil, 0, 0, parent, nil)
}

func TestFindByID_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	rows := addJobRow(sqlmock.NewRows(jobRowColumns), 7, "sleep", job.StateRunning, int64(3))
	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE id =`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	j, err := s.FindByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if j.ID != 7 || j.Name != "sleep" || j.State != job.StateRunning {
		t.Errorf("unexpected job: %+v", j)
	}
	if j.ParentJobID == nil || *j.ParentJobID != 3 {
		t.Errorf("expected parent 3, got %v", j.ParentJobID)
	}
	if j.Arguments.StringValue("k") != "v" {
		t.Errorf("expected arguments to be decoded, got %v", j.Arguments)
	}
	if j.StartedAt != nil {
		t.Errorf("expected nil started_at, got %v", j.StartedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFindByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE id =`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	_, err := s.FindByID(context.Background(), 9)
	if !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	rows := sqlmock.NewRows(jobRowColumns)
	addJobRow(rows, 2, "b", job.StateReady, nil)
	addJobRow(rows, 1, "a", job.StateCompleted, nil)
	mock.ExpectQuery(`SELECT (.+) FROM jobs ORDER BY id DESC`).WillReturnRows(rows)

	jobs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != 2 {
		t.Errorf("unexpected jobs: %+v", jobs)
	}
}

func TestFindWithDescendants(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	rows := sqlmock.NewRows(jobRowColumns)
	addJobRow(rows, 1, "root", job.StateCompleted, nil)
	addJobRow(rows, 2, "child", job.StateRunning, int64(1))
	mock.ExpectQuery(`WITH RECURSIVE job_dependencies`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	jobs, err := s.FindWithDescendants(context.Background(), 1)
	if err != nil {
		t.Fatalf("FindWithDescendants failed: %v", err)
	}
	tree, err := job.BuildTree(jobs)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	if tree.Size() != 2 {
		t.Errorf("expected tree of 2, got %d", tree.Size())
	}
}

func TestCountActive(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs WHERE state <> ALL`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := s.CountActive(context.Background())
	if err != nil {
		t.Fatalf("CountActive failed: %v", err)
	}
	if n != 4 {
		t.Errorf("got %d, want 4", n)
	}
}

func TestFindOngoing_None(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM jobs WHERE name = \$1 AND state <> ALL`).
		WithArgs("sleep", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	_, err := s.FindOngoing(context.Background(), "sleep", job.DoneStates)
	if !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindDedupMatch(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM jobs WHERE name = \$1 AND arguments_hash = \$2`).
		WithArgs("sleep", "hash").
		WillReturnRows(addJobRow(sqlmock.NewRows(jobRowColumns), 5, "sleep", job.StateFailed, nil))

	j, err := s.FindDedupMatch(context.Background(), "sleep", "hash")
	if err != nil {
		t.Fatalf("FindDedupMatch failed: %v", err)
	}
	if j.ID != 5 {
		t.Errorf("got id %d, want 5", j.ID)
	}
}

func TestCreate_LinksChildrenToParentIDs(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tree, err := job.Expand(job.Definition{Name: "root", Jobs: []job.Definition{{Name: "child"}}})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs("root", sqlmock.AnyArg(), "", string(job.StateReady), 0, 0, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), now))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs("child", sqlmock.AnyArg(), "", string(job.StateReady), 0, 0, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))
	mock.ExpectCommit()

	created, err := s.Create(context.Background(), tree)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(created))
	}
	if created[0].ID != 10 || created[0].ParentJobID != nil {
		t.Errorf("unexpected root: %+v", created[0])
	}
	if created[1].ParentJobID == nil || *created[1].ParentJobID != 10 {
		t.Errorf("child not linked to root: %+v", created[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreate_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tree, _ := job.Expand(job.Definition{Name: "root"})

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO jobs`).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	if _, err := s.Create(context.Background(), tree); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func expectLockedState(mock sqlmock.Sqlmock, id int64, state job.State) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT state FROM jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(string(state)))
}

func TestMarkRunning(t *testing.T) {
	t.Run("ready starts", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		expectLockedState(mock, 1, job.StateReady)
		mock.ExpectExec(`UPDATE jobs SET state = \$2, started_at = NOW`).
			WithArgs(int64(1), string(job.StateRunning)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		started, err := s.MarkRunning(context.Background(), 1)
		if err != nil || !started {
			t.Fatalf("expected start, got %v %v", started, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("stopping becomes stopped", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		expectLockedState(mock, 1, job.StateStopping)
		mock.ExpectExec(`UPDATE jobs SET state = \$2`).
			WithArgs(int64(1), string(job.StateStopped)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		started, err := s.MarkRunning(context.Background(), 1)
		if err != nil || started {
			t.Fatalf("expected no start, got %v %v", started, err)
		}
	})

	t.Run("terminal state is rejected", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		expectLockedState(mock, 1, job.StateCompleted)
		mock.ExpectRollback()

		_, err := s.MarkRunning(context.Background(), 1)
		if !errors.Is(err, job.ErrInvariant) {
			t.Errorf("expected ErrInvariant, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT state FROM jobs`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := s.MarkRunning(context.Background(), 1)
		if !errors.Is(err, job.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMarkCompletedOrStopped(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	expectLockedState(mock, 2, job.StateRunning)
	mock.ExpectExec(`UPDATE jobs SET state = \$2, updated_at = NOW\(\), completed_at = NOW\(\)`).
		WithArgs(int64(2), string(job.StateCompleted)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.MarkCompletedOrStopped(context.Background(), 2); err != nil {
		t.Fatalf("MarkCompletedOrStopped failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkCompletedOrStopped_Stopping(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	expectLockedState(mock, 2, job.StateStopping)
	mock.ExpectExec(`UPDATE jobs SET state = \$2, updated_at = NOW\(\), completed_at = NOW\(\), duration_ms`).
		WithArgs(int64(2), string(job.StateStopped)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.MarkCompletedOrStopped(context.Background(), 2); err != nil {
		t.Fatalf("MarkCompletedOrStopped failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkFailed(t *testing.T) {
	t.Run("running fails with message", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		expectLockedState(mock, 3, job.StateRunning)
		mock.ExpectExec(`UPDATE jobs SET state = \$2`).
			WithArgs(int64(3), string(job.StateFailed), "boom").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := s.MarkFailed(context.Background(), 3, "boom"); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
	})

	t.Run("stopped job is rejected", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		expectLockedState(mock, 3, job.StateStopped)
		mock.ExpectRollback()

		if err := s.MarkFailed(context.Background(), 3, "boom"); !errors.Is(err, job.ErrInvariant) {
			t.Errorf("expected ErrInvariant, got %v", err)
		}
	})
}

func TestRequestStop_NoOpOnTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	expectLockedState(mock, 4, job.StateFailed)
	mock.ExpectCommit()

	if err := s.RequestStop(context.Background(), 4); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordError_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE jobs SET error = \$2`).
		WithArgs(int64(5), "oops").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RecordError(context.Background(), 5, "oops"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWithNameLock_RunsInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs("sleep").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM jobs WHERE name = \$1 AND arguments_hash`).
		WithArgs("sleep", "").
		WillReturnRows(sqlmock.NewRows(jobRowColumns))
	mock.ExpectCommit()

	err := s.WithNameLock(context.Background(), "sleep", func(tx store.JobStore) error {
		_, err := tx.FindDedupMatch(context.Background(), "sleep", "")
		if !errors.Is(err, job.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithNameLock failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestWithNameLock_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	want := errors.New("abort")
	err := s.WithNameLock(context.Background(), "sleep", func(store.JobStore) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
