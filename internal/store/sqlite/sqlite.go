// Package sqlite implements the store interfaces on an embedded SQLite file.
// Writers are serialized by opening every transaction with BEGIN IMMEDIATE.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jobrunner/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db  *sql.DB
	tx  *sql.Tx
	now func() time.Time
}

var _ store.Gateway = (*Store)(nil)

// New opens (creating if needed) the database file at path.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) executor() store.DBTransaction {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) inTx(ctx context.Context, fn func(tx store.DBTransaction) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithNameLock runs fn in an immediate transaction. SQLite allows a single
// writer, so holding it excludes every other submission, not only those
// sharing the name.
func (s *Store) WithNameLock(ctx context.Context, name string, fn func(store.JobStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to lock job name %q: %w", name, err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, tx: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
