package store

import (
	"database/sql"
	"fmt"
)

// Store is the data access layer for the janitor's own tables:
// checkpoints, run history and task stats. Maintenance tasks that
// operate on application tables receive the raw DB handles instead.
type Store struct {
	db *DB
}

// NewStore creates a new Store backed by the given DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// WriteDB returns the write connection. Callers must keep transactions
// short; the connection is shared by every worker in the process.
func (s *Store) WriteDB() *sql.DB {
	return s.db.Write
}

// ReadDB returns the read pool for queries.
func (s *Store) ReadDB() *sql.DB {
	return s.db.Read
}

// WithTx runs fn inside a write transaction, committing on nil error.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Write.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// Close closes the underlying database connections.
func (s *Store) Close() error {
	return s.db.Close()
}
