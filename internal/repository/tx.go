package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Transactor runs a function inside a single database transaction. Financial
// mutations (payment validation, reversals, period closing, admin reset) are
// all-or-nothing within one of these.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor wraps a database handle.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// RunInTx begins a transaction, runs fn, and commits. Any error rolls back.
func (t *Transactor) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
