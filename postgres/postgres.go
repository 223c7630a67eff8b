// Package postgres implements flow.Store on PostgreSQL via pgx.
//
// Instance state lives in a JSONB column guarded by a version counter
// (compare-and-set), task runs are append-only rows whose status
// transitions are conditional UPDATEs, so two workers can never claim
// or finish the same run twice.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements flow.Store using PostgreSQL via pgx.
type PGStore struct {
	db *pgxpool.Pool
}

// New creates a new PGStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// isNoRows checks if the error is a "no rows" error from pgx.
func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
