package store

import (
	"database/sql"
	"fmt"
)

// dbConn is satisfied by both *sql.DB and *sql.Tx, so every read/write
// method on Store can run either directly against the database or inside
// a BatchTx transaction without duplicating its logic.
type dbConn interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// BatchTx wraps a transaction for bulk writes during extraction, mirroring
// the teacher's BeginBatch/Commit/Rollback pattern. It embeds a *Store
// whose conn is the transaction, so callers use the exact same
// UpsertNode/UpsertHyperedge/Checkpoint/etc. methods as outside a batch —
// spec §4.1's "batch form takes an ordered sequence and runs in one
// transactional unit" falls out of reusing those methods against a *sql.Tx
// instead of duplicating them.
type BatchTx struct {
	*Store
	tx *sql.Tx
}

// BeginBatch starts a transaction for batched node/hyperedge writes. Every
// call through the returned BatchTx's embedded Store participates in the
// same transaction until Commit or Rollback.
func (s *Store) BeginBatch() (*BatchTx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	return &BatchTx{Store: &Store{db: s.db, dbPath: s.dbPath, conn: tx}, tx: tx}, nil
}

// Commit commits the batch transaction.
func (b *BatchTx) Commit() error { return b.tx.Commit() }

// Rollback rolls back the batch transaction.
func (b *BatchTx) Rollback() error { return b.tx.Rollback() }

// withTx runs fn atomically. If the Store is already inside a batch
// transaction (s.conn is a *sql.Tx), fn joins it — a multi-statement write
// started from inside a batch doesn't open a nested transaction, it is
// just part of the outer one. Otherwise withTx opens and closes a
// transaction scoped to fn alone, so a single multi-statement call outside
// any batch (e.g. one UpsertHyperedge member rewrite) still either
// commits as a whole or leaves no trace (spec §3's failure model: "all
// store operations either succeed or leave the store unchanged").
func (s *Store) withTx(fn func(dbConn) error) error {
	if tx, ok := s.conn.(*sql.Tx); ok {
		return fn(tx)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
