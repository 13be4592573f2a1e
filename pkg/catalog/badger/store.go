// Package badger provides a catalog implementation persisted in BadgerDB.
//
// Rows are serialized as JSON under namespaced keys (see keys.go).
// Transactions rely on Badger's serializable snapshot isolation: instead
// of locking rows, a transaction that read a key someone else wrote in the
// meantime fails to commit with ErrConflict and is re-run. Update closures
// therefore must be idempotent, which the service layer guarantees.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/pkg/catalog"
)

// maxCommitRetries bounds how often a conflicting transaction is re-run
// before the conflict is surfaced to the caller.
const maxCommitRetries = 32

// Config holds the knobs for opening the badger catalog.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in RAM. Used by tests.
	InMemory bool
}

// Store implements catalog.Catalog on top of BadgerDB.
type Store struct {
	db *badger.DB
}

// NewStore opens (or creates) the database at cfg.Path.
func NewStore(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger catalog at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Update implements catalog.Catalog. The closure is re-run when the commit
// loses a serialization race.
func (s *Store) Update(ctx context.Context, fn func(tx catalog.Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&storeTx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt+1 >= maxCommitRetries {
			return &catalog.StoreError{
				Code:    catalog.ErrCodeConflict,
				Message: fmt.Sprintf("transaction conflicted %d times", attempt+1),
			}
		}
		logger.Debug("catalog transaction conflicted, retrying (attempt %d)", attempt+1)
	}
}

// View implements catalog.Catalog.
func (s *Store) View(ctx context.Context, fn func(tx catalog.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&storeTx{txn: txn})
	})
}

// Close implements catalog.Catalog.
func (s *Store) Close() error {
	return s.db.Close()
}
