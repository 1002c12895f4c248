// Package journal keeps a local, tamper-evident record of every entry this
// process submitted to the confidential ledger.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the hash of its
// predecessor, so rewriting any record is detectable via Verify.
//
// Three implementations of the Journal interface are provided:
//   - MemoryJournal: in-process, for tests and single-run tools.
//   - BoltJournal: a bbolt file, for single-instance deployments.
//   - PostgresJournal: shared across gateway replicas.
package journal

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entry matches an index or transaction ID.
var ErrNotFound = errors.New("journal entry not found")

// Journal is the append-only hash-chained submission log.
type Journal interface {
	// Append adds a new entry chained to the previous one.
	Append(ctx context.Context, rec Record) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// FindByTransaction returns the most recent entry recorded for txID.
	FindByTransaction(ctx context.Context, txID string) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}
