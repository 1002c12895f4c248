package journal

import (
	"context"
	"fmt"
	"sync"
)

// MemoryJournal is an in-memory, thread-safe Journal implementation.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*Entry
	byTx    map[string]int
}

// NewMemory creates a MemoryJournal initialised with the genesis entry.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{
		entries: []*Entry{genesisEntry()},
		byTx:    make(map[string]int),
	}
}

// Append implements Journal.
func (j *MemoryJournal) Append(_ context.Context, rec Record) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := next(j.entries[len(j.entries)-1], rec)
	j.entries = append(j.entries, entry)
	if rec.TransactionID != "" {
		j.byTx[rec.TransactionID] = entry.Index
	}
	return entry, nil
}

// Get implements Journal.
func (j *MemoryJournal) Get(_ context.Context, index int) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.entries) {
		return nil, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	return j.entries[index], nil
}

// FindByTransaction implements Journal.
func (j *MemoryJournal) FindByTransaction(_ context.Context, txID string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	idx, ok := j.byTx[txID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	return j.entries[idx], nil
}

// Len implements Journal.
func (j *MemoryJournal) Len(_ context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries), nil
}

// Verify implements Journal.
func (j *MemoryJournal) Verify(_ context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var prev *Entry
	for _, curr := range j.entries {
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Journal.
func (j *MemoryJournal) Root(_ context.Context) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1].Hash, nil
}
