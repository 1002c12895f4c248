package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketEntries      = []byte("entries")
	bucketTransactions = []byte("transactions")
)

// BoltJournal persists the journal to a single bbolt file. Appends are
// serialised by bbolt's single writer.
type BoltJournal struct {
	db *bbolt.DB
}

var _ Journal = (*BoltJournal)(nil)

// OpenBolt opens or creates the journal at path, writing the genesis entry
// on first use. The parent directory is created if it does not exist.
func OpenBolt(path string) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketTransactions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		entries := tx.Bucket(bucketEntries)
		if k, _ := entries.Cursor().First(); k != nil {
			return nil
		}
		return putEntry(entries, genesisEntry())
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: initialise: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

// Close closes the underlying database.
func (j *BoltJournal) Close() error { return j.db.Close() }

// Append implements Journal.
func (j *BoltJournal) Append(_ context.Context, rec Record) (*Entry, error) {
	var entry *Entry
	err := j.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		_, last := entries.Cursor().Last()
		var prev Entry
		if err := decodeGob(last, &prev); err != nil {
			return fmt.Errorf("decode tail: %w", err)
		}

		entry = next(&prev, rec)
		if err := putEntry(entries, entry); err != nil {
			return err
		}
		if rec.TransactionID == "" {
			return nil
		}
		return tx.Bucket(bucketTransactions).Put([]byte(rec.TransactionID), indexKey(entry.Index))
	})
	if err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}
	return entry, nil
}

// Get implements Journal.
func (j *BoltJournal) Get(_ context.Context, index int) (*Entry, error) {
	if index < 0 {
		return nil, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	var entry Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get(indexKey(index))
		if data == nil {
			return fmt.Errorf("index %d: %w", index, ErrNotFound)
		}
		return decodeGob(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindByTransaction implements Journal.
func (j *BoltJournal) FindByTransaction(_ context.Context, txID string) (*Entry, error) {
	var entry Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketTransactions).Get([]byte(txID))
		if key == nil {
			return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
		}
		data := tx.Bucket(bucketEntries).Get(key)
		if data == nil {
			return fmt.Errorf("transaction %s: dangling index: %w", txID, ErrNotFound)
		}
		return decodeGob(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Len implements Journal.
func (j *BoltJournal) Len(_ context.Context) (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

// Verify implements Journal. Keys are big-endian indexes, so the cursor walks
// the chain in order.
func (j *BoltJournal) Verify(_ context.Context) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		var prev *Entry
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			curr := &Entry{}
			if err := decodeGob(v, curr); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if err := verifyLink(prev, curr); err != nil {
				return err
			}
			prev = curr
			return nil
		})
	})
}

// Root implements Journal.
func (j *BoltJournal) Root(_ context.Context) (string, error) {
	var root string
	err := j.db.View(func(tx *bbolt.Tx) error {
		_, last := tx.Bucket(bucketEntries).Cursor().Last()
		var e Entry
		if err := decodeGob(last, &e); err != nil {
			return err
		}
		root = e.Hash
		return nil
	})
	return root, err
}

func putEntry(b *bbolt.Bucket, e *Entry) error {
	data, err := encodeGob(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return b.Put(indexKey(e.Index), data)
}

// indexKey encodes an entry index as an 8-byte big-endian key for sorted storage.
func indexKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
