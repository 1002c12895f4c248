package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// All subsequent entry hashes chain from this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Payload kinds recorded alongside each submission.
const (
	KindGenesis = "genesis"
	KindMessage = "message"
	KindFile    = "file"
	KindDigest  = "digest"
)

// Entry is a single record in the journal.
type Entry struct {
	Index         int       `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id"`
	CollectionID  string    `json:"collection_id"`
	Kind          string    `json:"kind"`
	ContentHash   string    `json:"content_hash"` // SHA-256 of the submitted contents
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// Record is what a caller hands to Append after a successful submission.
type Record struct {
	TransactionID string
	CollectionID  string
	Kind          string
	Contents      string
}

func genesisEntry() *Entry {
	return &Entry{
		Index:       0,
		Timestamp:   time.Now().UTC(),
		Kind:        KindGenesis,
		ContentHash: GenesisHash,
		PrevHash:    GenesisHash,
		Hash:        GenesisHash,
	}
}

// next builds the entry that follows prev for rec.
func next(prev *Entry, rec Record) *Entry {
	e := &Entry{
		Index:         prev.Index + 1,
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond), // Postgres precision
		TransactionID: rec.TransactionID,
		CollectionID:  rec.CollectionID,
		Kind:          rec.Kind,
		ContentHash:   ContentHash(rec.Contents),
		PrevHash:      prev.Hash,
	}
	e.Hash = hashEntry(e)
	return e
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// It must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.TransactionID, e.CollectionID, e.Kind, e.ContentHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the hex SHA-256 of entry contents as stored in the
// journal.
func ContentHash(contents string) string {
	h := sha256.Sum256([]byte(contents))
	return hex.EncodeToString(h[:])
}

// verifyLink checks curr against its predecessor. prev is nil for the
// genesis entry.
func verifyLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.Index != prev.Index+1 {
		return fmt.Errorf("index gap after %d: got %d", prev.Index, curr.Index)
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
