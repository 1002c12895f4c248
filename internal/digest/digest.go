// Package digest fingerprints files before their receipts are written to the
// ledger.
//
// Content is streamed through the hash in fixed-size blocks, so memory use
// does not depend on file size.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// BlockSize is the read size used when streaming content into the hash.
const BlockSize = 4096

// Algorithm names a 256-bit hash function.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Algorithms lists every supported algorithm, default first.
var Algorithms = []Algorithm{SHA256, SHA3_256, BLAKE2b256}

// ParseAlgorithm maps a name to an Algorithm. The empty string selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return SHA256, nil
	}
	for _, a := range Algorithms {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported digest algorithm %q", name)
}

// New returns a fresh hash.Hash for a.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA256, "":
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", string(a))
	}
}

// File returns the hex digest of the file at path. Open and read errors are
// returned unchanged.
func File(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(f, algo)
}

// Reader returns the hex digest of everything read from r. Read errors are
// returned unchanged.
func Reader(r io.Reader, algo Algorithm) (string, error) {
	h, err := algo.New()
	if err != nil {
		return "", err
	}
	buf := make([]byte, BlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
