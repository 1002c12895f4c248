package digest_test

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/jmerrifield20/ledgergate/internal/digest"
)

const (
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	abcSHA256   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	abcSHA3     = "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFile_emptyFileIsHashOfZeroBytes(t *testing.T) {
	got, err := digest.File(writeFile(t, "empty", nil), digest.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if got != emptySHA256 {
		t.Errorf("got %s, want %s", got, emptySHA256)
	}
}

func TestFile_knownVectors(t *testing.T) {
	path := writeFile(t, "abc", []byte("abc"))

	tests := []struct {
		algo digest.Algorithm
		want string
	}{
		{digest.SHA256, abcSHA256},
		{"", abcSHA256},
		{digest.SHA3_256, abcSHA3},
	}
	for _, tt := range tests {
		got, err := digest.File(path, tt.algo)
		if err != nil {
			t.Fatalf("%s: %v", tt.algo, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.algo, got, tt.want)
		}
	}
}

func TestFile_deterministicAcrossBlockBoundaries(t *testing.T) {
	data := []byte(strings.Repeat("ledger!", 3*digest.BlockSize/7+11))
	path := writeFile(t, "big", data)

	for _, algo := range digest.Algorithms {
		first, err := digest.File(path, algo)
		if err != nil {
			t.Fatal(err)
		}
		second, err := digest.File(path, algo)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Errorf("%s: digest not deterministic", algo)
		}
		if len(first) != 64 {
			t.Errorf("%s: expected 256-bit hex digest, got %d chars", algo, len(first))
		}

		// Reading one byte at a time must not change the result.
		oneByte, err := digest.Reader(iotest.OneByteReader(strings.NewReader(string(data))), algo)
		if err != nil {
			t.Fatal(err)
		}
		if oneByte != first {
			t.Errorf("%s: chunking changed digest", algo)
		}
	}
}

func TestFile_missingFileReturnsPathError(t *testing.T) {
	_, err := digest.File(filepath.Join(t.TempDir(), "nope"), digest.SHA256)
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected *fs.PathError, got %T (%v)", err, err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestReader_propagatesReadError(t *testing.T) {
	want := errors.New("disk on fire")
	_, err := digest.Reader(iotest.ErrReader(want), digest.SHA256)
	if !errors.Is(err, want) {
		t.Fatalf("expected read error unchanged, got %v", err)
	}
}

func TestParseAlgorithm(t *testing.T) {
	if a, err := digest.ParseAlgorithm("blake2b-256"); err != nil || a != digest.BLAKE2b256 {
		t.Errorf("blake2b-256: got %q, %v", a, err)
	}
	if _, err := digest.ParseAlgorithm("md5"); err == nil {
		t.Error("expected md5 to be rejected")
	}
}

func TestReceipt_Contents(t *testing.T) {
	got, err := digest.Receipt{FileName: "notes.txt", Digest: abcSHA256}.Contents()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"File Name": "notes.txt", "digest": "` + abcSHA256 + `"}`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	withAlgo, err := digest.Receipt{FileName: "a", Digest: "b", Algorithm: digest.SHA3_256}.Contents()
	if err != nil {
		t.Fatal(err)
	}
	if withAlgo != `{"File Name": "a", "digest": "b", "algorithm": "sha3-256"}` {
		t.Errorf("unexpected contents %s", withAlgo)
	}
}

func TestReceipt_UnmarshalJSON(t *testing.T) {
	var r digest.Receipt
	if err := json.Unmarshal([]byte(`{"File Name": "x.bin", "digest": "ff"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.FileName != "x.bin" || r.Digest != "ff" || r.Algorithm != digest.SHA256 {
		t.Errorf("unexpected receipt %+v", r)
	}

	if err := json.Unmarshal([]byte(`{"File Name": "x", "Content": "abc"}`), &r); err == nil {
		t.Error("file content record should not decode as a receipt")
	}
}

func TestFileContent_Contents(t *testing.T) {
	got, err := digest.FileContent{FileName: "notes.txt", Content: "abc"}.Contents()
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"File Name": "notes.txt", "Content": "abc"}` {
		t.Errorf("unexpected contents %s", got)
	}

	escaped, _ := digest.FileContent{FileName: "q.txt", Content: "a \"b\"\n<c>"}.Contents()
	if escaped != `{"File Name": "q.txt", "Content": "a \"b\"\n<c>"}` {
		t.Errorf("unexpected escaping %s", escaped)
	}
}
