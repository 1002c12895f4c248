package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Receipt is the digest record written as the contents of a ledger entry.
// It encodes as {"File Name": <name>, "digest": <hex>} with keys in that
// order; "algorithm" is appended only for non-default algorithms.
type Receipt struct {
	FileName  string
	Digest    string
	Algorithm Algorithm
}

// Contents returns the entry contents for r. Unlike json.Marshal, which
// compacts marshaler output, it keeps the ", " and ": " separators.
func (r Receipt) Contents() (string, error) {
	b, err := r.MarshalJSON()
	return string(b), err
}

// MarshalJSON implements json.Marshaler.
func (r Receipt) MarshalJSON() ([]byte, error) {
	fields := []field{{"File Name", r.FileName}, {"digest", r.Digest}}
	if r.Algorithm != "" && r.Algorithm != SHA256 {
		fields = append(fields, field{"algorithm", string(r.Algorithm)})
	}
	return encodeOrdered(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name, okName := raw["File Name"]
	dig, okDigest := raw["digest"]
	if !okName || !okDigest {
		return fmt.Errorf("not a digest receipt")
	}
	algo, err := ParseAlgorithm(raw["algorithm"])
	if err != nil {
		return err
	}
	*r = Receipt{FileName: name, Digest: dig, Algorithm: algo}
	return nil
}

// FileContent is the record stored by raw file uploads: the file's name and
// its text, not a digest.
type FileContent struct {
	FileName string
	Content  string
}

// Contents returns the entry contents for f; see Receipt.Contents.
func (f FileContent) Contents() (string, error) {
	b, err := f.MarshalJSON()
	return string(b), err
}

// MarshalJSON implements json.Marshaler, producing
// {"File Name": <name>, "Content": <text>}.
func (f FileContent) MarshalJSON() ([]byte, error) {
	return encodeOrdered([]field{{"File Name", f.FileName}, {"Content", f.Content}})
}

type field struct {
	key, value string
}

// encodeOrdered writes a flat string object with keys in the given order,
// using ", " and ": " separators.
func encodeOrdered(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		if err := writeString(&buf, f.key); err != nil {
			return nil, err
		}
		buf.WriteString(": ")
		if err := writeString(&buf, f.value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
