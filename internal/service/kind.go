package service

import (
	"encoding/json"

	"github.com/jmerrifield20/ledgergate/internal/journal"
)

// DetectKind guesses which submission shape produced contents. Entries carry
// no type marker on the ledger, so this looks for the keys written by
// SubmitFile and SubmitDigest and treats everything else as a message.
func DetectKind(contents string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(contents), &obj); err != nil {
		return journal.KindMessage
	}
	if _, ok := obj["File Name"]; !ok {
		return journal.KindMessage
	}
	if _, ok := obj["digest"]; ok {
		return journal.KindDigest
	}
	if _, ok := obj["Content"]; ok {
		return journal.KindFile
	}
	return journal.KindMessage
}
