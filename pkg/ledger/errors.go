package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches (via errors.Is) any ResponseError with status 404.
var ErrNotFound = errors.New("ledger: not found")

// ResponseError is returned for every non-2xx response from the ledger service.
type ResponseError struct {
	StatusCode int
	Code       string // service error code, e.g. "TransactionNotFound"
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger returned HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Is reports ErrNotFound for 404 responses.
func (e *ResponseError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// newResponseError decodes the service's {"error":{"code","message"}} envelope,
// falling back to the raw body when it does not match.
func newResponseError(status int, body []byte) *ResponseError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && (envelope.Error.Code != "" || envelope.Error.Message != "") {
		return &ResponseError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	msg := string(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ResponseError{StatusCode: status, Message: msg}
}
