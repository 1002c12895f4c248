package service

import (
	"errors"
	"net"
	"net/url"

	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// Kind discriminates failures so the HTTP layer can map them to status codes
// without inspecting error strings.
type Kind int

const (
	// KindInternal is an unexpected failure: encoding, decoding or a bug.
	KindInternal Kind = iota
	// KindServiceRejected means the ledger service (or the path to it)
	// refused the request.
	KindServiceRejected
	// KindNotFound means the ledger has no such transaction.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindServiceRejected:
		return "service_rejected"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is returned by every EntryService operation that talks to the ledger.
type Error struct {
	Kind Kind
	Op   string // create, get, list, status, receipt, collections
	Err  error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Message is the underlying failure text without the operation prefix. For
// service responses it is the service's own message.
func (e *Error) Message() string {
	var re *ledger.ResponseError
	if errors.As(e.Err, &re) && re.Message != "" {
		return re.Message
	}
	return e.Err.Error()
}

// KindOf reports the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// classify wraps err from op in an *Error of the matching Kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	kind := KindInternal
	var (
		re     *ledger.ResponseError
		urlErr *url.Error
		netErr net.Error
	)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		kind = KindNotFound
	case errors.As(err, &re), errors.As(err, &urlErr), errors.As(err, &netErr):
		kind = KindServiceRejected
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
