// Package service holds the ledger gateway's business logic: turning
// submissions into ledger entries and resolving reads that the ledger still
// reports as Loading.
package service

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/digest"
	"github.com/jmerrifield20/ledgergate/internal/journal"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// LedgerAPI is the data-plane surface the service consumes.
// *ledger.Client satisfies this interface.
type LedgerAPI interface {
	CreateEntry(ctx context.Context, contents, collectionID string) (*ledger.CreateResult, error)
	GetEntry(ctx context.Context, transactionID, collectionID string) (*ledger.GetEntryResult, error)
	Entries(ctx context.Context, collectionID string) iter.Seq2[*ledger.Entry, error]
	TransactionStatus(ctx context.Context, transactionID string) (*ledger.TransactionStatus, error)
	GetReceipt(ctx context.Context, transactionID string) (*ledger.ReceiptResult, error)
	ListCollections(ctx context.Context) ([]ledger.Collection, error)
}

// Recorder receives operational events, typically to update metrics.
type Recorder interface {
	Operation(op, outcome string)
	PendingRetry()
	CacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, string) {}
func (nopRecorder) PendingRetry()            {}
func (nopRecorder) CacheLookup(bool)         {}

// PendingPolicy controls how Get resolves entries still reported as Loading.
//
// Retries is the number of extra reads issued after the first Loading
// response. Interval is the pause before each extra read. Timeout, when
// positive, stops retrying once exceeded. Whatever the policy, Get returns
// the last result it saw, which may still be Loading.
type PendingPolicy struct {
	Retries  int
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPendingPolicy issues exactly one immediate extra read.
var DefaultPendingPolicy = PendingPolicy{Retries: 1}

// ErrTransactionIDRequired is returned by reads given an empty transaction ID.
var ErrTransactionIDRequired = errors.New("transaction id is required")

// DigestSubmission is the result of SubmitDigest.
type DigestSubmission struct {
	*ledger.CreateResult
	Receipt digest.Receipt `json:"receipt"`
}

// EntryService submits and reads ledger entries. It is safe for concurrent
// use; the ledger client is shared and never re-created per request.
type EntryService struct {
	ledger   LedgerAPI
	policy   PendingPolicy
	cache    *lru.Cache      // nil = no caching
	journal  journal.Journal // nil = no local journal
	recorder Recorder
	logger   *zap.Logger
}

// NewEntryService creates an EntryService using DefaultPendingPolicy.
func NewEntryService(api LedgerAPI, logger *zap.Logger) *EntryService {
	return &EntryService{
		ledger:   api,
		policy:   DefaultPendingPolicy,
		recorder: nopRecorder{},
		logger:   logger,
	}
}

// SetPendingPolicy replaces the Loading resolution policy. Negative values
// are treated as zero.
func (s *EntryService) SetPendingPolicy(p PendingPolicy) {
	p.Retries = max(p.Retries, 0)
	p.Interval = max(p.Interval, 0)
	p.Timeout = max(p.Timeout, 0)
	s.policy = p
}

// EnableCache keeps up to size Ready entries in memory. Committed entries are
// immutable, so cached results never go stale. size <= 0 disables caching.
func (s *EntryService) EnableCache(size int) error {
	if size <= 0 {
		s.cache = nil
		return nil
	}
	c, err := lru.New(size)
	if err != nil {
		return err
	}
	s.cache = c
	return nil
}

// SetJournal records every successful submission in j.
func (s *EntryService) SetJournal(j journal.Journal) { s.journal = j }

// SetRecorder installs r for operational events.
func (s *EntryService) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// Submit appends contents verbatim. The service does not interpret contents;
// the journal kind is guessed with DetectKind.
func (s *EntryService) Submit(ctx context.Context, contents, collectionID string) (*ledger.CreateResult, error) {
	return s.submit(ctx, DetectKind(contents), contents, collectionID)
}

// SubmitMessage appends a raw user message.
func (s *EntryService) SubmitMessage(ctx context.Context, content, collectionID string) (*ledger.CreateResult, error) {
	return s.submit(ctx, journal.KindMessage, content, collectionID)
}

// SubmitFile appends {"File Name": name, "Content": text} where text is data
// decoded as UTF-8 with invalid bytes dropped.
func (s *EntryService) SubmitFile(ctx context.Context, name string, data []byte, collectionID string) (*ledger.CreateResult, error) {
	contents, err := digest.FileContent{
		FileName: name,
		Content:  strings.ToValidUTF8(string(data), ""),
	}.Contents()
	if err != nil {
		return nil, classify("create", err)
	}
	return s.submit(ctx, journal.KindFile, contents, collectionID)
}

// SubmitDigest hashes the file at path and appends its receipt. Errors
// opening or reading the file are returned unchanged.
func (s *EntryService) SubmitDigest(ctx context.Context, path string, algo digest.Algorithm, collectionID string) (*DigestSubmission, error) {
	sum, err := digest.File(path, algo)
	if err != nil {
		return nil, err
	}
	receipt := digest.Receipt{FileName: filepath.Base(path), Digest: sum, Algorithm: algo}
	contents, err := receipt.Contents()
	if err != nil {
		return nil, classify("create", err)
	}
	res, err := s.submit(ctx, journal.KindDigest, contents, collectionID)
	if err != nil {
		return nil, err
	}
	return &DigestSubmission{CreateResult: res, Receipt: receipt}, nil
}

func (s *EntryService) submit(ctx context.Context, kind, contents, collectionID string) (*ledger.CreateResult, error) {
	res, err := s.ledger.CreateEntry(ctx, contents, collectionID)
	if err != nil {
		s.recorder.Operation("create", "error")
		return nil, classify("create", err)
	}
	if res == nil {
		s.recorder.Operation("create", "error")
		return nil, classify("create", errors.New("ledger returned no result"))
	}
	s.recorder.Operation("create", "ok")

	s.logger.Info("ledger entry submitted",
		zap.String("transaction_id", res.TransactionID),
		zap.String("collection_id", res.CollectionID),
		zap.String("kind", kind),
	)

	if s.journal != nil {
		if _, err := s.journal.Append(ctx, journal.Record{
			TransactionID: res.TransactionID,
			CollectionID:  res.CollectionID,
			Kind:          kind,
			Contents:      contents,
		}); err != nil {
			s.logger.Warn("journal append failed",
				zap.String("transaction_id", res.TransactionID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

// Get reads one entry. When the ledger reports Loading, Get re-reads per the
// pending policy and returns the last result, which may still be Loading.
func (s *EntryService) Get(ctx context.Context, transactionID, collectionID string) (*ledger.GetEntryResult, error) {
	if transactionID == "" {
		return nil, &Error{Kind: KindServiceRejected, Op: "get", Err: ErrTransactionIDRequired}
	}

	key := collectionID + "|" + transactionID
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.recorder.CacheLookup(true)
			s.recorder.Operation("get", "ok")
			entry := v.(ledger.Entry)
			return &ledger.GetEntryResult{State: ledger.StateReady, Entry: &entry}, nil
		}
		s.recorder.CacheLookup(false)
	}

	res, err := s.resolve(ctx, transactionID, collectionID)
	if err != nil {
		outcome := "error"
		if KindOf(err) == KindNotFound {
			outcome = "not_found"
		}
		s.recorder.Operation("get", outcome)
		return nil, err
	}

	if res.State == ledger.StateLoading {
		s.recorder.Operation("get", "loading")
		return res, nil
	}
	s.recorder.Operation("get", "ok")
	if s.cache != nil && res.Entry != nil {
		s.cache.Add(key, *res.Entry)
	}
	return res, nil
}

func (s *EntryService) resolve(ctx context.Context, transactionID, collectionID string) (*ledger.GetEntryResult, error) {
	res, err := s.ledger.GetEntry(ctx, transactionID, collectionID)
	if err != nil {
		return nil, classify("get", err)
	}
	if res == nil {
		return nil, classify("get", errors.New("ledger returned no result"))
	}

	var deadline time.Time
	if s.policy.Timeout > 0 {
		deadline = time.Now().Add(s.policy.Timeout)
	}
	for attempt := 0; res.State == ledger.StateLoading && attempt < s.policy.Retries; attempt++ {
		if s.policy.Interval > 0 {
			if err := sleepCtx(ctx, s.policy.Interval); err != nil {
				return nil, classify("get", err)
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		s.recorder.PendingRetry()
		s.logger.Debug("entry still loading, re-reading",
			zap.String("transaction_id", transactionID),
			zap.Int("attempt", attempt+1),
		)
		next, err := s.ledger.GetEntry(ctx, transactionID, collectionID)
		if err != nil {
			return nil, classify("get", err)
		}
		if next == nil {
			return nil, classify("get", errors.New("ledger returned no result"))
		}
		res = next
	}
	return res, nil
}

// List returns entries lazily in service order, optionally restricted to one
// collection. Iteration stops at the first error.
func (s *EntryService) List(ctx context.Context, collectionID string) iter.Seq2[*ledger.Entry, error] {
	return func(yield func(*ledger.Entry, error) bool) {
		for e, err := range s.ledger.Entries(ctx, collectionID) {
			if err != nil {
				s.recorder.Operation("list", "error")
				yield(nil, classify("list", err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		s.recorder.Operation("list", "ok")
	}
}

// ListAll collects List into a slice.
func (s *EntryService) ListAll(ctx context.Context, collectionID string) ([]ledger.Entry, error) {
	entries := []ledger.Entry{}
	for e, err := range s.List(ctx, collectionID) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// Status reports whether a transaction is committed.
func (s *EntryService) Status(ctx context.Context, transactionID string) (*ledger.TransactionStatus, error) {
	if transactionID == "" {
		return nil, &Error{Kind: KindServiceRejected, Op: "status", Err: ErrTransactionIDRequired}
	}
	st, err := s.ledger.TransactionStatus(ctx, transactionID)
	s.observe("status", err)
	return st, classify("status", err)
}

// Receipt returns the service's write receipt for a transaction.
func (s *EntryService) Receipt(ctx context.Context, transactionID string) (*ledger.ReceiptResult, error) {
	if transactionID == "" {
		return nil, &Error{Kind: KindServiceRejected, Op: "receipt", Err: ErrTransactionIDRequired}
	}
	r, err := s.ledger.GetReceipt(ctx, transactionID)
	s.observe("receipt", err)
	return r, classify("receipt", err)
}

// Collections lists the ledger's collections.
func (s *EntryService) Collections(ctx context.Context) ([]ledger.Collection, error) {
	cols, err := s.ledger.ListCollections(ctx)
	s.observe("collections", err)
	return cols, classify("collections", err)
}

func (s *EntryService) observe(op string, err error) {
	if err != nil {
		s.recorder.Operation(op, "error")
		return
	}
	s.recorder.Operation(op, "ok")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
