package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"time"
)

// State is the readiness of a read result.
type State string

const (
	// StateLoading means the service accepted the request but the data is not
	// yet available from the committed ledger. Ask again.
	StateLoading State = "Loading"
	// StateReady means the result is authoritative.
	StateReady State = "Ready"
)

// CommitState is the durability of a transaction.
type CommitState string

const (
	CommitStateCommitted CommitState = "Committed"
	CommitStatePending   CommitState = "Pending"
)

// maxLoadingPageRetries bounds how often a single list page reported as
// Loading is re-requested before Entries gives up with an error.
const maxLoadingPageRetries = 3

// Entry is one record in the ledger.
type Entry struct {
	Contents      string `json:"contents"`
	CollectionID  string `json:"collectionId"`
	TransactionID string `json:"transactionId"`
}

// CreateResult is the service's acknowledgement of a write. The write is not
// necessarily durable yet.
type CreateResult struct {
	CollectionID  string `json:"collectionId"`
	TransactionID string `json:"transactionId"`
}

// GetEntryResult is the result of reading one entry. Entry is nil while State
// is StateLoading.
type GetEntryResult struct {
	State State  `json:"state"`
	Entry *Entry `json:"entry,omitempty"`
}

// TransactionStatus reports whether a transaction has been durably committed.
type TransactionStatus struct {
	State         CommitState `json:"state"`
	TransactionID string      `json:"transactionId"`
}

// ReceiptResult carries the service's write receipt. Receipt is returned as
// raw JSON; verifying it is outside the scope of this client.
type ReceiptResult struct {
	State         State           `json:"state"`
	TransactionID string          `json:"transactionId"`
	Receipt       json.RawMessage `json:"receipt,omitempty"`
}

// Collection names one sub-ledger.
type Collection struct {
	CollectionID string `json:"collectionId"`
}

// CreateEntry appends contents to the ledger. An empty collectionID writes to
// the service's default collection.
func (c *Client) CreateEntry(ctx context.Context, contents, collectionID string) (*CreateResult, error) {
	payload, err := json.Marshal(map[string]string{"contents": contents})
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}

	target := c.resolve(map[string]string{"collectionId": collectionID}, "app", "transactions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	header, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result CreateResult
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode create response: %w", err)
		}
	}
	if id := header.Get(headerTransactionID); id != "" {
		result.TransactionID = id
	}
	if result.TransactionID == "" {
		return nil, fmt.Errorf("create response carried no transaction ID")
	}
	return &result, nil
}

// GetEntry reads the entry written by transactionID. An empty collectionID
// reads from the default collection.
func (c *Client) GetEntry(ctx context.Context, transactionID, collectionID string) (*GetEntryResult, error) {
	var result GetEntryResult
	target := c.resolve(map[string]string{"collectionId": collectionID}, "app", "transactions", transactionID)
	if err := c.getJSON(ctx, target, &result); err != nil {
		return nil, err
	}
	if result.State == StateReady && result.Entry == nil {
		return nil, fmt.Errorf("ready response for %s carried no entry", transactionID)
	}
	return &result, nil
}

// Entries returns a lazy sequence over every entry in collectionID (or the
// default collection when empty), in the order the service returns them.
// Pages are fetched as the sequence is consumed. Iteration stops after the
// first error, which is yielded with a nil entry.
func (c *Client) Entries(ctx context.Context, collectionID string) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		next := c.resolve(map[string]string{"collectionId": collectionID}, "app", "transactions")
		for next != "" {
			page, err := c.listPage(ctx, next)
			if err != nil {
				yield(nil, err)
				return
			}
			for i := range page.Entries {
				if !yield(&page.Entries[i], nil) {
					return
				}
			}
			next = ""
			if page.NextLink != "" {
				if next, err = c.resolveLink(page.NextLink); err != nil {
					yield(nil, err)
					return
				}
			}
		}
	}
}

// ListEntries drains Entries into a slice.
func (c *Client) ListEntries(ctx context.Context, collectionID string) ([]Entry, error) {
	var out []Entry
	for e, err := range c.Entries(ctx, collectionID) {
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

type entriesPage struct {
	State    State   `json:"state"`
	NextLink string  `json:"@nextLink"`
	Entries  []Entry `json:"entries"`
}

// listPage fetches one page, re-requesting it while the service reports it as
// still loading.
func (c *Client) listPage(ctx context.Context, target string) (*entriesPage, error) {
	for attempt := 0; ; attempt++ {
		var page entriesPage
		if err := c.getJSON(ctx, target, &page); err != nil {
			return nil, err
		}
		if page.State != StateLoading {
			return &page, nil
		}
		if attempt >= maxLoadingPageRetries {
			return nil, fmt.Errorf("entries page still loading after %d attempts", attempt+1)
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

// TransactionStatus reports whether transactionID has been committed.
func (c *Client) TransactionStatus(ctx context.Context, transactionID string) (*TransactionStatus, error) {
	var result TransactionStatus
	if err := c.getJSON(ctx, c.resolve(nil, "app", "transactions", transactionID, "status"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetReceipt fetches the write receipt for transactionID.
func (c *Client) GetReceipt(ctx context.Context, transactionID string) (*ReceiptResult, error) {
	var result ReceiptResult
	if err := c.getJSON(ctx, c.resolve(nil, "app", "transactions", transactionID, "receipt"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListCollections returns every collection the ledger knows about.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var wrapper struct {
		Collections []Collection `json:"collections"`
	}
	if err := c.getJSON(ctx, c.resolve(nil, "app", "collections"), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Collections, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	_, body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
