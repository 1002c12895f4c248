package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
	"golang.org/x/oauth2"
)

// ── Stub ledger ─────────────────────────────────────────────────────────

type stubLedger struct {
	mu          sync.Mutex
	entries     map[string]ledger.Entry // keyed by transaction ID
	order       []string
	loadingLeft map[string]int // remaining Loading responses per transaction
	lastAuth    string
	lastReqID   string
	pageSize    int
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		entries:     make(map[string]ledger.Entry),
		loadingLeft: make(map[string]int),
		pageSize:    2,
	}
}

func (s *stubLedger) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/app/transactions", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastAuth = r.Header.Get("Authorization")
		s.lastReqID = r.Header.Get("x-ms-client-request-id")
		if r.URL.Query().Get("api-version") == "" {
			http.Error(w, `{"error":{"code":"MissingApiVersion","message":"api-version required"}}`, http.StatusBadRequest)
			return
		}
		collection := r.URL.Query().Get("collectionId")
		if collection == "" {
			collection = "subledger:0"
		}

		switch r.Method {
		case http.MethodPost:
			var body struct {
				Contents string `json:"contents"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, `{"error":{"code":"InvalidBody","message":"bad json"}}`, http.StatusBadRequest)
				return
			}
			id := "2." + string(rune('0'+len(s.order)+1))
			s.entries[id] = ledger.Entry{Contents: body.Contents, CollectionID: collection, TransactionID: id}
			s.order = append(s.order, id)
			w.Header().Set("x-ms-ccf-transaction-id", id)
			json.NewEncoder(w).Encode(map[string]string{"collectionId": collection})
		case http.MethodGet:
			var matching []ledger.Entry
			for _, id := range s.order {
				if e := s.entries[id]; e.CollectionID == collection {
					matching = append(matching, e)
				}
			}
			from := 0
			if f := r.URL.Query().Get("from"); f != "" {
				from = int(f[0] - '0')
			}
			end := from + s.pageSize
			resp := map[string]any{"state": "Ready"}
			if end < len(matching) {
				resp["@nextLink"] = "/app/transactions?api-version=2022-05-13&collectionId=" + collection + "&from=" + string(rune('0'+end))
			} else {
				end = len(matching)
			}
			if from > len(matching) {
				from = len(matching)
			}
			resp["entries"] = matching[from:end]
			json.NewEncoder(w).Encode(resp)
		}
	})

	mux.HandleFunc("/app/transactions/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		rest := strings.TrimPrefix(r.URL.Path, "/app/transactions/")
		parts := strings.SplitN(rest, "/", 2)
		id := parts[0]
		e, ok := s.entries[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "TransactionNotFound", "message": "No transaction " + id},
			})
			return
		}
		if len(parts) == 2 {
			switch parts[1] {
			case "status":
				json.NewEncoder(w).Encode(map[string]string{"state": "Committed", "transactionId": id})
			case "receipt":
				json.NewEncoder(w).Encode(map[string]any{
					"state": "Ready", "transactionId": id, "receipt": map[string]string{"nodeId": "abc"},
				})
			default:
				http.NotFound(w, r)
			}
			return
		}
		if s.loadingLeft[id] > 0 {
			s.loadingLeft[id]--
			json.NewEncoder(w).Encode(map[string]string{"state": "Loading"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"state": "Ready", "entry": e})
	})

	mux.HandleFunc("/app/collections", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"collections": []map[string]string{{"collectionId": "subledger:0"}, {"collectionId": "luna"}},
		})
	})

	return mux
}

func newTestClient(t *testing.T, s *stubLedger, opts ...ledger.Option) *ledger.Client {
	t.Helper()
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	c, err := ledger.New(srv.URL, append([]ledger.Option{ledger.WithPollInterval(0)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCreateEntry_roundTrip(t *testing.T) {
	s := newStubLedger()
	c := newTestClient(t, s)
	ctx := context.Background()

	created, err := c.CreateEntry(ctx, "hello", "")
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if created.TransactionID == "" {
		t.Fatal("expected a transaction ID")
	}
	if created.CollectionID != "subledger:0" {
		t.Errorf("collection: got %q, want subledger:0", created.CollectionID)
	}

	got, err := c.GetEntry(ctx, created.TransactionID, "")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.State != ledger.StateReady {
		t.Errorf("state: got %q, want Ready", got.State)
	}
	if got.Entry.Contents != "hello" {
		t.Errorf("contents: got %q, want hello", got.Entry.Contents)
	}
}

func TestGetEntry_loadingHasNoEntry(t *testing.T) {
	s := newStubLedger()
	c := newTestClient(t, s)
	ctx := context.Background()

	created, err := c.CreateEntry(ctx, "fresh", "")
	if err != nil {
		t.Fatal(err)
	}
	s.loadingLeft[created.TransactionID] = 1

	got, err := c.GetEntry(ctx, created.TransactionID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != ledger.StateLoading || got.Entry != nil {
		t.Errorf("expected Loading with nil entry, got %+v", got)
	}
}

func TestGetEntry_notFound(t *testing.T) {
	c := newTestClient(t, newStubLedger())

	_, err := c.GetEntry(context.Background(), "9.99", "")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var respErr *ledger.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected *ResponseError, got %T", err)
	}
	if respErr.Code != "TransactionNotFound" {
		t.Errorf("code: got %q", respErr.Code)
	}
}

func TestEntries_followsNextLinkAndFiltersCollection(t *testing.T) {
	s := newStubLedger()
	c := newTestClient(t, s)
	ctx := context.Background()

	for _, contents := range []string{"a", "b", "c"} {
		if _, err := c.CreateEntry(ctx, contents, "luna"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.CreateEntry(ctx, "other", ""); err != nil {
		t.Fatal(err)
	}

	entries, err := c.ListEntries(ctx, "luna")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Contents)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestEntries_stopsEarly(t *testing.T) {
	s := newStubLedger()
	c := newTestClient(t, s)
	ctx := context.Background()
	for _, contents := range []string{"a", "b", "c"} {
		if _, err := c.CreateEntry(ctx, contents, ""); err != nil {
			t.Fatal(err)
		}
	}

	n := 0
	for _, err := range c.Entries(ctx, "") {
		if err != nil {
			t.Fatal(err)
		}
		n++
		break
	}
	if n != 1 {
		t.Errorf("expected iteration to stop after 1 entry, got %d", n)
	}
}

func TestStatusReceiptCollections(t *testing.T) {
	s := newStubLedger()
	c := newTestClient(t, s)
	ctx := context.Background()

	created, err := c.CreateEntry(ctx, "x", "")
	if err != nil {
		t.Fatal(err)
	}

	st, err := c.TransactionStatus(ctx, created.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != ledger.CommitStateCommitted {
		t.Errorf("status: got %q", st.State)
	}

	rc, err := c.GetReceipt(ctx, created.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Receipt) == 0 {
		t.Error("expected raw receipt JSON")
	}

	cols, err := c.ListCollections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 2 || cols[1].CollectionID != "luna" {
		t.Errorf("collections: got %+v", cols)
	}
}

func TestTokenSourceAndRequestID(t *testing.T) {
	s := newStubLedger()
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123", TokenType: "Bearer"})
	c := newTestClient(t, s, ledger.WithTokenSource(ts))

	ctx := ledger.WithRequestID(context.Background(), "req-42")
	if _, err := c.CreateEntry(ctx, "x", ""); err != nil {
		t.Fatal(err)
	}
	if s.lastAuth != "Bearer tok-123" {
		t.Errorf("Authorization: got %q", s.lastAuth)
	}
	if s.lastReqID != "req-42" {
		t.Errorf("request ID: got %q", s.lastReqID)
	}
}

func TestNew_rejectsRelativeEndpoint(t *testing.T) {
	if _, err := ledger.New("not-a-url"); err == nil {
		t.Error("expected error for relative endpoint")
	}
}

func TestWithCertificatePEM_rejectsGarbage(t *testing.T) {
	if _, err := ledger.New("https://example.com", ledger.WithCertificatePEM([]byte("nope"))); err == nil {
		t.Error("expected error for unparsable PEM")
	}
}

func TestIdentityClient_GetLedgerIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ledgerIdentity/my-ledger" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"ledgerId":             "my-ledger",
			"ledgerTlsCertificate": "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----\n",
		})
	}))
	defer srv.Close()

	ic := ledger.NewIdentityClient(srv.URL)
	id, err := ic.GetLedgerIdentity(context.Background(), "my-ledger")
	if err != nil {
		t.Fatalf("GetLedgerIdentity: %v", err)
	}
	if !strings.HasPrefix(id.TLSCertificate, "-----BEGIN CERTIFICATE-----") {
		t.Errorf("unexpected certificate: %q", id.TLSCertificate)
	}

	if _, err := ic.GetLedgerIdentity(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown ledger, got %v", err)
	}
}
