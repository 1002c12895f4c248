package ledger_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

func collectionsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"collections": []map[string]string{{"collectionId": "subledger:0"}},
		})
	})
}

// serverCertPEM returns the PEM of the certificate srv presents.
func serverCertPEM(srv *httptest.Server) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
}

// otherCertPEM returns a self-signed certificate for 127.0.0.1 unrelated to
// the httptest certificate.
func otherCertPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: "other-ledger"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestWithCertificatePEM_trustsPinnedServer(t *testing.T) {
	srv := httptest.NewTLSServer(collectionsHandler())
	defer srv.Close()

	c, err := ledger.New(srv.URL, ledger.WithCertificatePEM(serverCertPEM(srv)))
	if err != nil {
		t.Fatal(err)
	}
	cols, err := c.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("pinned client: %v", err)
	}
	if len(cols) != 1 || cols[0].CollectionID != "subledger:0" {
		t.Errorf("collections: got %+v", cols)
	}
}

func TestWithCertificatePEM_rejectsOtherServer(t *testing.T) {
	srv := httptest.NewTLSServer(collectionsHandler())
	defer srv.Close()

	c, err := ledger.New(srv.URL, ledger.WithCertificatePEM(otherCertPEM(t)))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ListCollections(context.Background())
	var verifyErr *tls.CertificateVerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected certificate verification error, got %v", err)
	}
}

func TestNew_withoutPinDoesNotTrustLedgerCert(t *testing.T) {
	srv := httptest.NewTLSServer(collectionsHandler())
	defer srv.Close()

	c, err := ledger.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ListCollections(context.Background())
	var verifyErr *tls.CertificateVerificationError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected certificate verification error, got %v", err)
	}
}

// loadingPages serves /app/transactions as Loading for the first loading
// requests, then as a single ready page.
type loadingPages struct {
	loading int32
	hits    atomic.Int32
}

func (p *loadingPages) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := p.hits.Add(1)
	if n <= p.loading {
		json.NewEncoder(w).Encode(map[string]string{"state": "Loading"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"state":   "Ready",
		"entries": []ledger.Entry{{Contents: "a", CollectionID: "subledger:0", TransactionID: "2.1"}},
	})
}

func newPagesClient(t *testing.T, h http.Handler) *ledger.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := ledger.New(srv.URL, ledger.WithPollInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestEntries_loadingPageRecovers(t *testing.T) {
	pages := &loadingPages{loading: 2}
	c := newPagesClient(t, pages)

	entries, err := c.ListEntries(context.Background(), "")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].TransactionID != "2.1" {
		t.Errorf("entries: got %+v", entries)
	}
	if got := pages.hits.Load(); got != 3 {
		t.Errorf("expected 3 page requests, got %d", got)
	}
}

func TestEntries_loadingPageGivesUp(t *testing.T) {
	pages := &loadingPages{loading: 1 << 20}
	c := newPagesClient(t, pages)

	_, err := c.ListEntries(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "still loading after 4 attempts") {
		t.Fatalf("expected give-up error, got %v", err)
	}
	if got := pages.hits.Load(); got != 4 {
		t.Errorf("expected 4 page requests, got %d", got)
	}
}

func TestTransactionPaths_escapeIDOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		uris []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		uris = append(uris, r.URL.EscapedPath())
		mu.Unlock()
		if strings.HasSuffix(r.URL.EscapedPath(), "/status") {
			json.NewEncoder(w).Encode(map[string]string{"state": "Committed"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"state": "Loading"})
	}))
	defer srv.Close()

	c, err := ledger.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := c.GetEntry(ctx, "a b/c", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.TransactionStatus(ctx, "a b/c"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetReceipt(ctx, "a b/c"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"/app/transactions/a%20b%2Fc",
		"/app/transactions/a%20b%2Fc/status",
		"/app/transactions/a%20b%2Fc/receipt",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(uris) != len(want) {
		t.Fatalf("requests: got %v", uris)
	}
	for i := range want {
		if uris[i] != want[i] {
			t.Errorf("request %d: got %s, want %s", i, uris[i], want[i])
		}
	}
}
