package identity_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmerrifield20/ledgergate/internal/identity"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

func selfSignedPEM(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

type stubFetcher struct {
	certPEM []byte
	calls   int
	err     error
}

func (f *stubFetcher) GetLedgerIdentity(_ context.Context, ledgerID string) (*ledger.LedgerIdentity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.LedgerIdentity{LedgerID: ledgerID, TLSCertificate: string(f.certPEM)}, nil
}

func TestCertStore_LoadOrFetch_fetchesWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs", "networkcert.pem")
	store := identity.NewCertStore(path)
	fetcher := &stubFetcher{certPEM: selfSignedPEM(t, "ledger-a")}

	if err := store.LoadOrFetch(context.Background(), fetcher, "ledger-a"); err != nil {
		t.Fatalf("LoadOrFetch: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", fetcher.calls)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected cert file on disk: %v", err)
	}
	if store.Cert().Subject.CommonName != "ledger-a" {
		t.Errorf("unexpected CN %q", store.Cert().Subject.CommonName)
	}
}

func TestCertStore_LoadOrFetch_idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networkcert.pem")
	fetcher := &stubFetcher{certPEM: selfSignedPEM(t, "ledger-b")}

	if err := identity.NewCertStore(path).LoadOrFetch(context.Background(), fetcher, "ledger-b"); err != nil {
		t.Fatal(err)
	}
	second := identity.NewCertStore(path)
	if err := second.LoadOrFetch(context.Background(), fetcher, "ledger-b"); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls != 1 {
		t.Errorf("second LoadOrFetch should reuse the file, got %d fetches", fetcher.calls)
	}
}

func TestCertStore_LoadOrFetch_refetchesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networkcert.pem")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	fetcher := &stubFetcher{certPEM: selfSignedPEM(t, "ledger-c")}

	store := identity.NewCertStore(path)
	if err := store.LoadOrFetch(context.Background(), fetcher, "ledger-c"); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected refetch of corrupt file, got %d fetches", fetcher.calls)
	}
}

func TestCertStore_FetchError(t *testing.T) {
	store := identity.NewCertStore(filepath.Join(t.TempDir(), "x.pem"))
	want := errors.New("identity service down")
	err := store.LoadOrFetch(context.Background(), &stubFetcher{err: want}, "ledger-d")
	if !errors.Is(err, want) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestCertStore_SavedCertVerifiesAgainstItsPEM(t *testing.T) {
	store := identity.NewCertStore(filepath.Join(t.TempDir(), "x.pem"))
	if err := store.Save(selfSignedPEM(t, "ledger-e")); err != nil {
		t.Fatal(err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(store.PEM()) {
		t.Fatal("stored PEM does not parse")
	}
	if _, err := store.Cert().Verify(x509.VerifyOptions{Roots: roots}); err != nil {
		t.Errorf("cert does not verify against its own pool: %v", err)
	}
	if store.Expired(time.Now()) {
		t.Error("fresh cert reported as expired")
	}
}

func TestCertStore_SaveRejectsNonPEM(t *testing.T) {
	store := identity.NewCertStore(filepath.Join(t.TempDir(), "x.pem"))
	if err := store.Save([]byte("not pem")); err == nil {
		t.Error("expected error saving non-PEM data")
	}
}
