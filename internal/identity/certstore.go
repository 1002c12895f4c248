package identity

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// IdentityFetcher returns the published network identity of a ledger.
// *ledger.IdentityClient satisfies this interface.
type IdentityFetcher interface {
	GetLedgerIdentity(ctx context.Context, ledgerID string) (*ledger.LedgerIdentity, error)
}

// CertStore manages the ledger's network identity certificate on disk.
// The certificate is fetched from the identity service on first run and
// reloaded from the file on subsequent starts.
type CertStore struct {
	path    string
	certPEM []byte
	cert    *x509.Certificate
}

// NewCertStore returns a CertStore backed by the PEM file at path.
func NewCertStore(path string) *CertStore {
	return &CertStore{path: path}
}

// Path returns the certificate file location.
func (s *CertStore) Path() string { return s.path }

// LoadOrFetch loads the certificate from disk if it exists and parses;
// otherwise it fetches the identity for ledgerID and saves it.
func (s *CertStore) LoadOrFetch(ctx context.Context, fetcher IdentityFetcher, ledgerID string) error {
	if err := s.Load(); err == nil {
		return nil
	}
	return s.Fetch(ctx, fetcher, ledgerID)
}

// Fetch retrieves the identity certificate for ledgerID and saves it,
// replacing any existing file.
func (s *CertStore) Fetch(ctx context.Context, fetcher IdentityFetcher, ledgerID string) error {
	id, err := fetcher.GetLedgerIdentity(ctx, ledgerID)
	if err != nil {
		return err
	}
	return s.Save([]byte(id.TLSCertificate))
}

// Load reads and parses the certificate file.
func (s *CertStore) Load() error {
	certPEM, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read ledger certificate: %w", err)
	}
	cert, err := decodeCert(certPEM)
	if err != nil {
		return err
	}
	s.certPEM = certPEM
	s.cert = cert
	return nil
}

// Save validates certPEM, writes it to the store's path and activates it.
func (s *CertStore) Save(certPEM []byte) error {
	cert, err := decodeCert(certPEM)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cert dir %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, certPEM, 0o644); err != nil {
		return fmt.Errorf("write ledger certificate: %w", err)
	}
	s.certPEM = certPEM
	s.cert = cert
	return nil
}

// Cert returns the loaded certificate, or nil before Load/Save.
func (s *CertStore) Cert() *x509.Certificate { return s.cert }

// PEM returns the loaded certificate exactly as stored.
func (s *CertStore) PEM() []byte { return s.certPEM }

// Expired reports whether the loaded certificate is past its NotAfter at now.
func (s *CertStore) Expired(now time.Time) bool {
	return s.cert != nil && now.After(s.cert.NotAfter)
}

// decodeCert parses the first PEM certificate block in certPEM.
func decodeCert(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}
