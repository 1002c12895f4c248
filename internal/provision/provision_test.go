package provision_test

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
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/confidentialledger/armconfidentialledger"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/identity"
	"github.com/jmerrifield20/ledgergate/internal/provision"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

type fakeManager struct {
	created   *armconfidentialledger.ConfidentialLedger
	createErr error
}

func (f *fakeManager) Create(_ context.Context, rg, name string, l armconfidentialledger.ConfidentialLedger) (*armconfidentialledger.ConfidentialLedger, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	l.ID = to.Ptr("/subscriptions/sub/resourceGroups/" + rg + "/providers/Microsoft.ConfidentialLedger/Ledgers/" + name)
	l.Name = to.Ptr(name)
	l.Properties.LedgerURI = to.Ptr("https://" + name + ".confidential-ledger.azure.com")
	l.Properties.IdentityServiceURI = to.Ptr("https://identity.confidential-ledger.core.azure.com/ledgerIdentity/" + name)
	l.Properties.ProvisioningState = to.Ptr(armconfidentialledger.ProvisioningStateSucceeded)
	f.created = &l
	return &l, nil
}

func (f *fakeManager) Get(_ context.Context, _, _ string) (*armconfidentialledger.ConfidentialLedger, error) {
	if f.created == nil {
		return nil, errors.New("not found")
	}
	return f.created, nil
}

type stubFetcher struct {
	pem     string
	ledgers []string
}

func (s *stubFetcher) GetLedgerIdentity(_ context.Context, ledgerID string) (*ledger.LedgerIdentity, error) {
	s.ledgers = append(s.ledgers, ledgerID)
	return &ledger.LedgerIdentity{LedgerID: ledgerID, TLSCertificate: s.pem}, nil
}

type recordingWriter struct {
	endpoint string
	certPEM  []byte
	contents []string
}

func (w *recordingWriter) CreateEntry(_ context.Context, contents, _ string) (*ledger.CreateResult, error) {
	w.contents = append(w.contents, contents)
	return &ledger.CreateResult{CollectionID: "subledger:0", TransactionID: "2.1"}, nil
}

func selfSignedPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CCF Network"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestProvision_fullFlow(t *testing.T) {
	mgr := &fakeManager{}
	fetcher := &stubFetcher{pem: selfSignedPEM(t)}
	certPath := filepath.Join(t.TempDir(), "networkcert.pem")
	writer := &recordingWriter{}

	p := provision.New(mgr, fetcher, identity.NewCertStore(certPath), zap.NewNop())
	p.SetWriterFactory(func(endpoint string, certPEM []byte) (provision.EntryWriter, error) {
		writer.endpoint = endpoint
		writer.certPEM = certPEM
		return writer, nil
	})

	res, err := p.Provision(context.Background(), provision.Request{
		ResourceGroup:  "rg-ledger",
		Name:           "demo-ledger",
		TenantID:       "tenant-1",
		Administrators: []string{"ab56868d-63f3-498c-ac2b-b01842a04c4d"},
		SampleWrite:    true,
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	// Request shape sent to the control plane.
	props := mgr.created.Properties
	if *mgr.created.Location != provision.DefaultLocation {
		t.Errorf("location: got %s", *mgr.created.Location)
	}
	if *props.LedgerType != armconfidentialledger.LedgerTypePublic {
		t.Errorf("ledger type: got %s", *props.LedgerType)
	}
	if len(props.AADBasedSecurityPrincipals) != 1 {
		t.Fatalf("principals: got %d", len(props.AADBasedSecurityPrincipals))
	}
	principal := props.AADBasedSecurityPrincipals[0]
	if *principal.TenantID != "tenant-1" || *principal.LedgerRoleName != armconfidentialledger.LedgerRoleNameAdministrator {
		t.Errorf("unexpected principal %+v", principal)
	}

	// Identity certificate persisted.
	if len(fetcher.ledgers) != 1 || fetcher.ledgers[0] != "demo-ledger" {
		t.Errorf("identity fetched for %v", fetcher.ledgers)
	}
	onDisk, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != fetcher.pem || res.CertFile != certPath {
		t.Error("certificate not written to the cert file")
	}

	// Sample write went to the data-plane URI with the pinned cert.
	if writer.endpoint != "https://demo-ledger.confidential-ledger.azure.com" {
		t.Errorf("writer endpoint: got %s", writer.endpoint)
	}
	if !strings.Contains(string(writer.certPEM), "BEGIN CERTIFICATE") {
		t.Error("writer did not receive the identity certificate")
	}
	if len(writer.contents) != 1 || writer.contents[0] != "Hello world!" {
		t.Errorf("sample contents: got %v", writer.contents)
	}
	if res.SampleTransactionID != "2.1" || res.ProvisioningState != "Succeeded" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProvision_skipsSampleWriteByDefault(t *testing.T) {
	p := provision.New(&fakeManager{}, &stubFetcher{pem: selfSignedPEM(t)},
		identity.NewCertStore(filepath.Join(t.TempDir(), "cert.pem")), zap.NewNop())
	p.SetWriterFactory(func(string, []byte) (provision.EntryWriter, error) {
		t.Fatal("writer must not be built without SampleWrite")
		return nil, nil
	})

	res, err := p.Provision(context.Background(), provision.Request{ResourceGroup: "rg", Name: "l"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SampleTransactionID != "" {
		t.Errorf("unexpected sample transaction %q", res.SampleTransactionID)
	}
}

func TestProvision_validation(t *testing.T) {
	p := provision.New(&fakeManager{}, &stubFetcher{}, identity.NewCertStore("unused"), zap.NewNop())
	_, err := p.Provision(context.Background(), provision.Request{Administrators: []string{"x"}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"resource group", "ledger name", "tenant id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestProvision_createErrorStopsFlow(t *testing.T) {
	fetcher := &stubFetcher{}
	p := provision.New(&fakeManager{createErr: errors.New("quota exceeded")}, fetcher,
		identity.NewCertStore(filepath.Join(t.TempDir(), "c.pem")), zap.NewNop())

	if _, err := p.Provision(context.Background(), provision.Request{ResourceGroup: "rg", Name: "l"}); err == nil {
		t.Fatal("expected error")
	}
	if len(fetcher.ledgers) != 0 {
		t.Error("identity must not be fetched after a failed create")
	}
}
