// Package provision creates a confidential ledger resource and bootstraps
// everything a client needs to talk to it: the trusted identity certificate
// and, optionally, a first entry proving that writes work.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/confidentialledger/armconfidentialledger"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/identity"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// DefaultLocation is the Azure region used when Request.Location is empty.
const DefaultLocation = "southeastasia"

// DefaultSampleContents is the first entry written by Provision.
const DefaultSampleContents = "Hello world!"

// EntryWriter appends one entry. *ledger.Client satisfies this interface.
type EntryWriter interface {
	CreateEntry(ctx context.Context, contents, collectionID string) (*ledger.CreateResult, error)
}

// WriterFactory builds a data-plane writer for endpoint, trusting certPEM.
type WriterFactory func(endpoint string, certPEM []byte) (EntryWriter, error)

// Request describes the ledger to provision.
type Request struct {
	ResourceGroup  string
	Name           string
	Location       string
	TenantID       string
	Administrators []string // AAD object IDs granted the Administrator role
	Tags           map[string]string
	SampleWrite    bool
	SampleContents string
}

// Result describes the provisioned ledger.
type Result struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Location            string `json:"location"`
	LedgerURI           string `json:"ledgerUri"`
	IdentityServiceURI  string `json:"identityServiceUri"`
	ProvisioningState   string `json:"provisioningState,omitempty"`
	CertFile            string `json:"certFile"`
	SampleTransactionID string `json:"sampleTransactionId,omitempty"`
}

// Provisioner runs the create → read back → fetch identity → sample write
// sequence.
type Provisioner struct {
	manager   Manager
	fetcher   identity.IdentityFetcher
	certs     *identity.CertStore
	newWriter WriterFactory // nil = no sample write
	logger    *zap.Logger
}

// New creates a Provisioner.
func New(manager Manager, fetcher identity.IdentityFetcher, certs *identity.CertStore, logger *zap.Logger) *Provisioner {
	return &Provisioner{manager: manager, fetcher: fetcher, certs: certs, logger: logger}
}

// SetWriterFactory enables the sample write.
func (p *Provisioner) SetWriterFactory(fn WriterFactory) { p.newWriter = fn }

func (r Request) validate() error {
	var errs []error
	if r.ResourceGroup == "" {
		errs = append(errs, errors.New("resource group is required"))
	}
	if r.Name == "" {
		errs = append(errs, errors.New("ledger name is required"))
	}
	if len(r.Administrators) > 0 && r.TenantID == "" {
		errs = append(errs, errors.New("tenant id is required when administrators are set"))
	}
	return errors.Join(errs...)
}

// resource builds the ARM model for r.
func (r Request) resource() armconfidentialledger.ConfidentialLedger {
	location := r.Location
	if location == "" {
		location = DefaultLocation
	}

	principals := make([]*armconfidentialledger.AADBasedSecurityPrincipal, 0, len(r.Administrators))
	for _, id := range r.Administrators {
		principals = append(principals, &armconfidentialledger.AADBasedSecurityPrincipal{
			PrincipalID:    to.Ptr(id),
			TenantID:       to.Ptr(r.TenantID),
			LedgerRoleName: to.Ptr(armconfidentialledger.LedgerRoleNameAdministrator),
		})
	}

	tags := make(map[string]*string, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = to.Ptr(v)
	}

	return armconfidentialledger.ConfidentialLedger{
		Location: to.Ptr(location),
		Tags:     tags,
		Properties: &armconfidentialledger.LedgerProperties{
			LedgerType:                 to.Ptr(armconfidentialledger.LedgerTypePublic),
			AADBasedSecurityPrincipals: principals,
		},
	}
}

// Provision creates the ledger and bootstraps its identity certificate.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid provisioning request: %w", err)
	}

	p.logger.Info("creating ledger",
		zap.String("resource_group", req.ResourceGroup),
		zap.String("name", req.Name),
		zap.Int("administrators", len(req.Administrators)),
	)
	if _, err := p.manager.Create(ctx, req.ResourceGroup, req.Name, req.resource()); err != nil {
		return nil, err
	}

	created, err := p.manager.Get(ctx, req.ResourceGroup, req.Name)
	if err != nil {
		return nil, err
	}
	res := describe(created)
	p.logger.Info("ledger ready",
		zap.String("id", res.ID),
		zap.String("location", res.Location),
		zap.String("ledger_uri", res.LedgerURI),
	)

	if err := p.certs.Fetch(ctx, p.fetcher, req.Name); err != nil {
		return nil, fmt.Errorf("fetch ledger identity: %w", err)
	}
	res.CertFile = p.certs.Path()

	if !req.SampleWrite || p.newWriter == nil {
		return res, nil
	}
	if res.LedgerURI == "" {
		return nil, fmt.Errorf("ledger %s reported no data-plane URI", req.Name)
	}
	w, err := p.newWriter(res.LedgerURI, p.certs.PEM())
	if err != nil {
		return nil, fmt.Errorf("build ledger client: %w", err)
	}
	contents := req.SampleContents
	if contents == "" {
		contents = DefaultSampleContents
	}
	written, err := w.CreateEntry(ctx, contents, "")
	if err != nil {
		return nil, fmt.Errorf("sample write: %w", err)
	}
	res.SampleTransactionID = written.TransactionID
	p.logger.Info("sample entry written", zap.String("transaction_id", written.TransactionID))
	return res, nil
}

func describe(l *armconfidentialledger.ConfidentialLedger) *Result {
	res := &Result{
		ID:       deref(l.ID),
		Name:     deref(l.Name),
		Location: deref(l.Location),
	}
	if props := l.Properties; props != nil {
		res.LedgerURI = deref(props.LedgerURI)
		res.IdentityServiceURI = deref(props.IdentityServiceURI)
		if props.ProvisioningState != nil {
			res.ProvisioningState = string(*props.ProvisioningState)
		}
	}
	return res
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
