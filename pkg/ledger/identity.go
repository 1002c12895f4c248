package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultIdentityURL is the public identity service for managed ledgers.
const DefaultIdentityURL = "https://identity.confidential-ledger.core.azure.com"

// LedgerIdentity is the network identity published for one ledger.
type LedgerIdentity struct {
	LedgerID       string `json:"ledgerId"`
	TLSCertificate string `json:"ledgerTlsCertificate"`
}

// IdentityClient fetches ledger network identities. The identity service uses
// a publicly trusted certificate and needs no credentials.
type IdentityClient struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// NewIdentityClient creates an IdentityClient for baseURL; an empty baseURL
// selects DefaultIdentityURL.
func NewIdentityClient(baseURL string) *IdentityClient {
	if baseURL == "" {
		baseURL = DefaultIdentityURL
	}
	return &IdentityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetHTTPClient replaces the default HTTP client.
func (ic *IdentityClient) SetHTTPClient(hc *http.Client) {
	ic.httpClient = hc
}

// GetLedgerIdentity returns the TLS certificate the ledger named ledgerID
// presents on its data-plane endpoint.
func (ic *IdentityClient) GetLedgerIdentity(ctx context.Context, ledgerID string) (*LedgerIdentity, error) {
	if ledgerID == "" {
		return nil, fmt.Errorf("ledger ID is required")
	}
	target := fmt.Sprintf("%s/ledgerIdentity/%s?api-version=%s",
		ic.baseURL, url.PathEscape(ledgerID), url.QueryEscape(ic.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// Reuse the data-plane response handling without a pinned certificate.
	c := &Client{httpClient: ic.httpClient}
	_, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger identity %q: %w", ledgerID, err)
	}

	var id LedgerIdentity
	if err := json.Unmarshal(body, &id); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	if id.TLSCertificate == "" {
		return nil, fmt.Errorf("identity response for %q carried no certificate", ledgerID)
	}
	return &id, nil
}
