// Package azauth builds Azure AD credentials for the ledger service and adapts
// them to the oauth2 token plumbing used by the ledger client.
package azauth

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
)

// LedgerScope is the AAD scope for the ledger data plane.
const LedgerScope = "https://confidential-ledger.azure.com/.default"

// tokenTimeout bounds a single token acquisition.
const tokenTimeout = 30 * time.Second

// Settings selects how credentials are obtained.
type Settings struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// NewCredential returns a client-secret credential when all three Settings
// fields are set and the default credential chain (environment, workload
// identity, managed identity, Azure CLI) otherwise.
func NewCredential(s Settings) (azcore.TokenCredential, error) {
	if s.TenantID != "" && s.ClientID != "" && s.ClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(s.TenantID, s.ClientID, s.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("client secret credential: %w", err)
		}
		return cred, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default azure credential: %w", err)
	}
	return cred, nil
}

// credentialSource adapts an azcore.TokenCredential to oauth2.TokenSource.
type credentialSource struct {
	cred  azcore.TokenCredential
	scope string
}

// Token implements oauth2.TokenSource.
func (s *credentialSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenTimeout)
	defer cancel()

	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s.scope}})
	if err != nil {
		return nil, fmt.Errorf("acquire token for %s: %w", s.scope, err)
	}
	return &oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresOn,
	}, nil
}

// TokenSource returns a caching oauth2.TokenSource for scope backed by cred.
// Tokens are reused until shortly before expiry.
func TokenSource(cred azcore.TokenCredential, scope string) oauth2.TokenSource {
	if scope == "" {
		scope = LedgerScope
	}
	return oauth2.ReuseTokenSource(nil, &credentialSource{cred: cred, scope: scope})
}
