// Package app wires configuration into the long-lived handles shared by the
// ledgergate binaries: the AAD credential, the pinned ledger client and the
// submission journal.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/azauth"
	"github.com/jmerrifield20/ledgergate/internal/config"
	"github.com/jmerrifield20/ledgergate/internal/identity"
	"github.com/jmerrifield20/ledgergate/internal/journal"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// Credential builds the AAD credential from cfg.
func Credential(cfg *config.Config) (azcore.TokenCredential, error) {
	return azauth.NewCredential(azauth.Settings{
		TenantID:     cfg.Azure.TenantID,
		ClientID:     cfg.Azure.ClientID,
		ClientSecret: cfg.Azure.ClientSecret,
	})
}

// IdentityClient returns a client for the ledger identity service.
func IdentityClient(cfg *config.Config) *ledger.IdentityClient {
	ic := ledger.NewIdentityClient(cfg.Ledger.IdentityURL)
	if cfg.Ledger.HTTPTimeout > 0 {
		ic.SetHTTPClient(&http.Client{Timeout: cfg.Ledger.HTTPTimeout})
	}
	return ic
}

// CertStore loads the ledger identity certificate, fetching it from the
// identity service when the file is missing or unreadable.
func CertStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*identity.CertStore, error) {
	store := identity.NewCertStore(cfg.Ledger.CertFile)
	if err := store.Load(); err == nil {
		logger.Info("ledger identity certificate loaded", zap.String("path", store.Path()))
		return store, nil
	}
	if cfg.Ledger.Name == "" {
		return nil, fmt.Errorf("no identity certificate at %s and ledger.name is not set", store.Path())
	}
	if err := store.LoadOrFetch(ctx, IdentityClient(cfg), cfg.Ledger.Name); err != nil {
		return nil, fmt.Errorf("bootstrap ledger identity: %w", err)
	}
	logger.Info("ledger identity certificate fetched",
		zap.String("ledger", cfg.Ledger.Name),
		zap.String("path", store.Path()),
	)
	return store, nil
}

// LedgerClient builds the shared data-plane client: pinned to the identity
// certificate in certs and authenticated with cred.
func LedgerClient(cfg *config.Config, certs *identity.CertStore, cred azcore.TokenCredential) (*ledger.Client, error) {
	if err := cfg.RequireLedger(); err != nil {
		return nil, err
	}
	opts := []ledger.Option{
		ledger.WithCertificatePEM(certs.PEM()),
		ledger.WithTokenSource(azauth.TokenSource(cred, azauth.LedgerScope)),
		ledger.WithAPIVersion(cfg.Ledger.APIVersion),
	}
	if cfg.Ledger.HTTPTimeout > 0 {
		opts = append(opts, ledger.WithTimeout(cfg.Ledger.HTTPTimeout))
	}
	client, err := ledger.New(cfg.Ledger.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("create ledger client: %w", err)
	}
	return client, nil
}

// OpenJournal opens the configured journal backend. The returned close
// function is never nil. A nil Journal means journaling is disabled.
func OpenJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (journal.Journal, func(), error) {
	switch cfg.Journal.Backend {
	case config.JournalMemory:
		return journal.NewMemory(), func() {}, nil
	case config.JournalBolt:
		j, err := journal.OpenBolt(cfg.Journal.BoltPath)
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("journal opened", zap.String("backend", "bolt"), zap.String("path", cfg.Journal.BoltPath))
		return j, func() { _ = j.Close() }, nil
	case config.JournalPostgres:
		pool, err := pgxpool.New(ctx, cfg.Journal.DatabaseURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("journal opened", zap.String("backend", "postgres"))
		return journal.NewPostgres(pool, logger), pool.Close, nil
	default:
		return nil, func() {}, nil
	}
}
