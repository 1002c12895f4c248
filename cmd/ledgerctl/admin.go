package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/app"
	"github.com/jmerrifield20/ledgergate/internal/azauth"
	"github.com/jmerrifield20/ledgergate/internal/identity"
	"github.com/jmerrifield20/ledgergate/internal/provision"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

var (
	provResourceGroup string
	provLocation      string
	provAdmins        []string
	provTags          []string
	provSampleWrite   bool
	provSampleText    string
)

func init() {
	provisionCmd.Flags().StringVarP(&provResourceGroup, "resource-group", "g", "", "resource group (default azure.resource_group)")
	provisionCmd.Flags().StringVarP(&provLocation, "location", "l", "", "Azure region (default azure.location)")
	provisionCmd.Flags().StringSliceVar(&provAdmins, "admin", nil, "AAD object ID granted the Administrator role (repeatable; default: the signed-in principal)")
	provisionCmd.Flags().StringSliceVar(&provTags, "tag", nil, "resource tag as key=value (repeatable)")
	provisionCmd.Flags().BoolVar(&provSampleWrite, "sample-write", true, "append a first entry once the ledger is ready")
	provisionCmd.Flags().StringVar(&provSampleText, "sample-contents", provision.DefaultSampleContents, "contents of the sample entry")

	rootCmd.AddCommand(provisionCmd, identityCmd, whoamiCmd)
}

// ── provision ────────────────────────────────────────────────────────────────

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create a confidential ledger and fetch its identity certificate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Ledger.Name == "" {
			return errors.New("ledger name is required (--ledger or ledger.name)")
		}
		if cfg.Azure.SubscriptionID == "" {
			return errors.New("azure.subscription_id is required to provision")
		}
		tags, err := parseTags(provTags)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		cred, err := app.Credential(cfg)
		if err != nil {
			return fmt.Errorf("azure credential: %w", err)
		}
		tenant := cfg.Azure.TenantID
		admins := provAdmins
		if len(admins) == 0 || tenant == "" {
			tok, err := azauth.TokenSource(cred, azauth.LedgerScope).Token()
			if err != nil {
				return fmt.Errorf("acquire token: %w", err)
			}
			p, err := azauth.PrincipalFromToken(tok.AccessToken)
			if err != nil {
				return err
			}
			if len(admins) == 0 {
				admins = []string{p.ObjectID}
			}
			if tenant == "" {
				tenant = p.TenantID
			}
		}

		manager, err := provision.NewARMManager(cfg.Azure.SubscriptionID, cred)
		if err != nil {
			return err
		}
		certs := identity.NewCertStore(cfg.Ledger.CertFile)
		p := provision.New(manager, app.IdentityClient(cfg), certs, logger)
		p.SetWriterFactory(func(endpoint string, certPEM []byte) (provision.EntryWriter, error) {
			c, err := ledger.New(endpoint,
				ledger.WithCertificatePEM(certPEM),
				ledger.WithTokenSource(azauth.TokenSource(cred, azauth.LedgerScope)),
				ledger.WithAPIVersion(cfg.Ledger.APIVersion),
			)
			if err != nil {
				return nil, err
			}
			return c, nil
		})

		req := provision.Request{
			ResourceGroup:  firstNonEmpty(provResourceGroup, cfg.Azure.ResourceGroup),
			Name:           cfg.Ledger.Name,
			Location:       firstNonEmpty(provLocation, cfg.Azure.Location),
			TenantID:       tenant,
			Administrators: admins,
			Tags:           tags,
			SampleWrite:    provSampleWrite,
			SampleContents: provSampleText,
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Provisioning %s in %s; this can take several minutes...\n", req.Name, req.ResourceGroup)
		res, err := p.Provision(ctx, req)
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Ledger:       %s\n", res.Name)
		fmt.Fprintf(out, "ID:           %s\n", res.ID)
		fmt.Fprintf(out, "Location:     %s\n", res.Location)
		fmt.Fprintf(out, "Ledger URI:   %s\n", res.LedgerURI)
		fmt.Fprintf(out, "Identity URI: %s\n", res.IdentityServiceURI)
		fmt.Fprintf(out, "Certificate:  %s\n", res.CertFile)
		if res.SampleTransactionID != "" {
			fmt.Fprintf(out, "Sample entry: %s\n", res.SampleTransactionID)
		}
		return nil
	},
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q: want key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ── identity ─────────────────────────────────────────────────────────────────

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Fetch the ledger's network identity certificate into ledger.cert_file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Ledger.Name == "" {
			return errors.New("ledger name is required (--ledger or ledger.name)")
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		store := identity.NewCertStore(cfg.Ledger.CertFile)
		if err := store.Fetch(ctx, app.IdentityClient(cfg), cfg.Ledger.Name); err != nil {
			return fmt.Errorf("fetch ledger identity: %w", err)
		}
		logger.Info("identity certificate saved", zap.String("path", store.Path()))

		cert := store.Cert()
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"ledger":   cfg.Ledger.Name,
				"certFile": store.Path(),
				"subject":  cert.Subject.String(),
				"notAfter": cert.NotAfter.UTC().Format(time.RFC3339),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (subject %s, expires %s)\n",
			store.Path(), cert.Subject, cert.NotAfter.UTC().Format(time.RFC3339))
		return nil
	},
}

// ── whoami ───────────────────────────────────────────────────────────────────

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the principal the configured credential signs in as",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := app.Credential(cfg)
		if err != nil {
			return fmt.Errorf("azure credential: %w", err)
		}
		tok, err := azauth.TokenSource(cred, azauth.LedgerScope).Token()
		if err != nil {
			return fmt.Errorf("acquire token: %w", err)
		}
		p, err := azauth.PrincipalFromToken(tok.AccessToken)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Object ID: %s\nTenant:    %s\n", p.ObjectID, p.TenantID)
		if p.AppID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "App ID:    %s\n", p.AppID)
		}
		if p.UPN != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "UPN:       %s\n", p.UPN)
		}
		return nil
	},
}
