package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgergate/internal/app"
	"github.com/jmerrifield20/ledgergate/internal/config"
	"github.com/jmerrifield20/ledgergate/internal/service"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile      string
	outputFormat string
	ledgerName   string
	collectionID string
	verbose      bool
	timeout      time.Duration

	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Confidential ledger command-line client",
	Long: `ledgerctl provisions a confidential ledger, bootstraps its identity
certificate and reads and writes ledger entries.

Settings come from ledgergate.yaml (configs/ or the working directory) and
the environment, e.g. LEDGER_NAME, AZURE_TENANT_ID, AZURE_CLIENT_ID,
AZURE_CLIENT_SECRET.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}

		v := config.New(cfgFile)
		if _, err := config.Read(v); err != nil {
			return err
		}
		if ledgerName != "" {
			v.Set("ledger.name", ledgerName)
		}
		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ledgergate.yaml in configs/ or .)")
	rootCmd.PersistentFlags().StringVar(&ledgerName, "ledger", "", "ledger name (overrides ledger.name)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the command")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
	},
}

// commandContext returns a context bounded by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

// connect builds the pinned, authenticated ledger client.
func connect(ctx context.Context) (*ledger.Client, error) {
	if err := cfg.RequireLedger(); err != nil {
		return nil, err
	}
	cred, err := app.Credential(cfg)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	certs, err := app.CertStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app.LedgerClient(cfg, certs, cred)
}

// newService returns an EntryService over a fresh client. The journal is
// only attached for durable backends; the returned func releases it.
func newService(ctx context.Context) (*service.EntryService, func(), error) {
	client, err := connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewEntryService(client, logger)
	svc.SetPendingPolicy(service.PendingPolicy{
		Retries:  cfg.Ledger.PendingRetries,
		Interval: cfg.Ledger.PendingInterval,
		Timeout:  cfg.Ledger.PendingTimeout,
	})

	closeFn := func() {}
	if cfg.Journal.Backend == config.JournalBolt || cfg.Journal.Backend == config.JournalPostgres {
		j, c, err := app.OpenJournal(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		svc.SetJournal(j)
		closeFn = c
	}
	return svc, closeFn, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
