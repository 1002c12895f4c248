package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/ledgergate/internal/service"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

func init() {
	for _, c := range []*cobra.Command{appendCmd, getCmd, listCmd} {
		c.Flags().StringVarP(&collectionID, "collection", "c", "", "collection (sub-ledger) ID; default collection when empty")
	}
	appendCmd.Flags().BoolVar(&appendStdin, "stdin", false, "read the contents from standard input")

	rootCmd.AddCommand(appendCmd, getCmd, listCmd, statusCmd, receiptCmd, collectionsCmd)
}

// ── append ───────────────────────────────────────────────────────────────────

var appendStdin bool

var appendCmd = &cobra.Command{
	Use:   "append [contents]",
	Short: "Append an entry with the given contents",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var contents string
		switch {
		case appendStdin:
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			contents = string(b)
		case len(args) == 1:
			contents = args[0]
		default:
			return fmt.Errorf("contents argument or --stdin is required")
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Submit(ctx, contents, collectionID)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Transaction: %s\nCollection:  %s\n", res.TransactionID, res.CollectionID)
		return nil
	},
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <transaction-id>",
	Short: "Read one entry, resolving the Loading state per the pending policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Get(ctx, args[0], collectionID)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.State == ledger.StateLoading || res.Entry == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Transaction %s is still loading; try again shortly.\n", args[0])
			return nil
		}
		printEntry(cmd.OutOrStdout(), res.Entry)
		return nil
	},
}

func printEntry(w io.Writer, e *ledger.Entry) {
	fmt.Fprintf(w, "Transaction: %s\n", e.TransactionID)
	fmt.Fprintf(w, "Collection:  %s\n", e.CollectionID)
	fmt.Fprintf(w, "Kind:        %s\n", service.DetectKind(e.Contents))
	fmt.Fprintf(w, "Contents:    %s\n", e.Contents)
}

// ── list ─────────────────────────────────────────────────────────────────────

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries in service order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if outputFormat == "json" {
			entries, err := svc.ListAll(ctx, collectionID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		}

		// Stream the table so large ledgers start printing immediately.
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TRANSACTION\tCOLLECTION\tKIND\tCONTENTS")
		for e, err := range svc.List(ctx, collectionID) {
			if err != nil {
				w.Flush()
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.TransactionID, e.CollectionID, service.DetectKind(e.Contents), truncate(e.Contents, 60))
		}
		return w.Flush()
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── status / receipt / collections ──────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status <transaction-id>",
	Short: "Show whether a transaction is committed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := svc.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), st)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.TransactionID, st.State)
		return nil
	},
}

var receiptCmd = &cobra.Command{
	Use:   "receipt <transaction-id>",
	Short: "Print the service's write receipt (not verified locally)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		r, err := svc.Receipt(ctx, args[0])
		if err != nil {
			return err
		}
		if r.State == ledger.StateLoading {
			fmt.Fprintln(cmd.ErrOrStderr(), "receipt not ready yet")
		}
		return printJSON(cmd.OutOrStdout(), r)
	},
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List the ledger's collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		cols, err := svc.Collections(ctx)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), cols)
		}
		for _, c := range cols {
			fmt.Fprintln(cmd.OutOrStdout(), c.CollectionID)
		}
		return nil
	},
}
