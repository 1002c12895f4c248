package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/ledgergate/internal/digest"
	"github.com/jmerrifield20/ledgergate/internal/journal"
	"github.com/jmerrifield20/ledgergate/internal/service"
	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

var (
	digestAlgo   string
	digestJobs   int
	verifyTxID   string
	verifyStrict bool
)

func init() {
	// verify-file takes the algorithm from the stored receipt.
	for _, c := range []*cobra.Command{digestCmd, submitDigestCmd} {
		c.Flags().StringVarP(&digestAlgo, "algorithm", "a", string(digest.SHA256), "digest algorithm: sha256, sha3-256 or blake2b-256")
	}
	for _, c := range []*cobra.Command{submitDigestCmd, verifyFileCmd} {
		c.Flags().StringVarP(&collectionID, "collection", "c", "", "collection (sub-ledger) ID")
	}
	digestCmd.Flags().IntVarP(&digestJobs, "jobs", "j", 4, "files hashed concurrently")
	submitDigestCmd.Flags().IntVarP(&digestJobs, "jobs", "j", 4, "files hashed and submitted concurrently")
	verifyFileCmd.Flags().StringVarP(&verifyTxID, "transaction", "t", "", "transaction ID of the digest entry (required)")
	verifyFileCmd.Flags().BoolVar(&verifyStrict, "strict", false, "also require the file name to match")
	_ = verifyFileCmd.MarkFlagRequired("transaction")

	rootCmd.AddCommand(digestCmd, submitDigestCmd, verifyFileCmd)
}

type digestRow struct {
	File      string           `json:"file"`
	Algorithm digest.Algorithm `json:"algorithm"`
	Digest    string           `json:"digest"`
	TxID      string           `json:"transactionId,omitempty"`
}

// ── digest ───────────────────────────────────────────────────────────────────

var digestCmd = &cobra.Command{
	Use:   "digest <file>...",
	Short: "Compute file digests locally without writing to the ledger",
	Args:  cobra.MinimumNArgs(1),
	// Offline: no ledger settings are needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		algo, err := digest.ParseAlgorithm(digestAlgo)
		if err != nil {
			return err
		}
		rows := make([]digestRow, len(args))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(digestJobs, 1))
		for i, path := range args {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				sum, err := digest.File(path, algo)
				if err != nil {
					return err
				}
				rows[i] = digestRow{File: path, Algorithm: algo, Digest: sum}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return printDigests(cmd.OutOrStdout(), rows)
	},
}

// ── submit-digest ────────────────────────────────────────────────────────────

var submitDigestCmd = &cobra.Command{
	Use:   "submit-digest <file>...",
	Short: "Hash files and append one digest receipt per file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		algo, err := digest.ParseAlgorithm(digestAlgo)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		rows := make([]digestRow, len(args))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(digestJobs, 1))
		for i, path := range args {
			g.Go(func() error {
				sub, err := svc.SubmitDigest(gctx, path, algo, collectionID)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				rows[i] = digestRow{File: path, Algorithm: algo, Digest: sub.Receipt.Digest, TxID: sub.TransactionID}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return printDigests(cmd.OutOrStdout(), rows)
	},
}

func printDigests(w io.Writer, rows []digestRow) error {
	if outputFormat == "json" {
		return printJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	withTx := len(rows) > 0 && rows[0].TxID != ""
	if withTx {
		fmt.Fprintln(tw, "FILE\tALGORITHM\tDIGEST\tTRANSACTION")
	} else {
		fmt.Fprintln(tw, "FILE\tALGORITHM\tDIGEST")
	}
	for _, r := range rows {
		if withTx {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.File, r.Algorithm, r.Digest, r.TxID)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.File, r.Algorithm, r.Digest)
		}
	}
	return tw.Flush()
}

// ── verify-file ──────────────────────────────────────────────────────────────

// verification is the outcome of comparing a local file with a digest entry.
type verification struct {
	File      string           `json:"file"`
	TxID      string           `json:"transactionId"`
	Algorithm digest.Algorithm `json:"algorithm"`
	Recorded  string           `json:"recordedDigest"`
	Computed  string           `json:"computedDigest"`
	NameMatch bool             `json:"nameMatch"`
	Match     bool             `json:"match"`
}

var verifyFileCmd = &cobra.Command{
	Use:   "verify-file <file>",
	Short: "Check a local file against a digest receipt stored in the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Get(ctx, verifyTxID, collectionID)
		if err != nil {
			return err
		}
		if res.State == ledger.StateLoading || res.Entry == nil {
			return fmt.Errorf("transaction %s is still loading; try again shortly", verifyTxID)
		}
		v, err := verifyEntry(args[0], res.Entry)
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "File:     %s\nRecorded: %s (%s)\nComputed: %s\n", v.File, v.Recorded, v.Algorithm, v.Computed)
		}
		if !v.Match || (verifyStrict && !v.NameMatch) {
			return fmt.Errorf("%s does not match transaction %s", args[0], verifyTxID)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "OK")
		return nil
	},
}

// verifyEntry hashes path with the algorithm recorded in e and compares the
// result against the recorded digest.
func verifyEntry(path string, e *ledger.Entry) (*verification, error) {
	if kind := service.DetectKind(e.Contents); kind != journal.KindDigest {
		return nil, fmt.Errorf("transaction %s holds a %s entry, not a digest receipt", e.TransactionID, kind)
	}
	var r digest.Receipt
	if err := json.Unmarshal([]byte(e.Contents), &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	sum, err := digest.File(path, r.Algorithm)
	if err != nil {
		return nil, err
	}
	return &verification{
		File:      path,
		TxID:      e.TransactionID,
		Algorithm: r.Algorithm,
		Recorded:  r.Digest,
		Computed:  sum,
		NameMatch: filepath.Base(path) == r.FileName,
		Match:     sum == r.Digest,
	}, nil
}
