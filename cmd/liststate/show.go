package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plaenen/liststate/pkg/checkpoint"
)

func newShowCmd(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the committed checkpoint set",
		Long: `Show takes the lease, prints the committed checkpoints and commits the
same set back so the slot is visible again immediately.

A slot that was never committed prints the bootstrap set and is left
untouched. Show fails while another instance holds the lease.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unknown output format %q", output)
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			set, lease, err := a.store.Acquire(ctx)
			if err != nil {
				return err
			}

			if err := printSet(cmd.OutOrStdout(), set, output); err != nil {
				return err
			}

			if lease == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no checkpoint committed yet; showing bootstrap positions")
				return nil
			}
			return a.store.Commit(ctx, set, lease)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")

	return cmd
}

func printSet(w io.Writer, set checkpoint.Set, output string) error {
	if output == "json" {
		raw, err := checkpoint.NewCodec(checkpoint.WithRawJSON()).Encode(set)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tLAST COLLECTED")
	for _, cp := range set {
		fmt.Fprintf(tw, "%s\t%s\n", cp.StreamName, checkpoint.FormatTimestamp(cp.LastCollectedTs))
	}
	return tw.Flush()
}
