package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tranvictor/txcart"
)

func newQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Print the queued transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot := a.cart.Snapshot()
			out := cmd.OutOrStdout()

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tLABEL\tSTEP\tSTATUS\tHASH / PROPOSAL")
			for _, tx := range snapshot.Transactions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					tx.ID, tx.Type, tx.Label, stepOf(tx), tx.Status, trackingOf(tx))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if snapshot.CurrentExecutingID != nil {
				fmt.Fprintf(out, "\nexecuting: %s\n", *snapshot.CurrentExecutingID)
			}
			return nil
		},
	}
}

func stepOf(tx *txcart.CartTransaction) string {
	if tx.Metadata.StepType == "" {
		return "-"
	}
	step := txcart.StepName(tx.Metadata.StepType)
	if tx.Metadata.StepGroupIdentifier != "" {
		step += "@" + tx.Metadata.StepGroupIdentifier
	}
	if len(tx.Metadata.DependsOn) > 0 {
		deps := make([]string, 0, len(tx.Metadata.DependsOn))
		for _, d := range tx.Metadata.DependsOn {
			deps = append(deps, string(d.StepType))
		}
		step += " <- " + strings.Join(deps, ",")
	}
	return step
}

func trackingOf(tx *txcart.CartTransaction) string {
	switch {
	case tx.TxHash != nil:
		return tx.TxHash.Hex()
	case tx.ExternalProposalHash != "":
		return "proposal " + tx.ExternalProposalHash
	case tx.Error != "":
		return tx.Error
	}
	return "-"
}
