package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tranvictor/txcart"
)

func newClearCmd(a *app) *cobra.Command {
	var (
		all    bool
		txType string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed transactions, or everything with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var removed int
			switch {
			case all:
				removed = a.cart.Clear(cmd.Context())
			case txType != "":
				removed = a.cart.ClearByType(cmd.Context(), txcart.TxType(txType))
			default:
				removed = a.cart.ClearCompleted(cmd.Context())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d transactions\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "remove every transaction")
	cmd.Flags().StringVar(&txType, "type", "", "remove every transaction of this type")
	cmd.MarkFlagsMutuallyExclusive("all", "type")
	return cmd
}
