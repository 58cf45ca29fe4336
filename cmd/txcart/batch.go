package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/tranvictor/txcart"
)

// safe operation codes
const (
	opCall         = 0
	opDelegateCall = 1
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Print the pending transactions as one multisig proposal",
		Long: `batch prints the call a multisig wallet has to propose to run every pending
transaction at once. Two or more transactions are aggregated into a delegate
call to the configured MultiSend contract. Nothing is sent and the queue is
left unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := a.cart.Transactions()
			if err := txcart.ValidateOrder(all); err != nil {
				return err
			}
			var raws []txcart.RawTx
			for _, tx := range all {
				if tx.Status == txcart.StatusPending {
					raws = append(raws, tx.Transaction)
				}
			}

			out := cmd.OutOrStdout()
			switch len(raws) {
			case 0:
				fmt.Fprintln(out, "nothing pending")
				return nil
			case 1:
				printCall(cmd, raws[0], opCall)
				return nil
			}

			call, err := txcart.EncodeMultiSend(a.cfg.MultiSendAddress(), raws)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "batching %d transactions\n", len(raws))
			printCall(cmd, call, opDelegateCall)
			return nil
		},
	}

	cmd.Flags().String("multisend", "", "MultiSend contract address")
	_ = a.v.BindPFlag("multisend", cmd.Flags().Lookup("multisend"))
	return cmd
}

func printCall(cmd *cobra.Command, raw txcart.RawTx, operation int) {
	value := "0"
	if raw.Value != nil {
		value = raw.Value.String()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "to:        %s\n", raw.To.Hex())
	fmt.Fprintf(out, "value:     %s\n", value)
	fmt.Fprintf(out, "operation: %d\n", operation)
	fmt.Fprintf(out, "data:      %s\n", hexutil.Encode(raw.Data))
}
