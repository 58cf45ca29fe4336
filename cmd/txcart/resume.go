package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tranvictor/txcart"
	"github.com/tranvictor/txcart/internal/circuitbreaker"
	"github.com/tranvictor/txcart/signer"
)

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Wait for the receipt of a transaction broadcast before the last exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireRPC(); err != nil {
				return err
			}
			waiter, err := signer.DialWaiter(cmd.Context(), a.cfg.RPCURL, a.cfg.PollInterval)
			if err != nil {
				return err
			}

			tracker := txcart.NewConfirmationTracker(a.cart, waiter,
				txcart.WithRetryInterval(a.cfg.RetryInterval),
				txcart.WithTrackerBreaker(circuitbreaker.New(circuitbreaker.DefaultConfig("rpc"))),
			)

			target, ok := tracker.Target()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to resume")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "waiting for %s (%s)\n", target.ID, target.TxHash.Hex())

			if _, err := tracker.Resume(cmd.Context()); err != nil {
				return err
			}
			tx, ok := a.cart.Get(target.ID)
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", tx.ID, tx.Status)
			return nil
		},
	}
}
