package main

import (
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"github.com/tranvictor/txcart"
	"github.com/tranvictor/txcart/signer"
)

var errMissingKey = fmt.Errorf("private_key is required to execute")

func newExecuteCmd(a *app) *cobra.Command {
	var gasBuffer float64

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Send every pending transaction in order from the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireRPC(); err != nil {
				return err
			}
			if a.cfg.PrivateKey == "" {
				return errMissingKey
			}

			opts := []signer.Option{
				signer.WithGasBufferPercent(gasBuffer),
				signer.WithReceiptInterval(a.cfg.PollInterval),
			}
			if a.cfg.ChainID != 0 {
				opts = append(opts, signer.WithChainID(new(big.Int).SetUint64(a.cfg.ChainID)))
			}
			client, err := signer.Dial(cmd.Context(), a.cfg.RPCURL, a.cfg.PrivateKey, opts...)
			if err != nil {
				return err
			}

			dispatcher := &txcart.Dispatcher{
				SingleSigner: txcart.NewSingleSignerStrategy(client, client,
					txcart.WithTxMinedHook(func(tx *txcart.CartTransaction, receipt *types.Receipt) {
						logger.WithFields(logger.Fields{
							"tx_id":    tx.ID,
							"label":    tx.Label,
							"gas_used": receipt.GasUsed,
						}).Info("mined")
					})),
			}

			logger.WithFields(logger.Fields{
				"from":    client.Address().Hex(),
				"pending": a.cart.PendingCount(),
			}).Info("executing cart")
			if err := dispatcher.Execute(cmd.Context(), a.cart, false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending transactions left\n", a.cart.PendingCount())
			return nil
		},
	}

	cmd.Flags().Float64Var(&gasBuffer, "gas-buffer", signer.DefaultGasBufferPercent, "share of the gas estimate added to the gas limit")
	return cmd
}
