package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/tranvictor/txcart"
)

func newAddCmd(a *app) *cobra.Command {
	var (
		txType, label, description string
		to, data, value            string
		step, group                string
		dependsOn                  []string
		preventDuplicate           bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a transaction",
		Example: `  txcart add --type self-stake --label "Approve" --to 0x... --data 0x095ea7b3... --step approve --group v1
  txcart add --type self-stake --label "Stake" --to 0x... --data 0xa694fc3a... --step stake --group v1 --depends-on approve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(to) {
				return fmt.Errorf("--to is not an address: %q", to)
			}
			calldata, err := hexutil.Decode(data)
			if err != nil {
				return fmt.Errorf("couldn't decode --data: %w", err)
			}
			wei, ok := new(big.Int).SetString(value, 10)
			if !ok {
				return fmt.Errorf("--value is not a decimal amount of wei: %q", value)
			}

			req := a.cart.R().
				SetType(txcart.TxType(txType)).
				SetLabel(label).
				SetDescription(description).
				SetTo(common.HexToAddress(to)).
				SetData(calldata).
				SetValue(wei)
			if step != "" {
				req.SetStep(txcart.StepType(step), group)
			}
			for _, dep := range dependsOn {
				depStep, depGroup, found := strings.Cut(dep, "@")
				if !found {
					depGroup = group
				}
				req.DependsOn(txcart.StepType(depStep), depGroup)
			}
			if preventDuplicate {
				req.PreventDuplicate()
			}

			tx, err := req.Add(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tx.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&txType, "type", string(txcart.TxTypeSelfStake), "transaction type")
	f.StringVar(&label, "label", "", "short human label")
	f.StringVar(&description, "description", "", "longer human description")
	f.StringVar(&to, "to", "", "destination address")
	f.StringVar(&data, "data", "0x", "hex encoded call data")
	f.StringVar(&value, "value", "0", "value in wei")
	f.StringVar(&step, "step", "", "step this transaction provides")
	f.StringVar(&group, "group", "", "step group, e.g. the vesting position")
	f.StringSliceVar(&dependsOn, "depends-on", nil, "required step, as step or step@group")
	f.BoolVar(&preventDuplicate, "prevent-duplicate", false, "reject when the same call is already queued")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a queued transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cart.Remove(cmd.Context(), args[0])
		},
	}
}
