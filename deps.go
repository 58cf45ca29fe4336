// deps.go defines minimal interfaces for the external collaborators the cart drives.
// This keeps wallets, RPC nodes and the multisig coordination service out of the
// core and lets tests replace them with fakes.
package txcart

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer sends a raw transaction from the connected single-signer wallet.
// It returns as soon as the transaction is broadcast. An explicit decline by the
// user must surface as an error matched by IsUserRejection.
type Signer interface {
	SendTransaction(ctx context.Context, tx RawTx) (common.Hash, error)
}

// ConfirmationWaiter blocks until a broadcast transaction is mined.
// A mined but reverted transaction is reported either as a receipt with failed
// status or as an error wrapping ErrTxReverted.
type ConfirmationWaiter interface {
	WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ProposalStatus is what the coordination service reports for a submitted proposal
type ProposalStatus struct {
	IsExecuted bool
	// IsSuccessful is nil while unknown
	IsSuccessful    *bool
	TransactionHash *common.Hash
}

// Coordinator is the multisig coordination service
type Coordinator interface {
	// SubmitBatch proposes the transactions as one batch and returns the proposal identifier
	SubmitBatch(ctx context.Context, txs []RawTx) (string, error)

	// GetTransaction returns the execution status of a proposal
	GetTransaction(ctx context.Context, proposalID string) (*ProposalStatus, error)

	// Estimate simulates a transaction from the multisig account and returns the
	// gas estimate. It fails when the transaction would revert.
	Estimate(ctx context.Context, tx RawTx) (uint64, error)
}
