package txcart

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// StatusWriter is how strategies, the confirmation tracker and the multisig
// poller move transactions through their lifecycle. Cart implements it.
//
// Thread Safety: Implementations MUST be safe for concurrent use.
type StatusWriter interface {
	MarkExecuting(ctx context.Context, id string) error
	RecordTxHash(ctx context.Context, id string, hash common.Hash) error
	RecordProposal(ctx context.Context, id string, proposalID string) error
	MarkCompleted(ctx context.Context, id string, hash *common.Hash) error
	MarkFailed(ctx context.Context, id string, reason string) error
	RollbackToPending(ctx context.Context, id string) error
}

// ExecutionStrategy runs the pending transactions of a cart.
// pending holds copies of the pending transactions in queue order, all holds
// copies of the whole queue. Every state change goes through w.
type ExecutionStrategy interface {
	Name() string
	Run(ctx context.Context, pending, all []*CartTransaction, w StatusWriter) error
}

// Dispatcher picks the execution strategy from the kind of connected account
type Dispatcher struct {
	SingleSigner ExecutionStrategy
	Multisig     ExecutionStrategy
}

// Select returns the multisig strategy for multisig accounts and the single
// signer strategy otherwise. Nil when the needed strategy is not configured.
func (d *Dispatcher) Select(isMultisig bool) ExecutionStrategy {
	if isMultisig {
		return d.Multisig
	}
	return d.SingleSigner
}

// Execute runs the pending transactions of cart with the strategy matching the account kind
func (d *Dispatcher) Execute(ctx context.Context, cart *Cart, isMultisig bool) error {
	strategy := d.Select(isMultisig)
	if strategy == nil {
		return ErrNoStrategy
	}
	return cart.ExecuteAll(ctx, strategy)
}

// inFlight returns the first executing transaction that is already out of our
// hands: broadcast with a hash, or, when proposals count, submitted to the coordinator
func inFlight(all []*CartTransaction, countProposals bool) *CartTransaction {
	for _, tx := range all {
		if tx.Status != StatusExecuting {
			continue
		}
		if tx.TxHash != nil || (countProposals && tx.ExternalProposalHash != "") {
			return tx
		}
	}
	return nil
}

func labelsOf(txs []*CartTransaction) []string {
	labels := make([]string, 0, len(txs))
	for _, tx := range txs {
		labels = append(labels, tx.Label)
	}
	return labels
}
