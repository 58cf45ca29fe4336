package txcart

import (
	"context"
	"errors"
	"fmt"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SingleSignerStrategy executes the pending transactions strictly one at a time
// through a single signer, waiting for each to be mined before sending the next
type SingleSignerStrategy struct {
	signer      Signer
	waiter      ConfirmationWaiter
	txMinedHook TxMinedHook
}

// SingleSignerOption is a function that configures a SingleSignerStrategy
type SingleSignerOption func(*SingleSignerStrategy)

// WithTxMinedHook sets a hook called with the receipt of every mined transaction
func WithTxMinedHook(hook TxMinedHook) SingleSignerOption {
	return func(s *SingleSignerStrategy) {
		s.txMinedHook = hook
	}
}

// NewSingleSignerStrategy creates the sequential strategy
func NewSingleSignerStrategy(signer Signer, waiter ConfirmationWaiter, opts ...SingleSignerOption) *SingleSignerStrategy {
	s := &SingleSignerStrategy{
		signer: signer,
		waiter: waiter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SingleSignerStrategy) Name() string { return "single-signer" }

// Run executes pending in order. The loop stops at the first transaction that
// is declined, fails or cannot be confirmed; later transactions stay pending.
//
// A decline rolls the transaction back to pending and returns a
// UserRejectedError. If ctx ends while waiting for a broadcast transaction, the
// transaction is left executing with its hash so a ConfirmationTracker can
// pick it up.
func (s *SingleSignerStrategy) Run(ctx context.Context, pending, all []*CartTransaction, w StatusWriter) error {
	if busy := inFlight(all, false); busy != nil {
		logger.WithFields(logger.Fields{
			"tx_id":   busy.ID,
			"label":   busy.Label,
			"tx_hash": busy.TxHash.Hex(),
		}).Warn("transaction still waiting for confirmation, not starting another run")
		return fmt.Errorf("%w: %s", ErrExecutionInProgress, busy.Label)
	}

	for _, tx := range pending {
		if err := s.execute(ctx, tx, w); err != nil {
			return err
		}
	}
	return nil
}

func (s *SingleSignerStrategy) execute(ctx context.Context, tx *CartTransaction, w StatusWriter) error {
	if err := w.MarkExecuting(ctx, tx.ID); err != nil {
		return err
	}

	var hash common.Hash
	if tx.TxHash != nil {
		hash = *tx.TxHash
		logger.WithFields(logger.Fields{
			"tx_id":   tx.ID,
			"tx_hash": hash.Hex(),
		}).Info("transaction already broadcast, waiting for it instead of sending again")
	} else {
		sent, err := s.signer.SendTransaction(ctx, tx.Transaction)
		if err != nil {
			if IsUserRejection(err) {
				logger.WithFields(logger.Fields{
					"tx_id": tx.ID,
					"label": tx.Label,
				}).Info("user declined to sign, rolling back to pending")
				if rbErr := w.RollbackToPending(ctx, tx.ID); rbErr != nil {
					logger.WithFields(logger.Fields{
						"tx_id": tx.ID,
						"error": rbErr,
					}).Error("couldn't roll back declined transaction")
				}
				return &UserRejectedError{Labels: []string{tx.Label}, Err: err}
			}
			s.fail(ctx, w, tx, err)
			return fmt.Errorf("couldn't send %s: %w", tx.Label, err)
		}
		hash = sent
		if err := w.RecordTxHash(ctx, tx.ID, hash); err != nil {
			return err
		}
		logger.WithFields(logger.Fields{
			"tx_id":   tx.ID,
			"label":   tx.Label,
			"tx_hash": hash.Hex(),
		}).Info("transaction broadcast")
	}

	receipt, err := s.waiter.WaitForConfirmation(ctx, hash)
	if err != nil {
		if ctx.Err() != nil {
			logger.WithFields(logger.Fields{
				"tx_id":   tx.ID,
				"tx_hash": hash.Hex(),
			}).Warn("stopped waiting for confirmation, transaction stays executing")
			return fmt.Errorf("waiting for %s: %w", tx.Label, ctx.Err())
		}
		if errors.Is(err, ErrTxReverted) {
			s.fail(ctx, w, tx, err)
			return fmt.Errorf("couldn't confirm %s: %w", tx.Label, err)
		}
		// the transaction is on the network, a read error says nothing about its outcome
		logger.WithFields(logger.Fields{
			"tx_id":   tx.ID,
			"tx_hash": hash.Hex(),
			"error":   err,
		}).Warn("couldn't read confirmation, transaction stays executing for the tracker")
		return fmt.Errorf("couldn't confirm %s: %w", tx.Label, err)
	}
	return settleReceipt(ctx, w, tx, hash, receipt, s.txMinedHook)
}

func (s *SingleSignerStrategy) fail(ctx context.Context, w StatusWriter, tx *CartTransaction, cause error) {
	if err := w.MarkFailed(ctx, tx.ID, cause.Error()); err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": tx.ID,
			"error": err,
		}).Error("couldn't mark transaction failed")
	}
}

// settleReceipt applies the final status of a mined transaction. A missing
// receipt or one with failed status marks the transaction failed with ErrTxReverted.
func settleReceipt(ctx context.Context, w StatusWriter, tx *CartTransaction, hash common.Hash, receipt *types.Receipt, hook TxMinedHook) error {
	if receipt != nil && hook != nil {
		hook(tx, receipt)
	}

	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		reason := fmt.Errorf("%w: %s", ErrTxReverted, hash.Hex())
		logger.WithFields(logger.Fields{
			"tx_id":   tx.ID,
			"label":   tx.Label,
			"tx_hash": hash.Hex(),
		}).Warn("transaction reverted")
		if err := w.MarkFailed(ctx, tx.ID, reason.Error()); err != nil {
			return errors.Join(reason, err)
		}
		return reason
	}

	logger.WithFields(logger.Fields{
		"tx_id":        tx.ID,
		"label":        tx.Label,
		"tx_hash":      hash.Hex(),
		"block_number": receipt.BlockNumber,
		"gas_used":     receipt.GasUsed,
	}).Info("transaction confirmed")
	return w.MarkCompleted(ctx, tx.ID, &hash)
}
