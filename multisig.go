package txcart

import (
	"context"
	"errors"
	"fmt"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// MultisigStrategy submits the pending transactions as one proposal to a multisig
// coordination service. It considers the batch submitted, not confirmed: the
// StatusPoller observes execution.
type MultisigStrategy struct {
	coordinator          Coordinator
	multiSend            common.Address
	simulationFailedHook SimulationFailedHook
}

// MultisigOption is a function that configures a MultisigStrategy
type MultisigOption func(*MultisigStrategy)

// WithMultiSendAddress sets the MultiSend contract used to aggregate batches of
// two or more transactions
func WithMultiSendAddress(addr common.Address) MultisigOption {
	return func(s *MultisigStrategy) {
		s.multiSend = addr
	}
}

// WithSimulationFailedHook sets the hook receiving the advisory notice of a failed simulation
func WithSimulationFailedHook(hook SimulationFailedHook) MultisigOption {
	return func(s *MultisigStrategy) {
		s.simulationFailedHook = hook
	}
}

// NewMultisigStrategy creates the batched strategy
func NewMultisigStrategy(coordinator Coordinator, opts ...MultisigOption) *MultisigStrategy {
	s := &MultisigStrategy{coordinator: coordinator}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MultisigStrategy) Name() string { return "multisig" }

// Run simulates the batch, then marks every item executing, submits one
// proposal and records its id on each item.
//
// A failed simulation leaves every item pending. A decline by the coordinator
// rolls the whole batch back to pending, any other submit failure marks the
// whole batch failed.
func (s *MultisigStrategy) Run(ctx context.Context, pending, all []*CartTransaction, w StatusWriter) error {
	if busy := inFlight(all, true); busy != nil {
		logger.WithFields(logger.Fields{
			"tx_id":       busy.ID,
			"label":       busy.Label,
			"proposal_id": busy.ExternalProposalHash,
		}).Warn("a proposal is still in flight, not submitting another batch")
		return fmt.Errorf("%w: %s", ErrExecutionInProgress, busy.Label)
	}
	if len(pending) == 0 {
		return nil
	}

	labels := labelsOf(pending)
	raws := make([]RawTx, 0, len(pending))
	for _, tx := range pending {
		raws = append(raws, tx.Transaction.Clone())
	}

	if err := s.simulate(ctx, raws); err != nil {
		simErr := &SimulationError{Labels: labels, Err: err}
		logger.WithFields(logger.Fields{
			"batch_size": len(pending),
			"error":      err,
		}).Warn("batch simulation failed, nothing submitted")
		if s.simulationFailedHook != nil {
			s.simulationFailedHook(pending, simErr)
		}
		return simErr
	}

	var marked []*CartTransaction
	for _, tx := range pending {
		if err := w.MarkExecuting(ctx, tx.ID); err != nil {
			s.rollback(ctx, w, marked)
			return err
		}
		marked = append(marked, tx)
	}

	proposalID, err := s.coordinator.SubmitBatch(ctx, raws)
	if err != nil {
		if IsUserRejection(err) {
			logger.WithFields(logger.Fields{
				"batch_size": len(pending),
			}).Info("coordinator declined the batch, rolling back to pending")
			s.rollback(ctx, w, marked)
			return &UserRejectedError{Labels: labels, Batch: true, Err: err}
		}
		logger.WithFields(logger.Fields{
			"batch_size": len(pending),
			"error":      err,
		}).Error("couldn't submit batch proposal")
		for _, tx := range marked {
			if failErr := w.MarkFailed(ctx, tx.ID, err.Error()); failErr != nil {
				logger.WithFields(logger.Fields{
					"tx_id": tx.ID,
					"error": failErr,
				}).Error("couldn't mark transaction failed")
			}
		}
		return fmt.Errorf("couldn't submit batch: %w", err)
	}

	var errs []error
	for _, tx := range marked {
		if err := w.RecordProposal(ctx, tx.ID, proposalID); err != nil {
			errs = append(errs, err)
		}
	}
	logger.WithFields(logger.Fields{
		"proposal_id": proposalID,
		"batch_size":  len(marked),
	}).Info("batch proposal submitted")
	return errors.Join(errs...)
}

// simulate estimates a single transaction directly, or a batch aggregated into one MultiSend call
func (s *MultisigStrategy) simulate(ctx context.Context, raws []RawTx) error {
	call := raws[0]
	if len(raws) > 1 {
		encoded, err := EncodeMultiSend(s.multiSend, raws)
		if err != nil {
			return err
		}
		call = encoded
	}
	gas, err := s.coordinator.Estimate(ctx, call)
	if err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"batch_size": len(raws),
		"gas":        gas,
	}).Debug("batch simulation passed")
	return nil
}

func (s *MultisigStrategy) rollback(ctx context.Context, w StatusWriter, txs []*CartTransaction) {
	for _, tx := range txs {
		if err := w.RollbackToPending(ctx, tx.ID); err != nil {
			logger.WithFields(logger.Fields{
				"tx_id": tx.ID,
				"error": err,
			}).Error("couldn't roll back transaction")
		}
	}
}
