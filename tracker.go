package txcart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"

	"github.com/tranvictor/txcart/internal/circuitbreaker"
)

// ConfirmationTracker resumes waiting on a single-signer transaction that was
// broadcast before a restart. It never broadcasts anything itself.
type ConfirmationTracker struct {
	cart          *Cart
	waiter        ConfirmationWaiter
	retryInterval time.Duration
	breaker       *circuitbreaker.Breaker
	txMinedHook   TxMinedHook

	wg sync.WaitGroup
}

// TrackerOption is a function that configures a ConfirmationTracker
type TrackerOption func(*ConfirmationTracker)

// WithRetryInterval sets how long to wait before reading the confirmation
// again after a transient error
func WithRetryInterval(d time.Duration) TrackerOption {
	return func(t *ConfirmationTracker) {
		t.retryInterval = d
	}
}

// WithTrackerBreaker gates confirmation reads with a circuit breaker
func WithTrackerBreaker(b *circuitbreaker.Breaker) TrackerOption {
	return func(t *ConfirmationTracker) {
		t.breaker = b
	}
}

// WithTrackerTxMinedHook sets a hook called with the receipt of the resumed transaction
func WithTrackerTxMinedHook(hook TxMinedHook) TrackerOption {
	return func(t *ConfirmationTracker) {
		t.txMinedHook = hook
	}
}

// NewConfirmationTracker creates a tracker for the given cart
func NewConfirmationTracker(cart *Cart, waiter ConfirmationWaiter, opts ...TrackerOption) *ConfirmationTracker {
	t := &ConfirmationTracker{
		cart:          cart,
		waiter:        waiter,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Target returns the transaction the tracker would watch: the one named by the
// current executing id if it is executing with a hash, otherwise the first
// executing transaction with a hash and no proposal id.
func (t *ConfirmationTracker) Target() (*CartTransaction, bool) {
	if id, ok := t.cart.CurrentExecutingID(); ok {
		if tx, ok := t.cart.Get(id); ok && awaitingReceipt(tx) {
			return tx, true
		}
	}
	for _, tx := range t.cart.Transactions() {
		if awaitingReceipt(tx) {
			return tx, true
		}
	}
	return nil, false
}

// Resume waits for the confirmation of the broadcast transaction, if any, and
// applies completed or failed to it. Transient read errors are logged and
// retried every retry interval until ctx ends, they never fail the transaction.
// It reports whether a transaction was settled.
//
// Resume does nothing while the cart is running an execution, the running
// strategy is already waiting on its own transaction.
func (t *ConfirmationTracker) Resume(ctx context.Context) (bool, error) {
	if t.cart.IsExecuting() {
		return false, nil
	}
	tx, ok := t.Target()
	if !ok {
		return false, nil
	}
	hash := *tx.TxHash

	logger.WithFields(logger.Fields{
		"tx_id":   tx.ID,
		"label":   tx.Label,
		"tx_hash": hash.Hex(),
	}).Info("resuming confirmation tracking")

	for attempt := 1; ; attempt++ {
		if t.breaker == nil || t.breaker.Allow() {
			receipt, err := t.waiter.WaitForConfirmation(ctx, hash)
			switch {
			case err == nil:
				t.recordHealth(true)
				return true, settleReceipt(ctx, t.cart, tx, hash, receipt, t.txMinedHook)
			case errors.Is(err, ErrTxReverted):
				t.recordHealth(true)
				logger.WithFields(logger.Fields{
					"tx_id":   tx.ID,
					"tx_hash": hash.Hex(),
					"error":   err,
				}).Warn("resumed transaction reverted")
				if markErr := t.cart.MarkFailed(ctx, tx.ID, err.Error()); markErr != nil {
					return true, errors.Join(err, markErr)
				}
				return true, err
			case ctx.Err() != nil:
				return false, ctx.Err()
			default:
				t.recordHealth(false)
				logger.WithFields(logger.Fields{
					"tx_id":   tx.ID,
					"tx_hash": hash.Hex(),
					"attempt": attempt,
					"error":   err,
				}).Warn("couldn't read confirmation, will retry")
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.retryInterval):
		}
	}
}

// Start runs Resume in the background
func (t *ConfirmationTracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		settled, err := t.Resume(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithFields(logger.Fields{
				"settled": settled,
				"error":   err,
			}).Warn("confirmation tracking ended with error")
		}
	}()
}

// Wait blocks until every Start goroutine returned
func (t *ConfirmationTracker) Wait() {
	t.wg.Wait()
}

func (t *ConfirmationTracker) recordHealth(ok bool) {
	if t.breaker == nil {
		return
	}
	if ok {
		t.breaker.Success()
	} else {
		t.breaker.Failure()
	}
}

func awaitingReceipt(tx *CartTransaction) bool {
	return tx.Status == StatusExecuting && tx.TxHash != nil && tx.ExternalProposalHash == ""
}
