package txcart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"

	"github.com/tranvictor/txcart/internal/circuitbreaker"
)

// StatusPoller watches submitted multisig proposals and completes their
// transactions once the coordination service reports them executed.
//
// Its timer only runs while at least one transaction is eligible: executing,
// with a proposal id and no on-chain hash yet.
type StatusPoller struct {
	cart        *Cart
	coordinator Coordinator
	interval    time.Duration
	breaker     *circuitbreaker.Breaker
	metrics     *Metrics

	mu          sync.Mutex
	parent      context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// PollerOption is a function that configures a StatusPoller
type PollerOption func(*StatusPoller)

// WithPollInterval sets the polling interval
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *StatusPoller) {
		p.interval = d
	}
}

// WithPollerBreaker skips polling rounds while the coordination service is unhealthy
func WithPollerBreaker(b *circuitbreaker.Breaker) PollerOption {
	return func(p *StatusPoller) {
		p.breaker = b
	}
}

// WithPollerMetrics counts failed status reads
func WithPollerMetrics(m *Metrics) PollerOption {
	return func(p *StatusPoller) {
		p.metrics = m
	}
}

// NewStatusPoller creates a poller for the given cart
func NewStatusPoller(cart *Cart, coordinator Coordinator, opts ...PollerOption) *StatusPoller {
	p := &StatusPoller{
		cart:        cart,
		coordinator: coordinator,
		interval:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes to the cart and starts or stops the timer whenever the set
// of eligible transactions changes. ctx bounds every polling round.
func (p *StatusPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.mu.Unlock()
		return
	}
	p.parent = ctx
	p.unsubscribe = p.cart.Subscribe(func(Event) { p.Sync() })
	p.mu.Unlock()

	p.Sync()
}

// Stop unsubscribes, cancels the timer and waits for a running round to return
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.parent = nil
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	p.wg.Wait()
}

// Running reports whether the timer task is active
func (p *StatusPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Sync starts the timer when something is eligible and cancels it when nothing
// is. It does not wait for a cancelled round, it may be called from that round.
//
// Eligibility is read under p.mu so concurrent calls decide in order. The cart
// emits outside its own lock, so p.mu may be held while reading it.
func (p *StatusPoller) Sync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parent == nil {
		return
	}
	eligible := len(p.eligible()) > 0

	switch {
	case eligible && p.cancel == nil:
		ctx, cancel := context.WithCancel(p.parent)
		p.cancel = cancel
		p.wg.Add(1)
		go p.loop(ctx)
		logger.WithFields(logger.Fields{
			"interval": p.interval.String(),
		}).Debug("multisig status polling started")
	case !eligible && p.cancel != nil:
		p.cancel()
		p.cancel = nil
		logger.WithFields(logger.Fields{
			"interval": p.interval.String(),
		}).Debug("multisig status polling stopped, nothing left to watch")
	}
}

func (p *StatusPoller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce queries the coordination service once for every eligible
// transaction. Transactions of the same proposal share one query. Read errors
// are logged and left for the next round.
func (p *StatusPoller) PollOnce(ctx context.Context) {
	if p.breaker != nil && !p.breaker.Allow() {
		logger.WithFields(logger.Fields{
			"breaker": p.breaker.State().String(),
		}).Debug("coordination service unhealthy, skipping poll round")
		return
	}

	statuses := make(map[string]*ProposalStatus)
	for _, tx := range p.eligible() {
		if ctx.Err() != nil {
			return
		}

		status, seen := statuses[tx.ExternalProposalHash]
		if !seen {
			var err error
			status, err = p.coordinator.GetTransaction(ctx, tx.ExternalProposalHash)
			if err != nil {
				logger.WithFields(logger.Fields{
					"tx_id":       tx.ID,
					"proposal_id": tx.ExternalProposalHash,
					"error":       err,
				}).Warn("couldn't read proposal status")
				p.metrics.pollFailed()
				if p.breaker != nil {
					p.breaker.Failure()
				}
				continue
			}
			if p.breaker != nil {
				p.breaker.Success()
			}
			statuses[tx.ExternalProposalHash] = status
		}

		if status == nil || !status.IsExecuted {
			continue
		}
		p.settle(ctx, tx, status)
	}
}

func (p *StatusPoller) settle(ctx context.Context, tx *CartTransaction, status *ProposalStatus) {
	fields := logger.Fields{
		"tx_id":       tx.ID,
		"label":       tx.Label,
		"proposal_id": tx.ExternalProposalHash,
	}
	if status.TransactionHash != nil {
		fields["tx_hash"] = status.TransactionHash.Hex()
	}

	if status.IsSuccessful != nil && !*status.IsSuccessful {
		reason := fmt.Sprintf("%s: proposal %s", ErrTxReverted, tx.ExternalProposalHash)
		if status.TransactionHash != nil {
			reason = fmt.Sprintf("%s: %s", ErrTxReverted, status.TransactionHash.Hex())
		}
		logger.WithFields(fields).Warn("multisig proposal executed but reverted")
		if err := p.cart.MarkFailed(ctx, tx.ID, reason); err != nil {
			fields["error"] = err
			logger.WithFields(fields).Error("couldn't mark transaction failed")
		}
		return
	}

	if status.TransactionHash == nil {
		logger.WithFields(fields).Debug("proposal executed, on-chain hash not reported yet")
		return
	}

	logger.WithFields(fields).Info("multisig proposal executed")
	if err := p.cart.MarkCompleted(ctx, tx.ID, status.TransactionHash); err != nil {
		fields["error"] = err
		logger.WithFields(fields).Error("couldn't mark transaction completed")
	}
}

func (p *StatusPoller) eligible() []*CartTransaction {
	var out []*CartTransaction
	for _, tx := range p.cart.Transactions() {
		if tx.Status == StatusExecuting && tx.ExternalProposalHash != "" && tx.TxHash == nil {
			out = append(out, tx)
		}
	}
	return out
}
