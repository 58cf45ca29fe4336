package txcart

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Cart is the queue of pending blockchain calls of a staking flow. It
//  1. admits transactions after duplicate and dependency checks
//  2. keeps the caller adjustable execution order and re-validates it before every run
//  3. is the only writer of the persisted snapshot, saved after every mutation
//  4. hands pending transactions to an ExecutionStrategy, one run at a time
//  5. notifies listeners (step flows, UIs, pollers) of every change
//
// Cart implements StatusWriter for the strategies, the confirmation tracker and
// the multisig poller.
type Cart struct {
	mu                 sync.Mutex
	txs                []*CartTransaction
	executing          bool
	currentExecutingID *string

	store   SnapshotStore
	metrics *Metrics
	newID   func() string
	now     func() time.Time

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener int
}

type listenerEntry struct {
	id int
	fn Listener
}

// CartOption is a function that configures a Cart
type CartOption func(*Cart)

// WithSnapshotStore sets the durable store the cart loads from and saves into
func WithSnapshotStore(store SnapshotStore) CartOption {
	return func(c *Cart) {
		c.store = store
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *Metrics) CartOption {
	return func(c *Cart) {
		c.metrics = m
	}
}

// WithIDGenerator overrides how admitted transactions get their id
func WithIDGenerator(newID func() string) CartOption {
	return func(c *Cart) {
		c.newID = newID
	}
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt
func WithClock(now func() time.Time) CartOption {
	return func(c *Cart) {
		c.now = now
	}
}

// NewCart creates a cart and seeds it from the snapshot store, if one is configured
func NewCart(ctx context.Context, opts ...CartOption) (*Cart, error) {
	c := &Cart{
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store != nil {
		snapshot, err := c.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("couldn't load cart snapshot: %w", err)
		}
		c.txs = snapshot.Transactions
		c.currentExecutingID = snapshot.CurrentExecutingID

		currentID := "nil"
		if c.currentExecutingID != nil {
			currentID = *c.currentExecutingID
		}
		logger.WithFields(logger.Fields{
			"transactions":         len(c.txs),
			"current_executing_id": currentID,
		}).Info("cart restored from snapshot")
	}
	c.metrics.setQueueLength(len(c.txs))

	return c, nil
}

// Subscribe registers a listener and returns the function that removes it
func (c *Cart) Subscribe(fn Listener) (unsubscribe func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Cart) emit(events ...Event) {
	c.listenersMu.RLock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l.fn)
	}
	c.listenersMu.RUnlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// Add admits a new transaction at the end of the queue.
//
// With PreventDuplicate, a queued transaction with the same signature rejects
// the new one with ErrDuplicateTransaction. Every declared dependency must be
// provided by a transaction already in the queue, otherwise a
// MissingDependencyError is returned. Rejections leave the cart unchanged.
func (c *Cart) Add(ctx context.Context, nt NewTransaction, opts AddOptions) (*CartTransaction, error) {
	if !nt.Type.IsValid() {
		c.metrics.opRejected("invalid_type")
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxType, nt.Type)
	}

	c.mu.Lock()

	if opts.PreventDuplicate {
		sig := Signature(nt.Transaction)
		for _, existing := range c.txs {
			if existing.Signature() == sig {
				c.mu.Unlock()
				logger.WithFields(logger.Fields{
					"label":       nt.Label,
					"existing_id": existing.ID,
					"signature":   sig,
				}).Info("duplicate transaction not added to cart")
				c.metrics.opRejected("duplicate")
				return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, existing.Label)
			}
		}
	}

	now := c.now()
	tx := &CartTransaction{
		ID:          c.newID(),
		Type:        nt.Type,
		Label:       nt.Label,
		Description: nt.Description,
		Transaction: nt.Transaction.Clone(),
		Metadata:    nt.Metadata.Clone(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tx.Transaction.Value == nil {
		tx.Transaction.Value = new(big.Int)
	}

	if _, err := ResolveStrict(tx, c.txs); err != nil {
		c.mu.Unlock()
		logger.WithFields(logger.Fields{
			"label": nt.Label,
			"error": err,
		}).Warn("transaction rejected: unresolved dependencies")
		c.metrics.opRejected("missing_dependency")
		return nil, err
	}

	c.txs = append(c.txs, tx)
	c.persistLocked(ctx)
	out := tx.Clone()
	c.mu.Unlock()

	logger.WithFields(logger.Fields{
		"tx_id":      out.ID,
		"label":      out.Label,
		"type":       out.Type,
		"step":       out.Metadata.StepType,
		"depends_on": len(out.Metadata.DependsOn),
	}).Debug("transaction added to cart")
	c.metrics.txAdmitted()
	c.emit(Event{Kind: EventAdded, Transaction: out, To: StatusPending})

	return out, nil
}

// Remove deletes a transaction. It is refused while another queued transaction
// depends on it, or while it is executing.
func (c *Cart) Remove(ctx context.Context, id string) error {
	c.mu.Lock()

	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	tx := c.txs[idx]
	if tx.Status == StatusExecuting {
		c.mu.Unlock()
		c.metrics.opRejected("busy")
		return fmt.Errorf("%w: %s", ErrTransactionBusy, tx.Label)
	}
	if HasDependents(id, c.txs) {
		c.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"label": tx.Label,
		}).Info("transaction not removed: other transactions depend on it")
		c.metrics.opRejected("has_dependents")
		return fmt.Errorf("%w: %s", ErrHasDependents, tx.Label)
	}

	c.txs = append(c.txs[:idx], c.txs[idx+1:]...)
	c.dropCurrentLocked(id)
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.emit(Event{Kind: EventRemoved, Transaction: tx.Clone()})
	return nil
}

// MoveUp swaps a transaction with the one before it. Order against dependencies
// is only checked when execution starts.
func (c *Cart) MoveUp(ctx context.Context, id string) error {
	return c.move(ctx, id, -1)
}

// MoveDown swaps a transaction with the one after it
func (c *Cart) MoveDown(ctx context.Context, id string) error {
	return c.move(ctx, id, 1)
}

func (c *Cart) move(ctx context.Context, id string, delta int) error {
	c.mu.Lock()

	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	target := idx + delta
	if target < 0 || target >= len(c.txs) {
		c.mu.Unlock()
		return nil
	}

	c.txs[idx], c.txs[target] = c.txs[target], c.txs[idx]
	c.persistLocked(ctx)
	moved := c.txs[target].Clone()
	c.mu.Unlock()

	c.emit(Event{Kind: EventReordered, Transaction: moved})
	return nil
}

// Clear removes every transaction
func (c *Cart) Clear(ctx context.Context) int {
	return c.filter(ctx, func(*CartTransaction) bool { return false })
}

// ClearCompleted removes the completed transactions
func (c *Cart) ClearCompleted(ctx context.Context) int {
	return c.filter(ctx, func(tx *CartTransaction) bool { return tx.Status != StatusCompleted })
}

// ClearByType removes every transaction of the given type
func (c *Cart) ClearByType(ctx context.Context, txType TxType) int {
	return c.filter(ctx, func(tx *CartTransaction) bool { return tx.Type != txType })
}

// filter keeps the transactions for which keep returns true and reports how many were dropped
func (c *Cart) filter(ctx context.Context, keep func(*CartTransaction) bool) int {
	c.mu.Lock()

	kept := c.txs[:0:0]
	var removed int
	for _, tx := range c.txs {
		if keep(tx) {
			kept = append(kept, tx)
			continue
		}
		removed++
		c.dropCurrentLocked(tx.ID)
	}
	if removed == 0 {
		c.mu.Unlock()
		return 0
	}
	c.txs = kept
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.emit(Event{Kind: EventCleared})
	return removed
}

// Get returns a copy of the transaction with the given id
func (c *Cart) Get(id string) (*CartTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexLocked(id); idx >= 0 {
		return c.txs[idx].Clone(), true
	}
	return nil, false
}

// FindBySignature returns a copy of the first transaction whose call has the given signature
func (c *Cart) FindBySignature(sig string) (*CartTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tx := range c.txs {
		if tx.Signature() == sig {
			return tx.Clone(), true
		}
	}
	return nil, false
}

// Transactions returns a copy of the queue in execution order
func (c *Cart) Transactions() []*CartTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.txs)
}

// Len returns the number of queued transactions
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

// PendingCount returns the number of transactions still waiting to be executed
func (c *Cart) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for _, tx := range c.txs {
		if tx.isPending() {
			n++
		}
	}
	return n
}

// IsExecuting reports whether an execution run is in flight
func (c *Cart) IsExecuting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executing
}

// CurrentExecutingID returns the id of the transaction the signer was last working on
func (c *Cart) CurrentExecutingID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentExecutingID == nil {
		return "", false
	}
	return *c.currentExecutingID, true
}

// Snapshot returns a copy of the durable projection of the cart
func (c *Cart) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// ExecuteAll runs every pending transaction through the given strategy.
//
// It is a no-op when the cart is empty, has nothing pending, or a run is already
// in flight. Before anything executes the whole queue order is validated against
// dependencies; an ordering problem aborts the run with an OrderingError and no
// state change. Failures of the strategy are logged and returned as an
// ExecutionError wrapping the cause, the failed items keep their error message.
func (c *Cart) ExecuteAll(ctx context.Context, strategy ExecutionStrategy) (err error) {
	if strategy == nil {
		return ErrNoStrategy
	}

	c.mu.Lock()
	if len(c.txs) == 0 || c.executing {
		c.mu.Unlock()
		return nil
	}
	if orderErr := ValidateOrder(c.txs); orderErr != nil {
		c.mu.Unlock()
		logger.WithFields(logger.Fields{
			"strategy": strategy.Name(),
			"error":    orderErr,
		}).Warn("execution aborted: queue order violates dependencies")
		c.metrics.opRejected("ordering")
		return orderErr
	}
	all := cloneAll(c.txs)
	var pending []*CartTransaction
	for _, tx := range all {
		if tx.isPending() {
			pending = append(pending, tx)
		}
	}
	if len(pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.executing = true
	c.mu.Unlock()

	logger.WithFields(logger.Fields{
		"strategy": strategy.Name(),
		"pending":  len(pending),
		"queued":   len(all),
	}).Info("cart execution started")
	c.emit(Event{Kind: EventExecutionStarted})

	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{Strategy: strategy.Name(), Err: fmt.Errorf("panic: %v", r)}
			logger.WithFields(logger.Fields{
				"strategy": strategy.Name(),
				"panic":    r,
			}).Error("cart execution panicked")
		}

		c.mu.Lock()
		c.executing = false
		c.currentExecutingID = nil
		c.persistLocked(ctx)
		c.mu.Unlock()

		c.emit(Event{Kind: EventExecutionFinished})
	}()

	if runErr := strategy.Run(ctx, pending, all, c); runErr != nil {
		logger.WithFields(logger.Fields{
			"strategy": strategy.Name(),
			"error":    runErr,
		}).Error("cart execution failed")
		return &ExecutionError{Strategy: strategy.Name(), Err: runErr}
	}

	logger.WithFields(logger.Fields{
		"strategy": strategy.Name(),
	}).Info("cart execution finished")
	return nil
}

// MarkExecuting moves a pending transaction to executing and points the
// current executing id at it
func (c *Cart) MarkExecuting(ctx context.Context, id string) error {
	return c.transition(ctx, id, StatusExecuting, func(tx *CartTransaction) error {
		current := tx.ID
		c.currentExecutingID = &current
		tx.Error = ""
		return nil
	})
}

// RecordTxHash stores the broadcast hash of an executing transaction. It is
// persisted right away so that a reload before confirmation keeps the hash.
func (c *Cart) RecordTxHash(ctx context.Context, id string, hash common.Hash) error {
	return c.transition(ctx, id, "", func(tx *CartTransaction) error {
		if tx.Status != StatusExecuting {
			return fmt.Errorf("%w: cannot record hash of %s transaction %s", ErrInvalidTransition, tx.Status, tx.Label)
		}
		h := hash
		tx.TxHash = &h
		return nil
	})
}

// RecordProposal stores the coordination service proposal id of an executing transaction
func (c *Cart) RecordProposal(ctx context.Context, id string, proposalID string) error {
	return c.transition(ctx, id, "", func(tx *CartTransaction) error {
		if tx.Status != StatusExecuting {
			return fmt.Errorf("%w: cannot record proposal of %s transaction %s", ErrInvalidTransition, tx.Status, tx.Label)
		}
		tx.ExternalProposalHash = proposalID
		return nil
	})
}

// MarkCompleted moves an executing transaction to completed, recording the
// on-chain hash when given
func (c *Cart) MarkCompleted(ctx context.Context, id string, hash *common.Hash) error {
	return c.transition(ctx, id, StatusCompleted, func(tx *CartTransaction) error {
		if hash != nil {
			h := *hash
			tx.TxHash = &h
		}
		tx.Error = ""
		c.dropCurrentLocked(tx.ID)
		return nil
	})
}

// MarkFailed moves an executing transaction to failed with the given reason
func (c *Cart) MarkFailed(ctx context.Context, id string, reason string) error {
	return c.transition(ctx, id, StatusFailed, func(tx *CartTransaction) error {
		tx.Error = reason
		c.dropCurrentLocked(tx.ID)
		return nil
	})
}

// RollbackToPending returns an executing transaction to pending after the
// signer declined it. Once a hash or proposal id is recorded the transaction
// can no longer be withdrawn and the rollback is refused.
func (c *Cart) RollbackToPending(ctx context.Context, id string) error {
	return c.transition(ctx, id, StatusPending, func(tx *CartTransaction) error {
		if tx.TxHash != nil || tx.ExternalProposalHash != "" {
			return fmt.Errorf("%w: %s was already submitted", ErrInvalidTransition, tx.Label)
		}
		c.dropCurrentLocked(tx.ID)
		return nil
	})
}

// transition applies mutate and, when to is not empty, the status change, then
// persists and notifies. An empty to only updates fields.
func (c *Cart) transition(ctx context.Context, id string, to Status, mutate func(tx *CartTransaction) error) error {
	c.mu.Lock()

	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	tx := c.txs[idx]
	from := tx.Status
	if from == "" {
		from = StatusPending
	}
	if to != "" && !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, from, to, tx.Label)
	}
	if mutate != nil {
		if err := mutate(tx); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	if to != "" {
		tx.Status = to
	}
	tx.UpdatedAt = c.now()
	c.persistLocked(ctx)
	out := tx.Clone()
	c.mu.Unlock()

	kind := EventUpdated
	if to != "" {
		kind = EventStatusChanged
		c.metrics.statusChanged(to)
		logger.WithFields(logger.Fields{
			"tx_id": out.ID,
			"label": out.Label,
			"from":  from,
			"to":    to,
		}).Debug("transaction status changed")
	}
	c.emit(Event{Kind: kind, Transaction: out, From: from, To: out.Status})
	return nil
}

func (c *Cart) indexLocked(id string) int {
	for i, tx := range c.txs {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) dropCurrentLocked(id string) {
	if c.currentExecutingID != nil && *c.currentExecutingID == id {
		c.currentExecutingID = nil
	}
}

func (c *Cart) snapshotLocked() *Snapshot {
	snapshot := &Snapshot{Transactions: cloneAll(c.txs)}
	if c.currentExecutingID != nil {
		id := *c.currentExecutingID
		snapshot.CurrentExecutingID = &id
	}
	return snapshot
}

// persistLocked saves the snapshot. A failed save is logged and counted but
// does not undo the in-memory change.
func (c *Cart) persistLocked(ctx context.Context) {
	c.metrics.setQueueLength(len(c.txs))
	if c.store == nil {
		return
	}
	if err := c.store.Save(context.WithoutCancel(ctx), c.snapshotLocked()); err != nil {
		logger.WithFields(logger.Fields{
			"transactions": len(c.txs),
			"error":        err,
		}).Error("couldn't persist cart snapshot")
		c.metrics.snapshotSaveFailed()
	}
}

func cloneAll(txs []*CartTransaction) []*CartTransaction {
	out := make([]*CartTransaction, len(txs))
	for i, tx := range txs {
		out[i] = tx.Clone()
	}
	return out
}
