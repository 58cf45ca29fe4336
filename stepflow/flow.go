// Package stepflow is the per-wizard state machine of a multi-step staking flow.
// It tracks the current step, per-step status and validity, and the visited
// steps, and follows the cart transactions issued for its steps.
package stepflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"

	"github.com/tranvictor/txcart"
)

// Status of a step
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var (
	ErrUnknownStep = fmt.Errorf("unknown step")
	ErrStepLocked  = fmt.Errorf("step is not reachable yet")
)

// Step is a copy of the state of one step
type Step struct {
	ID     string
	Status Status
	Valid  bool
	Error  string
	// TxID is the cart transaction issued for the step, if any
	TxID string
}

// State is a copy of the whole flow
type State struct {
	CurrentStep int
	Steps       []Step
	Visited     []int
}

// Flow is safe for concurrent use
type Flow struct {
	mu        sync.Mutex
	steps     []Step
	index     map[string]int
	current   int
	visited   map[int]bool
	byTx      map[string]string
	listeners []func(State)
}

// New creates a flow over the given step ids, positioned on the first step
func New(ids ...string) *Flow {
	f := &Flow{
		index:   make(map[string]int, len(ids)),
		visited: map[int]bool{0: true},
		byTx:    make(map[string]string),
	}
	for i, id := range ids {
		f.steps = append(f.steps, Step{ID: id, Status: StatusPending})
		f.index[id] = i
	}
	return f
}

// OnChange registers a function called with the new state after every change
func (f *Flow) OnChange(fn func(State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// CurrentStep returns the index of the current step
func (f *Flow) CurrentStep() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Steps returns a copy of every step
func (f *Flow) Steps() []Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Step(nil), f.steps...)
}

// State returns a copy of the flow
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

// Status returns the status of a step
func (f *Flow) Status(id string) (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.index[id]
	if !ok {
		return "", false
	}
	return f.steps[i].Status, true
}

// Visited reports whether the step at index i was ever current
func (f *Flow) Visited(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited[i]
}

// Done reports whether every step completed
func (f *Flow) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedPrefixLocked() == len(f.steps)
}

// SetValid records whether the inputs of a step are valid
func (f *Flow) SetValid(id string, valid bool) error {
	return f.update(id, func(i int) {
		f.steps[i].Valid = valid
	})
}

// IsValid reports whether the inputs of a step are valid
func (f *Flow) IsValid(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.index[id]
	return ok && f.steps[i].Valid
}

// GoTo moves to the step at index i. Visited steps are always reachable, the
// next step only when the current one is valid.
func (f *Flow) GoTo(i int) error {
	f.mu.Lock()
	if i < 0 || i >= len(f.steps) {
		f.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrUnknownStep, i)
	}
	reachable := f.visited[i] || (i == f.current+1 && f.steps[f.current].Valid)
	if !reachable {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStepLocked, f.steps[i].ID)
	}
	f.current = i
	f.visited[i] = true
	state := f.stateLocked()
	listeners := f.listenersLocked()
	f.mu.Unlock()

	notify(listeners, state)
	return nil
}

// Start marks a step in progress
func (f *Flow) Start(id string) error {
	return f.setStatus(id, StatusInProgress, "")
}

// Complete marks a step completed and advances the flow if it extends the
// completed prefix
func (f *Flow) Complete(id string) error {
	return f.setStatus(id, StatusCompleted, "")
}

// Fail marks a step errored
func (f *Flow) Fail(id string, reason string) error {
	return f.setStatus(id, StatusError, reason)
}

// ResetStepsFrom returns the given step and every later one to pending and
// forgets their transactions. The current step moves back if it was past them.
func (f *Flow) ResetStepsFrom(id string) error {
	f.mu.Lock()
	start, ok := f.index[id]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	for i := start; i < len(f.steps); i++ {
		if f.steps[i].TxID != "" {
			delete(f.byTx, f.steps[i].TxID)
		}
		f.steps[i].Status = StatusPending
		f.steps[i].Error = ""
		f.steps[i].TxID = ""
		if i > start {
			delete(f.visited, i)
		}
	}
	if f.current > start {
		f.current = start
	}
	state := f.stateLocked()
	listeners := f.listenersLocked()
	f.mu.Unlock()

	logger.WithFields(logger.Fields{
		"from_step": id,
	}).Debug("steps reset")
	notify(listeners, state)
	return nil
}

// Track links a cart transaction to a step, so that Bind can follow its status
func (f *Flow) Track(stepID, txID string) error {
	return f.update(stepID, func(i int) {
		if old := f.steps[i].TxID; old != "" {
			delete(f.byTx, old)
		}
		f.steps[i].TxID = txID
		f.byTx[txID] = stepID
	})
}

// Issue adds the transaction of a step to the cart, tracks it and marks the step in progress
func (f *Flow) Issue(ctx context.Context, cart *txcart.Cart, stepID string, nt txcart.NewTransaction, opts txcart.AddOptions) (*txcart.CartTransaction, error) {
	f.mu.Lock()
	_, ok := f.index[stepID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}

	tx, err := cart.Add(ctx, nt, opts)
	if err != nil {
		return nil, err
	}
	if err := f.Track(stepID, tx.ID); err != nil {
		return nil, err
	}
	if err := f.Start(stepID); err != nil {
		return nil, err
	}
	return tx, nil
}

// Bind follows the cart: a tracked transaction moving to completed completes
// its step, failed errors it, a rollback to pending or a removal returns an
// unfinished step to pending. It returns the function that stops following.
func (f *Flow) Bind(cart *txcart.Cart) (unsubscribe func()) {
	return cart.Subscribe(func(ev txcart.Event) {
		if ev.Transaction == nil {
			return
		}
		f.mu.Lock()
		stepID, ok := f.byTx[ev.Transaction.ID]
		f.mu.Unlock()
		if !ok {
			return
		}

		var err error
		switch ev.Kind {
		case txcart.EventStatusChanged:
			switch ev.To {
			case txcart.StatusExecuting:
				err = f.Start(stepID)
			case txcart.StatusCompleted:
				err = f.Complete(stepID)
			case txcart.StatusFailed:
				err = f.Fail(stepID, ev.Transaction.Error)
			case txcart.StatusPending:
				err = f.setStatus(stepID, StatusPending, "")
			}
		case txcart.EventRemoved:
			if status, _ := f.Status(stepID); status != StatusCompleted {
				err = f.setStatus(stepID, StatusPending, "")
			}
		}
		if err != nil {
			logger.WithFields(logger.Fields{
				"step":  stepID,
				"tx_id": ev.Transaction.ID,
				"error": err,
			}).Warn("couldn't follow cart transaction")
		}
	})
}

func (f *Flow) setStatus(id string, status Status, reason string) error {
	return f.update(id, func(i int) {
		f.steps[i].Status = status
		f.steps[i].Error = reason
		if status == StatusCompleted {
			f.advanceLocked(i)
		}
	})
}

// advanceLocked moves the current step to the end of the completed prefix.
// A step completed past an unfinished one does not move the pointer.
func (f *Flow) advanceLocked(completed int) {
	prefix := f.completedPrefixLocked()
	if completed > prefix {
		logger.WithFields(logger.Fields{
			"step":             f.steps[completed].ID,
			"first_unfinished": f.steps[prefix].ID,
		}).Warn("step completed out of order, not advancing")
		return
	}
	next := prefix
	if next >= len(f.steps) {
		next = len(f.steps) - 1
	}
	if next > f.current {
		f.current = next
		f.visited[next] = true
	}
}

func (f *Flow) completedPrefixLocked() int {
	for i, s := range f.steps {
		if s.Status != StatusCompleted {
			return i
		}
	}
	return len(f.steps)
}

func (f *Flow) update(id string, mutate func(i int)) error {
	f.mu.Lock()
	i, ok := f.index[id]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	mutate(i)
	state := f.stateLocked()
	listeners := f.listenersLocked()
	f.mu.Unlock()

	notify(listeners, state)
	return nil
}

func (f *Flow) stateLocked() State {
	state := State{
		CurrentStep: f.current,
		Steps:       append([]Step(nil), f.steps...),
	}
	for i := range f.steps {
		if f.visited[i] {
			state.Visited = append(state.Visited, i)
		}
	}
	return state
}

func (f *Flow) listenersLocked() []func(State) {
	return append([]func(State)(nil), f.listeners...)
}

func notify(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
