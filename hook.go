package txcart

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// TxMinedHook is called when a single-signer transaction is mined (either successfully or reverted).
// It is informational, the cart status is updated regardless of what it does.
type TxMinedHook func(tx *CartTransaction, receipt *types.Receipt)

// SimulationFailedHook is called when a multisig batch simulation fails.
// The batch is left untouched in the cart, the hook is where callers surface the advisory notice.
type SimulationFailedHook func(batch []*CartTransaction, err error)

// EventKind identifies a cart change
type EventKind string

const (
	EventAdded             EventKind = "added"
	EventRemoved           EventKind = "removed"
	EventReordered         EventKind = "reordered"
	EventCleared           EventKind = "cleared"
	EventStatusChanged     EventKind = "status_changed"
	EventUpdated           EventKind = "updated"
	EventExecutionStarted  EventKind = "execution_started"
	EventExecutionFinished EventKind = "execution_finished"
)

// Event describes one cart change. Transaction is a copy of the affected
// transaction after the change, nil for queue wide events.
type Event struct {
	Kind        EventKind
	Transaction *CartTransaction
	From, To    Status
}

// Listener receives cart events. Listeners are called synchronously, after the
// cart lock is released, so they may call back into the cart.
type Listener func(Event)
