package txcart

import (
	"errors"
	"fmt"
	"strings"
)

// Admission and queue errors
var (
	ErrDuplicateTransaction = fmt.Errorf("transaction already in cart")
	ErrMissingDependency    = fmt.Errorf("missing dependency")
	ErrHasDependents        = fmt.Errorf("other transactions depend on this one")
	ErrTransactionNotFound  = fmt.Errorf("transaction not found in cart")
	ErrTransactionBusy      = fmt.Errorf("transaction is executing")
	ErrInvalidTxType        = fmt.Errorf("invalid transaction type")
	ErrInvalidTransition    = fmt.Errorf("invalid status transition")
	ErrDependencyOrder      = fmt.Errorf("dependency is not ordered before its dependent")
)

// Execution errors
var (
	ErrNoStrategy          = fmt.Errorf("no execution strategy")
	ErrExecutionInProgress = fmt.Errorf("wait for current transaction to complete")
	ErrUserRejected        = fmt.Errorf("user rejected")
	ErrSimulationFailed    = fmt.Errorf("batch simulation failed")
	ErrTxReverted          = fmt.Errorf("transaction reverted on chain")
	ErrExecutionFailed     = fmt.Errorf("transaction execution failed")
	ErrNoMultiSendAddress  = fmt.Errorf("multisend address is required to batch transactions")
)

// Persistence errors
var (
	ErrSnapshotCorrupt = fmt.Errorf("snapshot is corrupt")
)

// MissingDependencyError lists the dependency keys that could not be found in the queue
type MissingDependencyError struct {
	Missing []DependencyKey
}

// Names returns the human labels of the missing steps
func (e *MissingDependencyError) Names() []string {
	names := make([]string, 0, len(e.Missing))
	for _, k := range e.Missing {
		names = append(names, StepName(k.StepType))
	}
	return names
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingDependency, strings.Join(e.Names(), ", "))
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// OrderingError reports a dependency positioned at or after the transaction that needs it
type OrderingError struct {
	Dependent  *CartTransaction
	Dependency *CartTransaction
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s: %q must come before %q", ErrDependencyOrder, e.Dependency.Label, e.Dependent.Label)
}

func (e *OrderingError) Unwrap() error { return ErrDependencyOrder }

// UserRejectedError is returned when the signer or coordinator declines to sign
type UserRejectedError struct {
	Labels []string
	Batch  bool
	Err    error
}

func (e *UserRejectedError) Error() string {
	if e.Batch {
		return fmt.Sprintf("%s batch: [%s]", ErrUserRejected, strings.Join(e.Labels, ", "))
	}
	return fmt.Sprintf("%s: %s", ErrUserRejected, strings.Join(e.Labels, ", "))
}

func (e *UserRejectedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUserRejected}
	}
	return []error{ErrUserRejected, e.Err}
}

// SimulationError wraps the reason a batch simulation failed
type SimulationError struct {
	Labels []string
	Err    error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("%s for [%s]: %v", ErrSimulationFailed, strings.Join(e.Labels, ", "), e.Err)
}

func (e *SimulationError) Unwrap() []error { return []error{ErrSimulationFailed, e.Err} }

// ExecutionError is the notice returned from ExecuteAll when a strategy fails
type ExecutionError struct {
	Strategy string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrExecutionFailed, e.Strategy, e.Err)
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecutionFailed, e.Err} }

// IsUserRejection reports whether err is an explicit decline by the signer or the
// coordinator UI rather than a failure
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) && coded.ErrorCode() == 4001 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"user cancelled",
	"user canceled",
	"action_rejected",
	"transaction was rejected",
}
