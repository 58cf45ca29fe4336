package txcart

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Constants for queue execution and observation
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultRetryInterval     = 5 * time.Second
	DefaultSnapshotKeyPrefix = "txcart"
)

// TxType is the closed set of cart transaction kinds. The kind decides which
// metadata fields are meaningful.
type TxType string

const (
	TxTypeDelegation        TxType = "delegation"
	TxTypeSelfStake         TxType = "self-stake"
	TxTypeSetup             TxType = "setup"
	TxTypeWalletDelegation  TxType = "wallet-delegation"
	TxTypeWalletDirectStake TxType = "wallet-direct-stake"
)

// IsValid reports whether t is one of the known transaction kinds
func (t TxType) IsValid() bool {
	switch t {
	case TxTypeDelegation, TxTypeSelfStake, TxTypeSetup, TxTypeWalletDelegation, TxTypeWalletDirectStake:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a cart transaction
type Status string

const (
	// StatusPending means the transaction is queued and has not been handed to a signer
	StatusPending Status = "pending"
	// StatusExecuting means the transaction was handed to a signer or coordinator
	StatusExecuting Status = "executing"
	// StatusCompleted means the transaction is confirmed on chain
	StatusCompleted Status = "completed"
	// StatusFailed means the transaction failed permanently
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no further transition is possible from s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a transaction may move from one status to another.
// Statuses only move forward, except executing -> pending which is the rollback
// applied when the signer declines before anything was broadcast.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending, "":
		return to == StatusExecuting
	case StatusExecuting:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}

// RawTx is the call handed to a signer: destination, encoded payload and value in wei
type RawTx struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Clone returns a deep copy of the raw transaction
func (r RawTx) Clone() RawTx {
	out := RawTx{To: r.To}
	if r.Data != nil {
		out.Data = common.CopyBytes(r.Data)
	}
	if r.Value != nil {
		out.Value = new(big.Int).Set(r.Value)
	}
	return out
}

// DependencyKey names the step a transaction provides or requires
type DependencyKey struct {
	StepType            StepType
	StepGroupIdentifier string
}

func (k DependencyKey) String() string {
	if k.StepGroupIdentifier == "" {
		return string(k.StepType)
	}
	return string(k.StepType) + "/" + k.StepGroupIdentifier
}

// Metadata holds the type specific fields of a cart transaction.
// StepType and StepGroupIdentifier describe what the transaction provides,
// DependsOn lists what it requires.
type Metadata struct {
	StepType            StepType
	StepGroupIdentifier string
	DependsOn           []DependencyKey

	// Optional staking fields, depending on the transaction type
	Amount    *big.Int
	Operator  common.Address
	Staker    common.Address
	VestingID string

	// Extra allows storing arbitrary application-specific data
	Extra map[string]string
}

// Provides returns the dependency key this transaction satisfies
func (m Metadata) Provides() (DependencyKey, bool) {
	if m.StepType == "" {
		return DependencyKey{}, false
	}
	return DependencyKey{StepType: m.StepType, StepGroupIdentifier: m.StepGroupIdentifier}, true
}

// Clone returns a deep copy of the metadata
func (m Metadata) Clone() Metadata {
	out := m
	if m.DependsOn != nil {
		out.DependsOn = append([]DependencyKey(nil), m.DependsOn...)
	}
	if m.Amount != nil {
		out.Amount = new(big.Int).Set(m.Amount)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// CartTransaction is one unit of work in the cart
type CartTransaction struct {
	// ID is assigned when the transaction is admitted into the cart
	ID          string
	Type        TxType
	Label       string
	Description string
	Transaction RawTx
	Metadata    Metadata
	Status      Status

	// TxHash is set once the transaction is broadcast by a single signer, or
	// once the multisig proposal executed on chain
	TxHash *common.Hash
	// ExternalProposalHash is the coordination service identifier of the batch proposal
	ExternalProposalHash string
	// Error is only set when Status is failed
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the transaction
func (t *CartTransaction) Clone() *CartTransaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Transaction = t.Transaction.Clone()
	out.Metadata = t.Metadata.Clone()
	if t.TxHash != nil {
		h := *t.TxHash
		out.TxHash = &h
	}
	return &out
}

// Signature returns the deduplication identity of the transaction call
func (t *CartTransaction) Signature() string {
	return Signature(t.Transaction)
}

// isPending treats an unset status like pending
func (t *CartTransaction) isPending() bool {
	return t.Status == StatusPending || t.Status == ""
}

// NewTransaction is the caller supplied description of a transaction to add
type NewTransaction struct {
	Type        TxType
	Label       string
	Description string
	Transaction RawTx
	Metadata    Metadata
}

// AddOptions controls admission of a new transaction
type AddOptions struct {
	// PreventDuplicate rejects the transaction when one with the same signature is queued
	PreventDuplicate bool
}
