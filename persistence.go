// Package txcart orchestrates the blockchain transactions of a multi-step staking
// flow: it queues calls, enforces ordering between them, persists the queue so a
// reload never loses in-flight work, and dispatches execution either through a
// single signer or through a multisig coordination service.
package txcart

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"

	"github.com/tranvictor/txcart/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the durable projection of the cart
type Snapshot struct {
	Transactions []*CartTransaction
	// CurrentExecutingID is the transaction the single signer was last waiting on, nil if none
	CurrentExecutingID *string
}

// SnapshotStore persists the cart snapshot.
// Load is called once when a cart is created, Save after every mutation.
//
// Thread Safety: Implementations MUST be safe for concurrent use.
type SnapshotStore interface {
	// Load returns the stored snapshot. An empty snapshot (not an error) is
	// returned when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored snapshot
	Save(ctx context.Context, snapshot *Snapshot) error
}

// KVSnapshotStore stores the snapshot as two entries of a key-value store: the
// transaction array and the current executing id
type KVSnapshotStore struct {
	kv     store.KV
	prefix string
}

// NewKVSnapshotStore creates a snapshot store writing under the given key prefix.
// An empty prefix falls back to DefaultSnapshotKeyPrefix.
func NewKVSnapshotStore(kv store.KV, prefix string) *KVSnapshotStore {
	if prefix == "" {
		prefix = DefaultSnapshotKeyPrefix
	}
	return &KVSnapshotStore{kv: kv, prefix: prefix}
}

// TransactionsKey is the key holding the encoded transaction array
func (s *KVSnapshotStore) TransactionsKey() string { return s.prefix + ":transactions" }

// CurrentExecutingKey is the key holding the encoded current executing id
func (s *KVSnapshotStore) CurrentExecutingKey() string { return s.prefix + ":current-executing-id" }

func (s *KVSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{}

	raw, err := s.kv.Get(ctx, s.TransactionsKey())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("couldn't load transactions: %w", err)
	default:
		txs, err := DecodeTransactions(raw)
		if err != nil {
			return nil, err
		}
		snapshot.Transactions = txs
	}

	raw, err = s.kv.Get(ctx, s.CurrentExecutingKey())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("couldn't load current executing id: %w", err)
	default:
		id, err := DecodeCurrentExecutingID(raw)
		if err != nil {
			return nil, err
		}
		snapshot.CurrentExecutingID = id
	}

	return snapshot, nil
}

func (s *KVSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	txs, err := EncodeTransactions(snapshot.Transactions)
	if err != nil {
		return err
	}
	id, err := EncodeCurrentExecutingID(snapshot.CurrentExecutingID)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.TransactionsKey(), txs); err != nil {
		return fmt.Errorf("couldn't save transactions: %w", err)
	}
	if err := s.kv.Set(ctx, s.CurrentExecutingKey(), id); err != nil {
		return fmt.Errorf("couldn't save current executing id: %w", err)
	}
	return nil
}

// wire types keep big integers as decimal strings so that no precision is lost
// in storage formats that only know double precision numbers
type wireTransaction struct {
	ID                   string       `json:"id"`
	Type                 TxType       `json:"type"`
	Label                string       `json:"label"`
	Description          string       `json:"description,omitempty"`
	Transaction          wireRawTx    `json:"transaction"`
	Metadata             wireMetadata `json:"metadata"`
	Status               Status       `json:"status"`
	TxHash               *common.Hash `json:"txHash,omitempty"`
	ExternalProposalHash string       `json:"externalProposalHash,omitempty"`
	Error                string       `json:"error,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

type wireRawTx struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value string         `json:"value"`
}

type wireDependencyKey struct {
	StepType            StepType `json:"stepType"`
	StepGroupIdentifier string   `json:"stepGroupIdentifier"`
}

type wireMetadata struct {
	StepType            StepType            `json:"stepType,omitempty"`
	StepGroupIdentifier string              `json:"stepGroupIdentifier,omitempty"`
	DependsOn           []wireDependencyKey `json:"dependsOn,omitempty"`
	Amount              string              `json:"amount,omitempty"`
	Operator            *common.Address     `json:"operator,omitempty"`
	Staker              *common.Address     `json:"staker,omitempty"`
	VestingID           string              `json:"vestingId,omitempty"`
	Extra               map[string]string   `json:"extra,omitempty"`
}

// EncodeBigInt renders an integer as a base 10 string. Nil encodes as the empty string.
func EncodeBigInt(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// DecodeBigInt parses a base 10 string, or a 0x prefixed hex string written by
// older snapshots. The empty string decodes to nil.
func DecodeBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(strings.ToLower(s))
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex integer %q: %v", ErrSnapshotCorrupt, s, err)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad integer %q", ErrSnapshotCorrupt, s)
	}
	return v, nil
}

// EncodeTransactions serializes the queue for durable storage
func EncodeTransactions(txs []*CartTransaction) ([]byte, error) {
	wire := make([]wireTransaction, 0, len(txs))
	for _, tx := range txs {
		wire = append(wire, toWire(tx))
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode transactions: %w", err)
	}
	return data, nil
}

// DecodeTransactions parses a queue written by EncodeTransactions
func DecodeTransactions(data []byte) ([]*CartTransaction, error) {
	var wire []wireTransaction
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	txs := make([]*CartTransaction, 0, len(wire))
	for i := range wire {
		tx, err := fromWire(&wire[i])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// EncodeCurrentExecutingID serializes the nullable current executing id
func EncodeCurrentExecutingID(id *string) ([]byte, error) {
	return json.Marshal(id)
}

// DecodeCurrentExecutingID parses a value written by EncodeCurrentExecutingID
func DecodeCurrentExecutingID(data []byte) (*string, error) {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("%w: current executing id: %v", ErrSnapshotCorrupt, err)
	}
	if id != nil && *id == "" {
		return nil, nil
	}
	return id, nil
}

func toWire(tx *CartTransaction) wireTransaction {
	value := EncodeBigInt(tx.Transaction.Value)
	if value == "" {
		value = "0"
	}
	w := wireTransaction{
		ID:          tx.ID,
		Type:        tx.Type,
		Label:       tx.Label,
		Description: tx.Description,
		Transaction: wireRawTx{
			To:    tx.Transaction.To,
			Data:  tx.Transaction.Data,
			Value: value,
		},
		Metadata: wireMetadata{
			StepType:            tx.Metadata.StepType,
			StepGroupIdentifier: tx.Metadata.StepGroupIdentifier,
			Amount:              EncodeBigInt(tx.Metadata.Amount),
			VestingID:           tx.Metadata.VestingID,
			Extra:               tx.Metadata.Extra,
		},
		Status:               tx.Status,
		TxHash:               tx.TxHash,
		ExternalProposalHash: tx.ExternalProposalHash,
		Error:                tx.Error,
		CreatedAt:            tx.CreatedAt,
		UpdatedAt:            tx.UpdatedAt,
	}
	for _, dep := range tx.Metadata.DependsOn {
		w.Metadata.DependsOn = append(w.Metadata.DependsOn, wireDependencyKey{
			StepType:            dep.StepType,
			StepGroupIdentifier: dep.StepGroupIdentifier,
		})
	}
	if tx.Metadata.Operator != (common.Address{}) {
		op := tx.Metadata.Operator
		w.Metadata.Operator = &op
	}
	if tx.Metadata.Staker != (common.Address{}) {
		staker := tx.Metadata.Staker
		w.Metadata.Staker = &staker
	}
	return w
}

func fromWire(w *wireTransaction) (*CartTransaction, error) {
	value, err := DecodeBigInt(w.Transaction.Value)
	if err != nil {
		return nil, fmt.Errorf("transaction %s value: %w", w.ID, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	amount, err := DecodeBigInt(w.Metadata.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", w.ID, err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: transaction without id", ErrSnapshotCorrupt)
	}

	tx := &CartTransaction{
		ID:          w.ID,
		Type:        w.Type,
		Label:       w.Label,
		Description: w.Description,
		Transaction: RawTx{
			To:    w.Transaction.To,
			Data:  []byte(w.Transaction.Data),
			Value: value,
		},
		Metadata: Metadata{
			StepType:            w.Metadata.StepType,
			StepGroupIdentifier: w.Metadata.StepGroupIdentifier,
			Amount:              amount,
			VestingID:           w.Metadata.VestingID,
			Extra:               w.Metadata.Extra,
		},
		Status:               w.Status,
		TxHash:               w.TxHash,
		ExternalProposalHash: w.ExternalProposalHash,
		Error:                w.Error,
		CreatedAt:            w.CreatedAt,
		UpdatedAt:            w.UpdatedAt,
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	for _, dep := range w.Metadata.DependsOn {
		tx.Metadata.DependsOn = append(tx.Metadata.DependsOn, DependencyKey{
			StepType:            dep.StepType,
			StepGroupIdentifier: dep.StepGroupIdentifier,
		})
	}
	if w.Metadata.Operator != nil {
		tx.Metadata.Operator = *w.Metadata.Operator
	}
	if w.Metadata.Staker != nil {
		tx.Metadata.Staker = *w.Metadata.Staker
	}
	return tx, nil
}
