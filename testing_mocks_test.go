package txcart

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/txcart/store"
	"github.com/tranvictor/txcart/testutil"
)

// ============================================================
// Signer
// ============================================================

type sendResult struct {
	hash common.Hash
	err  error
}

// mockSigner returns scripted results in call order, then sequential hashes
type mockSigner struct {
	mu      sync.Mutex
	results []sendResult
	sent    []RawTx
}

func (m *mockSigner) SendTransaction(ctx context.Context, tx RawTx) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, tx.Clone())
	n := len(m.sent)
	if n <= len(m.results) {
		r := m.results[n-1]
		return r.hash, r.err
	}
	return testutil.HashN(n), nil
}

func (m *mockSigner) Sent() []RawTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RawTx(nil), m.sent...)
}

// ============================================================
// Confirmation Waiter
// ============================================================

type waitResult struct {
	receipt *types.Receipt
	err     error
}

// mockWaiter answers per hash. Hashes without an entry get a successful
// receipt. errs are returned first, one per call, before the hash's result.
type mockWaiter struct {
	mu      sync.Mutex
	results map[common.Hash]waitResult
	errs    []error
	block   chan struct{}
	calls   []common.Hash
}

func (m *mockWaiter) WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	m.calls = append(m.calls, hash)
	block := m.block
	var scripted error
	if len(m.errs) > 0 {
		scripted = m.errs[0]
		m.errs = m.errs[1:]
	}
	result, ok := m.results[hash]
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if scripted != nil {
		return nil, scripted
	}
	if !ok {
		return testutil.NewSuccessReceipt(hash), nil
	}
	return result.receipt, result.err
}

func (m *mockWaiter) Calls() []common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]common.Hash(nil), m.calls...)
}

// ============================================================
// Coordinator
// ============================================================

type mockCoordinator struct {
	mu sync.Mutex

	estimateErr error
	estimated   []RawTx

	proposalID string
	submitErr  error
	submitted  [][]RawTx

	statuses map[string]*ProposalStatus
	getErr   error
	gets     int
}

func (m *mockCoordinator) SubmitBatch(ctx context.Context, txs []RawTx) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitted = append(m.submitted, txs)
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return m.proposalID, nil
}

func (m *mockCoordinator) GetTransaction(ctx context.Context, proposalID string) (*ProposalStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	status, ok := m.statuses[proposalID]
	if !ok {
		return nil, fmt.Errorf("unknown proposal %s", proposalID)
	}
	return status, nil
}

func (m *mockCoordinator) Estimate(ctx context.Context, tx RawTx) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.estimated = append(m.estimated, tx.Clone())
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return 100000, nil
}

func (m *mockCoordinator) setStatus(proposalID string, status *ProposalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string]*ProposalStatus)
	}
	m.statuses[proposalID] = status
}

func (m *mockCoordinator) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// ============================================================
// Strategy
// ============================================================

// blockingStrategy counts runs and blocks each until release is closed
type blockingStrategy struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
}

func newBlockingStrategy() *blockingStrategy {
	return &blockingStrategy{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
}

func (s *blockingStrategy) Name() string { return "blocking" }

func (s *blockingStrategy) Run(ctx context.Context, pending, all []*CartTransaction, w StatusWriter) error {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	s.started <- struct{}{}
	<-s.release
	return nil
}

func (s *blockingStrategy) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic" }

func (panicStrategy) Run(ctx context.Context, pending, all []*CartTransaction, w StatusWriter) error {
	panic("boom")
}

// ============================================================
// Helpers
// ============================================================

type userRejectedErr struct{}

func (userRejectedErr) Error() string  { return "request failed" }
func (userRejectedErr) ErrorCode() int { return 4001 }

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("tx-%d", n)
	}
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

// newTestCart creates a cart persisting into an in-memory KV store
func newTestCart(t *testing.T, opts ...CartOption) (*Cart, *store.MemoryKV) {
	t.Helper()
	kv := store.NewMemoryKV()
	base := []CartOption{
		WithSnapshotStore(NewKVSnapshotStore(kv, "")),
		WithIDGenerator(sequentialIDs()),
		WithClock(fixedClock()),
	}
	cart, err := NewCart(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	return cart, kv
}

func approveTx(label string, group string) NewTransaction {
	return NewTransaction{
		Type:        TxTypeSelfStake,
		Label:       label,
		Transaction: RawTx{To: testutil.TokenAddr, Data: testutil.ApproveData(testutil.StakingAddr, testutil.OneEth)},
		Metadata:    Metadata{StepType: StepApprove, StepGroupIdentifier: group, Amount: testutil.OneEth},
	}
}

func stakeTx(label string, group string) NewTransaction {
	return NewTransaction{
		Type:        TxTypeSelfStake,
		Label:       label,
		Transaction: RawTx{To: testutil.StakingAddr, Data: testutil.StakeData(testutil.OneEth)},
		Metadata: Metadata{
			StepType:            StepStake,
			StepGroupIdentifier: group,
			Amount:              testutil.OneEth,
			DependsOn:           []DependencyKey{{StepType: StepApprove, StepGroupIdentifier: group}},
		},
	}
}

func delegateTx(label string, group string) NewTransaction {
	return NewTransaction{
		Type:        TxTypeDelegation,
		Label:       label,
		Transaction: RawTx{To: testutil.StakingAddr, Data: testutil.DelegateData(testutil.OperatorAddr, testutil.OneEth)},
		Metadata: Metadata{
			StepType:            StepDelegate,
			StepGroupIdentifier: group,
			Operator:            testutil.OperatorAddr,
			DependsOn:           []DependencyKey{{StepType: StepStake, StepGroupIdentifier: group}},
		},
	}
}

func mustAdd(t *testing.T, cart *Cart, nt NewTransaction) *CartTransaction {
	t.Helper()
	tx, err := cart.Add(context.Background(), nt, AddOptions{})
	require.NoError(t, err)
	return tx
}

func statusOf(t *testing.T, cart *Cart, id string) Status {
	t.Helper()
	tx, ok := cart.Get(id)
	require.True(t, ok, "transaction %s not in cart", id)
	return tx.Status
}
