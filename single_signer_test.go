package txcart

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/txcart/store"
	"github.com/tranvictor/txcart/testutil"
)

func threeApprovals(t *testing.T, cart *Cart) (a, b, c *CartTransaction) {
	t.Helper()
	return mustAdd(t, cart, approveTx("A", "1")),
		mustAdd(t, cart, approveTx("B", "2")),
		mustAdd(t, cart, approveTx("C", "3"))
}

func TestSingleSigner_ExecutesInOrder(t *testing.T) {
	ctx := context.Background()
	cart, _ := newTestCart(t)
	a := mustAdd(t, cart, approveTx("Approve", "v1"))
	s := mustAdd(t, cart, stakeTx("Stake", "v1"))
	d := mustAdd(t, cart, delegateTx("Delegate", "v1"))

	signer := &mockSigner{}
	waiter := &mockWaiter{}
	var mined []string
	strategy := NewSingleSignerStrategy(signer, waiter, WithTxMinedHook(func(tx *CartTransaction, r *types.Receipt) {
		mined = append(mined, tx.Label)
	}))

	require.NoError(t, cart.ExecuteAll(ctx, strategy))

	sent := signer.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, testutil.TokenAddr, sent[0].To)
	assert.Equal(t, testutil.StakeData(testutil.OneEth), sent[1].Data)
	assert.Equal(t, []string{"Approve", "Stake", "Delegate"}, mined)

	for i, id := range []string{a.ID, s.ID, d.ID} {
		tx, _ := cart.Get(id)
		assert.Equal(t, StatusCompleted, tx.Status)
		require.NotNil(t, tx.TxHash)
		assert.Equal(t, testutil.HashN(i+1), *tx.TxHash)
	}
	assert.Equal(t, waiter.Calls(), []common.Hash{testutil.HashN(1), testutil.HashN(2), testutil.HashN(3)})
}

func TestSingleSigner_RollbackOnRejection(t *testing.T) {
	ctx := context.Background()
	cart, _ := newTestCart(t)
	a, b, c := threeApprovals(t, cart)

	signer := &mockSigner{results: []sendResult{
		{hash: testutil.HashN(1)},
		{err: errors.New("MetaMask Tx Signature: User denied transaction signature.")},
	}}
	err := cart.ExecuteAll(ctx, NewSingleSignerStrategy(signer, &mockWaiter{}))

	var rejected *UserRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Contains(t, err.Error(), "user rejected: B")
	assert.Equal(t, []string{"B"}, rejected.Labels)

	assert.Equal(t, StatusCompleted, statusOf(t, cart, a.ID))
	assert.Equal(t, StatusPending, statusOf(t, cart, b.ID))
	assert.Equal(t, StatusPending, statusOf(t, cart, c.ID))
	assert.Len(t, signer.Sent(), 2)

	txB, _ := cart.Get(b.ID)
	assert.Empty(t, txB.Error)
	assert.Nil(t, txB.TxHash)
}

func TestSingleSigner_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("reverted receipt fails and stops", func(t *testing.T) {
		cart, _ := newTestCart(t)
		a, b, _ := threeApprovals(t, cart)
		waiter := &mockWaiter{results: map[common.Hash]waitResult{
			testutil.HashN(1): {receipt: testutil.NewFailedReceipt(testutil.HashN(1))},
		}}

		err := cart.ExecuteAll(ctx, NewSingleSignerStrategy(&mockSigner{}, waiter))
		assert.ErrorIs(t, err, ErrTxReverted)

		txA, _ := cart.Get(a.ID)
		assert.Equal(t, StatusFailed, txA.Status)
		assert.Contains(t, txA.Error, ErrTxReverted.Error())
		assert.Equal(t, StatusPending, statusOf(t, cart, b.ID))
	})

	t.Run("send error fails with message", func(t *testing.T) {
		cart, _ := newTestCart(t)
		a, b, _ := threeApprovals(t, cart)
		signer := &mockSigner{results: []sendResult{{err: errors.New("insufficient funds for gas")}}}

		err := cart.ExecuteAll(ctx, NewSingleSignerStrategy(signer, &mockWaiter{}))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUserRejected))

		txA, _ := cart.Get(a.ID)
		assert.Equal(t, StatusFailed, txA.Status)
		assert.Equal(t, "insufficient funds for gas", txA.Error)
		assert.Equal(t, StatusPending, statusOf(t, cart, b.ID))
	})

	t.Run("confirmation read error keeps the transaction executing", func(t *testing.T) {
		cart, _ := newTestCart(t)
		a := mustAdd(t, cart, approveTx("A", "1"))
		b := mustAdd(t, cart, approveTx("B", "2"))
		waiter := &mockWaiter{errs: []error{errors.New("connection reset by peer")}}

		require.Error(t, cart.ExecuteAll(ctx, NewSingleSignerStrategy(&mockSigner{}, waiter)))

		got, _ := cart.Get(a.ID)
		assert.Equal(t, StatusExecuting, got.Status)
		require.NotNil(t, got.TxHash)
		assert.Equal(t, testutil.HashN(1), *got.TxHash)
		assert.Equal(t, StatusPending, statusOf(t, cart, b.ID))

		// the tracker finishes it once the node answers again
		tracker := NewConfirmationTracker(cart, &mockWaiter{})
		target, ok := tracker.Target()
		require.True(t, ok)
		assert.Equal(t, a.ID, target.ID)
	})

	t.Run("reverted wait error fails", func(t *testing.T) {
		cart, _ := newTestCart(t)
		a := mustAdd(t, cart, approveTx("A", "1"))
		waiter := &mockWaiter{errs: []error{fmt.Errorf("%w: out of gas", ErrTxReverted)}}

		require.Error(t, cart.ExecuteAll(ctx, NewSingleSignerStrategy(&mockSigner{}, waiter)))
		assert.Equal(t, StatusFailed, statusOf(t, cart, a.ID))
	})
}

func TestSingleSigner_WaitsForInFlightTransaction(t *testing.T) {
	ctx := context.Background()
	cart, _ := newTestCart(t)
	a := mustAdd(t, cart, approveTx("A", "1"))
	require.NoError(t, cart.MarkExecuting(ctx, a.ID))
	require.NoError(t, cart.RecordTxHash(ctx, a.ID, testutil.HashN(9)))
	b := mustAdd(t, cart, approveTx("B", "2"))

	signer := &mockSigner{}
	err := cart.ExecuteAll(ctx, NewSingleSignerStrategy(signer, &mockWaiter{}))

	assert.ErrorIs(t, err, ErrExecutionInProgress)
	assert.Contains(t, err.Error(), "wait for current transaction to complete")
	assert.Empty(t, signer.Sent())
	assert.Equal(t, StatusPending, statusOf(t, cart, b.ID))
	assert.Equal(t, StatusExecuting, statusOf(t, cart, a.ID))
}

func TestSingleSigner_CancelAfterBroadcastKeepsHash(t *testing.T) {
	cart, kv := newTestCart(t)
	a := mustAdd(t, cart, approveTx("A", "1"))

	ctx, cancel := context.WithCancel(context.Background())
	waiter := &mockWaiter{block: make(chan struct{})}
	signer := &mockSigner{}
	go func() {
		for len(waiter.Calls()) == 0 {
			runtime.Gosched()
		}
		cancel()
	}()

	err := cart.ExecuteAll(ctx, NewSingleSignerStrategy(signer, waiter))
	assert.ErrorIs(t, err, context.Canceled)

	tx, _ := cart.Get(a.ID)
	assert.Equal(t, StatusExecuting, tx.Status)
	require.NotNil(t, tx.TxHash)
	assert.Equal(t, testutil.HashN(1), *tx.TxHash)

	// the hash survived in the snapshot
	reloaded, err := NewCart(context.Background(), WithSnapshotStore(NewKVSnapshotStore(kv, "")))
	require.NoError(t, err)
	stored, _ := reloaded.Get(a.ID)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, StatusExecuting, stored.Status)
}

func TestSingleSigner_DoesNotResendKnownHash(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	snapshots := NewKVSnapshotStore(kv, "")
	hash := testutil.HashN(5)
	require.NoError(t, snapshots.Save(ctx, &Snapshot{Transactions: []*CartTransaction{{
		ID:          "restored",
		Type:        TxTypeSelfStake,
		Label:       "Stake",
		Transaction: RawTx{To: testutil.StakingAddr, Data: testutil.StakeData(testutil.OneEth), Value: big.NewInt(0)},
		Status:      StatusPending,
		TxHash:      &hash,
	}}}))

	cart, err := NewCart(ctx, WithSnapshotStore(snapshots))
	require.NoError(t, err)

	signer := &mockSigner{}
	waiter := &mockWaiter{}
	require.NoError(t, cart.ExecuteAll(ctx, NewSingleSignerStrategy(signer, waiter)))

	assert.Empty(t, signer.Sent())
	assert.Equal(t, []common.Hash{hash}, waiter.Calls())
	assert.Equal(t, StatusCompleted, statusOf(t, cart, "restored"))
}
