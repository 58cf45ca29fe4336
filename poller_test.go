package txcart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/txcart/internal/circuitbreaker"
	"github.com/tranvictor/txcart/testutil"
)

func submittedBatch(t *testing.T, proposalID string) (*Cart, *mockCoordinator, []*CartTransaction) {
	t.Helper()
	cart, _ := newTestCart(t)
	a, b, _ := threeApprovals(t, cart)
	require.NoError(t, cart.Remove(context.Background(), "tx-3"))
	coordinator := &mockCoordinator{proposalID: proposalID}
	require.NoError(t, cart.ExecuteAll(context.Background(), newMultisig(coordinator)))
	return cart, coordinator, []*CartTransaction{a, b}
}

func TestStatusPoller_PollOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("not executed yet", func(t *testing.T) {
		cart, coordinator, txs := submittedBatch(t, "0xsafe")
		coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: false})

		NewStatusPoller(cart, coordinator).PollOnce(ctx)

		assert.Equal(t, StatusExecuting, statusOf(t, cart, txs[0].ID))
		assert.Equal(t, 1, coordinator.Gets())
	})

	t.Run("executed with hash completes every item", func(t *testing.T) {
		cart, coordinator, txs := submittedBatch(t, "0xsafe")
		hash := testutil.HashN(4)
		coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: true, TransactionHash: &hash})

		NewStatusPoller(cart, coordinator).PollOnce(ctx)

		for _, tx := range txs {
			got, _ := cart.Get(tx.ID)
			assert.Equal(t, StatusCompleted, got.Status)
			require.NotNil(t, got.TxHash)
			assert.Equal(t, hash, *got.TxHash)
		}
	})

	t.Run("executed without hash waits", func(t *testing.T) {
		cart, coordinator, txs := submittedBatch(t, "0xsafe")
		coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: true})

		NewStatusPoller(cart, coordinator).PollOnce(ctx)
		assert.Equal(t, StatusExecuting, statusOf(t, cart, txs[0].ID))
	})

	t.Run("executed but unsuccessful fails", func(t *testing.T) {
		cart, coordinator, txs := submittedBatch(t, "0xsafe")
		hash := testutil.HashN(4)
		ok := false
		coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: true, IsSuccessful: &ok, TransactionHash: &hash})

		NewStatusPoller(cart, coordinator).PollOnce(ctx)

		got, _ := cart.Get(txs[0].ID)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.Error, hash.Hex())
	})

	t.Run("read error leaves transactions alone", func(t *testing.T) {
		cart, coordinator, txs := submittedBatch(t, "0xsafe")
		coordinator.getErr = errors.New("502 bad gateway")
		breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, CoolDown: time.Hour})
		poller := NewStatusPoller(cart, coordinator, WithPollerBreaker(breaker), WithPollerMetrics(NewMetrics(nil)))

		poller.PollOnce(ctx)
		assert.Equal(t, StatusExecuting, statusOf(t, cart, txs[0].ID))
		assert.Equal(t, 2, coordinator.Gets())
		assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

		// open breaker skips the round
		poller.PollOnce(ctx)
		assert.Equal(t, 2, coordinator.Gets())
	})
}

func TestStatusPoller_TimerFollowsEligibleSet(t *testing.T) {
	ctx := context.Background()
	cart, _ := newTestCart(t)
	mustAdd(t, cart, approveTx("A", "1"))
	coordinator := &mockCoordinator{proposalID: "0xsafe"}

	poller := NewStatusPoller(cart, coordinator, WithPollInterval(5*time.Millisecond))
	poller.Start(ctx)
	defer poller.Stop()
	assert.False(t, poller.Running())

	require.NoError(t, cart.ExecuteAll(ctx, NewMultisigStrategy(coordinator)))
	assert.True(t, poller.Running())

	hash := testutil.HashN(1)
	coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: true, TransactionHash: &hash})

	assert.Eventually(t, func() bool {
		return statusOf(t, cart, "tx-1") == StatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !poller.Running() }, time.Second, 5*time.Millisecond)
}

func TestStatusPoller_Stop(t *testing.T) {
	ctx := context.Background()
	cart, coordinator, _ := submittedBatch(t, "0xsafe")
	coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: false})

	poller := NewStatusPoller(cart, coordinator, WithPollInterval(time.Millisecond))
	poller.Start(ctx)
	require.True(t, poller.Running())

	poller.Stop()
	assert.False(t, poller.Running())

	gets := coordinator.Gets()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, gets, coordinator.Gets())
}

func TestStatusPoller_ConcurrentSync(t *testing.T) {
	ctx := context.Background()
	cart, _ := newTestCart(t)
	mustAdd(t, cart, approveTx("A", "1"))
	coordinator := &mockCoordinator{proposalID: "0xsafe"}
	coordinator.setStatus("0xsafe", &ProposalStatus{IsExecuted: false})

	poller := NewStatusPoller(cart, coordinator, WithPollInterval(time.Hour))
	poller.Start(ctx)
	defer poller.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				poller.Sync()
			}
		}()
	}
	require.NoError(t, cart.ExecuteAll(ctx, NewMultisigStrategy(coordinator)))
	wg.Wait()

	// the submitted proposal is still eligible whatever order the calls ran in
	assert.True(t, poller.Running())

	require.NoError(t, cart.MarkCompleted(ctx, "tx-1", nil))
	poller.Sync()
	assert.False(t, poller.Running())
}
