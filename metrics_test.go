package txcart

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	cart, err := NewCart(ctx, WithMetrics(m), WithSnapshotStore(failingSnapshotStore{}))
	require.NoError(t, err)

	a := mustAdd(t, cart, approveTx("Approve", "v1"))
	_, err = cart.Add(ctx, stakeTx("Stake", "v2"), AddOptions{})
	require.Error(t, err)
	require.NoError(t, cart.MarkExecuting(ctx, a.ID))

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.admitted))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.rejected.WithLabelValues("missing_dependency")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.transitions.WithLabelValues(string(StatusExecuting))))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.snapshotSaveErrs))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.queueLength))

	count, err := promtestutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.txAdmitted()
		m.opRejected("x")
		m.statusChanged(StatusFailed)
		m.snapshotSaveFailed()
		m.pollFailed()
		m.setQueueLength(3)
	})
}
