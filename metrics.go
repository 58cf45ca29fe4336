package txcart

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of a cart and its observers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	admitted         prometheus.Counter
	rejected         *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	snapshotSaveErrs prometheus.Counter
	pollErrors       prometheus.Counter
	queueLength      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcart",
			Name:      "transactions_admitted_total",
			Help:      "Transactions admitted into the cart.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcart",
			Name:      "admission_rejected_total",
			Help:      "Cart operations rejected, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcart",
			Name:      "status_transitions_total",
			Help:      "Transaction status transitions, by target status.",
		}, []string{"status"}),
		snapshotSaveErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcart",
			Name:      "snapshot_save_errors_total",
			Help:      "Failed snapshot writes.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcart",
			Name:      "poll_errors_total",
			Help:      "Failed confirmation or proposal status reads.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txcart",
			Name:      "queue_length",
			Help:      "Transactions currently in the cart.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.admitted, m.rejected, m.transitions, m.snapshotSaveErrs, m.pollErrors, m.queueLength)
	}
	return m
}

func (m *Metrics) txAdmitted() {
	if m != nil {
		m.admitted.Inc()
	}
}

func (m *Metrics) opRejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) statusChanged(to Status) {
	if m != nil {
		m.transitions.WithLabelValues(string(to)).Inc()
	}
}

func (m *Metrics) snapshotSaveFailed() {
	if m != nil {
		m.snapshotSaveErrs.Inc()
	}
}

func (m *Metrics) pollFailed() {
	if m != nil {
		m.pollErrors.Inc()
	}
}

func (m *Metrics) setQueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}
