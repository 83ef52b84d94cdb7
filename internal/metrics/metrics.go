package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airdrop"

// Metrics holds the reconciliation loop collectors
type Metrics struct {
	DepositsIngested prometheus.Counter
	RewardsSent      prometheus.Counter
	GuardSkips       *prometheus.CounterVec
	DisburseAttempts *prometheus.CounterVec
	TickErrors       prometheus.Counter
	TickDuration     prometheus.Histogram
	PendingDeposits  prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DepositsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_ingested_total",
			Help:      "Deposits newly recorded from the transfer feed.",
		}),
		RewardsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_sent_total",
			Help:      "Reward transfers confirmed on-chain.",
		}),
		GuardSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_skips_total",
			Help:      "Deposits closed by an idempotency or window guard without paying.",
		}, []string{"guard"}),
		DisburseAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disburse_attempts_total",
			Help:      "Disbursement attempts by result.",
		}, []string{"result"}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Reconciliation ticks that ended with an error.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one reconciliation tick.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		PendingDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_deposits",
			Help:      "Unprocessed deposits seen at the start of the last tick.",
		}),
	}

	reg.MustRegister(
		m.DepositsIngested,
		m.RewardsSent,
		m.GuardSkips,
		m.DisburseAttempts,
		m.TickErrors,
		m.TickDuration,
		m.PendingDeposits,
	)
	return m
}

// ObserveTick records a finished tick
func (m *Metrics) ObserveTick(start time.Time, err error) {
	m.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.TickErrors.Inc()
	}
}
