package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters reported by order placement. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OrdersCommitted prometheus.Counter
	CommitFailures  *prometheus.CounterVec
	CouponRetries   prometheus.Counter
}

// NewMetrics creates and registers the order placement counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "orders_committed_total",
			Help:      "Orders committed successfully.",
		}),
		CommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "order_commit_failures_total",
			Help:      "Order placements that did not commit, by reason.",
		}, []string{"reason"}),
		CouponRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "coupon_commit_retries_total",
			Help:      "Order commits retried after a concurrent coupon update.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersCommitted, m.CommitFailures, m.CouponRetries)
	}
	return m
}

func (m *Metrics) committed() {
	if m == nil {
		return
	}
	m.OrdersCommitted.Inc()
}

func (m *Metrics) failed(reason string) {
	if m == nil {
		return
	}
	m.CommitFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) couponRetry() {
	if m == nil {
		return
	}
	m.CouponRetries.Inc()
}
