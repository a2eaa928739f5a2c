package pricing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters the pricing core reports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	FallbackPrices prometheus.Counter
	SkippedEntries *prometheus.CounterVec
	CouponRejects  *prometheus.CounterVec
}

// NewMetrics creates and registers the pricing counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FallbackPrices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "pricing",
			Name:      "fallback_price_total",
			Help:      "Line items priced with the fallback constant because no catalog or cart price was available.",
		}),
		SkippedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "cart_entries_skipped_total",
			Help:      "Cart entries left out of pricing, by reason.",
		}, []string{"reason"}),
		CouponRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "pricing",
			Name:      "coupon_rejections_total",
			Help:      "Coupon validation failures, by discount type.",
		}, []string{"discount_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.FallbackPrices, m.SkippedEntries, m.CouponRejects)
	}
	return m
}

func (m *Metrics) fallbackPrice() {
	if m == nil {
		return
	}
	m.FallbackPrices.Inc()
}

func (m *Metrics) skipped(reason SkipReason) {
	if m == nil {
		return
	}
	m.SkippedEntries.WithLabelValues(string(reason)).Inc()
}

// CouponRejected records a coupon validation failure.
func (m *Metrics) CouponRejected(discountType DiscountType) {
	if m == nil {
		return
	}
	label := string(discountType)
	if label == "" {
		label = "unknown"
	}
	m.CouponRejects.WithLabelValues(label).Inc()
}
