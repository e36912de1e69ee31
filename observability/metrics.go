package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/parametric-cover/cover"
)

// Metrics holds the engine's Prometheus metrics and implements cover.Recorder.
type Metrics struct {
	Registry *prometheus.Registry

	PoliciesIssued    prometheus.Counter
	PoliciesCancelled prometheus.Counter
	Rejections        *prometheus.CounterVec
	PremiumCollected  prometheus.Counter
	RefundsPaid       prometheus.Counter
	RefundRatio       prometheus.Histogram
	Compensations     *prometheus.CounterVec
}

// NewMetrics registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PoliciesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_policies_issued_total",
			Help: "Policies successfully issued.",
		}),
		PoliciesCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_policies_cancelled_total",
			Help: "Policies cancelled before expiry.",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_rejections_total",
			Help: "Rejected operations by operation and error code.",
		}, []string{"operation", "code"}),
		PremiumCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_premium_collected_total",
			Help: "Sum of premiums collected into the reserve.",
		}),
		RefundsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_refunds_paid_total",
			Help: "Sum of refunds paid out of the reserve.",
		}),
		RefundRatio: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_refund_ratio",
			Help:    "Refund as a fraction of premium at cancellation.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_compensations_total",
			Help: "Reversal transfers issued after a failed store write.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) PolicyIssued(p cover.Policy) {
	m.PoliciesIssued.Inc()
	m.PremiumCollected.Add(float64(p.PremiumAmount))
}

func (m *Metrics) PolicyCancelled(p cover.Policy, refund cover.Amount) {
	m.PoliciesCancelled.Inc()
	m.RefundsPaid.Add(float64(refund))
	if p.PremiumAmount > 0 {
		m.RefundRatio.Observe(float64(refund) / float64(p.PremiumAmount))
	}
}

func (m *Metrics) Rejected(operation string, err error) {
	code := cover.Code(err)
	if code == "" {
		code = "internal"
	}
	m.Rejections.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) Compensated(kind cover.TransferKind) {
	m.Compensations.WithLabelValues(string(kind)).Inc()
}

var _ cover.Recorder = (*Metrics)(nil)
