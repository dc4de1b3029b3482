package nat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transformationsTotal *prometheus.CounterVec
	rejectionsTotal      *prometheus.CounterVec
	gatewaysTotal        prometheus.Counter
	compileDuration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	m := &Metrics{
		transformationsTotal: promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpnat_transformations_total",
				Help: "Compiled NAT transformations labelled by gateway",
			},
			[]string{"gateway"},
		),
		rejectionsTotal: promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpnat_rejected_rules_total",
				Help: "NAT rule rejections labelled by reason",
			},
			[]string{"reason"},
		),
		gatewaysTotal: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "cpnat_gateways_compiled_total",
			Help: "Gateways a NAT pipeline was compiled for",
		}),
		compileDuration: promFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cpnat_gateway_compile_duration_seconds",
			Help:    "Time spent compiling the NAT pipeline of one gateway",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
	for _, r := range Reasons {
		m.rejectionsTotal.WithLabelValues(string(r))
	}
	return m
}

func (m *Metrics) observe(res GatewayResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewaysTotal.Inc()
	m.compileDuration.Observe(elapsed.Seconds())
	m.transformationsTotal.WithLabelValues(res.GatewayName).Add(float64(len(res.Pipeline)))
	for _, w := range res.Warnings {
		m.rejectionsTotal.WithLabelValues(string(w.Reason)).Inc()
	}
}
