package marketplace

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts call outcomes. A nil *Metrics records nothing.
type Metrics struct {
	created  *prometheus.CounterVec
	executed prometheus.Counter
	canceled *prometheus.CounterVec
	failed   *prometheus.CounterVec
	volume   prometheus.Counter
}

// NewMetrics registers the marketplace collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftmarket",
			Name:      "orders_created_total",
			Help:      "Resting orders opened, by side.",
		}, []string{"side"}),
		executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftmarket",
			Name:      "orders_executed_total",
			Help:      "Trades settled.",
		}),
		canceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftmarket",
			Name:      "orders_canceled_total",
			Help:      "Resting orders canceled, by side.",
		}, []string{"side"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftmarket",
			Name:      "calls_failed_total",
			Help:      "Calls rolled back, by call and reason.",
		}, []string{"call", "reason"}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftmarket",
			Name:      "traded_volume",
			Help:      "Sum of settled prices (approximate above 2^53).",
		}),
	}
	reg.MustRegister(m.created, m.executed, m.canceled, m.failed, m.volume)
	return m
}

func (m *Metrics) observe(ev Event) {
	if m == nil {
		return
	}
	switch data := ev.Data.(type) {
	case *OrderCreated:
		m.created.WithLabelValues(string(data.OrderType)).Inc()
	case *OrderExecuted:
		m.executed.Inc()
		f, _ := new(big.Float).SetInt(data.Price.ToBig()).Float64()
		m.volume.Add(f)
	case *OrderCanceled:
		m.canceled.WithLabelValues(string(data.OrderType)).Inc()
	}
}

func (m *Metrics) fail(call string, err error) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(call, Reason(err)).Inc()
}
