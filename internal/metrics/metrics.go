// Package metrics exposes Prometheus instrumentation for the admission
// pipeline: admit/reject counters, lifecycle transition counters, and
// portfolio risk gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"ordergate/internal/domain"
)

// Set bundles every collector the platform registers. One Set is created at
// startup and shared by the engine and the HTTP server.
type Set struct {
	ordersAdmitted  prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	ordersExecuted  prometheus.Counter
	ordersCanceled  prometheus.Counter
	portfolioValue  prometheus.Gauge
	drawdownPct     prometheus.Gauge
	dailyRealized   prometheus.Gauge
	openReservation prometheus.Gauge
}

// NewSet creates the collectors and registers them with reg.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		ordersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordergate_orders_admitted_total",
			Help: "Orders that passed every admission layer.",
		}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordergate_orders_rejected_total",
			Help: "Orders rejected at admission, by reason.",
		}, []string{"reason"}),
		ordersExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordergate_orders_executed_total",
			Help: "Orders that reached the EXECUTED state.",
		}),
		ordersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordergate_orders_canceled_total",
			Help: "Orders that reached the CANCELED state.",
		}),
		portfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordergate_portfolio_value",
			Help: "Realized plus unrealized P&L of the portfolio.",
		}),
		drawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordergate_drawdown_pct",
			Help: "Current drawdown from the window peak, in percent.",
		}),
		dailyRealized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordergate_daily_realized_pnl",
			Help: "Realized P&L since the last day boundary.",
		}),
		openReservation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordergate_pending_orders",
			Help: "Orders currently in the PENDING state.",
		}),
	}
	reg.MustRegister(
		s.ordersAdmitted, s.ordersRejected, s.ordersExecuted, s.ordersCanceled,
		s.portfolioValue, s.drawdownPct, s.dailyRealized, s.openReservation,
	)
	return s
}

// OrderAdmitted records a successful admission.
func (s *Set) OrderAdmitted() { s.ordersAdmitted.Inc() }

// OrderRejected records a rejection under its reason label.
func (s *Set) OrderRejected(reason string) {
	s.ordersRejected.WithLabelValues(reason).Inc()
}

// ObservePortfolio refreshes the portfolio gauges from a risk snapshot.
func (s *Set) ObservePortfolio(value, drawdownPct, dailyRealized float64) {
	s.portfolioValue.Set(value)
	s.drawdownPct.Set(drawdownPct)
	s.dailyRealized.Set(dailyRealized)
}

// OnTransition implements lifecycle.Listener: it keeps the transition
// counters and the pending-order gauge current.
func (s *Set) OnTransition(_ domain.Order, from, to domain.OrderStatus) error {
	switch to {
	case domain.StatusPending:
		s.openReservation.Inc()
	case domain.StatusExecuted:
		s.ordersExecuted.Inc()
		if from == domain.StatusPending {
			s.openReservation.Dec()
		}
	case domain.StatusCanceled:
		s.ordersCanceled.Inc()
		if from == domain.StatusPending {
			s.openReservation.Dec()
		}
	}
	return nil
}
