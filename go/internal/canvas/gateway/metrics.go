package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	connectionsActive prometheus.Gauge
	inbound           *prometheus.CounterVec
	broadcasts        *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	throttled         prometheus.Counter
	joins             prometheus.Counter
}

// NewMetrics registers the gateway collectors on reg. A nil reg yields
// collectors that are never registered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canvas_gateway_connections",
			Help: "Open websocket connections",
		}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_gateway_inbound_events_total",
			Help: "Client events received by event name",
		}, []string{"event"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_gateway_broadcasts_total",
			Help: "Server events fanned out by event name",
		}, []string{"event"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_gateway_dropped_total",
			Help: "Client events or outbound frames dropped by reason",
		}, []string{"reason"}),
		throttled: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_gateway_throttled_total",
			Help: "Reliable client events delayed by the inbound rate limit",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "canvas_gateway_room_joins_total",
			Help: "Successful room joins",
		}),
	}
}
