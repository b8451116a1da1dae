package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes hub counters and gauges on a private registry so
// multiple hubs can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	FramesRelayed prometheus.Counter
	FramesDropped prometheus.Counter
	AuthSuccesses prometheus.Counter
	PairRequests  prometheus.Counter
	PairConfirms  prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FramesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_frames_relayed_total",
			Help: "Frames forwarded between room peers.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_frames_dropped_total",
			Help: "Relayable frames dropped because the peer was offline.",
		}),
		AuthSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_auth_success_total",
			Help: "Successful socket authentications.",
		}),
		PairRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_pair_requests_total",
			Help: "Pair codes issued.",
		}),
		PairConfirms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_pair_confirms_total",
			Help: "Pair codes successfully confirmed.",
		}),
	}
	reg.MustRegister(m.FramesRelayed, m.FramesDropped, m.AuthSuccesses, m.PairRequests, m.PairConfirms)
	return m
}

// registerGauges wires live-size gauges once the hub structures exist.
func (m *Metrics) registerGauges(registry *Registry, rooms *RoomTable, pairing *PairingStore) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pairlink_connections",
			Help: "Live device connections.",
		}, func() float64 { return float64(registry.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pairlink_rooms",
			Help: "Rooms in the room table.",
		}, func() float64 { return float64(rooms.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pairlink_pending_pairs",
			Help: "Unconfirmed pair codes.",
		}, func() float64 { return float64(pairing.Len()) }),
	)
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
