package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the relay's instrumentation on a private registry so test
// servers do not collide on the default one.
type metrics struct {
	registry         *prometheus.Registry
	connectedClients prometheus.Gauge
	openRooms        prometheus.Gauge
	messagesTotal    prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teleview_relay_connected_clients",
			Help: "Currently connected realtime clients.",
		}),
		openRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teleview_relay_open_rooms",
			Help: "Rooms with at least one connected member.",
		}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teleview_relay_messages_total",
			Help: "Chat messages relayed, realtime and fallback paths combined.",
		}),
	}
	m.registry.MustRegister(m.connectedClients, m.openRooms, m.messagesTotal)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
