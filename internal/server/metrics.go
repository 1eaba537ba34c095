package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission results recorded by Metrics.
const (
	admissionAccepted  = "accepted"
	admissionNameTaken = "name_taken"
	admissionFull      = "full"
	admissionAbandoned = "abandoned"
)

// Metrics holds the relay's Prometheus collectors on a private registry so
// several servers can coexist in one process. All methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	admissions  *prometheus.CounterVec
	broadcasts  prometheus.Counter
	deliveries  prometheus.Counter
	dropped     prometheus.Counter
	mirrorDrops prometheus.Counter
}

// NewMetrics builds the collectors. The registry gauges are read through
// GaugeFuncs so they always reflect current Registry state.
func NewMetrics(reg *Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_admissions_total",
			Help: "Admission attempts by result.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Room broadcasts performed.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Lines queued to recipients by broadcasts.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_dropped_deliveries_total",
			Help: "Broadcast deliveries dropped because a recipient queue was full.",
		}),
		mirrorDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_mirror_dropped_total",
			Help: "Room events not handed to the mirror because its queue was full or closed.",
		}),
	}
	m.registry.MustRegister(m.admissions, m.broadcasts, m.deliveries, m.dropped, m.mirrorDrops)

	if reg != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "chat_connections_active",
				Help: "Connections currently admitted to the registry.",
			}, func() float64 { return float64(reg.Len()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "chat_rooms_active",
				Help: "Distinct rooms with at least one admitted connection.",
			}, func() float64 { return float64(reg.RoomCount()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "chat_registry_capacity",
				Help: "Maximum number of admitted connections.",
			}, func() float64 { return float64(reg.Capacity()) }),
		)
	}
	return m
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) admission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) broadcast(delivered, dropped int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.Add(float64(delivered))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) mirrorDrop() {
	if m == nil {
		return
	}
	m.mirrorDrops.Inc()
}
