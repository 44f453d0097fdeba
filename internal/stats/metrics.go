package stats

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtcp2p"

// MetricsSink exports lifecycle events as prometheus metrics.
type MetricsSink struct {
	roomsCreated prometheus.Counter
	roomsOpen    prometheus.Gauge
	usersJoined  prometheus.Counter
	usersLive    prometheus.Gauge
	calls        *prometheus.CounterVec
}

// NewMetricsSink creates the metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &MetricsSink{
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created since start.",
		}),
		roomsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_open",
			Help:      "Rooms currently holding a member or a queued user.",
		}),
		usersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_joined_total",
			Help:      "Users admitted to an active slot since start.",
		}),
		usersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_active",
			Help:      "Users currently holding an active slot.",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Calls ended, by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.roomsCreated, m.roomsOpen, m.usersJoined, m.usersLive, m.calls} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Emit implements Sink.
func (m *MetricsSink) Emit(_ context.Context, ev Event) error {
	switch ev.Kind {
	case RoomCreated:
		m.roomsCreated.Inc()
		m.roomsOpen.Inc()
	case RoomClosed:
		m.roomsOpen.Dec()
	case UserJoined:
		m.usersJoined.Inc()
		m.usersLive.Inc()
	case UserLeft:
		m.usersLive.Dec()
	case CallEnded:
		outcome := "dropped"
		if ev.Succeeded {
			outcome = "succeeded"
		}
		m.calls.WithLabelValues(outcome).Inc()
	}
	return nil
}
