package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wtask/chatcast/internal/chat/command"
)

const metricsNamespace = "chatcast"

type metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	disconnects      *prometheus.CounterVec
	messagesReceived prometheus.Counter
	broadcasts       prometheus.Counter
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
	commands         *prometheus.CounterVec
	framingErrors    prometheus.Counter
	eventsDropped    prometheus.Counter
	bytesReceived    prometheus.Counter
	bytesSent        prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)

	return &metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of sessions in Active state",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Total number of registered sessions",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Total number of closed sessions by part action",
		}, []string{"action"}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Total number of decoded messages",
		}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Total number of dispatched broadcasts",
		}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Total number of frames delivered by broadcasts",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of failed broadcast deliveries",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Total number of dispatched commands by command and status",
		}, []string{"command", "status"}),
		framingErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "framing_errors_total",
			Help:      "Total number of rejected frames",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped due to slow subscribers",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Total number of bytes read from sessions",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Total number of bytes written to sessions",
		}),
	}
}

// commandLabel - keeps command label cardinality bounded.
func commandLabel(payload string) string {
	switch name := command.Name(payload); name {
	case command.Ping, command.Disconnect:
		return name
	default:
		return "unknown"
	}
}
