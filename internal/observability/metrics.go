package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client daemon.
type Metrics struct {
	ConnectionUp       prometheus.Gauge
	StateTransitions   *prometheus.CounterVec
	WSFrames           *prometheus.CounterVec
	Reconnects         prometheus.Counter
	ConnectionFailures prometheus.Counter
	SendRejects        *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	QueueDrops         prometheus.Counter
	DecodeErrors       prometheus.Counter
	FeedbackLatency    prometheus.Histogram
	HistoryWrites      *prometheus.CounterVec
	HistoryErrors      prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers on an explicit registry, which keeps tests from
// colliding on the global one.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 while the coach backend link is connected.",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions.",
		}, []string{"from", "to"}),
		WSFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_total",
			Help:      "WebSocket frames by direction and type.",
		}, []string{"direction", "type"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts after abnormal closures.",
		}),
		ConnectionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_failures_total",
			Help:      "Sessions that exhausted the retry budget.",
		}),
		SendRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_rejects_total",
			Help:      "Outbound sends refused, by reason.",
		}, []string{"reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Envelopes waiting for the link to come back.",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_drops_total",
			Help:      "Envelopes evicted from the full outbound queue.",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_decode_errors_total",
			Help:      "Backend audio payloads that failed to decode.",
		}),
		FeedbackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feedback_latency_ms",
			Help:      "Voice turn to first coaching feedback in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2500, 4000, 6000},
		}),
		HistoryWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "Records persisted to the history store, by kind.",
		}, []string{"kind"}),
		HistoryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_errors_total",
			Help:      "Failed history store writes.",
		}),
	}
}

func (m *Metrics) ObserveFeedbackLatency(d time.Duration) {
	m.FeedbackLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
