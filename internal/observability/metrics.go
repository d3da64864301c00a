package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dotpanel/dotpanel/internal/framing"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "framing",
			Name:      "frames_decoded_total",
			Help:      "Frames successfully extracted from the serial stream.",
		},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "framing",
			Name:      "errors_total",
			Help:      "Discarded frame runs by framing error kind.",
		},
		[]string{"kind"},
	)
	protocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "protocol",
			Name:      "invalid_messages_total",
			Help:      "Frames dropped for failing protocol validation.",
		},
	)
	commandsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "coproc",
			Name:      "commands_applied_total",
			Help:      "Commands applied to the simulated coprocessor.",
		},
		[]string{"kind", "origin"},
	)
	faultEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "coproc",
			Name:      "faults_total",
			Help:      "Fault events emitted by the simulated coprocessor.",
		},
		[]string{"code"},
	)
	transportUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dotpanel",
			Subsystem: "transport",
			Name:      "up",
			Help:      "Whether the serial endpoint is currently connected.",
		},
	)
	transportDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "transport",
			Name:      "events_dropped_total",
			Help:      "Outbound events dropped because the write queue was full.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dotpanel",
			Subsystem: "broker",
			Name:      "sessions_active",
			Help:      "Observer sessions currently registered.",
		},
	)
	sessionOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "broker",
			Name:      "session_overflows_total",
			Help:      "Sessions pushed into draining by a full outbound queue.",
		},
	)
	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "broker",
			Name:      "broadcasts_total",
			Help:      "Outbound observer messages by envelope kind.",
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dotpanel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dotpanel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesDecoded, framingErrors, protocolErrors,
			commandsApplied, faultEvents,
			transportUp, transportDropped,
			sessionsActive, sessionOverflows, broadcasts,
			httpRequests, httpDuration,
		)
	})
}

func IncFrameDecoded() {
	RegisterMetrics()
	framesDecoded.Inc()
}

func IncFramingError(err error) {
	RegisterMetrics()
	kind := "malformed"
	if errors.Is(err, framing.ErrOverflow) {
		kind = "overflow"
	}
	framingErrors.WithLabelValues(kind).Inc()
}

func IncProtocolError() {
	RegisterMetrics()
	protocolErrors.Inc()
}

func IncCommandApplied(kind, origin string) {
	RegisterMetrics()
	commandsApplied.WithLabelValues(kind, origin).Inc()
}

func IncFault(code string) {
	RegisterMetrics()
	faultEvents.WithLabelValues(code).Inc()
}

func SetTransportUp(up bool) {
	RegisterMetrics()
	if up {
		transportUp.Set(1)
	} else {
		transportUp.Set(0)
	}
}

func IncTransportDropped() {
	RegisterMetrics()
	transportDropped.Inc()
}

func SetSessionsActive(n int) {
	RegisterMetrics()
	sessionsActive.Set(float64(n))
}

func IncSessionOverflow() {
	RegisterMetrics()
	sessionOverflows.Inc()
}

func IncBroadcast(kind string) {
	RegisterMetrics()
	broadcasts.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
