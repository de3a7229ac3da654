package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pistelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pistelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	serialEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pistelink",
			Subsystem: "serial",
			Name:      "events_total",
			Help:      "Decoded serial frames by kind.",
		},
		[]string{"kind"},
	)
	serialConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pistelink",
			Subsystem: "serial",
			Name:      "connected",
			Help:      "1 while a scoring box is attached.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pistelink",
			Subsystem: "box",
			Name:      "commands_total",
			Help:      "Box commands processed.",
		},
		[]string{"code", "known"},
	)
	broadcastTx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pistelink",
			Subsystem: "broadcast",
			Name:      "tx_total",
			Help:      "Heartbeat sends by result.",
		},
		[]string{"result"},
	)
	broadcastRx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pistelink",
			Subsystem: "broadcast",
			Name:      "rx_total",
			Help:      "Received datagrams by result.",
		},
		[]string{"result"},
	)
	netState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pistelink",
			Subsystem: "broadcast",
			Name:      "conn_state",
			Help:      "Multicast connection state (0 unconnected, 1 joining, 2 online, 3 rejoining).",
		},
	)
	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pistelink",
			Subsystem: "registry",
			Name:      "pistes",
			Help:      "Remote pistes in the registry.",
		},
	)
	dispatchDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pistelink",
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Events dropped because the dispatcher inbox was full.",
		},
		[]string{"source"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			serialEvents, serialConnected, commands,
			broadcastTx, broadcastRx, netState,
			registrySize, dispatchDrops,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSerialEvent(kind string) {
	RegisterMetrics()
	serialEvents.WithLabelValues(kind).Inc()
}

func SetSerialConnected(connected bool) {
	RegisterMetrics()
	serialConnected.Set(boolGauge(connected))
}

func RecordCommand(code string, known bool) {
	RegisterMetrics()
	commands.WithLabelValues(code, strconv.FormatBool(known)).Inc()
}

func RecordBroadcastTx(result string) {
	RegisterMetrics()
	broadcastTx.WithLabelValues(result).Inc()
}

func RecordBroadcastRx(result string) {
	RegisterMetrics()
	broadcastRx.WithLabelValues(result).Inc()
}

func SetNetState(state int) {
	RegisterMetrics()
	netState.Set(float64(state))
}

func SetRegistrySize(n int) {
	RegisterMetrics()
	registrySize.Set(float64(n))
}

func RecordDispatchDrop(source string) {
	RegisterMetrics()
	dispatchDrops.WithLabelValues(source).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
