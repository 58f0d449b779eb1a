package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "radarsim_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_commands_total",
			Help: "Commands consumed by the interpreter, by key.",
		},
		[]string{"key"},
	)

	commandErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_command_errors_total",
			Help: "Commands rejected or partially applied, by key and reason.",
		},
		[]string{"key", "reason"},
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_messages_total",
			Help: "Reply messages produced, by kind.",
		},
		[]string{"kind"},
	)

	queueDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_queue_drops_total",
			Help: "Messages discarded because a bounded queue was full.",
		},
		[]string{"queue"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "radarsim_queue_depth",
			Help: "Current number of queued messages.",
		},
		[]string{"queue"},
	)

	antennaElevation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radarsim_antenna_elevation_degrees",
		Help: "Actual antenna elevation.",
	})

	antennaAzimuth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radarsim_antenna_azimuth_degrees",
		Help: "Actual antenna azimuth.",
	})

	antennaMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "radarsim_antenna_mode",
			Help: "1 for the active antenna mode, 0 otherwise.",
		},
		[]string{"mode"},
	)

	powerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "radarsim_power_state",
			Help: "Actual power/radiate flags (1 = on).",
		},
		[]string{"subsystem"},
	)

	volumesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_volumes_completed_total",
		Help: "Volume scans completed.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_stream_connections_total",
			Help: "Stream connect/disconnect events, by transport and event.",
		},
		[]string{"transport", "event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radarsim_streams_active",
		Help: "Currently connected stream subscribers.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_stream_messages_total",
		Help: "Messages written to stream subscribers.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_stream_bytes_total",
		Help: "Bytes written to stream subscribers.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radarsim_stream_errors_total",
			Help: "Stream errors, by type.",
		},
		[]string{"type"},
	)

	archiveRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_archive_rows_total",
		Help: "Beam rows written to the parquet archive.",
	})

	cacheSweeps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radarsim_cache_sweeps",
		Help: "Closed sweeps held in the sweep cache.",
	})

	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radarsim_cache_size_bytes",
		Help: "Estimated memory held by cached sweeps.",
	})

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_cache_hits_total",
		Help: "Sweep cache lookups that found a sweep.",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_cache_misses_total",
		Help: "Sweep cache lookups that found nothing.",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radarsim_cache_evictions_total",
		Help: "Sweeps evicted from the cache.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		commandsTotal,
		commandErrorsTotal,
		messagesTotal,
		queueDropsTotal,
		queueDepth,
		antennaElevation,
		antennaAzimuth,
		antennaMode,
		powerState,
		volumesCompleted,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
		archiveRowsTotal,
		cacheSweeps,
		cacheSizeBytes,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncCommands(key string)              { commandsTotal.WithLabelValues(key).Inc() }
func IncCommandErrors(key, reason string) { commandErrorsTotal.WithLabelValues(key, reason).Inc() }
func IncMessages(kind string)             { messagesTotal.WithLabelValues(kind).Inc() }
func IncQueueDrops(queue string)          { queueDropsTotal.WithLabelValues(queue).Inc() }
func SetQueueDepth(queue string, n int)   { queueDepth.WithLabelValues(queue).Set(float64(n)) }
func IncVolumesCompleted()                { volumesCompleted.Inc() }
func IncStreamsActive()                   { streamsActive.Inc() }
func DecStreamsActive()                   { streamsActive.Dec() }
func IncStreamMessages()                  { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64)              { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(typ string)          { streamErrorsTotal.WithLabelValues(typ).Inc() }
func AddArchiveRows(n int)                { archiveRowsTotal.Add(float64(n)) }
func SetCacheSweeps(n int)                { cacheSweeps.Set(float64(n)) }
func SetCacheSizeBytes(n int64)           { cacheSizeBytes.Set(float64(n)) }
func IncCacheHits()                       { cacheHitsTotal.Inc() }
func IncCacheMisses()                     { cacheMissesTotal.Inc() }
func AddCacheEvictions(n int)             { cacheEvictionsTotal.Add(float64(n)) }

func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

// SetAntennaPosition publishes the actual antenna position.
func SetAntennaPosition(el, az float64) {
	antennaElevation.Set(el)
	antennaAzimuth.Set(az)
}

// SetAntennaMode marks mode as the active one among all known modes.
func SetAntennaMode(mode string, all []string) {
	for _, m := range all {
		v := 0.0
		if m == mode {
			v = 1
		}
		antennaMode.WithLabelValues(m).Set(v)
	}
}

// SetPowerState publishes the four actual power flags.
func SetPowerState(main, magnetron, servo, radiate bool) {
	powerState.WithLabelValues("main").Set(b2f(main))
	powerState.WithLabelValues("magnetron").Set(b2f(magnetron))
	powerState.WithLabelValues("servo").Set(b2f(servo))
	powerState.WithLabelValues("radiate").Set(b2f(radiate))
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// knownRoutes are the exact paths served by the API. Anything else is
// collapsed into "other" so scanners cannot blow up label cardinality.
var knownRoutes = map[string]bool{
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/ws":                     true,
	"/api/v1/commands":        true,
	"/api/v1/state":           true,
	"/api/v1/sun":             true,
	"/api/v1/sun/passes":      true,
	"/api/v1/sweeps":          true,
	"/api/v1/sweeps/latest":   true,
	"/api/v1/stream/messages": true,
}

// normalizeRoute maps a request path to a bounded set of metric labels.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/api/v1/commands/") {
		return "/api/v1/commands/{key}"
	}
	if strings.HasPrefix(path, "/api/v1/sweeps/") {
		return "/api/v1/sweeps/{id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE keeps working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
