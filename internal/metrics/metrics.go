package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "yes"

// SizeFunc reports the current pattern and expansion buffer lengths.
type SizeFunc func() (patternSize, bufSize int, err error)

// Metrics tracks device traffic.
type Metrics struct {
	bytesRead     prometheus.Counter
	writes        *prometheus.CounterVec
	patternSize   prometheus.GaugeFunc
	bufferSize    prometheus.GaugeFunc
	streamClients prometheus.Gauge

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers all collectors on r. A nil r uses a throwaway registry.
// The size gauges are read from sizes at scrape time, so every write path
// is reflected; a nil sizes or a failing one reports zero.
func New(r prometheus.Registerer, sizes SizeFunc) *Metrics {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	if sizes == nil {
		sizes = func() (int, int, error) { return 0, 0, nil }
	}
	f := promauto.With(r)

	return &Metrics{
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes produced by device reads.",
		}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_writes_total",
			Help:      "Pattern replacements by result.",
		}, []string{"result"}),
		patternSize: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pattern_size_bytes",
			Help:      "Length of the current pattern.",
		}, func() float64 {
			ps, _, err := sizes()
			if err != nil {
				return 0
			}
			return float64(ps)
		}),
		bufferSize: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_size_bytes",
			Help:      "Length of the current expansion buffer.",
		}, func() float64 {
			_, bs, err := sizes()
			if err != nil {
				return 0
			}
			return float64(bs)
		}),
		streamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Open websocket streams.",
		}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"code", "method"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "The HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}
}

func (m *Metrics) Read(n int) {
	m.bytesRead.Add(float64(n))
}

// Write records a pattern write; result is "ok" or an error class.
func (m *Metrics) Write(result string) {
	m.writes.WithLabelValues(result).Inc()
}

func (m *Metrics) StreamOpened() { m.streamClients.Inc() }
func (m *Metrics) StreamClosed() { m.streamClients.Dec() }

// Wrap instruments h with request count and latency partitioned by status
// code and method.
func (m *Metrics) Wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		h.ServeHTTP(d, r)
		elapsed := time.Since(start).Seconds()

		code := strconv.Itoa(d.status)
		m.requestsTotal.WithLabelValues(code, r.Method).Inc()
		m.requestDuration.WithLabelValues(code, r.Method).Observe(elapsed)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
