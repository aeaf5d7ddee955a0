package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, nil)

	m.Read(10)
	m.Read(5)
	m.Write("ok")
	m.Write("ok")
	m.Write("invalid_input")

	if got := testutil.ToFloat64(m.bytesRead); got != 15 {
		t.Fatalf("bytes_read_total = %v", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("ok")); got != 2 {
		t.Fatalf("pattern_writes_total{ok} = %v", got)
	}
}

func TestWrapRecordsStatus(t *testing.T) {
	m := New(nil, nil)
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("418", "GET")); got != 1 {
		t.Fatalf("http_requests_total{418,GET} = %v", got)
	}
}

func TestStreamGauge(t *testing.T) {
	m := New(nil, nil)
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()
	if got := testutil.ToFloat64(m.streamClients); got != 1 {
		t.Fatalf("stream_clients = %v", got)
	}
}

func TestSizeGaugesFollowSource(t *testing.T) {
	ps, bs := 2, 4096
	var fail error
	m := New(nil, func() (int, int, error) { return ps, bs, fail })

	if got := testutil.ToFloat64(m.patternSize); got != 2 {
		t.Fatalf("pattern_size_bytes = %v", got)
	}
	ps, bs = 3, 4095
	if got := testutil.ToFloat64(m.bufferSize); got != 4095 {
		t.Fatalf("buffer_size_bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.patternSize); got != 3 {
		t.Fatalf("pattern_size_bytes = %v", got)
	}

	fail = errors.New("closed")
	if got := testutil.ToFloat64(m.bufferSize); got != 0 {
		t.Fatalf("buffer_size_bytes after failure = %v", got)
	}
}
