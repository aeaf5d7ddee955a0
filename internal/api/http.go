package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

import (
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/circular"
	"github.com/nanjiek/pixiu-yes/internal/config"
	"github.com/nanjiek/pixiu-yes/internal/device"
	"github.com/nanjiek/pixiu-yes/internal/metrics"
	"github.com/nanjiek/pixiu-yes/internal/throttle"
)

const headerRequestID = "X-Request-Id"

type ctxKey struct{}

// Announcer publishes the current pattern to other replicas.
type Announcer interface {
	Announce(ctx context.Context) error
}

// Server exposes a Device over HTTP. It doubles as the device Registrar:
// registering binds the listener.
type Server struct {
	cfg             config.ServerCfg
	dev             *device.Device
	maxPatternBytes int64
	limiter         throttle.Limiter
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	announcer       Announcer
	log             *slog.Logger

	ln  net.Listener
	srv *http.Server
}

var _ device.Registrar = (*Server)(nil)

type Option func(*Server)

func WithLimiter(l throttle.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithMetrics records traffic on m and serves g on the configured metrics path.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

func WithAnnouncer(a Announcer) Option {
	return func(s *Server) { s.announcer = a }
}

func WithMaxPatternBytes(n int) Option {
	return func(s *Server) { s.maxPatternBytes = int64(n) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(cfg config.ServerCfg, dev *device.Device, opts ...Option) *Server {
	s := &Server{
		cfg:             cfg,
		dev:             dev,
		maxPatternBytes: 1 << 20,
		limiter:         throttle.Nop{},
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil, dev.Sizes)
	}
	if s.cfg.StreamChunkBytes <= 0 {
		s.cfg.StreamChunkBytes = 32 << 10
	}
	if s.cfg.MaxReadBytes <= 0 {
		s.cfg.MaxReadBytes = 64 << 20
	}
	return s
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/yes", s.readHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/pattern", s.getPatternHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/pattern", s.writeHandler).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/v1/stream", s.streamHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	if s.gatherer != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)
	s.RegisterRoutes(r)
	return s.metrics.Wrap(r)
}

// Register binds the listener. It is called by Device.Init once the default
// pattern is in place.
func (s *Server) Register(*device.Device) error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("yes device registered", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, or nil before Register.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs until ctx is done and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("api: serve before register")
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: msOrDefault(s.cfg.ReadHeaderTimeoutMs, 5000),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), msOrDefault(s.cfg.ShutdownTimeoutMs, 5000))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

// ---------------- Handlers ----------------

func (s *Server) readHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := parseUint(q.Get("offset"), 0)
	if err != nil {
		s.errResp(w, r, http.StatusBadRequest, "invalid offset: "+err.Error())
		return
	}
	if q.Get("count") == "" {
		s.errResp(w, r, http.StatusBadRequest, "count is required")
		return
	}
	count, err := strconv.ParseInt(q.Get("count"), 10, 64)
	if err != nil || count < 0 {
		s.errResp(w, r, http.StatusBadRequest, "invalid count")
		return
	}
	if count > s.cfg.MaxReadBytes {
		s.errResp(w, r, http.StatusRequestEntityTooLarge, "count exceeds "+strconv.FormatInt(s.cfg.MaxReadBytes, 10))
		return
	}

	chunk := make([]byte, min(int64(s.cfg.StreamChunkBytes), count))
	remaining := count
	pos := offset
	wroteHeader := false
	for remaining > 0 {
		n := int(min(int64(len(chunk)), remaining))
		got, err := s.dev.Read(circular.Slice(chunk[:n]), n, pos)
		if err != nil {
			if !wroteHeader {
				s.errResp(w, r, statusFor(err), err.Error())
				return
			}
			s.log.Warn("read aborted", "request_id", requestID(r), "error", err)
			return
		}
		if !wroteHeader {
			s.writeReadHeaders(w, offset, count)
			wroteHeader = true
		}
		if _, err := w.Write(chunk[:got]); err != nil {
			s.log.Debug("client went away", "request_id", requestID(r), "error", err)
			return
		}
		s.metrics.Read(got)
		remaining -= int64(got)
		pos += uint64(got)
	}
	if !wroteHeader {
		s.writeReadHeaders(w, offset, 0)
	}
}

func (s *Server) writeReadHeaders(w http.ResponseWriter, offset uint64, count int64) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(count, 10))
	w.Header().Set("X-Stream-Offset-Next", strconv.FormatUint(offset+uint64(count), 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeHandler(w http.ResponseWriter, r *http.Request) {
	exit, ok := s.limiter.Enter(throttle.ResourcePatternWrite)
	if !ok {
		s.metrics.Write("throttled")
		w.Header().Set("Retry-After", "1")
		s.errResp(w, r, http.StatusTooManyRequests, "pattern writes throttled")
		return
	}
	defer exit()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPatternBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.Write("too_large")
			s.errResp(w, r, http.StatusRequestEntityTooLarge, "pattern exceeds "+strconv.FormatInt(s.maxPatternBytes, 10)+" bytes")
			return
		}
		s.metrics.Write("transfer_fault")
		s.errResp(w, r, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	n, err := s.dev.Write(body)
	if err != nil {
		s.metrics.Write(resultFor(err))
		s.errResp(w, r, statusFor(err), "failed to write pattern: "+err.Error())
		return
	}

	ps, bs, err := s.dev.Sizes()
	if err != nil {
		s.errResp(w, r, statusFor(err), err.Error())
		return
	}
	if n > 0 {
		s.metrics.Write("ok")
		s.log.Info("pattern replaced", "request_id", requestID(r), "client", clientAddr(r), "size", n, "buffer", bs)
		if s.announcer != nil {
			if err := s.announcer.Announce(r.Context()); err != nil {
				s.log.Warn("failed to announce pattern", "request_id", requestID(r), "error", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(WriteResponse{Consumed: n, PatternSize: ps, BufferSize: bs})
}

func (s *Server) getPatternHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.dev.Pattern()
	if err != nil {
		s.errResp(w, r, statusFor(err), err.Error())
		return
	}
	_, bs, err := s.dev.Sizes()
	if err != nil {
		s.errResp(w, r, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PatternResponse{Pattern: string(p), PatternSize: len(p), BufferSize: bs})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.dev.Sizes(); err != nil {
		s.errResp(w, r, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

// ---------------- Middleware ----------------

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request served",
			"request_id", id,
			"client", clientAddr(r),
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// ---------------- Helpers ----------------

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrInvalidInput), errors.Is(err, device.ErrInvalidSeek):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrOutOfMemory):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, device.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, device.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, device.ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, device.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

func (s *Server) errResp(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg, RequestID: requestID(r)})
}

func parseUint(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func msOrDefault(ms int, defMs int) time.Duration {
	if ms <= 0 {
		ms = defMs
	}
	return time.Duration(ms) * time.Millisecond
}
