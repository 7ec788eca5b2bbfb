package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/health"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/tracing"
)

// RouterOptions are the components served by NewRouter
type RouterOptions struct {
	Service *server.Service
	Streams *streaming.Manager
	Health  *health.Manager
	JWT     *auth.JWTManager // nil disables authentication
	Logger  *zap.Logger
}

// NewRouter builds the service mux. Health and metrics stay unauthenticated.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	api := http.NewServeMux()
	NewResearchHandler(opts.Service, logger).RegisterRoutes(api)
	if opts.Streams != nil {
		NewStreamingHandler(opts.Streams, opts.Service, logger).RegisterRoutes(api)
	}

	root := http.NewServeMux()
	protected := auth.Middleware(opts.JWT, api)
	root.Handle("/v1/", protected)
	root.Handle("/stream/", protected)
	root.Handle("GET /metrics", promhttp.Handler())
	if opts.Health != nil {
		opts.Health.RegisterRoutes(root)
	}
	return withLogging(logger, root)
}

func withLogging(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartServerSpan(r)
		defer span.End()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
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

// Flush keeps SSE working through the recorder
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the connection
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
