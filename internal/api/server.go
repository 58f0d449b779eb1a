// Package api serves the simulator's HTTP surface: command submission,
// state, sun and sweep queries, the reply streams, probes and metrics.
package api

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/radarsim/internal/auth"
	"github.com/star/radarsim/internal/cache"
	"github.com/star/radarsim/internal/health"
	"github.com/star/radarsim/internal/httputil"
	"github.com/star/radarsim/internal/metrics"
	"github.com/star/radarsim/internal/passes"
	"github.com/star/radarsim/internal/sim"
	"github.com/star/radarsim/internal/stream"
	"github.com/star/radarsim/internal/sun"
)

// Simulator is the part of the simulator the API drives.
type Simulator interface {
	Submit(cmd sim.Command)
	Snapshot() sim.Snapshot
}

// SunSource reports the sun's position and passes from the site.
type SunSource interface {
	Position() sun.Position
	Now() time.Time
	Passes(ctx context.Context, start time.Time, horizon time.Duration, minElevation float64, maxPasses int) []passes.Pass
}

// SweepSource serves recently completed sweeps.
type SweepSource interface {
	List() []cache.Summary
	Latest() (*cache.Sweep, bool)
	Get(id int64) (*cache.Sweep, bool)
	Stats() cache.Stats
}

// Config holds HTTP server settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	TrustProxy        bool
}

// Deps are the components the routes are served from.
type Deps struct {
	Sim    Simulator
	Sun    SunSource
	Sweeps SweepSource
	Stream *stream.Handler
	Health *health.Probe
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, authCfg auth.Config, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", deps.Health.Healthz)
	mux.HandleFunc("GET /readyz", deps.Health.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/commands", commandsHandler(logger, deps.Sim))
	mux.HandleFunc("POST /api/v1/commands/{key}", commandHandler(logger, deps.Sim))
	mux.HandleFunc("GET /api/v1/state", stateHandler(deps.Sim))
	mux.HandleFunc("GET /api/v1/sun", sunHandler(deps.Sun, deps.Sim))
	mux.HandleFunc("GET /api/v1/sun/passes", sunPassesHandler(deps.Sun))
	mux.HandleFunc("GET /api/v1/sweeps", sweepsHandler(deps.Sweeps))
	mux.HandleFunc("GET /api/v1/sweeps/latest", latestSweepHandler(deps.Sweeps))
	mux.HandleFunc("GET /api/v1/sweeps/{id}", sweepHandler(deps.Sweeps))
	mux.HandleFunc("GET /api/v1/stream/messages", deps.Stream.HandleMessages)
	mux.HandleFunc("GET /ws", deps.Stream.HandleWebSocket)

	// metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// probePath reports paths polled often enough to keep out of INFO logs.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Flush() {
	http.NewResponseController(sr.ResponseWriter).Flush()
}

// Hijack hands the connection to the websocket upgrader.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(sr.ResponseWriter).Hijack()
	if err == nil {
		sr.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
