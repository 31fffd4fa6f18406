// Package serve exposes a finished review over HTTP: the report files and
// screenshots as static content, live pipeline progress over a websocket,
// Prometheus metrics, and health probes.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VetCoders/ScreenScribe-sub000/internal/health"
	"github.com/VetCoders/ScreenScribe-sub000/internal/observe"
)

// DefaultPort is the report server's default listen port.
const DefaultPort = 8090

// shutdownTimeout bounds the graceful drain on shutdown.
const shutdownTimeout = 5 * time.Second

// Server serves a review output directory.
type Server struct {
	dir     string
	addr    string
	hub     *Hub
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithAddr sets the listen address. Default: ":8090".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithHub sets the progress hub whose events are streamed on /ws. When nil,
// the /ws endpoint still accepts connections but never sends events.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics sets the metrics instance used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a [Server] for the given output directory.
func New(dir string, opts ...Option) *Server {
	s := &Server{
		dir:  dir,
		addr: fmt.Sprintf(":%d", DefaultPort),
		hub:  NewHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Hub returns the progress hub so the pipeline can publish events into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the full route table:
//
//	GET /            redirects to /report.html
//	GET /...         static files from the output directory
//	GET /ws          progress event stream (websocket)
//	GET /metrics     Prometheus scrape endpoint
//	GET /healthz     liveness
//	GET /readyz      readiness (report file present)
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/report.html", http.StatusFound)
	})
	mux.Handle("GET /", http.FileServer(http.Dir(s.dir)))
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(health.Checker{
		Name: "report",
		Check: func(_ context.Context) error {
			_, err := os.Stat(filepath.Join(s.dir, "report.json"))
			return err
		},
	}).Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// handleWS upgrades the connection and streams progress events until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	s.hub.serveWS(r.Context(), conn)
}

// Start runs the server until ctx is cancelled, then drains connections
// gracefully. It returns nil on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	slog.Info("report server listening", "addr", ln.Addr().String(), "dir", s.dir)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("serve: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}
