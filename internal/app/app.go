// Package app wires the inferbridge subsystems into a running HTTP server.
//
// [Startup] performs the configuration and remote-model checks and records
// them in the readiness tracker. [New] assembles the HTTP surface (health
// probes, Prometheus metrics, and the MCP SSE endpoint) around the result,
// and [App.Run] serves it until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/inferbridge/internal/chat"
	"github.com/MrWong99/inferbridge/internal/config"
	"github.com/MrWong99/inferbridge/internal/health"
	"github.com/MrWong99/inferbridge/internal/observe"
	"github.com/MrWong99/inferbridge/internal/readiness"
	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// ShutdownTimeout bounds graceful shutdown in [App.Run].
const ShutdownTimeout = 15 * time.Second

// App owns the HTTP server and its handlers.
type App struct {
	cfg     *config.Config
	tracker *readiness.Tracker
	chat    *chat.Handler
	mcp     *mcpsdk.Server

	metrics        *observe.Metrics
	metricsHandler http.Handler
	version        string

	handler http.Handler
	server  *http.Server

	// closing is closed when shutdown begins so open SSE streams end.
	closing   chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler. Defaults to promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the version advertised to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App. provider may be nil when startup left the process
// degraded; chat calls then answer with the tracker's diagnostic.
func New(cfg *config.Config, tracker *readiness.Tracker, provider llm.Provider, opts ...Option) *App {
	a := &App{
		cfg:     cfg,
		tracker: tracker,
		closing: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	a.chat = chat.NewHandler(provider, tracker,
		chat.WithMaxNewTokens(cfg.Provider.MaxNewTokens),
		chat.WithMetrics(a.metrics),
	)
	a.mcp = chat.NewServer(a.chat, a.version)
	a.handler = a.routes()
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.server.RegisterOnShutdown(a.closeStreams)
	return a
}

// Handler returns the complete HTTP handler, wrapped in the observability
// middleware.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	health.New(a.tracker).Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)

	sse := mcpsdk.NewSSEHandler(func(r *http.Request) *mcpsdk.Server {
		a.metrics.Sessions.Add(r.Context(), 1)
		observe.Logger(r.Context()).Info("mcp session opened", "remote", r.RemoteAddr)
		return a.mcp
	}, nil)
	mux.Handle("/", a.streamGuard(sse))

	return observe.Middleware(a.metrics)(mux)
}

// streamGuard ends long-lived GET streams when shutdown begins. POSTed
// messages are left to finish on their own.
func (a *App) streamGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			select {
			case <-a.closing:
				cancel()
			case <-ctx.Done():
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) closeStreams() {
	a.closeOnce.Do(func() { close(a.closing) })
}

// Run serves on ln until ctx is cancelled or the server fails, then shuts
// down gracefully within [ShutdownTimeout]. A cancelled ctx is a normal stop
// and yields nil.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections, ends open SSE streams, and waits for
// in-flight requests until ctx expires. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.closeStreams()
		if e := a.server.Shutdown(ctx); e != nil {
			err = fmt.Errorf("app: shutdown: %w", e)
			return
		}
		slog.Info("shutdown complete")
	})
	return err
}
