// ABOUTME: Gateway orchestrator that wires the agent endpoint, the shell, and the web UI
// ABOUTME: Manages the HTTP server, journal, metrics, and health endpoints lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/2389/coagent-demo/internal/config"
	"github.com/2389/coagent-demo/internal/conversation"
	"github.com/2389/coagent-demo/internal/dedupe"
	"github.com/2389/coagent-demo/internal/metrics"
	"github.com/2389/coagent-demo/internal/runtime"
	"github.com/2389/coagent-demo/internal/shell"
	"github.com/2389/coagent-demo/internal/store"
	"github.com/2389/coagent-demo/internal/webui"
)

const (
	shutdownTimeout = 10 * time.Second
	readyTimeout    = 3 * time.Second

	// resolvedTTL bounds how long interrupt decisions are remembered.
	resolvedTTL     = time.Hour
	resolvedMaxSize = 10_000
)

// Gateway orchestrates the coagent-demo server components.
type Gateway struct {
	config     *config.Config
	runtime    *runtime.Runtime
	shell      *shell.Shell
	webUI      *webui.UI
	journal    store.Journal
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger

	// dedupe remembers resolved interrupts
	dedupe *dedupe.Cache

	// eventBroadcaster pushes rendered fragments to browser pages
	eventBroadcaster *conversation.EventBroadcaster

	mu   sync.Mutex
	addr net.Addr
}

// initJournal opens the SQLite journal when a database path is configured
// and falls back to an in-memory journal otherwise.
func initJournal(cfg *config.Config) (store.Journal, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COAGENT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return store.NewMemoryJournal(store.DefaultMemoryRetention), nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing journal: %w", err)
	}
	return s, nil
}

// endpointURL builds the absolute URL of the agent endpoint on addr.
func endpointURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + path
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	rt, err := runtime.New(runtime.Options{
		RemoteEndpoints: []runtime.RemoteEndpoint{{URL: cfg.RemoteURL()}},
		RequestTimeout:  cfg.Runtime.RequestTimeout,
		Logger:          logger.With("component", "runtime"),
		Metrics:         m,
	})
	if err != nil {
		return nil, fmt.Errorf("creating runtime: %w", err)
	}
	adapter, ok := runtime.NewAdapter(cfg.Runtime.ServiceAdapter)
	if !ok {
		return nil, fmt.Errorf("unknown service adapter %q", cfg.Runtime.ServiceAdapter)
	}

	journal, err := initJournal(cfg)
	if err != nil {
		return nil, err
	}

	dedupeCache := dedupe.New(resolvedTTL, resolvedMaxSize)
	eventBroadcaster := conversation.NewEventBroadcaster(logger, m)

	sh := shell.New(shell.Options{
		Config:      cfg.Shell,
		EndpointURL: endpointURL(cfg.Server.HTTPAddr, cfg.Runtime.Endpoint),
		Publisher:   eventBroadcaster,
		Journal:     journal,
		Resolved:    dedupeCache,
		Logger:      logger,
		Metrics:     m,
	})
	if err := shell.RegisterDemo(sh); err != nil {
		dedupeCache.Close()
		_ = journal.Close()
		return nil, fmt.Errorf("registering demo actions: %w", err)
	}

	gw := &Gateway{
		config:           cfg,
		runtime:          rt,
		shell:            sh,
		journal:          journal,
		metrics:          m,
		logger:           logger.With("component", "gateway"),
		dedupe:           dedupeCache,
		eventBroadcaster: eventBroadcaster,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// Agent endpoint; sub-paths are relayed as well
	base := strings.TrimSuffix(cfg.Runtime.Endpoint, "/")
	endpoint := rt.Endpoint(base, adapter)
	mux.Handle(base, endpoint)
	mux.Handle(base+"/", endpoint)
	logger.Info("agent endpoint mounted",
		"path", cfg.Runtime.Endpoint,
		"remote", rt.RemoteURL(),
		"adapter", adapter.Name())

	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.webUI = webui.New(webui.Options{
		Shell:  sh,
		Events: eventBroadcaster,
		Logger: logger,
	})
	gw.webUI.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Shell returns the presentation shell.
func (g *Gateway) Shell() *shell.Shell {
	return g.shell
}

// Addr returns the address the HTTP server listens on, or nil before Run.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.mu.Lock()
	g.addr = ln.Addr()
	g.mu.Unlock()

	// The shell posts runs to this server; follow the resolved port.
	g.shell.SetEndpointURL(endpointURL(ln.Addr().String(), g.config.Runtime.Endpoint))

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources. Event
// streams and in-flight runs are ended first so the HTTP server can drain.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.webUI.Close()
	g.eventBroadcaster.Close()
	g.shell.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "journal close", g.journal.Close())

	g.dedupe.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the remote agent answers HTTP.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := g.runtime.Ping(ctx); err != nil {
		g.logger.Debug("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("remote agent unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", g.runtime.RemoteURL())
}
