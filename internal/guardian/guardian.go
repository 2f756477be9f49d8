// ABOUTME: Guardian process wiring: store, coordinator, watcher and every transport
// ABOUTME: Owns startup, the background loops and graceful shutdown

package guardian

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/2389/coven-guardian/internal/bridge"
	"github.com/2389/coven-guardian/internal/config"
	"github.com/2389/coven-guardian/internal/coordinator"
	"github.com/2389/coven-guardian/internal/mcp"
	"github.com/2389/coven-guardian/internal/outputs"
	"github.com/2389/coven-guardian/internal/rpc"
	"github.com/2389/coven-guardian/internal/store"
	"github.com/2389/coven-guardian/internal/watch"
)

// ErrLocked means another guardian process holds the database.
var ErrLocked = errors.New("database is locked by another guardian process")

// Guardian is one running coordination server.
type Guardian struct {
	config  *config.Config
	store   store.Store
	lock    *flock.Flock
	coord   *coordinator.Coordinator
	watcher *watch.Service // nil when watching is disabled
	bridge  *bridge.Bridge
	mcp     *mcp.Server

	grpcServer *grpc.Server
	httpServer *http.Server

	logger *slog.Logger
}

// New opens the store and builds every component. version is advertised
// to MCP clients.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Guardian, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lock, err := acquireLock(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	return build(cfg, s, lock, version, logger), nil
}

// build wires components around an already opened store. lock may be nil.
func build(cfg *config.Config, s store.Store, lock *flock.Flock, version string, logger *slog.Logger) *Guardian {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guardian{
		config: cfg,
		store:  s,
		lock:   lock,
		logger: logger.With("component", "guardian"),
	}

	var watcher coordinator.Watcher
	if cfg.Watch.IsEnabled() {
		g.watcher = watch.New(watch.Options{
			StabilityThreshold: cfg.Watch.StabilityThreshold,
			PollInterval:       cfg.Watch.PollInterval,
			DedupeTTL:          cfg.Watch.DedupeTTL,
			CreateDirs:         cfg.Watch.CreateDirs,
		}, logger)
		watcher = g.watcher
	}

	g.coord = coordinator.NewFromStore(s, watcher,
		coordinator.Options{
			WatchSubdir:        cfg.Watch.Subdir,
			DefaultWaitTimeout: cfg.Outputs.DefaultWaitTimeout,
		},
		outputs.Options{FallbackPollInterval: cfg.Outputs.FallbackPollInterval},
		logger,
	)
	if g.watcher != nil {
		g.bridge = bridge.New(g.coord, logger)
	}

	g.mcp = mcp.New(g.coord, version, logger)
	g.grpcServer = rpc.NewServer(g.coord, logger).NewGRPCServer()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/agents", g.handleListAgents)
	mux.HandleFunc("/api/outputs", g.handleListOutputs)
	mux.Handle("/mcp", g.mcp.HTTPHandler())

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// acquireLock takes an exclusive lock next to the database file.
func acquireLock(dbPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", lock.Path(), ErrLocked)
	}
	return lock, nil
}

// Coordinator returns the coordinator all transports share.
func (g *Guardian) Coordinator() *coordinator.Coordinator {
	return g.coord
}

// Handler returns the HTTP handler serving health, API and MCP routes.
func (g *Guardian) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Guardian) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting guardian",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Guardian) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Guardian) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Guardian) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// startBackground runs the watch bridge and the retention sweeper until
// the returned stop function is called.
func (g *Guardian) startBackground(ctx context.Context) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(ctx)

	if g.bridge != nil {
		eg.Go(func() error {
			return g.bridge.Run(egCtx, g.watcher.Events())
		})
	}
	eg.Go(func() error {
		return g.runSweeper(egCtx)
	})

	return func() error {
		cancel()
		return eg.Wait()
	}
}

// Run serves gRPC and HTTP and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Guardian) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupTCPListeners()
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	stopBackground := g.startBackground(ctx)
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	bgErr := stopBackground()
	shutdownErr := g.gracefulShutdown()

	return errors.Join(serverErr, bgErr, shutdownErr)
}

// RunStdio serves MCP over in and out for a single agent process and
// blocks until ctx is canceled or in reaches EOF.
func (g *Guardian) RunStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stopBackground := g.startBackground(ctx)

	serveErr := g.mcp.ServeStdio(ctx, in, out)
	if errors.Is(serveErr, context.Canceled) || errors.Is(serveErr, io.EOF) {
		serveErr = nil
	}

	bgErr := stopBackground()
	shutdownErr := g.gracefulShutdown()

	return errors.Join(serveErr, bgErr, shutdownErr)
}

func (g *Guardian) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Guardian) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops all servers and releases the store and lock.
func (g *Guardian) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down guardian")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.watcher != nil {
		errs = appendCloseError(errs, "watcher close", g.watcher.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	if g.lock != nil {
		errs = appendCloseError(errs, "lock release", g.lock.Unlock())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
