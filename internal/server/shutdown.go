// Package server manages the lifecycle of the long-running forwarder:
// signal handling, in-flight tracking and ordered cleanup.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"
)

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown (default 30s)
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight deliveries (default 15s)
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// ShutdownManager coordinates graceful shutdown. Closers run in reverse
// registration order once in-flight deliveries have drained.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          *slog.Logger

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	shutdownErr    error
	inFlight       atomic.Int64
	isShuttingDown atomic.Bool

	mu      sync.Mutex
	closers []io.Closer
	onStart []func()
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig, logger *slog.Logger) *ShutdownManager {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		logger:          logger,
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a closer to be called during shutdown.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// OnShutdownStart registers a callback run when shutdown begins, before draining.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStart = append(sm.onStart, fn)
}

// ListenForSignals blocks until SIGTERM, SIGINT, ctx cancellation or an
// explicit Shutdown, then shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.shutdownCh:
		return sm.shutdownErr
	}
}

// Shutdown drains in-flight deliveries and closes every registered closer.
// Only the first call does any work.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.shutdownOnce.Do(func() {
		sm.logger.Info("shutting down", "reason", reason, "in_flight", sm.inFlight.Load())
		sm.isShuttingDown.Store(true)

		sm.mu.Lock()
		onStart := append([]func(){}, sm.onStart...)
		closers := append([]io.Closer{}, sm.closers...)
		sm.mu.Unlock()

		for _, fn := range onStart {
			fn()
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		var errs []error
		if err := sm.drainInFlight(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain failed: %w", err))
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				errs = append(errs, fmt.Errorf("close failed: %w", err))
			}
		}
		sm.shutdownErr = errors.Join(errs...)
		close(sm.shutdownCh)
		sm.logger.Info("shutdown complete")
	})
	return sm.shutdownErr
}

func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if sm.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if remaining := sm.inFlight.Load(); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight deliveries", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a delivery in. It returns false once shutdown started.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.isShuttingDown.Load() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

// UntrackRequest counts a delivery out.
func (sm *ShutdownManager) UntrackRequest() {
	sm.inFlight.Add(-1)
}

// IsShuttingDown reports whether shutdown has been initiated.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.isShuttingDown.Load()
}

// InFlightCount returns the number of deliveries in progress.
func (sm *ShutdownManager) InFlightCount() int64 {
	return sm.inFlight.Load()
}

// Done is closed when shutdown has completed.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.shutdownCh
}

// ShutdownMiddleware tracks in-flight requests and answers 503 during
// shutdown, which SNS treats as retryable.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// ServeHTTP serves srv on lis until shutdown and registers its graceful
// close. A serve error triggers shutdown.
func (sm *ShutdownManager) ServeHTTP(srv *http.Server, lis net.Listener) {
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sm.logger.Error("http server failed", "addr", lis.Addr().String(), "error", err)
			go sm.Shutdown(context.Background(), "http server failed")
		}
	}()
}

// ServeGRPC serves srv on lis until shutdown. srv is stopped by the closer
// the caller registers for it.
func (sm *ShutdownManager) ServeGRPC(srv *grpc.Server, lis net.Listener) {
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			sm.logger.Error("grpc server failed", "addr", lis.Addr().String(), "error", err)
			go sm.Shutdown(context.Background(), "grpc server failed")
		}
	}()
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
