// Package server runs every configured protocol adapter, plus the optional
// metrics endpoint, under one lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/adapter"
	"github.com/marmos91/dittohttp/pkg/metrics"
)

var (
	// ErrNoAdapters is returned by Serve when nothing was registered.
	ErrNoAdapters = errors.New("server: no adapters registered")

	// ErrAlreadyServed is returned by a second Serve and by AddAdapter after Serve.
	ErrAlreadyServed = errors.New("server: Serve already called")
)

// DittoServer coordinates the lifecycle of protocol adapters.
//
// Lifecycle:
//  1. New creates the server
//  2. AddAdapter registers adapters (and SetMetricsServer the metrics endpoint)
//  3. Serve starts everything and blocks until the context is cancelled or
//     any component fails
//  4. Every adapter is stopped, in reverse registration order, before Serve
//     returns
//
// A failure in one component cancels the others: adapters share a single
// errgroup context.
//
// Thread safety:
// AddAdapter and Serve are safe to call from multiple goroutines, but
// AddAdapter must not be called after Serve.
type DittoServer struct {
	adapters        []adapter.Adapter
	metricsServer   *metrics.Server
	shutdownTimeout time.Duration

	mu     sync.RWMutex
	served bool
}

// New creates a server. shutdownTimeout bounds how long Serve waits for each
// adapter's Stop; zero uses 30 seconds.
func New(shutdownTimeout time.Duration) *DittoServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &DittoServer{
		adapters:        make([]adapter.Adapter, 0, 2),
		shutdownTimeout: shutdownTimeout,
	}
}

// SetMetricsServer registers the metrics endpoint to run alongside the
// adapters. nil disables it.
func (s *DittoServer) SetMetricsServer(m *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsServer = m
}

// AddAdapter registers a protocol adapter.
//
// Returns an error if:
//   - Serve() has already been called
//   - An adapter for the same protocol is already registered
//   - Another adapter already claims the same non-zero port
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return ErrAlreadyServed
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 is resolved by the kernel at bind time and never conflicts.
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Serve starts all registered adapters and blocks until shutdown.
//
// Returns:
//   - nil when ctx was cancelled and every adapter stopped cleanly
//   - the first component error otherwise (the rest are stopped first)
func (s *DittoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return ErrNoAdapters
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metricsServer
	s.mu.Unlock()

	logger.Info("Starting DittoServer with %d adapter(s)", len(adapters))
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	for _, a := range adapters {
		a := a
		g.Go(func() error {
			protocol := a.Protocol()
			logger.Debug("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(gctx); err != nil {
				logger.Error("%s adapter failed: %v", protocol, err)
				return fmt.Errorf("%s adapter error: %w", protocol, err)
			}
			if gctx.Err() == nil {
				// Serve returned without being asked to.
				return fmt.Errorf("%s adapter exited unexpectedly", protocol)
			}
			logger.Info("%s adapter stopped", protocol)
			return nil
		})
	}

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
		s.stopAllAdapters(adapters)
		return nil
	})

	logger.Info("All components started in %v", time.Since(startTime))

	err := g.Wait()
	if err != nil {
		logger.Error("DittoServer stopped with error: %v", err)
		return err
	}

	logger.Info("DittoServer stopped gracefully")
	return nil
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
