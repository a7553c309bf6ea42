package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/adapter"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// Service is a background component started with the server and stopped
// after every adapter has shut down.
type Service interface {
	Start()
	Stop(ctx context.Context) error
}

// Server manages the lifecycle of the listeners and background services
// built around one virtual folder layer.
//
// Lifecycle:
//  1. Creation: New() with the filesystem and backing store credentials
//  2. Registration: AddAdapter(), AddService(), OnShutdown()
//  3. Startup: Serve() warms up the backing store session, starts services
//     and runs all adapters concurrently
//  4. Shutdown: context cancellation or an adapter failure stops adapters in
//     reverse order, then services, then closes registered resources and
//     the filesystem
//
// Thread safety:
// Registration methods are safe for concurrent use before Serve(). Serve()
// may only be called once.
type Server struct {
	fs    *vfs.FS
	creds backend.Credentials

	mu       sync.Mutex
	adapters []adapter.Adapter
	services []Service
	closers  []io.Closer
	served   bool

	// StopTimeout bounds each shutdown phase (default: 30s)
	StopTimeout time.Duration
}

// New creates a server around fs. Panics if fs is nil.
func New(fs *vfs.FS, creds backend.Credentials) *Server {
	if fs == nil {
		panic("filesystem cannot be nil")
	}
	return &Server{
		fs:          fs,
		creds:       creds,
		adapters:    make([]adapter.Adapter, 0, 2),
		StopTimeout: 30 * time.Second,
	}
}

// AddAdapter registers a listener. Protocols must be unique, as must
// non-zero ports.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	protocol, port := a.Protocol(), a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// AddService registers a background service.
func (s *Server) AddService(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, svc)
}

// OnShutdown registers a resource closed after adapters and services have
// stopped. Resources are closed in reverse registration order.
func (s *Server) OnShutdown(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve runs until ctx is cancelled or an adapter fails.
//
// The backing store session is opened in the background right away. A
// failure is only logged: requests retry the open until it succeeds.
//
// Returns ctx.Err() after a cancellation-triggered shutdown, or the error of
// the adapter that failed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	services := append([]Service(nil), s.services...)
	closers := append([]io.Closer(nil), s.closers...)
	s.mu.Unlock()

	go s.warmUp(ctx)

	for _, svc := range services {
		svc.Start()
	}

	logger.Info("Starting server with %d adapter(s)", len(adapters))

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", a.Protocol())
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped gracefully", a.Protocol())
			default:
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				errChan <- adapterError{protocol: a.Protocol(), err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown", adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAdapters(adapters)
	wg.Wait()

	s.stopServices(services)
	s.closeAll(closers)

	logger.Info("Server stopped")
	return shutdownErr
}

func (s *Server) warmUp(ctx context.Context) {
	start := time.Now()
	if err := s.fs.Initialize(ctx, s.creds); err != nil {
		if ctx.Err() == nil {
			logger.Warn("Backing store not reachable yet, will retry on demand: %v", err)
		}
		return
	}
	logger.Info("Backing store ready in %s", time.Since(start))
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

// stopAdapters stops adapters in reverse registration order.
func (s *Server) stopAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.StopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

func (s *Server) stopServices(services []Service) {
	ctx, cancel := context.WithTimeout(context.Background(), s.StopTimeout)
	defer cancel()

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			logger.Error("Error stopping service: %v", err)
		}
	}
}

func (s *Server) closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("Error during shutdown: %v", err)
		}
	}
	if err := s.fs.Close(); err != nil {
		logger.Warn("Error closing backing store: %v", err)
	}
}
