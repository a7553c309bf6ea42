// Package web serves an http.Handler as a server adapter.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/staffdrive/staffdrive/internal/logger"
)

// Config configures the HTTP listener.
type Config struct {
	// Addr is the listen address, e.g. ":8080" or "127.0.0.1:0".
	Addr string

	// ShutdownTimeout bounds graceful shutdown when Serve's context is
	// cancelled (default: 30s)
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout protects against slow clients (default: 10s)
	ReadHeaderTimeout time.Duration

	// IdleTimeout closes idle keep-alive connections (default: 120s)
	IdleTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
}

// Adapter runs an http.Server over a handler.
//
// No read or write timeout is set on the server: uploads and downloads may
// legitimately stream for a long time.
//
// Thread safety:
// Safe for concurrent use. Stop may be called concurrently with Serve.
type Adapter struct {
	config Config
	server *http.Server
	port   atomic.Int32

	ready        chan struct{}
	readyOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns an adapter serving h.
func New(config Config, h http.Handler) *Adapter {
	config.applyDefaults()

	a := &Adapter{
		config: config,
		server: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		ready: make(chan struct{}),
	}
	if _, p, err := net.SplitHostPort(config.Addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			a.port.Store(int32(n))
		}
	}
	return a
}

// Serve listens on the configured address until ctx is cancelled.
func (a *Adapter) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		a.readyOnce.Do(func() { close(a.ready) })
		return fmt.Errorf("failed to listen on %s: %w", a.config.Addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		a.port.Store(int32(tcp.Port))
	}
	a.readyOnce.Do(func() { close(a.ready) })

	logger.Info("HTTP listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

// Ready is closed once Serve has bound its listener or failed to.
func (a *Adapter) Ready() <-chan struct{} {
	return a.ready
}

// Stop stops accepting connections and waits for in-flight requests until
// ctx expires, after which remaining connections are closed.
func (a *Adapter) Stop(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		logger.Info("HTTP graceful shutdown started")
		if err := a.server.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown incomplete, closing connections: %v", err)
			_ = a.server.Close()
			a.shutdownErr = err
		}
	})
	return a.shutdownErr
}

func (a *Adapter) Protocol() string {
	return "HTTP"
}

func (a *Adapter) Port() int {
	return int(a.port.Load())
}
