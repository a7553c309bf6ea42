// Package adapter defines the network front ends the server runs.
package adapter

import "context"

// Adapter is a listener-backed front end managed by server.Server.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and handler
//  2. Startup: Serve() starts listening and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown bounded by its context
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve() and more than once.
type Adapter interface {
	// Serve starts the listener and blocks until ctx is cancelled or an
	// unrecoverable error occurs. On cancellation it shuts down gracefully
	// and returns nil or context.Canceled. Returning early with an error
	// makes the server stop every other adapter.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits for in-flight work until
	// ctx expires. It is idempotent.
	Stop(ctx context.Context) error

	// Protocol returns a constant human-readable name for logs.
	Protocol() string

	// Port returns the TCP port the adapter listens on. Once Serve has
	// bound its listener this is the actual port, even when 0 was
	// configured.
	Port() int
}
