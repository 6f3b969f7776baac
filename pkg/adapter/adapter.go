package adapter

import (
	"context"
)

// Adapter represents a protocol-specific server adapter that can be managed by DittoServer.
//
// Each adapter owns its listening socket and its connections, and exposes a
// uniform lifecycle so the server can run several of them side by side.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Startup: Serve() binds the listener and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve(), and before Serve() has bound its listener.
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for busy workers to finish (with timeout)
	//   - Release every connection and the listener
	//
	// If Serve returns before context cancellation, DittoServer treats it as
	// a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or the event loop hits a fatal error
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown of the protocol server.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout while waiting for Serve() to return
	//
	// Returns:
	//   - nil if shutdown completed successfully
	//   - ctx.Err() if the context expired first
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	//
	// Examples: "HTTP"
	Protocol() string

	// Port returns the TCP port the adapter is listening on.
	//
	// Returns the configured port until Serve() has bound the listener, then
	// the bound port (which differs only when port 0 was configured).
	Port() int
}
