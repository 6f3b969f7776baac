package http

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/marmos91/dittohttp/internal/httpconn"
	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/internal/ratelimiter"
	"github.com/marmos91/dittohttp/internal/reactor"
	"github.com/marmos91/dittohttp/pkg/metrics"
)

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("http adapter: Serve already called")

// HTTPAdapter implements the adapter.Adapter interface for the static-file
// HTTP/1.1 server.
//
// Architecture:
// HTTPAdapter owns one reactor. The reactor runs a single edge-triggered
// epoll loop on a locked OS thread, accepts connections into a fixed-size
// connection table and hands parsed-but-unanswered connections to a bounded
// worker pool. Workers build the response and return the connection to the
// reactor, which writes it with writev straight out of a memory-mapped file.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Reactor leaves its event loop
//  3. Worker pool closed: queued connections dropped, busy workers joined
//     for at most ShutdownTimeout
//  4. Every remaining connection closed, then the listener and epoll fds
//
// Thread safety:
// All methods are safe for concurrent use. Serve must be called at most once.
type HTTPAdapter struct {
	// config holds the server configuration (address, sizes, limits)
	config HTTPConfig

	// metrics receives connection and request metrics; never nil
	metrics metrics.HTTPMetrics

	// limiter throttles accepted connections per second; nil when unlimited
	limiter *ratelimiter.AcceptLimiter

	// cgi answers POST actions on the placeholder documents; nil by default
	cgi httpconn.CGIHandler

	// mu guards the lifecycle fields below
	mu      sync.Mutex
	reactor *reactor.Reactor
	started bool
	stopped bool

	// done is closed when Serve returns
	done chan struct{}
}

// HTTPConfig holds configuration parameters for the HTTP server.
//
// Default values (applied by New if zero):
//   - DocumentRoot: /var/www/html
//   - DefaultDocument: judge.html (served for "/")
//   - RegisterDocument: register.html, LoginDocument: log.html
//   - Workers: 8
//   - MaxQueue: 10000
//   - MaxConnections: 10000
//   - ReadBufferSize: 2048, WriteBufferSize: 1024
//   - MaxEvents: 10000
//   - Backlog: 128
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
//
// Port 0 binds an ephemeral port (pkg/config defaults it to 8080). AcceptRate
// 0 disables accept throttling. SanitizePaths is not defaulted here because
// false is a meaningful value; pkg/config defaults it to true.
type HTTPConfig struct {
	// Enabled controls whether the HTTP adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Address is the IPv4 address to bind. Empty binds every interface.
	Address string `mapstructure:"address" validate:"omitempty,ipv4"`

	// Port is the TCP port to listen on. 0 lets the kernel pick one.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// DocumentRoot is the directory every request target is resolved under.
	DocumentRoot string `mapstructure:"document_root" validate:"required"`

	// DefaultDocument is served for a target of exactly "/".
	DefaultDocument string `mapstructure:"default_document" validate:"required"`

	// RegisterDocument is served when the last path element is "0".
	RegisterDocument string `mapstructure:"register_document" validate:"required"`

	// LoginDocument is served when the last path element is "1".
	LoginDocument string `mapstructure:"login_document" validate:"required"`

	// Workers is the number of goroutines that parse requests and assemble
	// responses.
	Workers int `mapstructure:"workers" validate:"gt=0"`

	// MaxQueue bounds the connections waiting for a worker. When full, newly
	// readable connections are closed.
	MaxQueue int `mapstructure:"max_queue" validate:"gt=0"`

	// MaxConnections is the connection table capacity. Further accepts are
	// answered with "Internal server busy" and closed.
	MaxConnections int `mapstructure:"max_connections" validate:"gt=0,lte=65536"`

	// ReadBufferSize caps the size of one request (line, headers and body).
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"min=64"`

	// WriteBufferSize caps the response status line plus headers.
	WriteBufferSize int `mapstructure:"write_buffer_size" validate:"min=256"`

	// MaxEvents is the epoll_wait batch size.
	MaxEvents int `mapstructure:"max_events" validate:"gt=0"`

	// Backlog is the listen(2) backlog.
	Backlog int `mapstructure:"backlog" validate:"gt=0"`

	// AcceptRate limits accepted connections per second. 0 means unlimited.
	AcceptRate uint `mapstructure:"accept_rate"`

	// AcceptBurst is the number of accepts allowed at once above AcceptRate.
	// 0 uses AcceptRate.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// SanitizePaths cleans request targets so ".." cannot leave DocumentRoot.
	SanitizePaths bool `mapstructure:"sanitize_paths"`

	// ShutdownTimeout bounds the wait for busy workers during shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// MetricsLogInterval is the interval at which to log server metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *HTTPConfig) applyDefaults() {
	// Enabled and SanitizePaths are handled in pkg/config so that an explicit
	// false survives.

	if c.DocumentRoot == "" {
		c.DocumentRoot = "/var/www/html"
	}
	if c.DefaultDocument == "" {
		c.DefaultDocument = "judge.html"
	}
	if c.RegisterDocument == "" {
		c.RegisterDocument = "register.html"
	}
	if c.LoginDocument == "" {
		c.LoginDocument = "log.html"
	}
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.MaxQueue == 0 {
		c.MaxQueue = 10000
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10000
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 2048
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = 1024
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 10000
	}
	if c.Backlog == 0 {
		c.Backlog = 128
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks that the configuration can start a server.
func (c *HTTPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Address != "" {
		addr, err := netip.ParseAddr(c.Address)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("invalid address %q: must be an IPv4 address", c.Address)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid Workers %d: must be > 0", c.Workers)
	}
	if c.MaxQueue <= 0 {
		return fmt.Errorf("invalid MaxQueue %d: must be > 0", c.MaxQueue)
	}
	if c.MaxConnections <= 0 || c.MaxConnections > reactor.DefaultMaxFd {
		return fmt.Errorf("invalid MaxConnections %d: must be 1-%d", c.MaxConnections, reactor.DefaultMaxFd)
	}
	// The request line alone needs room for "GET / HTTP/1.1\r\n".
	if c.ReadBufferSize < 64 {
		return fmt.Errorf("invalid ReadBufferSize %d: must be >= 64", c.ReadBufferSize)
	}
	if c.WriteBufferSize < 256 {
		return fmt.Errorf("invalid WriteBufferSize %d: must be >= 256", c.WriteBufferSize)
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("invalid MaxEvents %d: must be > 0", c.MaxEvents)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("invalid Backlog %d: must be > 0", c.Backlog)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}

// New creates a new HTTPAdapter with the specified configuration.
//
// The adapter is created in a stopped state; no socket is opened until Serve.
//
// Parameters:
//   - config: Server configuration. Zero values are replaced with defaults.
//   - httpMetrics: Optional metrics collector (nil for no metrics)
//
// Returns an error if the configuration is invalid after defaults.
func New(config HTTPConfig, httpMetrics metrics.HTTPMetrics) (*HTTPAdapter, error) {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid HTTP config: %w", err)
	}

	if httpMetrics == nil {
		httpMetrics = metrics.NewNoopHTTPMetrics()
	}

	var limiter *ratelimiter.AcceptLimiter
	if config.AcceptRate > 0 {
		limiter = ratelimiter.New(config.AcceptRate, config.AcceptBurst)
		logger.Debug("HTTP accept rate limit: %d/s (burst %d)", config.AcceptRate, config.AcceptBurst)
	} else {
		logger.Debug("HTTP accept rate limit: unlimited")
	}

	return &HTTPAdapter{
		config:  config,
		metrics: httpMetrics,
		limiter: limiter,
		done:    make(chan struct{}),
	}, nil
}

// SetCGIHandler installs the handler for POST actions on the "2" and "3"
// placeholder documents. Must be called before Serve.
func (s *HTTPAdapter) SetCGIHandler(h httpconn.CGIHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cgi = h
}

// Serve binds the listener and runs the reactor until the context is
// cancelled, Stop is called, or the event loop fails.
//
// Returns:
//   - nil on graceful shutdown (including a Stop that raced ahead of Serve)
//   - error if the listener could not be bound or epoll_wait failed
func (s *HTTPAdapter) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.started = true
	defer close(s.done)

	if s.stopped {
		s.mu.Unlock()
		logger.Debug("HTTP adapter stopped before serving")
		return nil
	}

	r, err := reactor.New(s.reactorConfig())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start HTTP server on %s:%d: %w", s.config.Address, s.config.Port, err)
	}
	s.reactor = r
	s.mu.Unlock()

	logger.Info("HTTP server serving %s on port %d", s.config.DocumentRoot, r.Port())
	logger.Debug("HTTP config: workers=%d max_queue=%d max_connections=%d read_buffer=%d write_buffer=%d sanitize_paths=%t",
		s.config.Workers, s.config.MaxQueue, s.config.MaxConnections,
		s.config.ReadBufferSize, s.config.WriteBufferSize, s.config.SanitizePaths)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(runCtx)
	}

	if err := r.Run(runCtx); err != nil {
		return fmt.Errorf("HTTP reactor failed: %w", err)
	}
	return nil
}

func (s *HTTPAdapter) reactorConfig() reactor.Config {
	opts := httpconn.Options{
		DocRoot:          s.config.DocumentRoot,
		DefaultDocument:  s.config.DefaultDocument,
		RegisterDocument: s.config.RegisterDocument,
		LoginDocument:    s.config.LoginDocument,
		SanitizePaths:    s.config.SanitizePaths,
		CGI:              s.cgi,
	}

	return reactor.Config{
		Address:         s.config.Address,
		Port:            s.config.Port,
		Backlog:         s.config.Backlog,
		MaxConnections:  s.config.MaxConnections,
		MaxEvents:       s.config.MaxEvents,
		ReadBufferSize:  s.config.ReadBufferSize,
		WriteBufferSize: s.config.WriteBufferSize,
		Workers:         s.config.Workers,
		MaxQueue:        s.config.MaxQueue,
		ShutdownTimeout: s.config.ShutdownTimeout,
		Conn:            opts,
		Limiter:         s.limiter,
		Metrics:         s.metrics,
	}
}

// Stop initiates graceful shutdown and waits for Serve to return.
//
// Stop is idempotent and may be called before Serve, in which case Serve
// returns immediately when it is eventually called.
//
// Returns:
//   - nil once Serve has returned (or was never started)
//   - ctx.Err() if the context expired first; Serve keeps shutting down
func (s *HTTPAdapter) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	r := s.reactor
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	if r != nil {
		logger.Info("HTTP graceful shutdown: %d active connection(s)", r.Active())
		r.Stop()
	}

	select {
	case <-s.done:
		logger.Info("HTTP graceful shutdown complete")
		return nil
	case <-ctx.Done():
		logger.Warn("HTTP shutdown context cancelled before the reactor exited: %v", ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs server metrics for monitoring.
func (s *HTTPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("HTTP metrics: active_connections=%d queued=%d rejected_by_rate=%d",
				s.GetActiveConnections(), s.pending(), s.limiter.Denied())
		}
	}
}

// GetActiveConnections returns the current number of open connections.
func (s *HTTPAdapter) GetActiveConnections() int32 {
	s.mu.Lock()
	r := s.reactor
	s.mu.Unlock()

	if r == nil {
		return 0
	}
	return r.Active()
}

func (s *HTTPAdapter) pending() int {
	s.mu.Lock()
	r := s.reactor
	s.mu.Unlock()

	if r == nil {
		return 0
	}
	return r.Pending()
}

// Port returns the bound port once serving, the configured port before.
func (s *HTTPAdapter) Port() int {
	s.mu.Lock()
	r := s.reactor
	s.mu.Unlock()

	if r != nil {
		return r.Port()
	}
	return s.config.Port
}

// Protocol returns "HTTP" for logging and metrics.
func (s *HTTPAdapter) Protocol() string {
	return "HTTP"
}
