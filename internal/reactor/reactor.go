// Package reactor implements the half-reactor event loop.
//
// A single goroutine, locked to its OS thread, owns the listening socket,
// the epoll instance and every raw socket read and write. Protocol work runs
// on a worker pool: the reactor drains a readable connection, submits it,
// and the worker hands it back through the completion queue once the
// response is assembled. Connections are registered one-shot and re-armed
// only by the reactor after it has finished with them, so a connection is
// never touched by two goroutines at once.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittohttp/internal/httpconn"
	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/internal/ratelimiter"
	"github.com/marmos91/dittohttp/internal/workerpool"
	"github.com/marmos91/dittohttp/pkg/metrics"
)

// DefaultMaxFd bounds the descriptors the connection table can index.
const DefaultMaxFd = 65536

var (
	// ErrInvalidConfig is returned by New for non-positive sizes.
	ErrInvalidConfig = errors.New("reactor: invalid configuration")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("reactor: already running")

	busyMessage = []byte("Internal server busy")
)

// Config holds everything the reactor needs. Zero values are not defaulted
// except MaxFd and Metrics; callers apply defaults first.
type Config struct {
	Address string
	Port    int
	Backlog int

	MaxConnections  int
	MaxFd           int
	MaxEvents       int
	ReadBufferSize  int
	WriteBufferSize int

	Workers  int
	MaxQueue int

	// ShutdownTimeout bounds the wait for busy workers when Run returns.
	ShutdownTimeout time.Duration

	Conn    httpconn.Options
	Limiter *ratelimiter.AcceptLimiter
	Metrics metrics.HTTPMetrics
}

// Reactor is the event loop plus everything it owns.
type Reactor struct {
	cfg     Config
	opts    httpconn.Options
	limiter *ratelimiter.AcceptLimiter
	metrics metrics.HTTPMetrics

	poller   *poller
	listenFd int
	port     int
	table    *Table
	pool     *workerpool.Pool
	running  atomic.Bool

	// mu guards the completion queue and the lifecycle flags.
	mu        sync.Mutex
	completed []*slot
	stopping  bool
	released  bool

	// spare is reused as the next completion queue; reactor goroutine only.
	spare []*slot
}

// New allocates the connection table, starts the worker pool and binds the
// listening socket. Run must be called to serve and to release resources.
func New(cfg Config) (*Reactor, error) {
	if cfg.MaxFd == 0 {
		cfg.MaxFd = DefaultMaxFd
	}
	if cfg.MaxConnections <= 0 || cfg.MaxFd <= 0 || cfg.MaxEvents <= 0 ||
		cfg.ReadBufferSize <= 0 || cfg.WriteBufferSize <= 0 || cfg.Backlog <= 0 {
		return nil, fmt.Errorf("%w: max_connections=%d max_fd=%d max_events=%d read_buffer=%d write_buffer=%d backlog=%d",
			ErrInvalidConfig, cfg.MaxConnections, cfg.MaxFd, cfg.MaxEvents,
			cfg.ReadBufferSize, cfg.WriteBufferSize, cfg.Backlog)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopHTTPMetrics()
	}
	if cfg.Limiter.Unlimited() {
		cfg.Limiter = nil
	}

	r := &Reactor{
		cfg:      cfg,
		opts:     cfg.Conn,
		limiter:  cfg.Limiter,
		metrics:  cfg.Metrics,
		listenFd: -1,
	}

	pool, err := workerpool.New(cfg.Workers, cfg.MaxQueue)
	if err != nil {
		return nil, err
	}
	r.pool = pool

	r.poller, err = newPoller(cfg.MaxEvents)
	if err != nil {
		_, _ = pool.Close(0)
		return nil, err
	}

	r.listenFd, r.port, err = listen(cfg.Address, cfg.Port, cfg.Backlog)
	if err == nil {
		err = r.poller.add(r.listenFd, listenerEvents)
	}
	if err != nil {
		if r.listenFd >= 0 {
			_ = unix.Close(r.listenFd)
		}
		_ = r.poller.close()
		_, _ = pool.Close(0)
		return nil, err
	}

	r.table = NewTable(cfg.MaxConnections, cfg.MaxFd, cfg.ReadBufferSize, cfg.WriteBufferSize, &r.opts, r.complete)
	return r, nil
}

// Run serves until ctx is cancelled, Stop is called, or epoll_wait fails.
//
// Whatever the reason, Run releases the listener, the epoll instance, the
// wake-up eventfd and every connection before returning, and joins the
// workers for at most ShutdownTimeout.
//
// Returns nil on a requested stop, the wrapped error on a fatal poll error.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer r.release()

	stop := context.AfterFunc(ctx, r.Stop)
	defer stop()

	logger.Info("HTTP reactor listening on %s:%d (workers=%d, max_connections=%d)",
		r.displayAddress(), r.port, r.pool.Workers(), r.table.Cap())

	for {
		events, err := r.poller.wait(-1)
		if err != nil {
			logger.Error("Reactor stopping: %v", err)
			return err
		}

		for i := range events {
			fd := int(events[i].Fd)
			switch fd {
			case r.listenFd:
				r.acceptAll()
			case r.poller.wakeFd:
				r.poller.drainWake()
				if r.isStopping() {
					logger.Debug("Reactor stop requested")
					return nil
				}
				r.drainCompleted()
			default:
				r.handleEvent(fd, events[i].Events)
			}
		}
	}
}

// Stop makes Run return. Safe to call from any goroutine, more than once,
// and before or after Run.
func (r *Reactor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released || r.stopping {
		return
	}
	r.stopping = true
	r.poller.wake()
}

func (r *Reactor) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Reactor) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				logger.Warn("Accept failed: %v", err)
				return
			}
		}

		peer := peerString(sa)

		if !r.limiter.Admit() {
			r.reject(fd, peer, metrics.RejectRateLimited)
			continue
		}

		s, ok := r.table.Install(fd, peer)
		if !ok {
			r.reject(fd, peer, metrics.RejectBusy)
			continue
		}

		if err := r.poller.add(fd, connReadEvents); err != nil {
			logger.Warn("Cannot register connection from %s: %v", peer, err)
			_ = s.conn.Close()
			r.table.Retire(fd)
			continue
		}

		r.metrics.RecordConnectionAccepted()
		r.metrics.SetActiveConnections(r.table.Active())
		logger.Debug("Connection accepted: conn=%s peer=%s fd=%d active=%d",
			s.conn.ID(), peer, fd, r.table.Active())
	}
}

// reject answers synchronously and closes without registering the socket.
func (r *Reactor) reject(fd int, peer, reason string) {
	_, _ = unix.Write(fd, busyMessage)
	_ = unix.Close(fd)
	r.metrics.RecordConnectionRejected(reason)
	logger.Warn("Rejected connection from %s: %s", peer, reason)
}

func (r *Reactor) handleEvent(fd int, events uint32) {
	s := r.table.Get(fd)
	if s == nil {
		logger.Warn("Event for unknown fd=%d", fd)
		_ = r.poller.del(fd)
		return
	}

	switch {
	case events&hangupEvents != 0:
		logger.Debug("Peer hung up: conn=%s", s.conn.ID())
		r.closeSlot(s)
	case events&unix.EPOLLIN != 0:
		r.read(s)
	case events&unix.EPOLLOUT != 0:
		r.write(s)
	}
}

func (r *Reactor) read(s *slot) {
	if _, err := s.conn.Read(); err != nil {
		if !errors.Is(err, httpconn.ErrPeerClosed) {
			logger.Debug("Read failed: conn=%s: %v", s.conn.ID(), err)
		}
		r.closeSlot(s)
		return
	}

	if !r.pool.Submit(s) {
		logger.Warn("Worker queue full, closing conn=%s", s.conn.ID())
		r.metrics.RecordConnectionRejected(metrics.RejectQueueFull)
		r.closeSlot(s)
		return
	}
	r.metrics.SetQueueDepth(r.pool.Pending())
}

func (r *Reactor) write(s *slot) {
	pending := s.conn.BytesToSend()
	res, err := s.conn.Write()

	switch res {
	case httpconn.WriteBlocked:
		r.metrics.RecordBytesSent(int64(pending - s.conn.BytesToSend()))
		r.arm(s, connWriteEvents)
	case httpconn.WriteKeepAlive:
		r.metrics.RecordBytesSent(int64(pending))
		r.arm(s, connReadEvents)
	default:
		if err != nil {
			logger.Debug("Write failed: conn=%s: %v", s.conn.ID(), err)
		} else {
			r.metrics.RecordBytesSent(int64(pending))
		}
		r.closeSlot(s)
	}
}

func (r *Reactor) arm(s *slot, events uint32) {
	if err := r.poller.mod(s.fd, events); err != nil {
		logger.Warn("Cannot re-arm conn=%s: %v", s.conn.ID(), err)
		r.closeSlot(s)
	}
}

func (r *Reactor) closeSlot(s *slot) {
	_ = r.poller.del(s.fd)
	r.retire(s)
}

// retire closes the socket and frees the slot. Closing the socket also
// drops it from the epoll set.
func (r *Reactor) retire(s *slot) {
	fd := s.fd
	if err := s.conn.Close(); err != nil {
		logger.Debug("Close failed: conn=%s: %v", s.conn.ID(), err)
	}
	r.table.Retire(fd)

	r.metrics.RecordConnectionClosed()
	r.metrics.SetActiveConnections(r.table.Active())
	logger.Debug("Connection closed: conn=%s fd=%d active=%d", s.conn.ID(), fd, r.table.Active())
}

// complete is called by a worker when Process returns. Ownership of the slot
// moves back to the reactor.
func (r *Reactor) complete(s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.inWorker.Store(false)
	if r.released {
		// The reactor is gone. A straggler it could not wait for closes its
		// own connection; any other slot is closed by release.
		if s.orphaned {
			r.retire(s)
		}
		return
	}
	r.completed = append(r.completed, s)
	r.poller.wake()
}

func (r *Reactor) drainCompleted() {
	r.mu.Lock()
	batch := r.completed
	r.completed = r.spare[:0]
	r.mu.Unlock()

	for i, s := range batch {
		batch[i] = nil
		r.finish(s)
	}
	r.spare = batch[:0]
	r.metrics.SetQueueDepth(r.pool.Pending())
}

func (r *Reactor) finish(s *slot) {
	switch s.next {
	case httpconn.NextRead:
		r.arm(s, connReadEvents)
	case httpconn.NextWrite:
		r.metrics.RecordRequest(s.conn.Method().String(), s.conn.StatusCode(), s.elapsed)
		r.write(s)
	default:
		r.closeSlot(s)
	}
}

func (r *Reactor) release() {
	r.mu.Lock()
	r.released = true
	r.completed = nil
	r.mu.Unlock()

	dropped, joinErr := r.pool.Close(r.cfg.ShutdownTimeout)
	if dropped > 0 {
		logger.Info("Dropped %d queued connections", dropped)
	}

	stragglers := 0
	r.mu.Lock()
	r.table.Each(func(s *slot) {
		if s.inWorker.Load() {
			s.orphaned = true
			stragglers++
			return
		}
		r.closeSlot(s)
	})
	r.mu.Unlock()
	if stragglers > 0 {
		logger.Warn("%v: %d connections left to their workers", joinErr, stragglers)
	}

	if err := unix.Close(r.listenFd); err != nil {
		logger.Debug("Close listener: %v", err)
	}
	if err := r.poller.close(); err != nil {
		logger.Debug("Close poller: %v", err)
	}
	logger.Info("HTTP reactor stopped")
}

func (r *Reactor) displayAddress() string {
	if r.cfg.Address == "" {
		return "0.0.0.0"
	}
	return r.cfg.Address
}

// Port returns the bound port.
func (r *Reactor) Port() int {
	return r.port
}

// Active returns the number of open connections.
func (r *Reactor) Active() int32 {
	return r.table.Active()
}

// Pending returns the number of connections waiting for a worker.
func (r *Reactor) Pending() int {
	return r.pool.Pending()
}
