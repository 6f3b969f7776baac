package reactor

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittohttp/internal/httpconn"
)

// slot is one pre-allocated connection. It is also the unit of work handed
// to the worker pool.
type slot struct {
	index int
	fd    int
	conn  *httpconn.Conn

	// inWorker is set while a worker runs Process and cleared by the
	// reactor's completion hand-off. Shutdown reads it to avoid closing a
	// connection a straggling worker still touches.
	inWorker atomic.Bool

	// orphaned marks a straggler left behind by shutdown; its worker closes
	// it on completion. Guarded by Reactor.mu.
	orphaned bool

	// next is written by the worker and read by the reactor after the
	// completion queue hand-off.
	next    httpconn.Next
	elapsed time.Duration

	done func(*slot)
}

// Process runs the connection state machine on a worker goroutine and hands
// the slot back to the reactor. It performs no socket I/O.
func (s *slot) Process() {
	s.inWorker.Store(true)
	start := time.Now()
	s.next = s.conn.Process()
	s.elapsed = time.Since(start)
	s.done(s)
}

// Table is the fixed-capacity connection table.
//
// Slots and their buffers are allocated once, up front; the read and write
// buffers of every slot are carved from a single arena. Lookups are indexed
// by file descriptor.
//
// Thread safety:
// Install, Get and Retire are called only by the reactor goroutine. Active
// is safe for concurrent use.
type Table struct {
	slots  []slot
	byFd   []int32
	free   []int32
	active atomic.Int32
}

// NewTable allocates capacity slots. File descriptors at or above maxFd
// cannot be installed.
func NewTable(capacity, maxFd, readSize, writeSize int, opts *httpconn.Options, done func(*slot)) *Table {
	t := &Table{
		slots: make([]slot, capacity),
		byFd:  make([]int32, maxFd),
		free:  make([]int32, capacity),
	}

	per := readSize + writeSize
	arena := make([]byte, capacity*per)
	for i := range t.slots {
		base := i * per
		rbuf := arena[base : base+readSize : base+readSize]
		wbuf := arena[base+readSize : base+per : base+per]

		t.slots[i] = slot{index: i, fd: -1, conn: httpconn.New(rbuf, wbuf, opts), done: done}
		// Pop from the end hands out low indices first.
		t.free[i] = int32(capacity - 1 - i)
	}
	for fd := range t.byFd {
		t.byFd[fd] = -1
	}
	return t
}

// Install binds a free slot to fd.
//
// Returns false if the table is full, fd does not fit the index, or fd is
// already installed.
func (t *Table) Install(fd int, peer string) (*slot, bool) {
	if fd < 0 || fd >= len(t.byFd) || t.byFd[fd] >= 0 || len(t.free) == 0 {
		return nil, false
	}

	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[idx]
	s.fd = fd
	s.orphaned = false
	s.next = httpconn.NextRead
	s.conn.Init(fd, peer, uuid.New())

	t.byFd[fd] = idx
	t.active.Add(1)
	return s, true
}

// Get returns the slot installed for fd, or nil.
func (t *Table) Get(fd int) *slot {
	if fd < 0 || fd >= len(t.byFd) {
		return nil
	}
	idx := t.byFd[fd]
	if idx < 0 {
		return nil
	}
	return &t.slots[idx]
}

// Retire frees the slot bound to fd. The caller has already closed the
// connection. Retiring an unknown fd is a no-op.
func (t *Table) Retire(fd int) {
	s := t.Get(fd)
	if s == nil {
		return
	}
	t.byFd[fd] = -1
	s.fd = -1
	t.free = append(t.free, int32(s.index))
	t.active.Add(-1)
}

// Each calls fn for every installed slot. fn may retire the slot.
func (t *Table) Each(fn func(*slot)) {
	for i := range t.slots {
		if t.slots[i].fd >= 0 {
			fn(&t.slots[i])
		}
	}
}

// Active returns the number of installed connections.
func (t *Table) Active() int32 {
	return t.active.Load()
}

// Cap returns the number of slots.
func (t *Table) Cap() int {
	return len(t.slots)
}

// MaxFd returns the exclusive upper bound on installable descriptors.
func (t *Table) MaxFd() int {
	return len(t.byFd)
}
