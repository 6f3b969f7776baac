// Package workerpool implements the bounded task queue that decouples
// readiness detection from protocol processing.
//
// The queue is a FIFO guarded by a mutex; a counting semaphore (a buffered
// channel holding one token per queued task) tells workers when there is
// something to pop. Submit never blocks: when the queue already holds the
// configured maximum it reports failure and the caller decides what to do.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittohttp/internal/logger"
)

var (
	// ErrInvalidConfig is returned by New when workers or maxQueue is not positive.
	ErrInvalidConfig = errors.New("workerpool: workers and max queue must be > 0")

	// ErrJoinTimeout is returned by Close when workers did not exit in time.
	ErrJoinTimeout = errors.New("workerpool: workers did not exit before timeout")
)

// Task is a unit of work. The pool never retries a task; failures are
// handled inside Process.
type Task interface {
	Process()
}

// Pool is a fixed set of worker goroutines consuming a bounded FIFO.
//
// Thread safety:
// Submit, Pending and Close are safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	queue  []Task
	head   int
	count  int
	closed bool

	// sem holds one token per queued task. Closing it wakes every worker
	// blocked in the wait.
	sem chan struct{}

	workers int
	wg      sync.WaitGroup
}

// New starts workers goroutines serving a queue bounded at maxQueue tasks.
//
// Returns ErrInvalidConfig if either argument is not positive.
func New(workers, maxQueue int) (*Pool, error) {
	if workers <= 0 || maxQueue <= 0 {
		return nil, fmt.Errorf("%w (workers=%d, max_queue=%d)", ErrInvalidConfig, workers, maxQueue)
	}

	p := &Pool{
		queue:   make([]Task, maxQueue),
		sem:     make(chan struct{}, maxQueue),
		workers: workers,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(i)
	}
	logger.Debug("Worker pool started: workers=%d max_queue=%d", workers, maxQueue)

	return p, nil
}

// Submit enqueues t without blocking.
//
// Returns false if the queue already holds the maximum number of pending
// tasks or the pool has been closed. This is the only backpressure signal.
func (p *Pool) Submit(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.count >= len(p.queue) {
		return false
	}

	p.queue[(p.head+p.count)%len(p.queue)] = t
	p.count++

	// Cannot block: tokens never exceed queued tasks, and count < cap(sem).
	p.sem <- struct{}{}
	return true
}

// Pending returns the number of queued tasks not yet picked by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		if _, ok := <-p.sem; !ok {
			return
		}

		t, stop := p.pop()
		if stop {
			return
		}
		if t == nil {
			// Woke without a task to take; wait again.
			continue
		}

		p.process(id, t)
	}
}

func (p *Pool) pop() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, true
	}
	if p.count == 0 {
		return nil, false
	}

	t := p.queue[p.head]
	p.queue[p.head] = nil
	p.head = (p.head + 1) % len(p.queue)
	p.count--
	return t, false
}

func (p *Pool) process(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in worker %d: %v", id, r)
		}
	}()
	t.Process()
}

// Close stops the pool.
//
// Queued tasks that no worker has picked up are dropped; their number is
// returned. Workers currently inside Process finish that task and exit.
// Close waits at most timeout for them (timeout <= 0 waits forever).
//
// Returns ErrJoinTimeout if the workers did not exit in time. Calling Close
// more than once is a no-op returning (0, nil).
func (p *Pool) Close(timeout time.Duration) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil
	}
	p.closed = true
	dropped := p.count
	for i := 0; i < p.count; i++ {
		p.queue[(p.head+i)%len(p.queue)] = nil
	}
	p.count = 0
	close(p.sem)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return dropped, nil
	}

	select {
	case <-done:
		return dropped, nil
	case <-time.After(timeout):
		return dropped, fmt.Errorf("%w (%v)", ErrJoinTimeout, timeout)
	}
}
