// Package task composes background work: a Single yields one value, a
// Completable only completes and an Observable yields a sequence. Work runs
// on the scheduler given to SubscribeOn and callbacks are delivered on the
// one given to ObserveOn. Disposing the returned Handle cancels the work and
// suppresses any further callback.
package task

import (
	"runtime"
	"sync"
)

// Scheduler runs functions, possibly on another goroutine.
type Scheduler interface {
	Schedule(fn func())
}

// Immediate runs functions on the calling goroutine.
type Immediate struct{}

func (Immediate) Schedule(fn func()) { fn() }

// queue is an unbounded FIFO drained by a fixed set of workers.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	wg      sync.WaitGroup
}

func newQueue(workers int) *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

func (q *queue) Schedule(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		go fn()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

// Close runs what is already queued and stops the workers. Functions
// scheduled afterwards run on their own goroutine.
func (q *queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}

// Pool runs functions on a fixed number of background workers.
type Pool struct{ *queue }

// NewPool starts a pool. Non-positive sizes use one worker per CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{newQueue(workers)}
}

// Loop runs functions one at a time, in order, on a single goroutine. It
// stands in for the thread that owns the user interface.
type Loop struct{ *queue }

func NewLoop() *Loop { return &Loop{newQueue(1)} }

// serial delivers callbacks on a scheduler one at a time and in order, even
// when the scheduler itself is concurrent.
type serial struct {
	sched   Scheduler
	mu      sync.Mutex
	pending []func()
	running bool
}

func newSerial(s Scheduler) *serial {
	if s == nil {
		s = Immediate{}
	}
	return &serial{sched: s}
}

func (s *serial) post(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	s.sched.Schedule(s.drain)
}

func (s *serial) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		fn()
	}
}
