package task

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle controls a subscription.
type Handle struct {
	cancel   context.CancelFunc
	disposed atomic.Bool
	done     chan struct{}
	once     sync.Once
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel, done: make(chan struct{})}
}

// Dispose cancels the work. No callback runs after Dispose returns, except
// one that had already started.
func (h *Handle) Dispose() {
	h.disposed.Store(true)
	h.cancel()
}

func (h *Handle) Disposed() bool { return h.disposed.Load() }

// Done is closed once the work and its cleanup have finished, whether it
// succeeded, failed or was disposed.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) finish() { h.once.Do(func() { close(h.done) }) }

// deliver runs fn on out unless the handle was disposed first.
func (h *Handle) deliver(out *serial, fn func()) {
	out.post(func() {
		if !h.Disposed() {
			fn()
		}
	})
}

// Single produces exactly one value or an error.
type Single[T any] struct {
	run         func(ctx context.Context) (T, error)
	subscribeOn Scheduler
	observeOn   Scheduler
}

func NewSingle[T any](fn func(ctx context.Context) (T, error)) *Single[T] {
	return &Single[T]{run: fn}
}

// Just returns a Single yielding v.
func Just[T any](v T) *Single[T] {
	return NewSingle(func(context.Context) (T, error) { return v, nil })
}

// Fail returns a Single failing with err.
func Fail[T any](err error) *Single[T] {
	return NewSingle(func(context.Context) (T, error) {
		var zero T
		return zero, err
	})
}

func (s *Single[T]) SubscribeOn(sched Scheduler) *Single[T] {
	c := *s
	c.subscribeOn = sched
	return &c
}

func (s *Single[T]) ObserveOn(sched Scheduler) *Single[T] {
	c := *s
	c.observeOn = sched
	return &c
}

// Subscribe starts the work. Exactly one of onSuccess or onError is called
// unless the handle is disposed first. Nil callbacks are ignored.
func (s *Single[T]) Subscribe(ctx context.Context, onSuccess func(T), onError func(error)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	out := newSerial(s.observeOn)
	start(s.subscribeOn, func() {
		defer h.finish()
		defer cancel()
		v, err := s.run(ctx)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			if onError != nil {
				h.deliver(out, func() { onError(err) })
			}
			return
		}
		if onSuccess != nil {
			h.deliver(out, func() { onSuccess(v) })
		}
	})
	return h
}

// Await runs the work and blocks for its result.
func (s *Single[T]) Await(ctx context.Context) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	h := s.ObserveOn(Immediate{}).Subscribe(ctx,
		func(v T) { ch <- result{v: v} },
		func(err error) { ch <- result{err: err} })
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		h.Dispose()
		var zero T
		return zero, ctx.Err()
	}
}

// Wait is like Await but does not return before the work itself has
// finished, so cleanup done by the work is complete even when ctx is
// cancelled. Callbacks are delivered on the working goroutine.
func (s *Single[T]) Wait(ctx context.Context) (T, error) {
	var (
		v   T
		err error
	)
	h := s.ObserveOn(Immediate{}).Subscribe(ctx,
		func(r T) { v = r },
		func(e error) { err = e })
	<-h.Done()
	return v, err
}

// Map transforms the value of s.
func Map[T, U any](s *Single[T], fn func(T) (U, error)) *Single[U] {
	return &Single[U]{
		run: func(ctx context.Context) (U, error) {
			v, err := s.run(ctx)
			if err != nil {
				var zero U
				return zero, err
			}
			return fn(v)
		},
		subscribeOn: s.subscribeOn,
		observeOn:   s.observeOn,
	}
}

// Using acquires a resource, runs use with it and releases it on every
// exit path, including failure and cancellation.
func Using[R, T any](acquire func(ctx context.Context) (R, error), use func(ctx context.Context, r R) (T, error), release func(R)) *Single[T] {
	return NewSingle(func(ctx context.Context) (T, error) {
		r, err := acquire(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		defer release(r)
		return use(ctx, r)
	})
}

// Completable signals completion or an error, without a value.
type Completable struct {
	single *Single[struct{}]
}

func NewCompletable(fn func(ctx context.Context) error) *Completable {
	return &Completable{single: NewSingle(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})}
}

func (c *Completable) SubscribeOn(sched Scheduler) *Completable {
	return &Completable{single: c.single.SubscribeOn(sched)}
}

func (c *Completable) ObserveOn(sched Scheduler) *Completable {
	return &Completable{single: c.single.ObserveOn(sched)}
}

func (c *Completable) Subscribe(ctx context.Context, onComplete func(), onError func(error)) *Handle {
	var onSuccess func(struct{})
	if onComplete != nil {
		onSuccess = func(struct{}) { onComplete() }
	}
	return c.single.Subscribe(ctx, onSuccess, onError)
}

func (c *Completable) Await(ctx context.Context) error {
	_, err := c.single.Await(ctx)
	return err
}

// Observable produces a sequence of values. The producer calls emit for
// each value; emit returns false once the subscriber is gone and the
// producer should stop.
type Observable[T any] struct {
	run         func(ctx context.Context, emit func(T) bool) error
	subscribeOn Scheduler
	observeOn   Scheduler
}

func NewObservable[T any](fn func(ctx context.Context, emit func(T) bool) error) *Observable[T] {
	return &Observable[T]{run: fn}
}

// FromSlice emits the elements of vs in order.
func FromSlice[T any](vs []T) *Observable[T] {
	return NewObservable(func(ctx context.Context, emit func(T) bool) error {
		for _, v := range vs {
			if !emit(v) {
				return ctx.Err()
			}
		}
		return nil
	})
}

func (o *Observable[T]) SubscribeOn(sched Scheduler) *Observable[T] {
	c := *o
	c.subscribeOn = sched
	return &c
}

func (o *Observable[T]) ObserveOn(sched Scheduler) *Observable[T] {
	c := *o
	c.observeOn = sched
	return &c
}

// Subscribe starts the producer. onNext is called for every value in
// order, then onComplete or onError once.
func (o *Observable[T]) Subscribe(ctx context.Context, onNext func(T), onError func(error), onComplete func()) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	out := newSerial(o.observeOn)
	start(o.subscribeOn, func() {
		defer h.finish()
		defer cancel()
		emit := func(v T) bool {
			if h.Disposed() || ctx.Err() != nil {
				return false
			}
			if onNext != nil {
				h.deliver(out, func() { onNext(v) })
			}
			return true
		}
		err := o.run(ctx, emit)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			if onError != nil {
				h.deliver(out, func() { onError(err) })
			}
			return
		}
		if onComplete != nil {
			h.deliver(out, onComplete)
		}
	})
	return h
}

// Collect gathers every value of o.
func (o *Observable[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	err := NewCompletable(func(ctx context.Context) error {
		return o.run(ctx, func(v T) bool {
			out = append(out, v)
			return ctx.Err() == nil
		})
	}).SubscribeOn(o.subscribeOn).Await(ctx)
	return out, err
}

func start(sched Scheduler, fn func()) {
	if sched == nil {
		go fn()
		return
	}
	sched.Schedule(fn)
}
