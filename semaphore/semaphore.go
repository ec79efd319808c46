//go:build !solution

// Package semaphore implements a counting semaphore whose public operations
// are atomic with respect to task-switch points.
//
// A plain counting semaphore is unsafe under cooperative scheduling: its wait
// step suspends the calling task, and a task scheduled in the gap could
// observe the counter and the waiter queue mid-mutation. Every public entry
// point here therefore runs under an owned gate, and the single sub-step that
// may suspend drops the gate for its duration and re-acquires it before
// touching shared state again.
package semaphore

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/devopsleague/gevent/gate"
	"github.com/devopsleague/gevent/taskid"
)

// ErrCapacityExceeded is the panic value of Release on a bounded semaphore
// whose counter already stands at the bound.
var ErrCapacityExceeded = errors.New("semaphore: release of fully released bounded semaphore")

type waiter struct {
	id    taskid.ID
	ready chan struct{} // buffered; receives the slot handed off by Release
}

// Semaphore is a counting semaphore for cooperative tasks. Acquire takes one
// of the available slots, suspending the calling task while none are free;
// Release returns a slot, waking the longest-waiting task first.
type Semaphore struct {
	gate    *gate.Gate
	counter int
	bound   int       // 0 means unbounded
	waiters []*waiter // FIFO; непуст только при counter == 0

	clock   clockwork.Clock
	current taskid.Provider
	log     *zap.Logger
}

// Option configures a Semaphore.
type Option func(*Semaphore)

// WithClock substitutes the clock used for acquire timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(s *Semaphore) { s.clock = c }
}

// WithProvider substitutes the execution-context accessor. A scheduler with
// its own task identity passes it here.
func WithProvider(p taskid.Provider) Option {
	return func(s *Semaphore) { s.current = p }
}

// WithLogger enables debug tracing of slot transitions.
func WithLogger(l *zap.Logger) Option {
	return func(s *Semaphore) { s.log = l }
}

// New returns a semaphore with the given number of initially available slots
// and no upper bound on the counter.
func New(value int, opts ...Option) *Semaphore {
	if value < 0 {
		panic("semaphore: negative initial value")
	}
	s := &Semaphore{
		counter: value,
		clock:   clockwork.NewRealClock(),
		current: taskid.Current,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = gate.New(s.current)
	return s
}

// NewBounded returns a semaphore whose counter may never exceed its initial
// value. Releasing above the bound panics with ErrCapacityExceeded.
func NewBounded(value int, opts ...Option) *Semaphore {
	if value < 1 {
		panic("semaphore: bound must be positive")
	}
	s := New(value, opts...)
	s.bound = value
	return s
}

// Acquire obtains one slot. A negative timeout waits indefinitely, a zero
// timeout is a non-blocking poll. It reports false when no slot was obtained
// within the timeout. Cancellation of ctx is returned as the error, with the
// semaphore state exactly as before the call.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	s.gate.Enter()
	defer s.gate.Exit()
	return s.acquireSlot(ctx, timeout)
}

// TryAcquire polls for a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	ok, _ := s.Acquire(context.Background(), 0)
	return ok
}

// acquireSlot runs with the gate held.
func (s *Semaphore) acquireSlot(ctx context.Context, timeout time.Duration) (bool, error) {
	if s.counter > 0 {
		s.counter--
		return true, nil
	}
	if timeout == 0 {
		return false, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := s.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	w := &waiter{id: s.current(), ready: make(chan struct{}, 1)}
	s.waiters = append(s.waiters, w)
	s.log.Debug("waiting for slot", zap.Int64("task", int64(w.id)))

	granted, err := s.suspend(ctx, w, expired)
	if granted {
		// Слот передан нам из Release напрямую, counter не трогаем.
		return true, nil
	}
	return false, s.abandon(w, err)
}

// suspend is the only point where a task may yield to the scheduler. The
// gate is dropped for the duration of the select and re-acquired before
// returning, so no other operation ever observes partial state.
func (s *Semaphore) suspend(ctx context.Context, w *waiter, expired <-chan time.Time) (bool, error) {
	s.gate.Exit()
	defer s.gate.Enter()

	select {
	case <-w.ready:
		return true, nil
	case <-expired:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// abandon backs out of a timed-out or cancelled wait as if it had never been
// attempted. Runs with the gate held. If a slot was handed to w in the same
// instant it is passed on, so no wakeup is ever lost.
func (s *Semaphore) abandon(w *waiter, err error) error {
	for i, q := range s.waiters {
		if q == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return err
		}
	}
	select {
	case <-w.ready:
		s.grant()
	default:
	}
	return err
}

// grant makes one slot available: it is handed to the longest-waiting task
// if there is one, otherwise returned to the counter.
func (s *Semaphore) grant() {
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w.ready <- struct{}{}
		s.log.Debug("slot handed off", zap.Int64("task", int64(w.id)))
		return
	}
	s.counter++
}

// Release frees one slot, waking the longest-waiting task if any. Releasing
// a bounded semaphore above its bound panics with ErrCapacityExceeded and
// leaves the counter unchanged.
func (s *Semaphore) Release() {
	s.gate.Enter()
	defer s.gate.Exit()

	if s.bound > 0 && len(s.waiters) == 0 && s.counter >= s.bound {
		panic(ErrCapacityExceeded)
	}
	s.grant()
}

// Wait blocks until at least one slot is available, without taking one. It
// returns the observed availability (at least 1), or 0 on timeout. Timeout
// semantics match Acquire.
func (s *Semaphore) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	s.gate.Enter()
	defer s.gate.Exit()

	ok, err := s.acquireSlot(ctx, timeout)
	if !ok {
		return 0, err
	}
	s.grant()
	if s.counter > 0 {
		return s.counter, nil
	}
	// Слот ушёл сразу следующему ожидающему.
	return 1, nil
}

// Locked reports whether all slots are currently taken.
func (s *Semaphore) Locked() bool {
	s.gate.Enter()
	defer s.gate.Exit()
	return s.counter == 0
}

// Do runs fn while holding one slot. The slot is released on every exit
// path, including a panic inside fn.
func (s *Semaphore) Do(ctx context.Context, fn func()) error {
	if _, err := s.Acquire(ctx, -1); err != nil {
		return err
	}
	defer s.Release()
	fn()
	return nil
}
