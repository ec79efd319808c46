//go:build !solution

// Package rlock implements a reentrant mutex for cooperative tasks: the task
// holding the lock may acquire it again without deadlocking itself, and only
// that task may release it.
package rlock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/devopsleague/gevent/semaphore"
	"github.com/devopsleague/gevent/taskid"
)

// ErrNotOwner is the panic value of Release when the calling task does not
// hold the lock.
var ErrNotOwner = errors.New("rlock: release of lock not held by current task")

// Lock is a mutex that may be re-acquired by the task already holding it.
// Each successful Acquire must be paired with a Release.
//
// Blocking and wakeup are delegated to a one-slot atomic semaphore. The hold
// count is only ever mutated by the owning task or, for SaveState and
// RestoreState, by a collaborator explicitly handed the captured state. The
// owner field is additionally read by contending tasks, so it is stored
// atomically.
type Lock struct {
	owner   atomic.Int64 // taskid.ID of the holder, taskid.None when free
	count   int
	block   *semaphore.Semaphore
	current taskid.Provider
}

type options struct {
	provider taskid.Provider
	sem      []semaphore.Option
}

// Option configures a Lock.
type Option func(*options)

// WithProvider substitutes the execution-context accessor for the lock and
// its inner semaphore.
func WithProvider(p taskid.Provider) Option {
	return func(o *options) {
		o.provider = p
		o.sem = append(o.sem, semaphore.WithProvider(p))
	}
}

// WithClock substitutes the clock used for acquire timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.sem = append(o.sem, semaphore.WithClock(c)) }
}

// WithLogger enables debug tracing inside the inner semaphore.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.sem = append(o.sem, semaphore.WithLogger(l)) }
}

// New creates an unlocked Lock.
func New(opts ...Option) *Lock {
	o := options{provider: taskid.Current}
	for _, opt := range opts {
		opt(&o)
	}
	return &Lock{
		block:   semaphore.New(1, o.sem...),
		current: o.provider,
	}
}

func (l *Lock) holder() taskid.ID {
	return taskid.ID(l.owner.Load())
}

func (l *Lock) setHolder(id taskid.ID) {
	l.owner.Store(int64(id))
}

// Acquire takes the lock. When the calling task already holds it, the hold
// count is incremented and the semaphore is not touched at all, so re-entry
// never contends and never suspends. A negative timeout waits indefinitely,
// a zero timeout polls; false means the lock was not obtained in time, and a
// cancelled ctx is propagated as the error.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	me := l.current()
	if l.holder() == me {
		l.count++
		return true, nil
	}
	ok, err := l.block.Acquire(ctx, timeout)
	if ok {
		l.count = 1
		l.setHolder(me)
	}
	return ok, err
}

// TryAcquire polls for the lock without blocking.
func (l *Lock) TryAcquire() bool {
	ok, _ := l.Acquire(context.Background(), 0)
	return ok
}

// Release undoes a single Acquire. The semaphore is released only when the
// outermost hold is dropped. A task that does not hold the lock panics with
// ErrNotOwner, leaving owner and count untouched.
func (l *Lock) Release() {
	if l.holder() != l.current() {
		panic(ErrNotOwner)
	}
	l.count--
	if l.count == 0 {
		l.setHolder(taskid.None)
		l.block.Release()
	}
}

// OwnedByCurrent reports whether the calling task holds the lock.
func (l *Lock) OwnedByCurrent() bool {
	return l.holder() == l.current()
}

// SaveState atomically captures and clears the hold, fully releasing the
// lock however deeply it was re-acquired. This is the condition-variable
// hook: a condition must drop a possibly nested hold before sleeping on its
// signal and reinstate it afterward with RestoreState.
func (l *Lock) SaveState() (count int, owner taskid.ID) {
	count, owner = l.count, l.holder()
	l.count = 0
	l.setHolder(taskid.None)
	l.block.Release()
	return count, owner
}

// RestoreState re-acquires the lock, suspending while it is held elsewhere,
// and reinstates the exact depth and owner captured by SaveState.
func (l *Lock) RestoreState(ctx context.Context, count int, owner taskid.ID) error {
	if _, err := l.block.Acquire(ctx, -1); err != nil {
		return err
	}
	l.count = count
	l.setHolder(owner)
	return nil
}

// Do runs fn while holding the lock. The lock is released on every exit
// path, including a panic inside fn.
func (l *Lock) Do(ctx context.Context, fn func()) error {
	if _, err := l.Acquire(ctx, -1); err != nil {
		return err
	}
	defer l.Release()
	fn()
	return nil
}
