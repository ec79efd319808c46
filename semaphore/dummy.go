//go:build !solution

package semaphore

import (
	"context"
	"time"
)

// Interface is the operation surface shared by Semaphore and Dummy. It lets
// callers parameterize over whether mutual exclusion is actually needed: a
// pool of fixed size guards itself with a real Semaphore, an unlimited pool
// takes a Dummy, and none of the surrounding code changes shape.
type Interface interface {
	Acquire(ctx context.Context, timeout time.Duration) (bool, error)
	TryAcquire() bool
	Release()
	Wait(ctx context.Context, timeout time.Duration) (int, error)
	Locked() bool
	Do(ctx context.Context, fn func()) error
}

var (
	_ Interface = (*Semaphore)(nil)
	_ Interface = Dummy{}
)

// Dummy is a semaphore with an infinite number of slots. None of its methods
// ever block or fail.
type Dummy struct{}

// Acquire always succeeds immediately.
func (Dummy) Acquire(context.Context, time.Duration) (bool, error) { return true, nil }

// TryAcquire always succeeds.
func (Dummy) TryAcquire() bool { return true }

// Release does nothing.
func (Dummy) Release() {}

// Wait returns immediately.
func (Dummy) Wait(context.Context, time.Duration) (int, error) { return 1, nil }

// Locked always reports false.
func (Dummy) Locked() bool { return false }

// Do runs fn without any locking.
func (Dummy) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}
