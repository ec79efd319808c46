//go:build !solution

// Package taskid identifies the execution context that is currently running.
//
// The locking primitives in this module never inspect an ID, they only
// compare IDs for equality, so a scheduler is free to hand out anything that
// is unique per task.
package taskid

import "github.com/petermattis/goid"

// ID is an opaque identifier of a cooperatively scheduled task.
type ID int64

// None is the ID of "no task"; it is never returned by a Provider.
const None ID = 0

// Provider reports the ID of the calling execution context. A scheduler that
// multiplexes its own tasks onto worker goroutines passes its own Provider to
// the primitives; when tasks are plain goroutines, Current is used.
type Provider func() ID

// Current returns the goroutine id of the caller.
func Current() ID {
	return ID(goid.Get())
}
