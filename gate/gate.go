//go:build !solution

// Package gate implements an owned mutual-exclusion gate used to bracket
// state transitions of higher-level primitives, keeping them atomic with
// respect to task-switch points.
package gate

import (
	"sync"

	"github.com/devopsleague/gevent/taskid"
)

// Gate serializes bracketed sections across execution contexts while staying
// re-entrant for the context that already holds it. Enter and Exit must be
// called in matched pairs.
//
// The raw mutex is an ordinary OS-level lock: a contended Enter puts the
// calling thread to sleep, never a cooperative task, because callers drop the
// gate around every operation that may suspend. It is held exactly while
// owner is set.
type Gate struct {
	mu sync.Mutex

	meta    sync.Mutex // guards the fields below
	owner   taskid.ID
	depth   int
	entered map[taskid.ID]int // nested entry into the gate's own methods

	current taskid.Provider
}

// New creates an open gate. A nil provider defaults to taskid.Current.
func New(current taskid.Provider) *Gate {
	if current == nil {
		current = taskid.Current
	}
	return &Gate{
		entered: make(map[taskid.ID]int),
		current: current,
	}
}

// begin registers entry into one of the gate's own methods. It reports false
// when the caller is already inside them on the same context (например, из
// трассировочного хука) and must skip all real work. Every begin must be
// paired with end.
func (g *Gate) begin() (taskid.ID, bool) {
	me := g.current()
	g.meta.Lock()
	n := g.entered[me]
	g.entered[me] = n + 1
	g.meta.Unlock()
	return me, n == 0
}

func (g *Gate) end(me taskid.ID) {
	g.meta.Lock()
	if n := g.entered[me] - 1; n == 0 {
		delete(g.entered, me)
	} else {
		g.entered[me] = n
	}
	g.meta.Unlock()
}

// Enter acquires the gate. Re-acquisition by the holding context only bumps
// the depth and generates no mutex traffic; any other context blocks until
// the holder fully exits.
func (g *Gate) Enter() {
	me, outer := g.begin()
	defer g.end(me)
	if !outer {
		return
	}

	g.meta.Lock()
	if g.owner == me {
		g.depth++
		g.meta.Unlock()
		return
	}
	g.meta.Unlock()

	g.mu.Lock()
	g.meta.Lock()
	g.owner = me
	g.depth = 1
	g.meta.Unlock()
}

// Exit undoes a single Enter. The raw mutex is released and the owner
// cleared only when the depth reaches zero.
func (g *Gate) Exit() {
	me, outer := g.begin()
	defer g.end(me)
	if !outer {
		return
	}

	g.meta.Lock()
	g.depth--
	if g.depth > 0 {
		g.meta.Unlock()
		return
	}
	g.owner = taskid.None
	g.meta.Unlock()
	g.mu.Unlock()
}
