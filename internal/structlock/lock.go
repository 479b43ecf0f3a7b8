// Package structlock implements the structural lock protecting a single
// graph node. It is not a plain readers-writer lock: it distinguishes
// three acquisition modes so that traversals, edge insertions and edge
// removals interleave exactly as the graph engine requires.
//
// Compatibility between modes:
//
//   - Read is shared with other Read holders and nothing else.
//   - Add is exclusive among Adds and excluded by Reads, but an Add may
//     start while removers are active (and removers may start while an
//     Add is held). At most one Add is ever in flight per lock.
//   - Remove is shared with other Removes and with the single Add, and
//     excluded only by Reads.
//
// Removals only shrink the node's edge sets, so they cannot introduce
// a cycle or fight over a keyed slot; insertions can do both, so they
// are serialized per node.
package structlock

import (
	"runtime"
	"sync"
)

// Mode selects how a Lock is acquired.
type Mode int

const (
	ModeRead Mode = iota
	ModeAdd
	ModeRemove
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "Read"
	case ModeAdd:
		return "Add"
	case ModeRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// State is the observable state of a Lock, derived from its counters.
type State int

const (
	StateFree State = iota
	StateRead
	StateAddOnly
	StateAddAndRemove
	StateRemoveOnly
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateRead:
		return "Read"
	case StateAddOnly:
		return "AddOnly"
	case StateAddAndRemove:
		return "AddAndRemove"
	case StateRemoveOnly:
		return "RemoveOnly"
	default:
		return "Unknown"
	}
}

// Lock is the per-node structural lock.
//
// The zero value is ready to use. A Lock must not be copied after first
// use. Release must be called with the same mode that was acquired;
// releasing a mode that is not held panics, like unlocking an unlocked
// sync.Mutex.
type Lock struct {
	mu       sync.Mutex
	readers  int
	removers int
	adding   bool
}

// New returns a fresh Lock in the Free state.
func New() *Lock {
	return &Lock{}
}

// TryAcquire attempts to acquire the lock in the given mode without
// blocking. It returns true if the mode was granted.
func (l *Lock) TryAcquire(m Mode) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch m {
	case ModeRead:
		// Granted only in Free or Read.
		if l.adding || l.removers > 0 {
			return false
		}
		l.readers++
		return true
	case ModeAdd:
		// Granted in Free or RemoveOnly; there is a single Add slot.
		if l.adding || l.readers > 0 {
			return false
		}
		l.adding = true
		return true
	case ModeRemove:
		// Granted everywhere except Read.
		if l.readers > 0 {
			return false
		}
		l.removers++
		return true
	default:
		panic("structlock: unknown mode")
	}
}

// Acquire blocks until the lock is granted in the given mode. It spins,
// yielding the processor between attempts; callers needing fairness or
// backoff must impose their own.
func (l *Lock) Acquire(m Mode) {
	for !l.TryAcquire(m) {
		runtime.Gosched()
	}
}

// Release releases one hold of the given mode.
func (l *Lock) Release(m Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch m {
	case ModeRead:
		if l.readers == 0 {
			panic("structlock: Release(Read) without holder")
		}
		l.readers--
	case ModeAdd:
		if !l.adding {
			panic("structlock: Release(Add) without holder")
		}
		l.adding = false
	case ModeRemove:
		if l.removers == 0 {
			panic("structlock: Release(Remove) without holder")
		}
		l.removers--
	default:
		panic("structlock: unknown mode")
	}
}

// State reports the current lock state.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.adding && l.removers > 0:
		return StateAddAndRemove
	case l.adding:
		return StateAddOnly
	case l.removers > 0:
		return StateRemoveOnly
	case l.readers > 0:
		return StateRead
	default:
		return StateFree
	}
}

// Readers reports the number of active Read holders.
func (l *Lock) Readers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers
}

// Removers reports the number of active Remove holders.
func (l *Lock) Removers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removers
}
