package structlock

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
)

// ErrContended is returned (wrapped in a BatchError) when a bounded
// batch acquisition runs out of attempts.
var ErrContended = errors.New("lock contended")

// Entry pairs a lock with the mode it must be acquired in, plus the
// stable ordering identity used to sequence acquisition across batches.
type Entry struct {
	ID   uint64
	Lock *Lock
	Mode Mode
}

// Batch acquires a set of locks all-or-nothing. Entries are sorted by
// their stable ID so that two overlapping batches always attempt locks
// in the same global order. Acquisition is non-blocking per lock: if
// any entry cannot be granted, every lock acquired so far in the batch
// is released and the whole batch is retried from scratch. A partially
// acquired batch is never held across a failed attempt.
type Batch struct {
	entries []Entry
	held    bool
}

// NewBatch builds a batch from the given entries. The entries are
// sorted by ID; duplicate IDs are allowed (the same lock may appear in
// Remove mode more than once, removers are counted).
func NewBatch(entries ...Entry) *Batch {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return &Batch{entries: entries}
}

// Len reports the number of entries in the batch.
func (b *Batch) Len() int {
	return len(b.entries)
}

// tryAcquireOnce attempts a single pass over all entries. On failure it
// unwinds the acquired prefix and returns the index of the entry that
// could not be granted.
func (b *Batch) tryAcquireOnce() (failed int, ok bool) {
	for i, e := range b.entries {
		if e.Lock.TryAcquire(e.Mode) {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			b.entries[j].Lock.Release(b.entries[j].Mode)
		}
		return i, false
	}
	return -1, true
}

// TryAcquire attempts the whole batch once. On failure no lock remains
// held and the index of the failing entry is returned.
func (b *Batch) TryAcquire() (failed int, ok bool) {
	if b.held {
		panic("structlock: batch already held")
	}
	failed, ok = b.tryAcquireOnce()
	if ok {
		b.held = true
	}
	return failed, ok
}

// Acquire retries the batch until it succeeds, yielding between
// attempts.
func (b *Batch) Acquire() {
	if b.held {
		panic("structlock: batch already held")
	}
	for {
		if _, ok := b.tryAcquireOnce(); ok {
			b.held = true
			return
		}
		runtime.Gosched()
	}
}

// AcquireAttempts retries the batch at most maxAttempts times. On
// exhaustion it returns a *BatchError carrying the position that failed
// on the final attempt and the positions released during unwind.
func (b *Batch) AcquireAttempts(maxAttempts int) error {
	if b.held {
		panic("structlock: batch already held")
	}
	var failed int
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var ok bool
		if failed, ok = b.tryAcquireOnce(); ok {
			b.held = true
			return nil
		}
		runtime.Gosched()
	}
	released := make([]int, failed)
	for i := range released {
		released[i] = i
	}
	return &BatchError{Index: failed, Released: released, Err: ErrContended}
}

// Release releases every lock in the batch, in reverse acquisition
// order. The batch may be acquired again afterwards.
func (b *Batch) Release() {
	if !b.held {
		panic("structlock: batch not held")
	}
	for i := len(b.entries) - 1; i >= 0; i-- {
		b.entries[i].Lock.Release(b.entries[i].Mode)
	}
	b.held = false
}

// BatchError reports a failed batch acquisition. Index is the position
// of the entry that could not be granted; Released lists the positions
// whose locks were successfully released while unwinding. Callers are
// expected to retry the whole batch.
type BatchError struct {
	Index    int
	Released []int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch acquisition failed at lock %d (%d released during unwind): %v",
		e.Index, len(e.Released), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
