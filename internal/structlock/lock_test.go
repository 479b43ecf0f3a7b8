package structlock

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/sync/errgroup"
)

func TestLockModes(t *testing.T) {
	t.Run("free lock grants every mode", func(t *testing.T) {
		for _, m := range []Mode{ModeRead, ModeAdd, ModeRemove} {
			l := New()
			assert.True(t, l.TryAcquire(m))
		}
	})

	t.Run("read is shared with read only", func(t *testing.T) {
		l := New()
		assert.True(t, l.TryAcquire(ModeRead))
		assert.True(t, l.TryAcquire(ModeRead))
		assert.Equal(t, 2, l.Readers())
		assert.Equal(t, StateRead, l.State())

		assert.False(t, l.TryAcquire(ModeAdd))
		assert.False(t, l.TryAcquire(ModeRemove))

		l.Release(ModeRead)
		l.Release(ModeRead)
		assert.Equal(t, StateFree, l.State())
	})

	t.Run("single add slot", func(t *testing.T) {
		l := New()
		assert.True(t, l.TryAcquire(ModeAdd))
		assert.Equal(t, StateAddOnly, l.State())

		assert.False(t, l.TryAcquire(ModeAdd))
		assert.False(t, l.TryAcquire(ModeRead))
	})

	t.Run("removers join a pending add", func(t *testing.T) {
		l := New()
		assert.True(t, l.TryAcquire(ModeAdd))
		assert.True(t, l.TryAcquire(ModeRemove))
		assert.True(t, l.TryAcquire(ModeRemove))
		assert.Equal(t, StateAddAndRemove, l.State())
		assert.Equal(t, 2, l.Removers())

		// Releasing the add while removers are active drops to RemoveOnly.
		l.Release(ModeAdd)
		assert.Equal(t, StateRemoveOnly, l.State())

		l.Release(ModeRemove)
		l.Release(ModeRemove)
		assert.Equal(t, StateFree, l.State())
	})

	t.Run("add joins active removers", func(t *testing.T) {
		l := New()
		assert.True(t, l.TryAcquire(ModeRemove))
		assert.Equal(t, StateRemoveOnly, l.State())

		assert.True(t, l.TryAcquire(ModeAdd))
		assert.Equal(t, StateAddAndRemove, l.State())

		// Last remover out: AddAndRemove degrades to AddOnly.
		l.Release(ModeRemove)
		assert.Equal(t, StateAddOnly, l.State())
	})

	t.Run("removers block readers", func(t *testing.T) {
		l := New()
		assert.True(t, l.TryAcquire(ModeRemove))
		assert.False(t, l.TryAcquire(ModeRead))
	})

	t.Run("release without holder panics", func(t *testing.T) {
		l := New()
		assert.Panics(t, func() { l.Release(ModeRead) })
		assert.Panics(t, func() { l.Release(ModeAdd) })
		assert.Panics(t, func() { l.Release(ModeRemove) })
	})
}

func TestLockAddMutualExclusion(t *testing.T) {
	// No two goroutines may ever hold Add simultaneously.
	l := New()
	var inAdd atomic.Int32
	var violations atomic.Int32

	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			for n := 0; n < 500; n++ {
				l.Acquire(ModeAdd)
				if inAdd.Add(1) != 1 {
					violations.Add(1)
				}
				inAdd.Add(-1)
				l.Release(ModeAdd)
			}
			return nil
		})
	}
	assert.NoError(t, eg.Wait())
	assert.Equal(t, int32(0), violations.Load())
}

func TestLockRemoversDoNotBlockEachOther(t *testing.T) {
	l := New()
	const n = 16

	// All removers acquire before any releases; if removers serialized
	// against each other this would deadlock.
	var ready sync.WaitGroup
	ready.Add(n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			l.Acquire(ModeRemove)
			ready.Done()
			ready.Wait()
			l.Release(ModeRemove)
			return nil
		})
	}
	assert.NoError(t, eg.Wait())
	assert.Equal(t, StateFree, l.State())
}

func TestBatch(t *testing.T) {
	t.Run("acquires all entries in id order", func(t *testing.T) {
		a, b, c := New(), New(), New()
		batch := NewBatch(
			Entry{ID: 3, Lock: c, Mode: ModeRead},
			Entry{ID: 1, Lock: a, Mode: ModeAdd},
			Entry{ID: 2, Lock: b, Mode: ModeRead},
		)
		_, ok := batch.TryAcquire()
		assert.True(t, ok)
		assert.Equal(t, StateAddOnly, a.State())
		assert.Equal(t, StateRead, b.State())
		assert.Equal(t, StateRead, c.State())

		batch.Release()
		assert.Equal(t, StateFree, a.State())
		assert.Equal(t, StateFree, b.State())
		assert.Equal(t, StateFree, c.State())
	})

	t.Run("failure releases the acquired prefix", func(t *testing.T) {
		a, b, c := New(), New(), New()
		// Block the middle entry.
		assert.True(t, b.TryAcquire(ModeAdd))

		batch := NewBatch(
			Entry{ID: 1, Lock: a, Mode: ModeRead},
			Entry{ID: 2, Lock: b, Mode: ModeRead},
			Entry{ID: 3, Lock: c, Mode: ModeRead},
		)
		failed, ok := batch.TryAcquire()
		assert.False(t, ok)
		assert.Equal(t, 1, failed)
		// Nothing from the batch is left held.
		assert.Equal(t, StateFree, a.State())
		assert.Equal(t, StateFree, c.State())
		assert.Equal(t, StateAddOnly, b.State())
	})

	t.Run("bounded acquisition reports the failing index", func(t *testing.T) {
		a, b := New(), New()
		assert.True(t, b.TryAcquire(ModeRead))

		batch := NewBatch(
			Entry{ID: 1, Lock: a, Mode: ModeRead},
			Entry{ID: 2, Lock: b, Mode: ModeAdd},
		)
		err := batch.AcquireAttempts(3)
		assert.Error(t, err)

		var batchErr *BatchError
		assert.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 1, batchErr.Index)
		assert.Equal(t, []int{0}, batchErr.Released)
		assert.True(t, errors.Is(err, ErrContended))
		assert.Equal(t, StateFree, a.State())
	})

	t.Run("duplicate remove entries are counted", func(t *testing.T) {
		l := New()
		batch := NewBatch(
			Entry{ID: 1, Lock: l, Mode: ModeRemove},
			Entry{ID: 1, Lock: l, Mode: ModeRemove},
		)
		_, ok := batch.TryAcquire()
		assert.True(t, ok)
		assert.Equal(t, 2, l.Removers())
		batch.Release()
		assert.Equal(t, StateFree, l.State())
	})

	t.Run("overlapping batches do not deadlock", func(t *testing.T) {
		locks := []*Lock{New(), New(), New(), New()}
		var eg errgroup.Group
		for i := 0; i < 8; i++ {
			i := i
			eg.Go(func() error {
				for n := 0; n < 200; n++ {
					// Each goroutine contends for an overlapping pair.
					first := locks[i%len(locks)]
					second := locks[(i+1)%len(locks)]
					batch := NewBatch(
						Entry{ID: uint64(i % len(locks)), Lock: first, Mode: ModeAdd},
						Entry{ID: uint64((i + 1) % len(locks)), Lock: second, Mode: ModeAdd},
					)
					batch.Acquire()
					batch.Release()
				}
				return nil
			})
		}
		assert.NoError(t, eg.Wait())
		for _, l := range locks {
			assert.Equal(t, StateFree, l.State())
		}
	})
}
