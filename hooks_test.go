package contexts

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"
)

// recorderHook records every callback invocation in order.
type recorderHook struct {
	mu     sync.Mutex
	events []string

	preAddErr    error
	preRemoveErr error
	preEnterErr  error
	preExitErr   error
	postAddErr   error
	postExitErr  error

	suppressCascade bool
}

func (r *recorderHook) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorderHook) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorderHook) PreAdd(e *AddEvent) error {
	r.record("pre-add %d->%d enter=%v", e.Parent.ID(), e.Child.ID(), e.Enter)
	return r.preAddErr
}

func (r *recorderHook) PostAdd(e *AddEvent) error {
	r.record("post-add %d->%d", e.Parent.ID(), e.Child.ID())
	return r.postAddErr
}

func (r *recorderHook) PreRemove(e *RemoveEvent) error {
	r.record("pre-remove %d->%d", e.Parent.ID(), e.Child.ID())
	if r.suppressCascade {
		e.SuppressCascade()
	}
	return r.preRemoveErr
}

func (r *recorderHook) PostRemove(e *RemoveEvent) error {
	r.record("post-remove %d->%d", e.Parent.ID(), e.Child.ID())
	return nil
}

func (r *recorderHook) PreEnter(e *EnterEvent) error {
	r.record("pre-enter %d root=%v", e.Node.ID(), e.Root)
	return r.preEnterErr
}

func (r *recorderHook) PostEnter(e *EnterEvent) error {
	r.record("post-enter %d", e.Node.ID())
	return nil
}

func (r *recorderHook) PreExit(e *ExitEvent) error {
	r.record("pre-exit %d", e.Node.ID())
	return r.preExitErr
}

func (r *recorderHook) PostExit(e *ExitEvent) error {
	r.record("post-exit %d", e.Node.ID())
	return r.postExitErr
}

func TestHookDispatch(t *testing.T) {
	t.Run("enter connect fires add and enter pairs in order", func(t *testing.T) {
		g := NewGraph()
		rec := &recorderHook{}
		g.Subscribe(rec)

		root := g.MustNewNode()
		g.MustEnter(root)
		child := g.MustNewNode()
		g.MustConnect(root, child)

		assert.Equal(t, []string{
			fmt.Sprintf("pre-enter %d root=true", root.ID()),
			fmt.Sprintf("post-enter %d", root.ID()),
			fmt.Sprintf("pre-add %d->%d enter=true", root.ID(), child.ID()),
			fmt.Sprintf("pre-enter %d root=false", child.ID()),
			fmt.Sprintf("post-add %d->%d", root.ID(), child.ID()),
			fmt.Sprintf("post-enter %d", child.ID()),
		}, rec.recorded())
	})

	t.Run("reparent does not fire enter", func(t *testing.T) {
		g := NewGraph()
		root := g.MustNewNode()
		g.MustEnter(root)
		other := g.MustNewNode()
		g.MustEnter(other)

		rec := &recorderHook{}
		g.Subscribe(rec)
		g.MustConnect(root, other)

		assert.Equal(t, []string{
			fmt.Sprintf("pre-add %d->%d enter=false", root.ID(), other.ID()),
			fmt.Sprintf("post-add %d->%d", root.ID(), other.ID()),
		}, rec.recorded())
	})

	t.Run("subscribers run in registration order", func(t *testing.T) {
		g := NewGraph()
		var order []string
		var mu sync.Mutex
		mark := func(name string) Hooks {
			return &funcHook{preEnter: func(*EnterEvent) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			}}
		}
		g.Subscribe(mark("first"))
		g.Subscribe(mark("second"))
		g.Subscribe(mark("third"))

		n := g.MustNewNode()
		g.MustEnter(n)
		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("pre-add error aborts before mutation", func(t *testing.T) {
		g := NewGraph()
		rec := &recorderHook{preAddErr: errors.New("refused")}
		g.Subscribe(rec)

		root := g.MustNewNode()
		assert.NoError(t, g.Enter(root))
		child := g.MustNewNode()

		_, err := g.Connect(root, child)
		assert.Error(t, err)
		assert.Equal(t, 0, root.ChildCount())
		assert.Equal(t, StateCreated, child.State())
		assert.False(t, g.Contains(child))

		// Safe to retry once the hook stops refusing.
		rec.preAddErr = nil
		_, err = g.Connect(root, child)
		assert.NoError(t, err)
		assert.Equal(t, 1, root.ChildCount())
	})

	t.Run("post errors aggregate without stopping dispatch", func(t *testing.T) {
		g := NewGraph()
		first := &recorderHook{postAddErr: errors.New("first failed")}
		second := &recorderHook{postAddErr: errors.New("second failed")}
		g.Subscribe(first)
		g.Subscribe(second)

		root := g.MustNewNode()
		g.MustEnter(root)
		other := g.MustNewNode()
		g.MustEnter(other)

		_, err := g.Connect(root, other)
		assert.Error(t, err)

		var postErr *PostActionError
		assert.True(t, errors.As(err, &postErr))
		assert.Equal(t, "add", postErr.Op)
		assert.Equal(t, 2, len(postErr.Errs.Errors))

		// The mutation committed despite the post-hook failures.
		assert.Equal(t, 1, root.ChildCount())
	})

	t.Run("cascade suppression keeps the orphan alive", func(t *testing.T) {
		g := NewGraph()
		rec := &recorderHook{suppressCascade: true}
		g.Subscribe(rec)

		root := g.MustNewNode()
		g.MustEnter(root)
		child := g.MustNewNode()
		g.MustConnect(root, child)

		assert.NoError(t, g.Disconnect(root, child))
		assert.Equal(t, StateEntered, child.State())
		assert.True(t, g.Contains(child))
		// The orphan is promoted to a root.
		assert.Equal(t, []uint64{root.id, child.id}, ids(g.Roots()))
	})

	t.Run("subscribers can inspect nodes from inside a hook", func(t *testing.T) {
		g := NewGraph()
		var parentIDs, childIDs, ancestorIDs []uint64
		g.Subscribe(&funcHook{postAdd: func(e *AddEvent) error {
			// These must not block on the locks the dispatching connect
			// still holds.
			parentIDs = ids(e.Child.Parents())
			childIDs = ids(e.Parent.Children())
			ancestorIDs = ids(g.Ancestors(e.Child))
			return nil
		}})

		root := g.MustNewNode()
		g.MustEnter(root)
		child := g.MustNewNode()
		g.MustConnect(root, child)

		assert.Equal(t, []uint64{root.ID()}, parentIDs)
		assert.Equal(t, []uint64{child.ID()}, childIDs)
		assert.Equal(t, []uint64{root.ID()}, ancestorIDs)
	})

	t.Run("async hook caller preserves invocation order", func(t *testing.T) {
		queue := make(chan func() error, 64)
		g := NewGraph(WithHookCaller(func(fn func() error) error {
			queue <- fn
			return nil
		}))
		rec := &recorderHook{}
		g.Subscribe(rec)

		root := g.MustNewNode()
		g.MustEnter(root)
		close(queue)
		for fn := range queue {
			assert.NoError(t, fn())
		}
		assert.Equal(t, []string{
			fmt.Sprintf("pre-enter %d root=true", root.ID()),
			fmt.Sprintf("post-enter %d", root.ID()),
		}, rec.recorded())
	})
}

// funcHook adapts single callbacks for tests.
type funcHook struct {
	HookBase
	preEnter func(*EnterEvent) error
	postAdd  func(*AddEvent) error
}

func (f *funcHook) PreEnter(e *EnterEvent) error {
	if f.preEnter != nil {
		return f.preEnter(e)
	}
	return nil
}

func (f *funcHook) PostAdd(e *AddEvent) error {
	if f.postAdd != nil {
		return f.postAdd(e)
	}
	return nil
}
