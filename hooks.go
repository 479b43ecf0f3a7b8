package contexts

import (
	"github.com/hashicorp/go-multierror"
)

// AddEvent describes an edge insertion. Enter is true when the child is
// a brand-new subtree entering the graph through this connect, false
// when a pre-existing subtree is being reparented.
type AddEvent struct {
	Parent *Node
	Child  *Node
	Key    Key
	Enter  bool
}

// RemoveEvent describes an edge removal. During the pre-remove hook a
// subscriber may call SuppressCascade to keep the child alive even if
// this removal orphans it; by default an orphaned child is exited.
type RemoveEvent struct {
	Parent *Node
	Child  *Node
	Key    Key

	cascade bool
	pre     bool
}

// SuppressCascade opts out of the orphan cascade for this removal. It
// only has an effect from a pre-remove hook.
func (e *RemoveEvent) SuppressCascade() {
	if e.pre {
		e.cascade = false
	}
}

// CascadeEnabled reports whether the orphan cascade is still on.
func (e *RemoveEvent) CascadeEnabled() bool { return e.cascade }

// EnterEvent describes a node becoming live. Root is true for an
// explicit root enter, false when the node entered by being connected
// under a live parent.
type EnterEvent struct {
	Node *Node
	Root bool
}

// ExitEvent describes a node reaching its terminal state.
type ExitEvent struct {
	Node *Node
}

// Hooks receives the structural callbacks of a graph: pre and post for
// each of Add, Remove, Enter and Exit.
//
// Pre-hook errors propagate to the caller of the structural operation
// and abort it before any mutation; the operation is safe to retry.
// Post-hook errors are collected across all subscribers and surfaced
// as a *PostActionError after every subscriber has run; the mutation
// has already committed and is not rolled back.
//
// Embed HookBase to implement only the callbacks you need.
type Hooks interface {
	PreAdd(e *AddEvent) error
	PostAdd(e *AddEvent) error
	PreRemove(e *RemoveEvent) error
	PostRemove(e *RemoveEvent) error
	PreEnter(e *EnterEvent) error
	PostEnter(e *EnterEvent) error
	PreExit(e *ExitEvent) error
	PostExit(e *ExitEvent) error
}

// HookBase is a no-op Hooks implementation for embedding.
type HookBase struct{}

func (HookBase) PreAdd(*AddEvent) error        { return nil }
func (HookBase) PostAdd(*AddEvent) error       { return nil }
func (HookBase) PreRemove(*RemoveEvent) error  { return nil }
func (HookBase) PostRemove(*RemoveEvent) error { return nil }
func (HookBase) PreEnter(*EnterEvent) error    { return nil }
func (HookBase) PostEnter(*EnterEvent) error   { return nil }
func (HookBase) PreExit(*ExitEvent) error      { return nil }
func (HookBase) PostExit(*ExitEvent) error     { return nil }

// HookCaller is the execution strategy for a single hook callback. The
// default caller invokes the callback inline. A host wanting
// asynchronous dispatch can enqueue the callback and return nil; the
// dispatch-order guarantee covers invocation order, not completion.
type HookCaller func(fn func() error) error

func syncHookCaller(fn func() error) error { return fn() }

// Subscribe registers a hook subscriber. Subscribers are dispatched in
// registration order. Subscribe must not be called from inside a hook.
func (g *Graph) Subscribe(h Hooks) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, h)
}

// subscribers returns the current subscriber list. The slice is append
// only, so the snapshot stays valid for the whole dispatch.
func (g *Graph) subscribers() []Hooks {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hooks
}

// dispatchPre runs one pre-hook over all subscribers in order. The
// first error aborts dispatch and is returned as-is.
func (g *Graph) dispatchPre(call func(Hooks) error) error {
	for _, h := range g.subscribers() {
		h := h
		if err := g.hookCaller(func() error { return call(h) }); err != nil {
			return err
		}
	}
	return nil
}

// dispatchPost runs one post-hook over all subscribers. Errors do not
// stop dispatch; they are aggregated into a *PostActionError.
func (g *Graph) dispatchPost(op string, call func(Hooks) error) error {
	var errs *multierror.Error
	for _, h := range g.subscribers() {
		h := h
		if err := g.hookCaller(func() error { return call(h) }); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs == nil {
		return nil
	}
	return &PostActionError{Op: op, Errs: errs}
}
