package contexts

import (
	"github.com/chuanwise/contexts-sub000/internal/structlock"
	"go.uber.org/multierr"
)

// Enter makes a created node live as a root: the pre-enter hook fires,
// the node transitions to Entered, the post-enter hook fires, and the
// node joins the live registry the moment post-enter completes.
//
// Entering an already-live node is a no-op; entering an exited node
// returns ErrNodeExited. A pre-enter error aborts before the state
// transition, so the enter can be retried.
func (g *Graph) Enter(n *Node) error {
	if err := g.checkOwned(n); err != nil {
		return err
	}

	n.lock.Acquire(structlock.ModeAdd)
	defer n.lock.Release(structlock.ModeAdd)

	switch n.State() {
	case StateEntered:
		return nil
	case StateExited:
		return ErrNodeExited
	}

	ev := &EnterEvent{Node: n, Root: true}
	if err := g.dispatchPre(func(h Hooks) error { return h.PreEnter(ev) }); err != nil {
		return err
	}
	if !n.state.CompareAndSwap(int32(StateCreated), int32(StateEntered)) {
		// Lost to a concurrent exit of the created node.
		return ErrNodeExited
	}
	g.log.Debug("node entered", "node", n.String(), "root", true)

	postErr := g.dispatchPost("enter", func(h Hooks) error { return h.PostEnter(ev) })
	g.register(n, true)
	return postErr
}

// MustEnter is like Enter but panics on error.
func (g *Graph) MustEnter(n *Node) {
	if err := g.Enter(n); err != nil {
		panic(err)
	}
}

// Exit is the terminal operation on a node. It is idempotent: the
// second and later calls are no-ops and the pre/post-exit pair fires
// exactly once. The node is disconnected from every current parent and
// child, each removal following the full Disconnect rules, and leaves
// the live registry once post-exit completes. Children orphaned by the
// sweep are exited recursively unless a pre-remove subscriber
// suppresses the cascade.
//
// A pre-exit error aborts before any mutation and the exit may be
// retried. Once the sweep starts, hook errors are collected and the
// exit runs to completion.
func (g *Graph) Exit(n *Node) error {
	if err := g.checkOwned(n); err != nil {
		return err
	}
	if n.Exited() {
		return nil
	}

	batch := g.lockComponent([]*Node{n}, func(*Node) structlock.Mode {
		return structlock.ModeRemove
	})
	defer batch.Release()

	return g.exitLocked(n)
}

// exitLocked runs the exit protocol assuming the caller holds the
// node's connected component in a mode excluding concurrent Adds and
// Reads. Cascaded exits stay within that component, so the recursion
// never needs locks the caller does not already hold.
func (g *Graph) exitLocked(n *Node) error {
	// A node that never entered exits silently: it was never live, has
	// no edges, and owes no hooks.
	if n.state.CompareAndSwap(int32(StateCreated), int32(StateExited)) {
		return nil
	}
	if !n.exiting.CompareAndSwap(false, true) {
		return nil
	}
	if n.Exited() {
		return nil
	}

	ev := &ExitEvent{Node: n}
	if err := g.dispatchPre(func(h Hooks) error { return h.PreExit(ev) }); err != nil {
		n.exiting.Store(false)
		return err
	}

	n.state.Store(int32(StateExited))
	g.log.Debug("node exiting", "node", n.String())

	// Iterate locally captured snapshots; the removals below mutate
	// the live collections.
	var err error
	for _, p := range n.parentsSnapshot() {
		_, postErr := g.removeEdgeLocked(p, n, true, g.exitLocked)
		err = multierr.Append(err, postErr)
	}
	for _, c := range n.childrenSnapshot() {
		_, postErr := g.removeEdgeLocked(n, c, true, g.exitLocked)
		err = multierr.Append(err, postErr)
	}

	err = multierr.Append(err, g.dispatchPost("exit", func(h Hooks) error { return h.PostExit(ev) }))
	g.unregister(n)
	return err
}
