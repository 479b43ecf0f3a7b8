package contexts

import (
	"fmt"
	"runtime"

	"github.com/chuanwise/contexts-sub000/internal/structlock"
	"go.uber.org/multierr"
)

// Result reports what a Connect call did.
type Result int

const (
	// ResultApplied means the edge was inserted.
	ResultApplied Result = iota
	// ResultNoOp means the graph was left untouched: the edge already
	// existed, or a same-keyed sibling occupied the slot and replace
	// was off.
	ResultNoOp
	// ResultReplaced means a same-keyed occupant was disconnected
	// before the edge was inserted.
	ResultReplaced
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "Applied"
	case ResultNoOp:
		return "NoOp"
	case ResultReplaced:
		return "Replaced"
	default:
		return "Unknown"
	}
}

// Connect inserts the directed edge parent -> child.
//
// The parent must be live; the child may be live (a reparent) or
// freshly created, in which case it enters the graph through this
// connect and its enter hooks fire. Neither endpoint may have exited.
// An edge that would close a directed cycle is rejected with
// ErrCycleDetected.
//
// Connect locks the connected components of both endpoints: Add mode
// on the two endpoints, Read mode on every other member, acquired
// all-or-nothing in global id order. Two Adds into the same component
// therefore serialize, while removals elsewhere in the graph proceed
// concurrently. A keyed connect with WithReplace(true) holds the other
// members in Remove mode instead, since evicting the occupant may
// mutate nodes well beyond the two endpoints.
func (g *Graph) Connect(parent, child *Node, opts ...ConnectOption) (Result, error) {
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := g.checkOwned(parent, child); err != nil {
		return ResultNoOp, err
	}
	if parent == child {
		return ResultNoOp, ErrSelfConnect
	}

	// A replace can evict an occupant and cascade-exit its subtree, all
	// inside the held component; those members get mutated, so they
	// must be held in Remove mode rather than Read.
	mayReplace := cfg.replace && child.key != ""
	batch := g.lockComponent([]*Node{parent, child}, func(n *Node) structlock.Mode {
		if n == parent || n == child {
			return structlock.ModeAdd
		}
		if mayReplace {
			return structlock.ModeRemove
		}
		return structlock.ModeRead
	})
	defer batch.Release()

	// Re-validate under locks; states may have moved while we raced
	// for the component.
	if parent.Exited() || child.Exited() {
		return ResultNoOp, ErrNodeExited
	}
	if !parent.Entered() {
		return ResultNoOp, fmt.Errorf("%w: parent %s", ErrNodeNotEntered, parent)
	}
	if parent.hasChild(child) {
		// Identity-based duplicate check: the exact edge exists.
		return ResultNoOp, nil
	}
	if g.reachesViaParents(parent, child) {
		return ResultNoOp, fmt.Errorf("%w: %s is an ancestor of %s", ErrCycleDetected, child, parent)
	}

	entering := child.State() == StateCreated

	ev := &AddEvent{Parent: parent, Child: child, Key: child.key, Enter: entering}
	if err := g.dispatchPre(func(h Hooks) error { return h.PreAdd(ev) }); err != nil {
		return ResultNoOp, err
	}

	result := ResultApplied
	var postErr error
	if child.key != "" {
		if occupant := parent.keyedChildSnapshot(child.key); occupant != nil && occupant != child {
			if !cfg.replace {
				return ResultNoOp, nil
			}
			// The occupant gets a full removal cycle, cascading within
			// the component we already hold.
			preErr, removePostErr := g.removeEdgeLocked(parent, occupant, false, g.exitLocked)
			if preErr != nil {
				// Pre-remove refused; nothing has mutated yet.
				return ResultNoOp, preErr
			}
			postErr = multierr.Append(postErr, removePostErr)
			result = ResultReplaced
		}
	}

	var enterEv *EnterEvent
	if entering {
		enterEv = &EnterEvent{Node: child}
		if err := g.dispatchPre(func(h Hooks) error { return h.PreEnter(enterEv) }); err != nil {
			return ResultNoOp, multierr.Append(err, postErr)
		}
		if !child.state.CompareAndSwap(int32(StateCreated), int32(StateEntered)) {
			return ResultNoOp, multierr.Append(ErrNodeExited, postErr)
		}
	}

	parent.linkTo(child)

	// An Exit may run concurrently with a pending Add by design. If an
	// endpoint flipped to Exited before this point, its disconnection
	// sweep may have snapshotted the edge sets before our insert; back
	// the edge out. If it flips after this recheck, the sweep is
	// guaranteed to see the new edge and tear it down itself.
	if parent.Exited() || child.Exited() {
		parent.unlinkFrom(child)
		if child.Entered() && child.ParentCount() == 0 {
			g.markRoot(child)
		}
		return ResultNoOp, multierr.Append(ErrNodeExited, postErr)
	}

	g.unmarkRoot(child)
	g.log.Debug("edge added",
		"parent", parent.String(), "child", child.String(), "enter", entering, "result", result.String())

	postErr = multierr.Append(postErr, g.dispatchPost("add", func(h Hooks) error { return h.PostAdd(ev) }))
	if entering {
		postErr = multierr.Append(postErr, g.dispatchPost("enter", func(h Hooks) error { return h.PostEnter(enterEv) }))
		g.register(child, false)
	}
	return result, postErr
}

// MustConnect is like Connect but panics on error.
func (g *Graph) MustConnect(parent, child *Node, opts ...ConnectOption) Result {
	res, err := g.Connect(parent, child, opts...)
	if err != nil {
		panic(err)
	}
	return res
}

// Disconnect removes the directed edge parent -> child.
//
// Both endpoints are locked in Remove mode, so any number of
// disconnects proceed concurrently with each other and with a pending
// Add elsewhere on the same nodes. If the removal orphans a live child
// and no pre-remove subscriber suppressed the cascade, the child is
// exited recursively.
func (g *Graph) Disconnect(parent, child *Node) error {
	if err := g.checkOwned(parent, child); err != nil {
		return err
	}

	batch := structlock.NewBatch(
		structlock.Entry{ID: parent.id, Lock: parent.lock, Mode: structlock.ModeRemove},
		structlock.Entry{ID: child.id, Lock: child.lock, Mode: structlock.ModeRemove},
	)
	batch.Acquire()
	defer batch.Release()

	if !parent.hasChild(child) {
		return fmt.Errorf("%w: %s is not a child of %s", ErrEdgeNotFound, child, parent)
	}

	// The cascade re-acquires the child's component in Remove mode;
	// Remove holds are counted, so our own holds do not conflict.
	preErr, postErr := g.removeEdgeLocked(parent, child, false, g.Exit)
	if preErr != nil {
		return preErr
	}
	return postErr
}

// removeEdgeLocked fires the pre-remove hook, removes the edge from
// both endpoints, fires the post-remove hook, and applies the orphan
// cascade through exitFn. The caller must hold locks that exclude
// concurrent Adds and Reads on both endpoints.
//
// With force off, a pre-remove error aborts before any mutation and is
// returned as preErr. With force on (removals driven by an exit, which
// runs to completion once started) pre-remove errors are collected
// into postErr and the removal proceeds. Post-remove and cascade
// errors are always aggregated into postErr; the removal stays
// committed.
func (g *Graph) removeEdgeLocked(parent, child *Node, force bool, exitFn func(*Node) error) (preErr, postErr error) {
	ev := &RemoveEvent{Parent: parent, Child: child, Key: child.key, cascade: true, pre: true}
	if err := g.dispatchPre(func(h Hooks) error { return h.PreRemove(ev) }); err != nil {
		if !force {
			return err, nil
		}
		postErr = multierr.Append(postErr, err)
	}
	ev.pre = false

	parent.unlinkFrom(child)
	g.log.Debug("edge removed",
		"parent", parent.String(), "child", child.String(), "cascade", ev.cascade)

	postErr = multierr.Append(postErr,
		g.dispatchPost("remove", func(h Hooks) error { return h.PostRemove(ev) }))

	if child.Entered() && child.ParentCount() == 0 {
		if ev.cascade {
			postErr = multierr.Append(postErr, exitFn(child))
		} else {
			g.markRoot(child)
		}
	}
	return nil, postErr
}

// reachesViaParents reports whether target is reachable from start by
// following parent edges only. The caller must hold the component.
func (g *Graph) reachesViaParents(start, target *Node) bool {
	visited := make(map[uint64]bool)
	queue := []*Node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n.id] {
			continue
		}
		visited[n.id] = true
		for _, p := range n.parentsSnapshot() {
			if p == target {
				return true
			}
			queue = append(queue, p)
		}
	}
	return false
}

// componentOf collects the connected component (transitive parent and
// child closure) of the seed nodes, from colMu-level snapshots. The
// result is only a candidate set until verified under locks.
func componentOf(seeds []*Node) map[uint64]*Node {
	members := make(map[uint64]*Node, len(seeds))
	queue := make([]*Node, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := members[s.id]; !ok {
			members[s.id] = s
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, nb := range append(n.parentsSnapshot(), n.childrenSnapshot()...) {
			if _, ok := members[nb.id]; !ok {
				members[nb.id] = nb
				queue = append(queue, nb)
			}
		}
	}
	return members
}

// lockComponent acquires the connected component of the seeds,
// all-or-nothing. The member set is computed from unlocked snapshots,
// acquired in id order, then re-verified under the locks; if the
// component changed in between, everything is released and the whole
// acquisition restarts.
func (g *Graph) lockComponent(seeds []*Node, modeFor func(*Node) structlock.Mode) *structlock.Batch {
	for {
		members := componentOf(seeds)
		entries := make([]structlock.Entry, 0, len(members))
		for id, n := range members {
			entries = append(entries, structlock.Entry{ID: id, Lock: n.lock, Mode: modeFor(n)})
		}
		batch := structlock.NewBatch(entries...)
		if _, ok := batch.TryAcquire(); !ok {
			runtime.Gosched()
			continue
		}
		if sameMembers(members, componentOf(seeds)) {
			return batch
		}
		batch.Release()
		runtime.Gosched()
	}
}

func sameMembers(a, b map[uint64]*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			return false
		}
	}
	return true
}
