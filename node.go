package contexts

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chuanwise/contexts-sub000/internal/structlock"
	"golang.org/x/exp/maps"
)

// State is the lifecycle state of a Node. It is monotonic: a node moves
// from Created to Entered to Exited and never back.
type State int32

const (
	// StateCreated is a node that exists but is not yet part of any
	// graph registry.
	StateCreated State = iota
	// StateEntered is a live node: its post-enter hooks have fired and
	// it is tracked by its graph.
	StateEntered
	// StateExited is terminal. An exited node supports no further
	// structural operations.
	StateExited
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateEntered:
		return "Entered"
	case StateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Key is an edge key: the slot identity a node occupies among its
// siblings. Empty means unkeyed. Keys cannot contain whitespace.
type Key string

// Validate checks the key. The empty key is valid (unkeyed).
func (k Key) Validate() error {
	if strings.ContainsAny(string(k), " \t\n\r") {
		return fmt.Errorf("%w: key %q cannot contain whitespace", ErrInvalidKey, k)
	}
	return nil
}

// Node is one vertex of the lifecycle graph: a unit of lifecycle with
// parent and child edges, an optional key, and an attached resource
// scope.
//
// All structural mutation goes through the owning Graph (Connect,
// Disconnect, Enter, Exit). Accessors return point-in-time snapshots;
// the graph may have changed by the time the caller looks at them.
type Node struct {
	id    uint64
	key   Key
	graph *Graph
	state atomic.Int32
	// exiting commits a thread to running the exit hooks; it keeps the
	// pre/post-exit pair exactly-once while still allowing a retry
	// after a pre-exit refusal.
	exiting atomic.Bool
	lock    *structlock.Lock

	// colMu guards the four edge collections. The structural lock
	// arbitrates which operations may run; colMu only makes the map
	// writes themselves safe, since several Remove holders may mutate
	// at once.
	colMu         sync.Mutex
	parents       map[uint64]*Node
	children      map[uint64]*Node
	keyedParents  map[Key]*Node
	keyedChildren map[Key]*Node

	resMu     sync.Mutex
	resources ResourceRegistry
}

// ID returns the node's graph-unique identity. IDs are assigned
// monotonically and double as the global lock-acquisition order.
func (n *Node) ID() uint64 { return n.id }

// Key returns the node's edge key, or the empty key if unkeyed.
func (n *Node) Key() Key { return n.key }

// Graph returns the owning graph.
func (n *Node) Graph() *Graph { return n.graph }

// State returns the node's current lifecycle state.
func (n *Node) State() State { return State(n.state.Load()) }

// Entered reports whether the node is live.
func (n *Node) Entered() bool { return n.State() == StateEntered }

// Exited reports whether the node has reached its terminal state.
func (n *Node) Exited() bool { return n.State() == StateExited }

// Parents returns a point-in-time snapshot of the node's parents,
// ordered by node id. The copy is taken under the collection mutex
// alone, so it never blocks on an in-flight structural operation and
// is safe to call from inside a hook.
func (n *Node) Parents() []*Node {
	return n.parentsSnapshot()
}

// Children returns a point-in-time snapshot of the node's children,
// ordered by node id. Like Parents, it is safe to call from inside a
// hook.
func (n *Node) Children() []*Node {
	return n.childrenSnapshot()
}

// Parent returns the parent occupying the given key slot.
func (n *Node) Parent(key Key) (*Node, bool) {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	p, ok := n.keyedParents[key]
	return p, ok
}

// Child returns the child occupying the given key slot.
func (n *Node) Child(key Key) (*Node, bool) {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	c, ok := n.keyedChildren[key]
	return c, ok
}

// ParentOrErr is the or-fail variant of Parent.
func (n *Node) ParentOrErr(key Key) (*Node, error) {
	if p, ok := n.Parent(key); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: no parent with key %q", ErrNodeNotFound, key)
}

// ChildOrErr is the or-fail variant of Child.
func (n *Node) ChildOrErr(key Key) (*Node, error) {
	if c, ok := n.Child(key); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: no child with key %q", ErrNodeNotFound, key)
}

// ParentCount reports the number of parent edges.
func (n *Node) ParentCount() int {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	return len(n.parents)
}

// ChildCount reports the number of child edges.
func (n *Node) ChildCount() int {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	return len(n.children)
}

// IsRoot reports whether the node is live with no parents.
func (n *Node) IsRoot() bool {
	return n.Entered() && n.ParentCount() == 0
}

// Resources returns the node's attached resource scope, creating the
// default ResourceSet on first use. Resolution across ancestor scopes
// is done by LookupResource, not here.
func (n *Node) Resources() ResourceRegistry {
	n.resMu.Lock()
	defer n.resMu.Unlock()
	if n.resources == nil {
		n.resources = NewResourceSet()
	}
	return n.resources
}

func (n *Node) String() string {
	if n.key != "" {
		return fmt.Sprintf("node(%d:%s)", n.id, n.key)
	}
	return fmt.Sprintf("node(%d)", n.id)
}

// parentsSnapshot copies the parent set under colMu. The copy is
// atomic per node; cross-node consistency needs the structural locks.
func (n *Node) parentsSnapshot() []*Node {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	return sortedByID(maps.Values(n.parents))
}

func (n *Node) childrenSnapshot() []*Node {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	return sortedByID(maps.Values(n.children))
}

// keyedChildSnapshot returns the occupant of a keyed child slot, nil if
// the slot is empty.
func (n *Node) keyedChildSnapshot(key Key) *Node {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	return n.keyedChildren[key]
}

func (n *Node) hasChild(c *Node) bool {
	n.colMu.Lock()
	defer n.colMu.Unlock()
	_, ok := n.children[c.id]
	return ok
}

// linkTo inserts the symmetric edge n -> child. The keyed indices are
// updated together with the plain sets so they never disagree. Callers
// hold Add mode on both endpoints.
func (n *Node) linkTo(child *Node) {
	n.colMu.Lock()
	n.children[child.id] = child
	if child.key != "" {
		n.keyedChildren[child.key] = child
	}
	n.colMu.Unlock()

	child.colMu.Lock()
	child.parents[n.id] = n
	if n.key != "" {
		child.keyedParents[n.key] = n
	}
	child.colMu.Unlock()
}

// unlinkFrom removes the symmetric edge n -> child. Keyed slots are
// only cleared while they still point at the departing node, so a
// replacement installed under the same key survives.
func (n *Node) unlinkFrom(child *Node) {
	n.colMu.Lock()
	delete(n.children, child.id)
	if child.key != "" && n.keyedChildren[child.key] == child {
		delete(n.keyedChildren, child.key)
	}
	n.colMu.Unlock()

	child.colMu.Lock()
	delete(child.parents, n.id)
	if n.key != "" && child.keyedParents[n.key] == n {
		delete(child.keyedParents, n.key)
	}
	child.colMu.Unlock()
}

func sortedByID(nodes []*Node) []*Node {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })
	return nodes
}
