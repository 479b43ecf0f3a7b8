package contexts

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chuanwise/contexts-sub000/internal/structlock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
)

// Graph owns a forest of lifecycle nodes: the registry of live nodes,
// the subset with no parents (roots), and the hook subscribers that
// observe every structural change.
//
// A Graph is an ordinary value with explicit construction and
// teardown; a process may run any number of independent graphs.
type Graph struct {
	id         string
	log        *slog.Logger
	hookCaller HookCaller

	nextID atomic.Uint64

	// mu guards the registry, root set and subscriber list. Node edge
	// collections are guarded by the per-node structural locks, not by
	// mu.
	mu    sync.Mutex
	nodes map[uint64]*Node
	roots map[uint64]*Node
	hooks []Hooks
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		id:         uuid.NewString(),
		log:        NullLogger(),
		hookCaller: syncHookCaller,
		nodes:      make(map[uint64]*Node),
		roots:      make(map[uint64]*Node),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("graph", g.id)
	return g
}

// ID returns the graph's instance identity, used for log attribution.
func (g *Graph) ID() string { return g.id }

// NewNode creates a detached node in the Created state. The node joins
// the graph's registry when it enters, either explicitly via Enter or
// by being connected under a live parent.
func (g *Graph) NewNode(opts ...NodeOption) (*Node, error) {
	n := &Node{
		id:            g.nextID.Add(1),
		graph:         g,
		lock:          structlock.New(),
		parents:       make(map[uint64]*Node),
		children:      make(map[uint64]*Node),
		keyedParents:  make(map[Key]*Node),
		keyedChildren: make(map[Key]*Node),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// MustNewNode is like NewNode but panics on error.
func (g *Graph) MustNewNode(opts ...NodeOption) *Node {
	n, err := g.NewNode(opts...)
	if err != nil {
		panic(err)
	}
	return n
}

// Len reports the number of live nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Nodes returns a snapshot of all live nodes, ordered by id.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedByID(maps.Values(g.nodes))
}

// Roots returns a snapshot of the live nodes with no parents, ordered
// by id.
func (g *Graph) Roots() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedByID(maps.Values(g.roots))
}

// Contains reports whether the node is currently in the live registry.
func (g *Graph) Contains(n *Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nodes[n.id]
	return ok
}

// Close exits every live node, roots first, cascading through the
// whole forest. Errors from exit hooks are aggregated; Close keeps
// going past failures. Each node is attempted at most once, so a node
// whose pre-exit hook keeps refusing stays live and its error is
// reported exactly once.
func (g *Graph) Close() error {
	var err error
	tried := make(map[uint64]bool)
	for _, r := range g.Roots() {
		tried[r.id] = true
		err = multierr.Append(err, g.Exit(r))
	}
	// Sweep whatever the root cascades left behind, e.g. nodes that
	// were still mid-enter while the roots drained.
	for _, n := range g.Nodes() {
		if tried[n.id] {
			continue
		}
		err = multierr.Append(err, g.Exit(n))
	}
	return err
}

// register adds a freshly entered node to the live registry. Called
// after its post-enter hooks complete.
func (g *Graph) register(n *Node, root bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.id] = n
	if root {
		g.roots[n.id] = n
	}
}

// unregister removes an exited node. Called after its post-exit hooks
// complete.
func (g *Graph) unregister(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, n.id)
	delete(g.roots, n.id)
}

// markRoot tracks a live node that lost its last parent but was kept
// alive by a cascade opt-out.
func (g *Graph) markRoot(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, live := g.nodes[n.id]; live {
		g.roots[n.id] = n
	}
}

// unmarkRoot untracks a node that gained a parent.
func (g *Graph) unmarkRoot(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.roots, n.id)
}

// checkOwned verifies that every node belongs to this graph.
func (g *Graph) checkOwned(nodes ...*Node) error {
	for _, n := range nodes {
		if n.graph != g {
			return ErrWrongGraph
		}
	}
	return nil
}
