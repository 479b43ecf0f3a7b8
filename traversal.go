package contexts

import (
	"fmt"
	"slices"
	"sort"
)

// Direction selects which edge family a traversal follows.
type Direction int

const (
	// Up follows parent edges: ancestors, and dependency order with
	// descendants emitted before the nodes they depend on.
	Up Direction = iota
	// Down follows child edges.
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "Unknown"
	}
}

// Ancestors returns every node reachable from n by following parent
// edges, breadth-first, nearest ancestors first. The node itself is
// not included. The result is a point-in-time snapshot.
func (g *Graph) Ancestors(n *Node) []*Node {
	return g.reachable(n, Up)
}

// Descendants returns every node reachable from n by following child
// edges, breadth-first, nearest first.
func (g *Graph) Descendants(n *Node) []*Node {
	return g.reachable(n, Down)
}

// ScopePath returns the ordered sequence of scopes to consult for a
// resource lookup starting at n: the node itself, then its ancestors
// nearest-first. This is the lookup contract the attached-resource
// registry consumes.
func (g *Graph) ScopePath(n *Node) []*Node {
	return append([]*Node{n}, g.Ancestors(n)...)
}

// reachable walks breadth-first over one edge family. Each node's
// adjacency is copied atomically under its collection mutex, so the
// walk can run from inside a hook while the dispatching operation
// holds structural locks; the overall result is still a snapshot, not
// a live view.
func (g *Graph) reachable(start *Node, dir Direction) []*Node {
	visited := map[uint64]bool{start.id: true}
	var result []*Node
	queue := []*Node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		var next []*Node
		if dir == Up {
			next = n.parentsSnapshot()
		} else {
			next = n.childrenSnapshot()
		}

		for _, nb := range next {
			if visited[nb.id] {
				continue
			}
			visited[nb.id] = true
			result = append(result, nb)
			queue = append(queue, nb)
		}
	}
	return result
}

// TopologicalOrder orders the given nodes with Kahn's algorithm,
// restricted to the subset: a node's in-degree is its number of
// parents (direction Down) or children (direction Up) within the
// subset, and a node is emitted once its in-degree reaches zero.
//
// With direction Up the order runs child -> parent: every node comes
// after all of its descendants in the subset. This is the order used
// for dependency-consistent hook fan-out and resource precedence.
//
// Emission is deterministic: ties break by node id. A non-empty
// remainder with no emittable node means a directed cycle, which
// Connect is supposed to make impossible; it is reported as an
// ErrCycleDetected-wrapped invariant violation rather than ignored.
func (g *Graph) TopologicalOrder(nodes []*Node, dir Direction) ([]*Node, error) {
	subset := make(map[uint64]*Node, len(nodes))
	for _, n := range nodes {
		subset[n.id] = n
	}

	inDegree := make(map[uint64]int, len(subset))
	for id, n := range subset {
		deg := 0
		var adj []*Node
		if dir == Down {
			adj = n.parentsSnapshot()
		} else {
			adj = n.childrenSnapshot()
		}
		for _, a := range adj {
			if _, ok := subset[a.id]; ok {
				deg++
			}
		}
		inDegree[id] = deg
	}

	queue := make([]*Node, 0, len(subset)/4+1)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, subset[id])
		}
	}
	sortedByID(queue)

	result := make([]*Node, 0, len(subset))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, n)

		// Emitting n unblocks the nodes that depend on it.
		var dependents []*Node
		if dir == Down {
			dependents = n.childrenSnapshot()
		} else {
			dependents = n.parentsSnapshot()
		}
		for _, d := range dependents {
			if _, ok := subset[d.id]; !ok {
				continue
			}
			inDegree[d.id]--
			if inDegree[d.id] == 0 {
				// Insert in sorted position instead of re-sorting the
				// whole queue.
				queue = insertSorted(queue, subset[d.id])
			}
		}
	}

	if len(result) != len(subset) {
		return nil, fmt.Errorf("%w: topological order over %d nodes emitted only %d (invariant violation)",
			ErrCycleDetected, len(subset), len(result))
	}
	return result, nil
}

// insertSorted inserts a node into an id-sorted slice, keeping it
// sorted. O(log n + n) for the binary search plus the insert.
func insertSorted(nodes []*Node, n *Node) []*Node {
	idx := sort.Search(len(nodes), func(i int) bool {
		return nodes[i].id >= n.id
	})
	return slices.Insert(nodes, idx, n)
}
