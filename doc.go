// Package contexts provides an in-process hierarchical resource-lifecycle
// graph: mutable nodes connected by parent/child edges, with lifecycle
// hooks fired on every structural change, safe under concurrent mutation
// and traversal.
//
// # Overview
//
// A Graph owns a forest of Nodes. Nodes enter the graph either as roots
// (Enter) or by being connected under a live parent (Connect), and leave
// it through the terminal Exit operation. Every structural change fires
// pre/post hooks in subscriber registration order, which makes the graph
// the substrate for dependency-injection containers, event buses and
// plugin loaders.
//
// # Basic Usage
//
//	g := contexts.NewGraph()
//
//	app := g.MustNewNode(contexts.WithKey("app"))
//	g.MustEnter(app)
//
//	db := g.MustNewNode(contexts.WithKey("db"))
//	g.MustConnect(app, db) // db enters through the connect
//
//	// Attach and resolve resources along the ancestor chain.
//	contexts.PutResource(app, "", &Config{Port: 5432})
//	cfg, ok := contexts.GetResource[*Config](db, "") // found: app is an ancestor
//
//	g.Exit(app) // cascades: db loses its last parent and exits too
//
// # Locking
//
// Each node carries a structural lock with three modes. Any number of
// readers may traverse concurrently; at most one edge insertion is in
// flight per node; any number of removals proceed concurrently with each
// other and with a pending insertion, because removals can neither close
// a cycle nor contend for a keyed slot. Operations that span several
// nodes acquire every lock of the affected connected component in global
// id order, all-or-nothing, so overlapping mutations cannot deadlock.
//
// # Cycle Safety
//
// Connect rejects any edge that would make a node its own ancestor, with
// ErrCycleDetected. Because insertions into a component are serialized by
// the component locking, the parent/child relation restricted to any
// connected component is always acyclic, and TopologicalOrder over any
// node subset is well defined.
//
// # Keyed Edges
//
// A node created with WithKey occupies a named slot among its siblings.
// Connecting a keyed child where a same-keyed sibling exists either
// returns ResultNoOp (default) or, with WithReplace(true), gives the
// occupant a full pre/post-remove cycle before installing the new edge.
//
// # Hooks and Errors
//
// Pre-hook errors abort the operation before any mutation and the
// operation is safe to retry. Post-hook errors are collected from every
// subscriber and surfaced as a *PostActionError after all subscribers
// have run; the mutation has already committed. Programmer errors
// (operating on an exited node, closing a cycle, or-fail lookups) are
// sentinel errors checkable with errors.Is().
//
// # Modules
//
// ModuleRegistry activates registered modules once their declared
// dependencies (by module identity or capability type) are enabled,
// re-scanning pending modules on every activation until a fixed point.
// Shutdown disables modules in exact reverse enable order. Declaration
// of a dependency cycle is rejected synchronously; a merely unmet
// dependency just leaves the module pending, observable via Pending().
//
// # Thread Safety
//
// All Graph operations are safe for concurrent use. Accessors return
// point-in-time snapshots, not live views, and never block on an
// in-flight structural operation, so hooks may inspect the nodes they
// are handed. PreEnable runs under the registry lock and must only
// declare dependencies; PostEnable runs after the lock is released and
// may query the registry.
package contexts
