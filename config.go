package contexts

import (
	"log/slog"
)

// Option is a function that configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger for the graph. Structural operations log
// at debug level.
var WithLogger = func(log *slog.Logger) Option {
	return func(g *Graph) {
		g.log = log
	}
}

// WithHookCaller sets the execution strategy used to invoke hook
// callbacks. The default invokes them synchronously.
var WithHookCaller = func(caller HookCaller) Option {
	return func(g *Graph) {
		g.hookCaller = caller
	}
}

// NodeOption configures a node at creation time.
type NodeOption func(*Node) error

// WithKey assigns the node's edge key: the slot identity it occupies
// among its siblings on both sides.
var WithKey = func(key Key) NodeOption {
	return func(n *Node) error {
		if err := key.Validate(); err != nil {
			return err
		}
		n.key = key
		return nil
	}
}

// ConnectOption configures a single Connect operation.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	replace bool
}

// WithReplace controls keyed-slot replacement. With replace on, a
// same-keyed sibling already occupying the slot is fully disconnected
// (with its own pre/post-remove cycle) before the new edge is
// installed. With replace off (the default), Connect returns
// ResultNoOp and leaves both subtrees untouched.
var WithReplace = func(replace bool) ConnectOption {
	return func(c *connectConfig) {
		c.replace = replace
	}
}

// NullWriter is a writer that discards all data
type NullWriter struct{}

func (NullWriter) Write([]byte) (int, error) { return 0, nil }

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}
