package contexts

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Sentinel errors. All errors returned by the package wrap one of these
// and can be checked with errors.Is().
var (
	// ErrNodeExited is returned when a structural operation targets a
	// node that has already exited.
	ErrNodeExited = errors.New("node already exited")

	// ErrNodeNotEntered is returned when an operation requires a live
	// node but the target was never entered.
	ErrNodeNotEntered = errors.New("node not entered")

	// ErrCycleDetected is returned by Connect when the new edge would
	// close a directed cycle.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrNodeNotFound is returned by the or-fail lookup variants.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned by Disconnect when the edge does not
	// exist.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrSelfConnect is returned when parent and child are the same node.
	ErrSelfConnect = errors.New("cannot connect node to itself")

	// ErrWrongGraph is returned when an operation mixes nodes owned by
	// different graphs.
	ErrWrongGraph = errors.New("node belongs to a different graph")

	// ErrInvalidKey is returned for malformed edge keys.
	ErrInvalidKey = errors.New("invalid edge key")

	// ErrModuleCycle is returned at declaration time when a module
	// dependency would close a cycle (including self-dependency).
	ErrModuleCycle = errors.New("module dependency cycle")

	// ErrModuleClosed is returned by Register after the registry shut down.
	ErrModuleClosed = errors.New("module registry closed")
)

// PostActionError aggregates errors returned by post-hooks. The
// structural mutation it reports on has already committed and is not
// rolled back; every subscriber has been invoked before this error is
// produced.
type PostActionError struct {
	// Op is the structural operation whose post-hooks failed:
	// "add", "remove", "enter" or "exit".
	Op string

	// Errs holds one error per failing subscriber, in dispatch order.
	Errs *multierror.Error
}

func (e *PostActionError) Error() string {
	return fmt.Sprintf("post-%s hooks failed: %v", e.Op, e.Errs)
}

func (e *PostActionError) Unwrap() error {
	return e.Errs
}
