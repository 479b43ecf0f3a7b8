package contexts

import (
	"reflect"
	"sync"
)

// ResourceRegistry is the contract the attached-resource store of a
// node must satisfy: a typed multi-value store addressed by a type
// token and an optional key. The graph engine never binds arguments or
// scans annotations; it only supplies the ancestor ordering through
// ScopePath and LookupResource.
type ResourceRegistry interface {
	// Put registers a value under the type token and key. Multiple
	// values may accumulate under the same slot.
	Put(typ reflect.Type, key Key, value any)

	// Get returns the most recently registered value for the slot.
	Get(typ reflect.Type, key Key) (any, bool)

	// All returns every value registered for the slot, oldest first.
	All(typ reflect.Type, key Key) []any
}

type resourceSlot struct {
	typ reflect.Type
	key Key
}

// ResourceSet is the default ResourceRegistry: an in-memory typed
// multi-value map. Safe for concurrent use.
type ResourceSet struct {
	mu     sync.RWMutex
	values map[resourceSlot][]any
}

// NewResourceSet creates an empty ResourceSet.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{values: make(map[resourceSlot][]any)}
}

func (s *ResourceSet) Put(typ reflect.Type, key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := resourceSlot{typ: typ, key: key}
	s.values[slot] = append(s.values[slot], value)
}

func (s *ResourceSet) Get(typ reflect.Type, key Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.values[resourceSlot{typ: typ, key: key}]
	if len(vs) == 0 {
		return nil, false
	}
	return vs[len(vs)-1], true
}

func (s *ResourceSet) All(typ reflect.Type, key Key) []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.values[resourceSlot{typ: typ, key: key}]
	out := make([]any, len(vs))
	copy(out, vs)
	return out
}

// resourcesPeek returns the node's resource registry without creating
// one, so lookups do not allocate scopes on untouched nodes.
func (n *Node) resourcesPeek() ResourceRegistry {
	n.resMu.Lock()
	defer n.resMu.Unlock()
	return n.resources
}

// LookupResource resolves a resource starting at n and walking the
// ancestor scopes nearest-first: a descendant sees its ancestors'
// resources, and the nearest ancestor wins.
func LookupResource(n *Node, typ reflect.Type, key Key) (any, bool) {
	for _, scope := range n.graph.ScopePath(n) {
		reg := scope.resourcesPeek()
		if reg == nil {
			continue
		}
		if v, ok := reg.Get(typ, key); ok {
			return v, true
		}
	}
	return nil, false
}

// PutResource registers a typed value in the node's own scope.
func PutResource[T any](n *Node, key Key, value T) {
	n.Resources().Put(reflect.TypeOf((*T)(nil)).Elem(), key, value)
}

// GetResource resolves a typed value through the node's scope path.
// The type token is T itself, so interface lookups work with
// GetResource[MyInterface].
func GetResource[T any](n *Node, key Key) (T, bool) {
	v, ok := LookupResource(n, reflect.TypeOf((*T)(nil)).Elem(), key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
