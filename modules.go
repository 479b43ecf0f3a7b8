package contexts

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Module is a lifecycle-hook consumer with dependency-gated
// activation.
//
// PreEnable runs once at registration and is where the module declares
// its dependencies through the scope. PostEnable runs when every
// declared dependency is enabled, which may be immediately or after
// later registrations unblock it; it runs outside the registry lock,
// so the module may query the registry it is handed.
// PreDisable/PostDisable run at registry shutdown, in reverse enable
// order.
type Module interface {
	PreEnable(scope *DependencyScope) error
	PostEnable(reg *ModuleRegistry) error
	PreDisable() error
	PostDisable() error
}

// NamedModule optionally gives a module a string identity other
// modules can depend on.
type NamedModule interface {
	Module
	ModuleName() string
}

type moduleState int

const (
	modulePending moduleState = iota
	moduleEnabled
	moduleDisabled
)

func (s moduleState) String() string {
	switch s {
	case modulePending:
		return "Pending"
	case moduleEnabled:
		return "Enabled"
	case moduleDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// dependency is one declared dependency: either a module identity or a
// capability type.
type dependency struct {
	name string
	typ  reflect.Type
}

func (d dependency) String() string {
	if d.name != "" {
		return fmt.Sprintf("name:%s", d.name)
	}
	return fmt.Sprintf("type:%s", d.typ)
}

type moduleEntry struct {
	mod   Module
	name  string
	deps  []dependency
	state moduleState
}

// DependencyScope collects a module's dependency declarations during
// its PreEnable callback. Declarations outside PreEnable are rejected.
type DependencyScope struct {
	reg    *ModuleRegistry
	entry  *moduleEntry
	sealed bool
}

// Requires declares a dependency on the module with the given
// identity. A self-dependency, or a dependency on a still-pending
// module that (transitively) already depends on this one, is rejected
// immediately with ErrModuleCycle.
func (s *DependencyScope) Requires(name string) error {
	if s.sealed {
		return fmt.Errorf("dependency on %q declared outside PreEnable", name)
	}
	if s.entry.name != "" && s.entry.name == name {
		return fmt.Errorf("%w: %q depends on itself", ErrModuleCycle, name)
	}
	dep := dependency{name: name}
	if err := s.reg.checkCycle(s.entry, dep); err != nil {
		return err
	}
	s.entry.deps = append(s.entry.deps, dep)
	return nil
}

// RequiresType declares a dependency on any module assignable to the
// given capability type. Use a pointer-to-interface type expression to
// name an interface: reflect.TypeOf((*Storage)(nil)).Elem().
func (s *DependencyScope) RequiresType(typ reflect.Type) error {
	if s.sealed {
		return fmt.Errorf("dependency on %s declared outside PreEnable", typ)
	}
	if moduleTypeMatches(reflect.TypeOf(s.entry.mod), typ) {
		return fmt.Errorf("%w: module of type %s depends on its own capability", ErrModuleCycle, typ)
	}
	dep := dependency{typ: typ}
	if err := s.reg.checkCycle(s.entry, dep); err != nil {
		return err
	}
	s.entry.deps = append(s.entry.deps, dep)
	return nil
}

// RegistryOption configures a ModuleRegistry.
type RegistryOption func(*ModuleRegistry)

// WithRegistryLogger sets the registry logger.
var WithRegistryLogger = func(log *slog.Logger) RegistryOption {
	return func(r *ModuleRegistry) {
		r.log = log
	}
}

// WithRegistryGraph binds the registry to a graph: every enabled
// module that also implements Hooks is subscribed to the graph's
// structural events, in enable order.
var WithRegistryGraph = func(g *Graph) RegistryOption {
	return func(r *ModuleRegistry) {
		r.graph = g
	}
}

// ModuleRegistry tracks registered modules and activates them as their
// dependencies become satisfiable. An unmet dependency is not an
// error: the module simply stays pending, observable via Pending().
type ModuleRegistry struct {
	log   *slog.Logger
	graph *Graph

	mu      sync.Mutex
	entries []*moduleEntry // registration order
	enabled []*moduleEntry // enable order
	closed  bool
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry(opts ...RegistryOption) *ModuleRegistry {
	r := &ModuleRegistry{log: NullLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a module. Its PreEnable callback runs synchronously to
// collect dependency declarations; a PreEnable error aborts the
// registration entirely. If the declarations are already satisfied the
// module enables immediately, and every enable triggers a rescan of
// pending modules until a full pass activates nothing new.
//
// The returned error aggregates PostEnable failures of every module
// activated by this registration; the activations themselves stand.
func (r *ModuleRegistry) Register(mod Module) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return ErrModuleClosed
	}

	entry := &moduleEntry{mod: mod, name: moduleName(mod), state: modulePending}
	r.entries = append(r.entries, entry)

	scope := &DependencyScope{reg: r, entry: entry}
	if err := mod.PreEnable(scope); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		r.mu.Unlock()
		return fmt.Errorf("pre-enable of module %s: %w", describeModule(entry), err)
	}
	scope.sealed = true
	r.log.Debug("module registered",
		"module", describeModule(entry), "deps", len(entry.deps))

	activated := r.evaluate()
	r.mu.Unlock()

	// PostEnable runs outside the registry lock: the enable order is
	// already fixed, and the module may query Enabled or Pending from
	// its callback.
	var errs error
	for _, e := range activated {
		if err := e.mod.PostEnable(r); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("post-enable of module %s: %w", describeModule(e), err))
		}
	}
	return errs
}

// evaluate runs the fixed-point activation loop and returns the newly
// enabled entries in enable order. Caller holds r.mu.
func (r *ModuleRegistry) evaluate() []*moduleEntry {
	var activated []*moduleEntry
	for {
		progress := false
		for _, e := range r.entries {
			if e.state != modulePending || !r.satisfied(e) {
				continue
			}
			e.state = moduleEnabled
			r.enabled = append(r.enabled, e)
			activated = append(activated, e)
			r.log.Debug("module enabled", "module", describeModule(e))
			if r.graph != nil {
				if h, ok := e.mod.(Hooks); ok {
					r.graph.Subscribe(h)
				}
			}
			progress = true
		}
		if !progress {
			return activated
		}
	}
}

// satisfied reports whether every declared dependency of the entry is
// met by an enabled module. Caller holds r.mu.
func (r *ModuleRegistry) satisfied(e *moduleEntry) bool {
	for _, dep := range e.deps {
		met := false
		for _, other := range r.enabled {
			if r.matches(other, dep) {
				met = true
				break
			}
		}
		if !met {
			return false
		}
	}
	return true
}

func (r *ModuleRegistry) matches(e *moduleEntry, dep dependency) bool {
	if dep.name != "" {
		return e.name == dep.name
	}
	return moduleTypeMatches(reflect.TypeOf(e.mod), dep.typ)
}

// checkCycle rejects a declaration that would make a still-pending
// dependency chain lead back to the declaring module. Enabled modules
// cannot participate in a cycle; only pending ones are traversed.
// Caller holds r.mu (Register runs under it).
func (r *ModuleRegistry) checkCycle(from *moduleEntry, dep dependency) error {
	visited := make(map[*moduleEntry]bool)
	var reaches func(e *moduleEntry) bool
	reaches = func(e *moduleEntry) bool {
		if e == from {
			return true
		}
		if visited[e] {
			return false
		}
		visited[e] = true
		for _, d := range e.deps {
			for _, other := range r.entries {
				if other.state != modulePending || !r.matches(other, d) {
					continue
				}
				if reaches(other) {
					return true
				}
			}
		}
		return false
	}
	for _, target := range r.entries {
		if target.state != modulePending || target == from || !r.matches(target, dep) {
			continue
		}
		if reaches(target) {
			return fmt.Errorf("%w: %s -> %s closes a dependency cycle",
				ErrModuleCycle, describeModule(from), dep)
		}
	}
	return nil
}

// PendingModule describes a module that has not activated yet.
type PendingModule struct {
	Name string
	Deps []string
}

// Pending reports the modules still waiting on dependencies, in
// registration order. A permanently pending module is not an error, it
// is simply reported here.
func (r *ModuleRegistry) Pending() []PendingModule {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PendingModule
	for _, e := range r.entries {
		if e.state != modulePending {
			continue
		}
		deps := make([]string, len(e.deps))
		for i, d := range e.deps {
			deps[i] = d.String()
		}
		out = append(out, PendingModule{Name: describeModule(e), Deps: deps})
	}
	return out
}

// Enabled returns the enabled module descriptions in enable order.
func (r *ModuleRegistry) Enabled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.enabled))
	for i, e := range r.enabled {
		out[i] = describeModule(e)
	}
	return out
}

// Close disables every enabled module in exact reverse enable order.
// Disable errors are collected; Close keeps going past failures. After
// Close the registry rejects further registrations.
func (r *ModuleRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	for i := len(r.enabled) - 1; i >= 0; i-- {
		e := r.enabled[i]
		if preErr := e.mod.PreDisable(); preErr != nil {
			err = multierr.Append(err, fmt.Errorf("pre-disable of module %s: %w", describeModule(e), preErr))
		}
		if postErr := e.mod.PostDisable(); postErr != nil {
			err = multierr.Append(err, fmt.Errorf("post-disable of module %s: %w", describeModule(e), postErr))
		}
		e.state = moduleDisabled
		r.log.Debug("module disabled", "module", describeModule(e))
	}
	r.enabled = nil
	return err
}

// moduleTypeMatches reports whether a module of the given concrete
// type satisfies a capability-type dependency.
func moduleTypeMatches(modType, depType reflect.Type) bool {
	if modType == nil || depType == nil {
		return false
	}
	if depType.Kind() == reflect.Interface {
		return modType.Implements(depType)
	}
	return modType == depType || modType.AssignableTo(depType)
}

func moduleName(mod Module) string {
	if named, ok := mod.(NamedModule); ok {
		return named.ModuleName()
	}
	return ""
}

func describeModule(e *moduleEntry) string {
	if e.name != "" {
		return e.name
	}
	t := reflect.TypeOf(e.mod).String()
	return strings.TrimPrefix(t, "*")
}
