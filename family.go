package plugraph

import (
	"reflect"
	"sync"

	"github.com/junioryono/plugraph/internal/typematch"
)

// PluginFamily holds the instances registered for one plugin type, its
// default instance, lifecycle and interceptors.
type PluginFamily struct {
	mu sync.RWMutex

	pluginType reflect.Type
	open       typematch.OpenType
	graph      *PluginGraph

	instances   []Instance
	byName      map[string]Instance
	inherited   map[string]*PluginGraph // instance name -> graph that owns it
	defaultName string
	ambiguous   bool
	byPolicy    bool

	lifecycle    Lifecycle
	interceptors []Interceptor
	missing      Instance
}

func newPluginFamily(pluginType reflect.Type, g *PluginGraph) *PluginFamily {
	return &PluginFamily{
		pluginType: pluginType,
		graph:      g,
		byName:     make(map[string]Instance),
		inherited:  make(map[string]*PluginGraph),
		lifecycle:  Transient,
	}
}

func newOpenFamily(open typematch.OpenType, g *PluginGraph) *PluginFamily {
	f := newPluginFamily(nil, g)
	f.open = open
	return f
}

// PluginType returns the plugin type, or nil for an open generic family.
func (f *PluginFamily) PluginType() reflect.Type { return f.pluginType }

// Open returns the open generic definition of an open family.
func (f *PluginFamily) Open() OpenType { return f.open }

// IsOpen reports whether the family holds open generic templates.
func (f *PluginFamily) IsOpen() bool { return !f.open.IsZero() }

// derived reports whether the family was created by a FamilyPolicy rather
// than registered.
func (f *PluginFamily) derived() bool { return f.byPolicy }

func (f *PluginFamily) label() string {
	if f.IsOpen() {
		return f.open.String()
	}
	return formatType(f.pluginType)
}

// AddInstance adds inst, replacing an instance with the same name. Instances
// with a statically known concrete type must be pluggable into the family's
// plugin type.
func (f *PluginFamily) AddInstance(inst Instance) error {
	if inst == nil {
		return &RegistrationError{PluginType: f.pluginType, Operation: "add", Cause: ErrInstanceNil}
	}

	if v, ok := inst.(invalidInstance); ok {
		if err := v.invalid(); err != nil {
			return &RegistrationError{PluginType: f.pluginType, Operation: "add", Cause: err}
		}
	}

	if !f.IsOpen() {
		if ct := inst.ConcreteType(); ct != nil && !f.graph.matcher.CanSatisfy(f.pluginType, ct) {
			return &RegistrationError{
				PluginType: f.pluginType,
				Operation:  "add",
				Cause: &ConfigurationError{
					Code:       CodeNotPluggable,
					PluginType: f.pluginType,
					Instance:   inst.Name(),
					Cause:      ErrNotPluggable,
				},
			}
		}
	}

	f.graph.known(inst)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.addLocked(inst, nil)
	return nil
}

func (f *PluginFamily) addLocked(inst Instance, owner *PluginGraph) {
	name := inst.Name()
	if _, exists := f.byName[name]; exists {
		for i, existing := range f.instances {
			if existing.Name() == name {
				f.instances[i] = inst
				break
			}
		}
	} else {
		f.instances = append(f.instances, inst)
	}

	f.byName[name] = inst
	if owner != nil {
		f.inherited[name] = owner
	} else {
		delete(f.inherited, name)
	}
}

// SetDefault adds inst if needed and makes it the default instance.
func (f *PluginFamily) SetDefault(inst Instance) error {
	if err := f.AddInstance(inst); err != nil {
		return err
	}

	f.mu.Lock()
	f.defaultName = inst.Name()
	f.ambiguous = false
	f.mu.Unlock()

	return nil
}

// Default returns the explicit default, else the only instance, else nil.
func (f *PluginFamily) Default() Instance {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.defaultName != "" {
		if inst, ok := f.byName[f.defaultName]; ok {
			return inst
		}
	}

	if len(f.instances) == 1 && !f.ambiguous {
		return f.instances[0]
	}

	return nil
}

// defaultInstance returns the default instance or the configuration error
// explaining why there is none.
func (f *PluginFamily) defaultInstance() (Instance, error) {
	if inst := f.Default(); inst != nil {
		return inst, nil
	}

	f.mu.RLock()
	ambiguous := f.ambiguous
	f.mu.RUnlock()

	if ambiguous {
		return nil, &ConfigurationError{Code: CodeAmbiguousClosing, PluginType: f.pluginType, Cause: ErrAmbiguousClosing}
	}

	return nil, &ConfigurationError{Code: CodeNoDefaultInstance, PluginType: f.pluginType, Cause: ErrNoDefaultInstance}
}

// FindInstance returns the instance called name.
func (f *PluginFamily) FindInstance(name string) (Instance, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	inst, ok := f.byName[name]
	return inst, ok
}

// Instances returns the instances in registration order.
func (f *PluginFamily) Instances() []Instance {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Instance, len(f.instances))
	copy(out, f.instances)
	return out
}

// RemoveInstance removes the instance called name.
func (f *PluginFamily) RemoveInstance(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.removeLocked(name)
}

func (f *PluginFamily) removeLocked(name string) bool {
	if _, ok := f.byName[name]; !ok {
		return false
	}

	delete(f.byName, name)
	delete(f.inherited, name)
	for i, inst := range f.instances {
		if inst.Name() == name {
			f.instances = append(f.instances[:i:i], f.instances[i+1:]...)
			break
		}
	}

	if f.defaultName == name {
		f.defaultName = ""
	}

	return true
}

// RemoveAll removes every instance and the default.
func (f *PluginFamily) RemoveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.instances = nil
	f.byName = make(map[string]Instance)
	f.inherited = make(map[string]*PluginGraph)
	f.defaultName = ""
	f.ambiguous = false
}

// removeInherited drops the instances copied from a parent graph.
func (f *PluginFamily) removeInherited() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for name := range f.inherited {
		f.removeLocked(name)
	}
}

// IsInherited reports whether the instance called name was copied from a
// parent graph.
func (f *PluginFamily) IsInherited(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.inherited[name]
	return ok
}

// ownerGraph returns the graph whose container caches the objects of inst.
func (f *PluginFamily) ownerGraph(inst Instance) *PluginGraph {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if g, ok := f.inherited[inst.Name()]; ok {
		return g
	}
	return f.graph
}

// SetLifecycle sets the lifecycle of every instance without its own.
func (f *PluginFamily) SetLifecycle(l Lifecycle) {
	f.mu.Lock()
	f.lifecycle = lifecycleOrDefault(l)
	f.mu.Unlock()
}

// Lifecycle returns the family lifecycle.
func (f *PluginFamily) Lifecycle() Lifecycle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lifecycle
}

// lifecycleFor returns the lifecycle used for inst.
func (f *PluginFamily) lifecycleFor(inst Instance) Lifecycle {
	if l := inst.Lifecycle(); l != nil {
		return l
	}
	return f.Lifecycle()
}

// AddInterceptor appends a family interceptor.
func (f *PluginFamily) AddInterceptor(i Interceptor) {
	f.mu.Lock()
	f.interceptors = append(f.interceptors, i)
	f.mu.Unlock()
}

// Interceptors returns the family interceptors in order.
func (f *PluginFamily) Interceptors() []Interceptor {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Interceptor, len(f.interceptors))
	copy(out, f.interceptors)
	return out
}

// SetMissingNamedInstance sets the instance built when a requested name is
// not registered. Objects are cached under the requested name.
func (f *PluginFamily) SetMissingNamedInstance(inst Instance) {
	f.mu.Lock()
	f.missing = inst
	f.mu.Unlock()
}

// missingNamed returns the fallback for name, or nil.
func (f *PluginFamily) missingNamed(name string) Instance {
	f.mu.RLock()
	missing := f.missing
	f.mu.RUnlock()

	if missing == nil {
		return nil
	}

	alias := &aliasInstance{
		Instance:     missing,
		name:         name,
		lifecycle:    missing.Lifecycle(),
		interceptors: missing.Interceptors(),
		description:  missing.Description(),
		fallback:     true,
	}
	return alias.withDelegate()
}

// inheritFrom seeds a child family with the registrations of its parent.
func (f *PluginFamily) inheritFrom(parent *PluginFamily) {
	parent.mu.RLock()
	instances := make([]Instance, len(parent.instances))
	copy(instances, parent.instances)
	owners := make(map[string]*PluginGraph, len(instances))
	for _, inst := range instances {
		if g, ok := parent.inherited[inst.Name()]; ok {
			owners[inst.Name()] = g
		} else {
			owners[inst.Name()] = parent.graph
		}
	}
	defaultName := parent.defaultName
	ambiguous := parent.ambiguous
	lifecycle := parent.lifecycle
	interceptors := append([]Interceptor(nil), parent.interceptors...)
	missing := parent.missing
	parent.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, inst := range instances {
		f.addLocked(inst, owners[inst.Name()])
	}
	f.defaultName = defaultName
	f.ambiguous = ambiguous
	f.lifecycle = lifecycle
	f.interceptors = interceptors
	f.missing = missing
}
