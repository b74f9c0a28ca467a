package plugraph

import (
	"fmt"
	"reflect"

	"github.com/junioryono/plugraph/internal/typematch"
	"go.uber.org/multierr"
)

// Registry is the registration surface over a PluginGraph. Registration is a
// setup phase: callers must not register concurrently with resolution.
// Errors are collected and reported by Err and Build.
//
// Example:
//
//	r := plugraph.NewRegistry()
//	plugraph.For[Store](r).Use(NewSQLStore).Singleton()
//	plugraph.For[Widget](r).
//	    Add(&ColorWidget{Color: "Red"}, plugraph.Named("Red")).
//	    Add(&ColorWidget{Color: "Blue"}, plugraph.Named("Blue"))
//
//	c, err := r.Build()
type Registry struct {
	graph *PluginGraph
	errs  error
}

// NewRegistry creates an empty registry with the default family policies.
func NewRegistry() *Registry {
	return &Registry{graph: newPluginGraph(nil)}
}

func newRegistryFor(g *PluginGraph) *Registry {
	return &Registry{graph: g}
}

// Graph returns the graph being configured.
func (r *Registry) Graph() *PluginGraph { return r.graph }

// Err returns every registration error collected so far.
func (r *Registry) Err() error { return r.errs }

func (r *Registry) fail(err error) {
	if err != nil {
		r.errs = multierr.Append(r.errs, err)
	}
}

// Build creates a root container from the registry.
func (r *Registry) Build(opts ...Option) (*Container, error) {
	return NewContainer(r, opts...)
}

// For starts the registration of pluginType.
func (r *Registry) For(pluginType reflect.Type) *FamilyExpression {
	if pluginType == nil {
		r.fail(&RegistrationError{Operation: "register", Cause: ErrPluginTypeNil})
		return &FamilyExpression{registry: r}
	}

	return &FamilyExpression{
		registry: r,
		family:   r.graph.For(pluginType),
	}
}

// For starts the registration of the plugin type T.
func For[T any](r *Registry) *FamilyExpression {
	return r.For(reflect.TypeFor[T]())
}

// ForOpen starts the registration of an open generic plugin type. Requests
// for its instantiations are served by closing the registered templates.
//
// Example:
//
//	r.ForOpen(plugraph.OpenTypeOf[IRepository[any]]()).
//	    Use(plugraph.Generic(plugraph.OpenTypeOf[Repository[any]](),
//	        NewRepository[string], NewRepository[int])).
//	    Singleton()
func (r *Registry) ForOpen(open OpenType) *FamilyExpression {
	if open.IsZero() {
		r.fail(&RegistrationError{Operation: "register open generic", Cause: ErrPluginTypeNil})
		return &FamilyExpression{registry: r}
	}

	return &FamilyExpression{
		registry: r,
		family:   r.graph.ForOpen(open),
	}
}

// Intercept registers global interceptors, applied to every plugin type they
// match before family and instance interceptors.
func (r *Registry) Intercept(interceptors ...Interceptor) *Registry {
	r.graph.Intercept(interceptors...)
	return r
}

// AddPolicy appends a family policy. In a child container the policy applies
// to the child and its descendants only.
func (r *Registry) AddPolicy(p FamilyPolicy) *Registry {
	if p != nil {
		r.graph.addPolicy(p)
	}
	return r
}

// ClearPolicies removes every family policy, including the defaults, so that
// unregistered types fail to resolve. A child container's parent keeps its
// policies.
func (r *Registry) ClearPolicies() *Registry {
	r.graph.clearPolicies()
	return r
}

// KnownTypes adds closed types to the set searched when connecting open
// generics to their instantiations.
func (r *Registry) KnownTypes(types ...reflect.Type) *Registry {
	r.graph.matcher.Known(types...)
	return r
}

// ConnectImplementationsToTypesClosing registers every candidate against each
// known closed form of open it satisfies. When one closed type is satisfied
// by several candidates, a single non-generic candidate becomes the default;
// a single candidate is the default; otherwise the family has no default and
// instances must be requested by name.
func (r *Registry) ConnectImplementationsToTypesClosing(open OpenType, candidates ...any) *Registry {
	type closing struct {
		family     *PluginFamily
		instances  []Instance
		nonGeneric []Instance
	}

	var order []reflect.Type
	byType := make(map[reflect.Type]*closing)

	for i, candidate := range candidates {
		inst, err := toInstance(nil, candidate)
		if err != nil {
			r.fail(&RegistrationError{Operation: "connect", Cause: fmt.Errorf("candidate %d: %w", i, err)})
			continue
		}

		ct := inst.ConcreteType()
		if ct == nil {
			r.fail(&RegistrationError{Operation: "connect", Cause: fmt.Errorf("candidate %d has no static type", i)})
			continue
		}

		r.graph.matcher.Known(ct)
		for _, closed := range r.graph.matcher.FindAllClosedInterfacesFor(ct, open) {
			c, ok := byType[closed]
			if !ok {
				c = &closing{family: r.graph.For(closed)}
				byType[closed] = c
				order = append(order, closed)
			}

			c.instances = append(c.instances, inst)
			if !typematch.IsGeneric(ct) {
				c.nonGeneric = append(c.nonGeneric, inst)
			}
		}
	}

	for _, t := range order {
		c := byType[t]
		for _, inst := range c.instances {
			r.fail(c.family.AddInstance(inst))
		}

		c.family.mu.Lock()
		switch {
		case c.family.defaultName != "":
		case len(c.nonGeneric) == 1:
			c.family.defaultName = c.nonGeneric[0].Name()
		case len(c.instances) == 1:
			c.family.defaultName = c.instances[0].Name()
		default:
			c.family.ambiguous = true
		}
		c.family.mu.Unlock()
	}

	r.graph.changed()
	return r
}

// Include runs modules against the registry.
func (r *Registry) Include(modules ...ModuleOption) *Registry {
	for _, m := range modules {
		if m == nil {
			continue
		}
		r.fail(m(r))
	}
	return r
}

// FamilyExpression configures the family of one plugin type.
type FamilyExpression struct {
	registry *Registry
	family   *PluginFamily
}

// Family returns the family being configured, or nil after an error.
func (e *FamilyExpression) Family() *PluginFamily { return e.family }

func (e *FamilyExpression) instance(x any, opts []InstanceOption) (Instance, bool) {
	if e.family == nil {
		return nil, false
	}

	inst, err := toInstance(e.family.pluginType, x, opts...)
	if err != nil {
		e.registry.fail(&RegistrationError{PluginType: e.family.pluginType, Operation: "convert", Cause: err})
		return nil, false
	}

	return inst, true
}

// Use registers x as the default instance. x may be an Instance, a
// reflect.Type, a constructor function or a pre-built object. In a child
// registry, the instances inherited from the parent are dropped.
func (e *FamilyExpression) Use(x any, opts ...InstanceOption) *FamilyExpression {
	inst, ok := e.instance(x, opts)
	if !ok {
		return e
	}

	e.family.removeInherited()
	e.registry.fail(e.family.SetDefault(inst))
	e.registry.graph.changed()
	return e
}

// Add registers x as an additional instance, keeping the default unchanged.
func (e *FamilyExpression) Add(x any, opts ...InstanceOption) *FamilyExpression {
	inst, ok := e.instance(x, opts)
	if !ok {
		return e
	}

	e.registry.fail(e.family.AddInstance(inst))
	e.registry.graph.changed()
	return e
}

// AddInstances registers several instances.
func (e *FamilyExpression) AddInstances(xs ...any) *FamilyExpression {
	for _, x := range xs {
		e.Add(x)
	}
	return e
}

// LifecycleIs sets the family lifecycle.
func (e *FamilyExpression) LifecycleIs(l Lifecycle) *FamilyExpression {
	if e.family != nil {
		e.family.SetLifecycle(l)
	}
	return e
}

// SetLifecycle sets the family lifecycle by kind.
func (e *FamilyExpression) SetLifecycle(kind LifecycleKind) *FamilyExpression {
	l, err := kind.Lifecycle()
	if err != nil {
		e.registry.fail(err)
		return e
	}
	return e.LifecycleIs(l)
}

func (e *FamilyExpression) Singleton() *FamilyExpression     { return e.LifecycleIs(Singleton) }
func (e *FamilyExpression) Transient() *FamilyExpression     { return e.LifecycleIs(Transient) }
func (e *FamilyExpression) ThreadScoped() *FamilyExpression  { return e.LifecycleIs(ThreadScoped) }
func (e *FamilyExpression) ContextScoped() *FamilyExpression { return e.LifecycleIs(ContextScoped) }
func (e *FamilyExpression) HybridScoped() *FamilyExpression  { return e.LifecycleIs(HybridScoped) }

// InterceptWith appends family interceptors. They apply to every instance of
// the family whatever their MatchesType answer.
func (e *FamilyExpression) InterceptWith(interceptors ...Interceptor) *FamilyExpression {
	if e.family == nil {
		return e
	}

	for _, i := range interceptors {
		if i != nil {
			e.family.AddInterceptor(i)
		}
	}
	return e
}

// MissingNamedInstanceIs sets the instance built when a name that is not
// registered is requested. Each requested name is cached separately, except
// that a Reference or Default answers with the object of its target.
func (e *FamilyExpression) MissingNamedInstanceIs(x any, opts ...InstanceOption) *FamilyExpression {
	inst, ok := e.instance(x, opts)
	if !ok {
		return e
	}

	if v, ok := inst.(invalidInstance); ok {
		if err := v.invalid(); err != nil {
			e.registry.fail(&RegistrationError{PluginType: e.family.pluginType, Operation: "missing", Cause: err})
			return e
		}
	}

	e.family.SetMissingNamedInstance(inst)
	e.registry.graph.changed()
	return e
}
