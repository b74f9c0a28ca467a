package plugraph

import (
	"fmt"
	"reflect"

	"github.com/junioryono/plugraph/internal/typematch"
)

// OpenType identifies an open generic type, such as Repository[T], by its
// package path and base name.
type OpenType = typematch.OpenType

// OpenTypeOf returns the open generic definition of T, an instantiation such
// as IRepository[int]. It returns the zero OpenType when T is not generic.
func OpenTypeOf[T any]() OpenType {
	open, _ := typematch.OpenTypeOf(reflect.TypeFor[T]())
	return open
}

// GenericInstance is an open generic template. It is registered with an open
// family (Registry.ForOpen) and closed when a closed plugin type is requested.
type GenericInstance struct {
	instanceBase
	open           OpenType
	instantiations []Instance
	closer         func(closed reflect.Type) (Instance, error)
	err            error
}

// Generic registers the open generic open through its known instantiations,
// each converted like a registration value, for example the constructors
// NewRepository[string] and NewRepository[int]. A requested closed type is
// served by the instantiation whose concrete type closes it.
func Generic(open OpenType, instantiations ...any) *GenericInstance {
	g := &GenericInstance{
		instanceBase: newInstanceBase(nil),
		open:         open,
	}

	for i, x := range instantiations {
		inst, err := toInstance(nil, x)
		if err != nil {
			g.err = fmt.Errorf("instantiation %d: %w", i, err)
			break
		}
		g.instantiations = append(g.instantiations, inst)
	}

	return g
}

// GenericFunc registers an open generic closed by calling closer with the
// requested closed plugin type. A closer that fails or panics means the
// template does not close that type.
func GenericFunc(open OpenType, closer func(closed reflect.Type) (Instance, error), opts ...InstanceOption) *GenericInstance {
	return &GenericInstance{
		instanceBase: newInstanceBase(opts),
		open:         open,
		closer:       closer,
	}
}

// Template returns the open generic definition.
func (g *GenericInstance) Template() OpenType { return g.open }

func (g *GenericInstance) ConcreteType() reflect.Type { return nil }

func (g *GenericInstance) Description() string {
	return fmt.Sprintf("Generic: %s", g.open)
}

func (g *GenericInstance) invalid() error {
	if g.err != nil {
		return g.err
	}
	if g.open.IsZero() {
		return fmt.Errorf("generic instance requires an open type")
	}
	if g.closer == nil && len(g.instantiations) == 0 {
		return fmt.Errorf("generic instance %s has no instantiations", g.open)
	}
	for _, inst := range g.instantiations {
		if v, ok := inst.(invalidInstance); ok {
			if err := v.invalid(); err != nil {
				return err
			}
		}
	}
	return nil
}

// concreteTypes returns the concrete types of the known instantiations.
func (g *GenericInstance) concreteTypes() []reflect.Type {
	var types []reflect.Type
	for _, inst := range g.instantiations {
		if t := inst.ConcreteType(); t != nil {
			types = append(types, t)
		}
	}
	return types
}

// CloseFor returns the instance serving the closed plugin type requested, or
// false when the template does not close it.
func (g *GenericInstance) CloseFor(requested reflect.Type, m *typematch.Matcher) (Instance, bool) {
	requestedOpen, ok := typematch.OpenTypeOf(requested)
	if !ok {
		return nil, false
	}

	if g.closer != nil {
		inst, ok := typematch.SafeClose(func() (Instance, error) {
			return g.closer(requested)
		})
		if !ok || inst == nil {
			return nil, false
		}

		if ct := inst.ConcreteType(); ct != nil && !m.CanSatisfy(requested, ct) {
			return nil, false
		}

		return g.alias(inst, requested), true
	}

	for _, inst := range g.instantiations {
		ct := inst.ConcreteType()
		if ct == nil || !g.open.Matches(ct) {
			continue
		}

		if m.CanClose(requestedOpen, requested, ct) {
			return g.alias(inst, requested), true
		}
	}

	return nil, false
}

func (g *GenericInstance) alias(inst Instance, closed reflect.Type) Instance {
	lifecycle := g.lifecycle
	if lifecycle == nil {
		lifecycle = inst.Lifecycle()
	}

	interceptors := make([]Interceptor, 0, len(g.interceptors)+len(inst.Interceptors()))
	interceptors = append(interceptors, g.interceptors...)
	interceptors = append(interceptors, inst.Interceptors()...)

	alias := &aliasInstance{
		Instance:     inst,
		name:         g.name,
		lifecycle:    lifecycle,
		interceptors: interceptors,
		description:  fmt.Sprintf("%s closed as %s (%s)", g.open, formatType(closed), inst.Description()),
	}
	return alias.withDelegate()
}

func (g *GenericInstance) Build(pluginType reflect.Type, s *BuildSession) (any, error) {
	closed, ok := g.CloseFor(pluginType, s.matcher())
	if !ok {
		return nil, &ConfigurationError{Code: CodeCannotClose, PluginType: pluginType, Cause: ErrCannotClose}
	}
	return closed.Build(pluginType, s)
}
