package plugraph

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Instance is a recipe for producing one object of a plugin type. Instances
// are registered with a PluginFamily and built by a BuildSession.
type Instance interface {
	// Name is unique within the owning family. Unnamed instances receive a
	// generated name.
	Name() string

	// ConcreteType is the type the instance produces, or nil when it is not
	// known before building.
	ConcreteType() reflect.Type

	// Description is a human readable summary for diagnostics.
	Description() string

	// Lifecycle overrides the family lifecycle when non-nil.
	Lifecycle() Lifecycle

	// Interceptors run after the family interceptors, in order.
	Interceptors() []Interceptor

	// Build constructs the object. Dependencies are resolved through s.
	Build(pluginType reflect.Type, s *BuildSession) (any, error)
}

// delegatingInstance forwards to another instance of the requested family
// instead of constructing anything itself. Delegates are never cached.
type delegatingInstance interface {
	Instance
	target(pluginType reflect.Type, s *BuildSession) (Instance, error)
}

// configurable is implemented by the built-in instances so that options can
// be applied after construction.
type configurable interface {
	base() *instanceBase
}

// invalidInstance is implemented by instances that can fail at registration.
type invalidInstance interface {
	invalid() error
}

// InstanceOption configures an Instance.
type InstanceOption func(*instanceBase)

// Named sets the instance name.
func Named(name string) InstanceOption {
	return func(b *instanceBase) {
		if name != "" {
			b.name = name
		}
	}
}

// WithLifecycle overrides the family lifecycle for this instance only.
func WithLifecycle(l Lifecycle) InstanceOption {
	return func(b *instanceBase) {
		b.lifecycle = l
	}
}

// InterceptWith appends instance interceptors. They run after the global and
// family interceptors.
func InterceptWith(interceptors ...Interceptor) InstanceOption {
	return func(b *instanceBase) {
		for _, i := range interceptors {
			if i != nil {
				b.interceptors = append(b.interceptors, i)
			}
		}
	}
}

type instanceBase struct {
	name         string
	lifecycle    Lifecycle
	interceptors []Interceptor
}

func newInstanceBase(opts []InstanceOption) instanceBase {
	var b instanceBase
	b.apply(opts)
	if b.name == "" {
		b.name = uuid.NewString()
	}
	return b
}

func (b *instanceBase) apply(opts []InstanceOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
}

func (b *instanceBase) base() *instanceBase         { return b }
func (b *instanceBase) Name() string                { return b.name }
func (b *instanceBase) Lifecycle() Lifecycle        { return b.lifecycle }
func (b *instanceBase) Interceptors() []Interceptor { return b.interceptors }

// configure applies opts to inst when it is one of the built-in instances.
func configure(inst Instance, opts []InstanceOption) Instance {
	if len(opts) == 0 {
		return inst
	}

	if c, ok := inst.(configurable); ok {
		c.base().apply(opts)
	}

	return inst
}

// toInstance converts a registration value into an Instance: an Instance is
// used as is, a reflect.Type becomes a TypeInstance, a function becomes a
// ConstructorInstance unless the plugin type is itself a matching function
// type, and anything else is a pre-built object.
func toInstance(pluginType reflect.Type, x any, opts ...InstanceOption) (Instance, error) {
	switch v := x.(type) {
	case nil:
		return nil, ErrInstanceNil
	case Instance:
		return configure(v, opts), nil
	case reflect.Type:
		return Type(v, opts...), nil
	}

	t := reflect.TypeOf(x)
	if t.Kind() == reflect.Func {
		if pluginType != nil && pluginType.Kind() == reflect.Func && t.AssignableTo(pluginType) {
			return Object(x, opts...), nil
		}
		return Constructor(x, opts...), nil
	}

	return Object(x, opts...), nil
}

// ObjectInstance returns a pre-built object.
type ObjectInstance struct {
	instanceBase
	value any
}

// Object registers a pre-built object. Objects are Singleton unless
// WithLifecycle says otherwise, so interceptors run once and the object is
// disposed with its container.
func Object(value any, opts ...InstanceOption) *ObjectInstance {
	o := &ObjectInstance{value: value}
	o.lifecycle = Singleton
	o.apply(opts)
	if o.name == "" {
		o.name = uuid.NewString()
	}
	return o
}

func (o *ObjectInstance) ConcreteType() reflect.Type { return reflect.TypeOf(o.value) }

func (o *ObjectInstance) Description() string {
	return fmt.Sprintf("Object: %s", formatType(o.ConcreteType()))
}

func (o *ObjectInstance) Build(reflect.Type, *BuildSession) (any, error) {
	return o.value, nil
}

func (o *ObjectInstance) invalid() error {
	if o.value == nil {
		return ErrInstanceNil
	}
	return nil
}

// TypeInstance builds a struct from its zero value and fills the fields
// tagged with inject.
type TypeInstance struct {
	instanceBase
	concrete   reflect.Type
	properties map[string]any
}

// Type registers a concrete struct type or pointer to struct type.
func Type(t reflect.Type, opts ...InstanceOption) *TypeInstance {
	return &TypeInstance{
		instanceBase: newInstanceBase(opts),
		concrete:     t,
	}
}

// TypeOf is Type for the type parameter T.
func TypeOf[T any](opts ...InstanceOption) *TypeInstance {
	return Type(reflect.TypeFor[T](), opts...)
}

// Property sets the dependency injected into field, overriding autowiring.
// The field does not need an inject tag.
func (t *TypeInstance) Property(field string, dep any) *TypeInstance {
	if t.properties == nil {
		t.properties = make(map[string]any)
	}
	t.properties[field] = dep
	return t
}

func (t *TypeInstance) ConcreteType() reflect.Type { return t.concrete }

func (t *TypeInstance) Description() string {
	return fmt.Sprintf("Type: %s", formatType(t.concrete))
}

func (t *TypeInstance) invalid() error {
	if t.concrete == nil {
		return ErrInstanceNil
	}

	st := t.concrete
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return fmt.Errorf("%s is not a struct or pointer to struct", formatType(t.concrete))
	}
	return nil
}

func (t *TypeInstance) Build(_ reflect.Type, s *BuildSession) (any, error) {
	if err := t.invalid(); err != nil {
		return nil, err
	}

	if t.concrete.Kind() == reflect.Pointer {
		ptr := reflect.New(t.concrete.Elem())
		if err := s.injectSetters(ptr, t.properties); err != nil {
			return nil, err
		}
		return ptr.Interface(), nil
	}

	ptr := reflect.New(t.concrete)
	if err := s.injectSetters(ptr, t.properties); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// LambdaInstance builds objects with a function of the build session.
type LambdaInstance struct {
	instanceBase
	concrete reflect.Type
	fn       func(*BuildSession) (any, error)
}

// Lambda registers a factory function. Its result is checked against the
// requested plugin type when built.
func Lambda(fn func(*BuildSession) (any, error), opts ...InstanceOption) *LambdaInstance {
	return &LambdaInstance{
		instanceBase: newInstanceBase(opts),
		fn:           fn,
	}
}

// Factory is a typed Lambda.
func Factory[T any](fn func(*BuildSession) (T, error), opts ...InstanceOption) *LambdaInstance {
	l := Lambda(func(s *BuildSession) (any, error) {
		return fn(s)
	}, opts...)
	l.concrete = reflect.TypeFor[T]()
	return l
}

func (l *LambdaInstance) ConcreteType() reflect.Type { return l.concrete }

func (l *LambdaInstance) Description() string {
	if l.concrete != nil {
		return fmt.Sprintf("Lambda: %s", formatType(l.concrete))
	}
	return "Lambda"
}

func (l *LambdaInstance) invalid() error {
	if l.fn == nil {
		return ErrConstructorNil
	}
	return nil
}

func (l *LambdaInstance) Build(pluginType reflect.Type, s *BuildSession) (any, error) {
	v, err := l.fn(s)
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, ErrNilResult
	}

	if actual := reflect.TypeOf(v); !s.matcher().CanSatisfy(pluginType, actual) {
		return nil, &TypeMismatchError{Expected: pluginType, Actual: actual, Context: "lambda result"}
	}

	return v, nil
}

// ReferencedInstance resolves another instance of the requested plugin type
// by name.
type ReferencedInstance struct {
	instanceBase
	reference string
}

// Reference refers to the instance named name in the requested family.
func Reference(name string, opts ...InstanceOption) *ReferencedInstance {
	return &ReferencedInstance{
		instanceBase: newInstanceBase(opts),
		reference:    name,
	}
}

func (r *ReferencedInstance) ConcreteType() reflect.Type { return nil }

func (r *ReferencedInstance) Description() string {
	return fmt.Sprintf("Reference to %q", r.reference)
}

func (r *ReferencedInstance) target(pluginType reflect.Type, s *BuildSession) (Instance, error) {
	return s.lookup(pluginType, r.reference)
}

func (r *ReferencedInstance) Build(pluginType reflect.Type, s *BuildSession) (any, error) {
	return s.Build(pluginType, r)
}

// DefaultInstance resolves the default instance of the requested family.
type DefaultInstance struct {
	instanceBase
}

// Default refers to the default instance of the requested family.
func Default(opts ...InstanceOption) *DefaultInstance {
	return &DefaultInstance{instanceBase: newInstanceBase(opts)}
}

func (d *DefaultInstance) ConcreteType() reflect.Type { return nil }
func (d *DefaultInstance) Description() string        { return "Default" }

func (d *DefaultInstance) target(pluginType reflect.Type, s *BuildSession) (Instance, error) {
	return s.lookup(pluginType, "")
}

func (d *DefaultInstance) Build(pluginType reflect.Type, s *BuildSession) (any, error) {
	return s.Build(pluginType, d)
}

// EnumerableInstance builds a slice plugin type []T from instances of T.
type EnumerableInstance struct {
	instanceBase
	children []any
}

// Enumerable builds a slice from the given children, each converted like a
// registration value. With no children, every instance of the element type
// is included.
func Enumerable(children ...any) *EnumerableInstance {
	return &EnumerableInstance{
		instanceBase: newInstanceBase(nil),
		children:     children,
	}
}

func (e *EnumerableInstance) ConcreteType() reflect.Type { return nil }

func (e *EnumerableInstance) Description() string {
	if len(e.children) == 0 {
		return "Enumerable of all instances"
	}
	return fmt.Sprintf("Enumerable of %d instances", len(e.children))
}

func (e *EnumerableInstance) Build(pluginType reflect.Type, s *BuildSession) (any, error) {
	if pluginType.Kind() != reflect.Slice {
		return nil, fmt.Errorf("enumerable requires a slice plugin type, got %s", formatType(pluginType))
	}

	elem := pluginType.Elem()

	var values []any
	if len(e.children) == 0 {
		all, err := s.GetAllInstances(elem)
		if err != nil {
			return nil, err
		}
		values = all
	} else {
		for i, child := range e.children {
			inst, err := toInstance(elem, child)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}

			v, err := s.Build(elem, inst)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
	}

	out := reflect.MakeSlice(pluginType, 0, len(values))
	for i, v := range values {
		ev, err := coerceValue(v, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = reflect.Append(out, ev)
	}

	return out.Interface(), nil
}

// aliasInstance presents another instance under a different name, lifecycle
// and interceptors. Closed generics and missing-name fallbacks use it.
type aliasInstance struct {
	Instance
	name         string
	lifecycle    Lifecycle
	interceptors []Interceptor
	description  string
	fallback     bool
}

// delegatingAlias is an alias of a delegate. It keeps forwarding to the
// delegate's target so that the alias itself is never built or cached.
type delegatingAlias struct {
	*aliasInstance
	delegate delegatingInstance
}

func (a *delegatingAlias) target(pluginType reflect.Type, s *BuildSession) (Instance, error) {
	return a.delegate.target(pluginType, s)
}

// withDelegate returns a, wrapped in a delegatingAlias when it aliases a
// delegate.
func (a *aliasInstance) withDelegate() Instance {
	if d, ok := a.Instance.(delegatingInstance); ok {
		return &delegatingAlias{aliasInstance: a, delegate: d}
	}
	return a
}

// isFallback reports whether inst was produced by a family's missing-name
// fallback and so belongs to that family without being registered in it.
func isFallback(inst Instance) bool {
	switch a := inst.(type) {
	case *aliasInstance:
		return a.fallback
	case *delegatingAlias:
		return a.fallback
	default:
		return false
	}
}

func (a *aliasInstance) Name() string                { return a.name }
func (a *aliasInstance) Lifecycle() Lifecycle        { return a.lifecycle }
func (a *aliasInstance) Interceptors() []Interceptor { return a.interceptors }
func (a *aliasInstance) Description() string         { return a.description }
