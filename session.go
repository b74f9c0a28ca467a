package plugraph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/junioryono/plugraph/internal/graph"
	"github.com/junioryono/plugraph/internal/reflection"
	"github.com/junioryono/plugraph/internal/typematch"
	"go.uber.org/zap"
)

// NodeKey identifies an instance under construction: the plugin type it was
// requested as and the instance name.
type NodeKey = graph.NodeKey

var (
	contextType   = reflect.TypeFor[context.Context]()
	containerType = reflect.TypeFor[*Container]()
	sessionType   = reflect.TypeFor[*BuildSession]()
)

// BuildSession performs one top-level resolution. It tracks the instances
// under construction to detect cycles, and every dependency of the request
// is resolved through it. A session is not safe for concurrent use and must
// not be kept after the resolution that received it returns.
type BuildSession struct {
	ctx       context.Context
	container *Container
	goroutine uint64
	stack     []frame
	recorder  *validationRecorder
	live      *atomic.Bool
}

type frame struct {
	key      NodeKey
	delegate bool
}

func newBuildSession(ctx context.Context, c *Container, goroutine uint64) *BuildSession {
	if ctx == nil {
		ctx = context.Background()
	}

	live := new(atomic.Bool)
	live.Store(true)

	return &BuildSession{
		ctx:       ctx,
		container: c,
		goroutine: goroutine,
		live:      live,
	}
}

// rootedAt returns a session building from owner that continues s's
// resolution. The stack is shared so cycles through owner are still found.
func (s *BuildSession) rootedAt(owner *Container) *BuildSession {
	return &BuildSession{
		ctx:       s.ctx,
		container: owner,
		goroutine: s.goroutine,
		stack:     s.stack,
		recorder:  s.recorder,
		live:      s.live,
	}
}

// lazyOrigin is what a lazy factory keeps of the session that built it.
type lazyOrigin struct {
	live  *atomic.Bool
	stack []frame
}

func (s *BuildSession) origin() lazyOrigin {
	return lazyOrigin{live: s.live, stack: slices.Clone(s.stack)}
}

// finish marks the resolution as complete.
func (s *BuildSession) finish() { s.live.Store(false) }

// Context returns the context of the resolution.
func (s *BuildSession) Context() context.Context { return s.ctx }

// Container returns the container building the current object: the one the
// resolution started from, or the ancestor that caches the object.
func (s *BuildSession) Container() *Container { return s.container }

// Path returns the instances under construction, outermost first.
func (s *BuildSession) Path() []NodeKey {
	var path []NodeKey
	for _, f := range s.stack {
		if !f.delegate {
			path = append(path, f.key)
		}
	}
	return path
}

// ParentType returns the plugin type of the instance that requested the one
// currently being built, or nil at the top of the resolution.
func (s *BuildSession) ParentType() reflect.Type {
	path := s.Path()
	if len(path) < 2 {
		return nil
	}
	return path[len(path)-2].Type
}

func (s *BuildSession) matcher() *typematch.Matcher {
	return s.container.graph.matcher
}

func (s *BuildSession) builtin(t reflect.Type) (any, bool) {
	switch t {
	case contextType:
		return s.ctx, true
	case containerType:
		return s.container, true
	case sessionType:
		return s, true
	default:
		return nil, false
	}
}

// lookup finds the instance answering a request for t: the default when name
// is empty, else the named instance or the family's missing-name fallback.
func (s *BuildSession) lookup(t reflect.Type, name string) (Instance, error) {
	fam, err := s.container.graph.FindFamily(t)
	if err != nil {
		return nil, err
	}

	if name == "" {
		return fam.defaultInstance()
	}

	if inst, ok := fam.FindInstance(name); ok {
		return inst, nil
	}

	if inst := fam.missingNamed(name); inst != nil {
		return inst, nil
	}

	return nil, &ConfigurationError{
		Code:       CodeNamedInstanceNotFound,
		PluginType: t,
		Instance:   name,
		Cause:      ErrNamedInstanceNotFound,
	}
}

// GetInstance builds the default instance of t.
func (s *BuildSession) GetInstance(t reflect.Type) (any, error) {
	if v, ok := s.builtin(t); ok {
		return v, nil
	}

	inst, err := s.lookup(t, "")
	if err != nil {
		return nil, err
	}

	return s.Build(t, inst)
}

// GetNamedInstance builds the instance of t called name.
func (s *BuildSession) GetNamedInstance(t reflect.Type, name string) (any, error) {
	inst, err := s.lookup(t, name)
	if err != nil {
		return nil, err
	}

	return s.Build(t, inst)
}

// TryGetInstance builds the default instance of t. It reports false without
// an error when nothing is registered for t.
func (s *BuildSession) TryGetInstance(t reflect.Type) (any, bool, error) {
	if v, ok := s.builtin(t); ok {
		return v, true, nil
	}

	return s.tryBuild(t, "")
}

// TryGetNamedInstance is TryGetInstance for a named instance.
func (s *BuildSession) TryGetNamedInstance(t reflect.Type, name string) (any, bool, error) {
	return s.tryBuild(t, name)
}

func (s *BuildSession) tryBuild(t reflect.Type, name string) (any, bool, error) {
	inst, err := s.lookup(t, name)
	if err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	v, err := s.Build(t, inst)
	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// GetAllInstances builds every instance of t in registration order. It
// returns an empty slice when nothing is registered for t.
func (s *BuildSession) GetAllInstances(t reflect.Type) ([]any, error) {
	fam, err := s.container.graph.FindFamily(t)
	if err != nil {
		if IsNotFound(err) {
			return []any{}, nil
		}
		return nil, err
	}

	instances := fam.Instances()
	out := make([]any, 0, len(instances))
	for _, inst := range instances {
		v, err := s.Build(t, inst)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	return out, nil
}

// Build returns the object inst produces for pluginType, from the lifecycle
// cache when possible.
func (s *BuildSession) Build(pluginType reflect.Type, inst Instance) (any, error) {
	if pluginType == nil {
		return nil, ErrPluginTypeNil
	}
	if inst == nil {
		return nil, ErrInstanceNil
	}

	key := NodeKey{Type: pluginType, Name: inst.Name()}
	for i, f := range s.stack {
		if f.key == key {
			err := s.cycle(i, key)
			if s.recorder != nil {
				return nil, s.recorder.fail(key, err)
			}
			return nil, err
		}
	}

	d, delegate := inst.(delegatingInstance)
	if s.recorder != nil && !delegate {
		s.recorder.enter(s.nearest(), key, inst.Description())
	}

	s.stack = append(s.stack, frame{key: key, delegate: delegate})
	defer func() {
		s.stack = s.stack[:len(s.stack)-1]
	}()

	if delegate {
		target, err := d.target(pluginType, s)
		if err != nil {
			return nil, err
		}
		return s.Build(pluginType, target)
	}

	value, err := s.buildCached(pluginType, inst)
	if err != nil {
		if s.recorder != nil {
			return nil, s.recorder.fail(key, err)
		}
		return nil, s.wrap(pluginType, inst, err)
	}

	if s.recorder != nil {
		s.recorder.succeed(key, value)
	}

	return value, nil
}

// nearest returns the innermost instance under construction that is not a
// delegate.
func (s *BuildSession) nearest() *NodeKey {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if !s.stack[i].delegate {
			k := s.stack[i].key
			return &k
		}
	}
	return nil
}

func (s *BuildSession) cycle(start int, key NodeKey) error {
	var path []NodeKey
	for _, f := range s.stack[start:] {
		if !f.delegate {
			path = append(path, f.key)
		}
	}

	if len(path) == 0 {
		for _, f := range s.stack[start:] {
			path = append(path, f.key)
		}
	}

	return &CircularDependencyError{Node: key, Path: path}
}

// wrap adds the build chain to err unless an inner frame already did.
func (s *BuildSession) wrap(pluginType reflect.Type, inst Instance, err error) error {
	var (
		built *BuildError
		cycle *CircularDependencyError
	)
	if errors.As(err, &built) || errors.As(err, &cycle) {
		return err
	}

	return &BuildError{
		PluginType: pluginType,
		Instance:   inst.Name(),
		Chain:      s.Path(),
		Cause:      err,
	}
}

// familyOf returns the family inst is registered in, if any, and the
// container that caches its objects.
func (s *BuildSession) familyOf(pluginType reflect.Type, inst Instance) (*PluginFamily, *Container) {
	fam, err := s.container.graph.FindFamily(pluginType)
	if err != nil {
		return nil, s.container
	}

	if _, ok := fam.FindInstance(inst.Name()); !ok && !isFallback(inst) {
		return nil, s.container
	}

	return fam, s.container.ownerOf(fam.ownerGraph(inst))
}

func (s *BuildSession) buildCached(pluginType reflect.Type, inst Instance) (any, error) {
	fam, owner := s.familyOf(pluginType, inst)

	lifecycle := lifecycleOrDefault(inst.Lifecycle())
	if fam != nil {
		lifecycle = fam.lifecycleFor(inst)
	}

	cache, err := lifecycle.FindCache(s, owner)
	if err != nil {
		return nil, err
	}

	// objects cached by an ancestor are wired from the ancestor so that they
	// never see this container's overrides or its nested objects
	builder := s
	if owner != s.container && !s.requestLocal(cache) {
		builder = s.rootedAt(owner)
		if f, err := owner.graph.FindFamily(pluginType); err == nil {
			fam = f
		}
	}

	key := CacheKey{PluginType: pluginType, Instance: inst.Name()}
	return cache.GetOrBuild(key, func() (any, error) {
		return builder.construct(pluginType, inst, fam, lifecycle)
	})
}

// requestLocal reports whether cache belongs to the requesting container
// rather than to the instance's owner.
func (s *BuildSession) requestLocal(cache ObjectCache) bool {
	if _, ok := cache.(noCache); ok {
		return true
	}

	nested := s.container.nearestNested()
	return nested != nil && (cache == nested.transients || cache == nested.scoped)
}

func (s *BuildSession) construct(pluginType reflect.Type, inst Instance, fam *PluginFamily, lifecycle Lifecycle) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &ConstructorPanicError{
				Constructor: constructorType(inst),
				Panic:       r,
				Stack:       debug.Stack(),
			}
		}
	}()

	value, err = inst.Build(pluginType, s)
	if err != nil {
		return nil, err
	}

	value, err = s.intercept(pluginType, inst, fam, value)
	if err != nil {
		return nil, err
	}

	opts := s.container.options
	opts.metrics.built(formatType(pluginType))
	opts.logger.Debug("built",
		zap.String("plugin_type", formatType(pluginType)),
		zap.String("instance", inst.Name()),
		zap.String("lifecycle", lifecycle.Name()),
		zap.String("container", s.container.id),
	)

	return value, nil
}

func constructorType(inst Instance) reflect.Type {
	if c, ok := inst.(*ConstructorInstance); ok && c.info != nil {
		return c.info.Type
	}
	return inst.ConcreteType()
}

// intercept runs the global, family and instance interceptors over value.
func (s *BuildSession) intercept(pluginType reflect.Type, inst Instance, fam *PluginFamily, value any) (any, error) {
	chain := s.container.graph.interceptorsFor(pluginType)
	if fam != nil {
		chain = append(chain, fam.Interceptors()...)
	}
	chain = append(chain, inst.Interceptors()...)

	if len(chain) == 0 {
		return value, nil
	}

	return chain.Intercept(value, s)
}

// resolveDependency autowires a dependency of type t. missing reports that
// nothing is registered to answer it, as opposed to a failed build.
func (s *BuildSession) resolveDependency(t reflect.Type, name string) (v reflect.Value, missing bool, err error) {
	if name == "" {
		if b, ok := s.builtin(t); ok {
			return reflect.ValueOf(b), false, nil
		}
	}

	inst, err := s.lookup(t, name)
	if err != nil {
		return reflect.Value{}, IsNotFound(err), err
	}

	built, err := s.Build(t, inst)
	if err != nil {
		return reflect.Value{}, false, err
	}

	v, err = coerceValue(built, t)
	return v, false, err
}

// autowire resolves a constructor parameter. Optional parameters that
// nothing answers are left at their zero value.
func (s *BuildSession) autowire(t reflect.Type, name string, optional bool) (reflect.Value, error) {
	v, missing, err := s.resolveDependency(t, name)
	if err != nil {
		if missing && optional {
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, err
	}
	return v, nil
}

// resolveOverride resolves an explicit dependency: an Instance is built as t,
// anything else is converted to t.
func (s *BuildSession) resolveOverride(t reflect.Type, dep any) (reflect.Value, error) {
	if inst, ok := dep.(Instance); ok {
		built, err := s.Build(t, inst)
		if err != nil {
			return reflect.Value{}, err
		}
		return coerceValue(built, t)
	}

	return coerceValue(dep, t)
}

func coerceValue(v any, t reflect.Type) (reflect.Value, error) {
	out, err := reflection.Coerce(v, t)
	if err != nil {
		return reflect.Value{}, &TypeMismatchError{Expected: t, Actual: reflect.TypeOf(v), Context: "dependency"}
	}
	return out, nil
}

// injectSetters fills the inject tagged fields of target, a pointer to a
// struct, and the fields named in overrides.
func (s *BuildSession) injectSetters(target reflect.Value, overrides map[string]any) error {
	setters, err := analyzer.Setters(target.Type())
	if err != nil {
		return &ReflectionAnalysisError{Constructor: target.Interface(), Operation: "setters", Cause: err}
	}

	done := make(map[string]bool, len(setters))
	for _, setter := range setters {
		done[setter.Field] = true

		var v reflect.Value
		if dep, ok := overrides[setter.Field]; ok {
			v, err = s.resolveOverride(setter.Type, dep)
		} else {
			var missing bool
			v, missing, err = s.resolveDependency(setter.Type, setter.Named)
			if missing {
				if setter.Optional {
					continue
				}
				err = fmt.Errorf("%w %s on %s: %w", ErrMissingMandatoryProperty, setter.Field, formatType(target.Type()), err)
			}
		}
		if err != nil {
			return err
		}

		if err := reflection.SetField(target, setter, v); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		if !done[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := reflection.FieldByName(target.Type(), name)
		if !ok {
			return fmt.Errorf("%s has no exported field %s", formatType(target.Type()), name)
		}

		setter := reflection.SetterInfo{Field: name, Index: field.Index, Type: field.Type}
		v, err := s.resolveOverride(field.Type, overrides[name])
		if err != nil {
			return err
		}

		if err := reflection.SetField(target, setter, v); err != nil {
			return err
		}
	}

	return nil
}

// injectResult applies setter injection to a constructor result.
func (s *BuildSession) injectResult(result *reflect.Value, overrides map[string]any) error {
	v := *result
	if !v.IsValid() {
		return nil
	}

	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch {
	case v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Struct:
		return s.injectSetters(v, overrides)

	case v.Kind() == reflect.Struct:
		setters, err := analyzer.Setters(v.Type())
		if err != nil {
			return &ReflectionAnalysisError{Constructor: v.Interface(), Operation: "setters", Cause: err}
		}
		if len(setters) == 0 && len(overrides) == 0 {
			return nil
		}

		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		if err := s.injectSetters(ptr, overrides); err != nil {
			return err
		}
		*result = ptr.Elem()
		return nil

	case len(overrides) > 0:
		return fmt.Errorf("cannot set properties on %s", formatType(v.Type()))

	default:
		return nil
	}
}
