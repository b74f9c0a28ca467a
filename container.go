package plugraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Container resolves objects from a PluginGraph and owns the caches of the
// objects it builds. Containers form a tree: a child container shadows its
// parent's registrations family by family, and a nested container also gets
// its own Transient and ContextScoped caches while sharing ancestor
// singletons.
//
// A Container is safe for concurrent resolution once registration is done.
type Container struct {
	id      string
	graph   *PluginGraph
	parent  *Container
	options *options

	singletons *objectCache
	threads    sync.Map // goroutine id -> *objectCache

	nested     bool
	transients *objectCache
	scoped     *objectCache

	mu       sync.Mutex
	children map[*Container]struct{}
	disposed atomic.Bool
}

// NewContainer creates a root container from r. It fails with the
// registration errors collected by r.
func NewContainer(r *Registry, opts ...Option) (*Container, error) {
	if r == nil {
		return nil, ErrContainerNil
	}

	if err := r.Err(); err != nil {
		return nil, err
	}

	c := newContainer(r.graph, nil, newOptions(opts...), false)
	c.options.logger.Debug("container created",
		zap.String("container", c.id),
		zap.Int("plugin_types", len(r.graph.PluginTypes())),
	)

	return c, nil
}

func newContainer(g *PluginGraph, parent *Container, opts *options, nested bool) *Container {
	c := &Container{
		id:       uuid.NewString(),
		graph:    g,
		parent:   parent,
		options:  opts,
		nested:   nested,
		children: make(map[*Container]struct{}),
	}

	c.singletons = newObjectCache(Singleton.Name(), opts)
	if nested {
		c.transients = newObjectCache(Transient.Name(), opts)
		c.scoped = newObjectCache(ContextScoped.Name(), opts)
	}

	return c
}

// ID returns the unique id of the container.
func (c *Container) ID() string { return c.id }

// Parent returns the parent container, or nil for a root container.
func (c *Container) Parent() *Container { return c.parent }

// Graph returns the container's registry graph.
func (c *Container) Graph() *PluginGraph { return c.graph }

// IsNested reports whether the container was created by GetNestedContainer.
func (c *Container) IsNested() bool { return c.nested }

// Configure adds registrations to this container's graph. In a child
// container they shadow the parent's registrations.
func (c *Container) Configure(fn func(*Registry)) error {
	if c.disposed.Load() {
		return ErrContainerDisposed
	}

	r := newRegistryFor(c.graph)
	fn(r)
	c.graph.changed()

	return r.Err()
}

// CreateChildContainer returns a container whose registrations shadow this
// one's. It caches its own singletons for the families it registers.
func (c *Container) CreateChildContainer() (*Container, error) {
	return c.spawn(false)
}

// GetNestedContainer returns a container for one unit of work. Transient and
// ContextScoped objects are cached in it and disposed by its Close; objects
// of ancestor singletons are shared.
func (c *Container) GetNestedContainer() (*Container, error) {
	return c.spawn(true)
}

func (c *Container) spawn(nested bool) (*Container, error) {
	if c.disposed.Load() {
		return nil, ErrContainerDisposed
	}

	child := newContainer(newPluginGraph(c.graph), c, c.options, nested)

	c.mu.Lock()
	c.children[child] = struct{}{}
	c.mu.Unlock()

	return child, nil
}

// nearestNested returns the closest nested container, c included.
func (c *Container) nearestNested() *Container {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.nested {
			return cur
		}
	}
	return nil
}

// ownerOf returns the container whose graph is g, searching upwards from c.
func (c *Container) ownerOf(g *PluginGraph) *Container {
	cur := c
	for ; cur != nil; cur = cur.parent {
		if cur.graph == g {
			return cur
		}
		if cur.parent == nil {
			break
		}
	}
	return cur
}

func (c *Container) threadCache(goroutine uint64) *objectCache {
	if v, ok := c.threads.Load(goroutine); ok {
		return v.(*objectCache)
	}

	v, _ := c.threads.LoadOrStore(goroutine, newObjectCache(ThreadScoped.Name(), c.options))
	return v.(*objectCache)
}

// resolve runs fn in a new build session. When a timeout or a cancellable
// context applies, fn runs on its own goroutine and the caller stops waiting
// at the deadline while construction completes in the background.
func (c *Container) resolve(ctx context.Context, pluginType reflect.Type, name string, fn func(*BuildSession) (any, error)) (any, error) {
	return c.resolveFrom(ctx, nil, pluginType, name, fn)
}

// resolveFrom is resolve with the session starting on stack.
func (c *Container) resolveFrom(ctx context.Context, stack []frame, pluginType reflect.Type, name string, fn func(*BuildSession) (any, error)) (any, error) {
	if c.disposed.Load() {
		return nil, ErrContainerDisposed
	}

	if pluginType == nil {
		return nil, ErrPluginTypeNil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	ctx, span := c.options.tracer.Start(ctx, "plugraph.Resolve", trace.WithAttributes(
		attribute.String("plugraph.plugin_type", formatType(pluginType)),
		attribute.String("plugraph.instance", name),
		attribute.String("plugraph.container", c.id),
	))
	defer span.End()

	session := newBuildSession(ctx, c, goroutineID())
	session.stack = stack

	value, err := c.await(ctx, pluginType, func() (any, error) {
		defer session.finish()
		return fn(session)
	})

	c.options.metrics.observe(start)
	if err != nil {
		c.options.metrics.failed(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		c.options.logger.Debug("resolution failed",
			zap.String("plugin_type", formatType(pluginType)),
			zap.String("instance", name),
			zap.String("container", c.id),
			zap.Error(err),
		)
		return nil, err
	}

	return value, nil
}

type resolveResult struct {
	value any
	err   error
}

func (c *Container) await(ctx context.Context, pluginType reflect.Type, fn func() (any, error)) (any, error) {
	timeout := c.options.timeout
	if timeout <= 0 && ctx.Done() == nil {
		return fn()
	}

	done := make(chan resolveResult, 1)
	go func() {
		v, err := fn()
		done <- resolveResult{value: v, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer:
		return nil, &TimeoutError{PluginType: pluginType, Timeout: timeout}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			var limit time.Duration
			if deadline, ok := ctx.Deadline(); ok {
				limit = time.Until(deadline)
			}
			return nil, &TimeoutError{PluginType: pluginType, Timeout: limit}
		}
		return nil, ctx.Err()
	}
}

// GetInstance returns the default instance of pluginType.
func (c *Container) GetInstance(ctx context.Context, pluginType reflect.Type) (any, error) {
	return c.resolve(ctx, pluginType, "", func(s *BuildSession) (any, error) {
		return s.GetInstance(pluginType)
	})
}

// lazyInstance resolves the default instance of pluginType for a lazy
// factory. While the resolution that made the factory is still running, the
// new resolution continues its stack so that calling the factory of an
// object under construction fails as a cycle.
func (c *Container) lazyInstance(ctx context.Context, pluginType reflect.Type, origin lazyOrigin) (any, error) {
	var stack []frame
	if origin.live.Load() {
		stack = slices.Clone(origin.stack)
	}

	return c.resolveFrom(ctx, stack, pluginType, "", func(s *BuildSession) (any, error) {
		return s.GetInstance(pluginType)
	})
}

// GetNamedInstance returns the instance of pluginType called name.
func (c *Container) GetNamedInstance(ctx context.Context, pluginType reflect.Type, name string) (any, error) {
	return c.resolve(ctx, pluginType, name, func(s *BuildSession) (any, error) {
		return s.GetNamedInstance(pluginType, name)
	})
}

// TryGetInstance returns the default instance of pluginType. It reports
// false without an error when nothing is registered for pluginType; build
// failures are still returned.
func (c *Container) TryGetInstance(ctx context.Context, pluginType reflect.Type) (any, bool, error) {
	return c.try(ctx, pluginType, "", func(s *BuildSession) (any, bool, error) {
		return s.TryGetInstance(pluginType)
	})
}

// TryGetNamedInstance is TryGetInstance for a named instance.
func (c *Container) TryGetNamedInstance(ctx context.Context, pluginType reflect.Type, name string) (any, bool, error) {
	return c.try(ctx, pluginType, name, func(s *BuildSession) (any, bool, error) {
		return s.TryGetNamedInstance(pluginType, name)
	})
}

func (c *Container) try(ctx context.Context, pluginType reflect.Type, name string, fn func(*BuildSession) (any, bool, error)) (any, bool, error) {
	var found bool
	v, err := c.resolve(ctx, pluginType, name, func(s *BuildSession) (any, error) {
		v, ok, err := fn(s)
		found = ok
		return v, err
	})
	if err != nil {
		return nil, false, err
	}
	return v, found, nil
}

// GetAllInstances returns every instance of pluginType in registration order.
func (c *Container) GetAllInstances(ctx context.Context, pluginType reflect.Type) ([]any, error) {
	v, err := c.resolve(ctx, pluginType, "", func(s *BuildSession) (any, error) {
		return s.GetAllInstances(pluginType)
	})
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// BuildUp fills the inject tagged fields of target, a pointer to a struct,
// without constructing it.
func (c *Container) BuildUp(ctx context.Context, target any) error {
	if target == nil {
		return ErrInstanceNil
	}

	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("build up requires a non-nil pointer to a struct, got %T", target)
	}

	_, err := c.resolve(ctx, v.Type(), "", func(s *BuildSession) (any, error) {
		return nil, s.injectSetters(v, nil)
	})
	return err
}

// Eject removes and disposes the cached object of the instance of pluginType
// called name. An empty name ejects the default instance.
func (c *Container) Eject(pluginType reflect.Type, name string) error {
	s := newBuildSession(context.Background(), c, goroutineID())

	inst, err := s.lookup(pluginType, name)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	return c.eject(s, pluginType, inst)
}

func (c *Container) eject(s *BuildSession, pluginType reflect.Type, inst Instance) error {
	fam, owner := s.familyOf(pluginType, inst)

	lifecycle := lifecycleOrDefault(inst.Lifecycle())
	if fam != nil {
		lifecycle = fam.lifecycleFor(inst)
	}

	cache, err := lifecycle.FindCache(s, owner)
	if err != nil {
		if errors.Is(err, ErrNoActiveScope) || errors.Is(err, ErrScopeDisposed) {
			return nil
		}
		return err
	}

	return cache.Eject(CacheKey{PluginType: pluginType, Instance: inst.Name()})
}

// EjectAllInstancesOf disposes the cached objects of every instance of
// pluginType and removes the instances from this container's family.
func (c *Container) EjectAllInstancesOf(pluginType reflect.Type) error {
	s := newBuildSession(context.Background(), c, goroutineID())

	fam, err := c.graph.FindFamily(pluginType)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	var errs error
	for _, inst := range fam.Instances() {
		errs = multierr.Append(errs, c.eject(s, pluginType, inst))
	}

	c.graph.For(pluginType).RemoveAll()
	c.graph.changed()

	return errs
}

// ReleaseThread disposes the ThreadScoped objects built for the calling
// goroutine by this container and its ancestors.
func (c *Container) ReleaseThread() error {
	id := goroutineID()

	var errs error
	for cur := c; cur != nil; cur = cur.parent {
		if v, ok := cur.threads.LoadAndDelete(id); ok {
			errs = multierr.Append(errs, v.(*objectCache).EjectAll())
		}
	}

	return errs
}

// WhatDoIHave writes a table of the registrations visible from c.
func (c *Container) WhatDoIHave(w io.Writer) error {
	return c.Model().WriteText(w)
}

// Close disposes the child containers created from c, then the objects c
// cached, in reverse creation order. Disposal errors are collected and the
// sweep always completes. Close is safe to call more than once.
func (c *Container) Close() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	children := make([]*Container, 0, len(c.children))
	for child := range c.children {
		children = append(children, child)
	}
	c.children = make(map[*Container]struct{})
	c.mu.Unlock()

	var errs error
	for _, child := range children {
		errs = multierr.Append(errs, child.Close())
	}

	if c.nested {
		errs = multierr.Append(errs, c.scoped.EjectAll())
		errs = multierr.Append(errs, c.transients.EjectAll())
	}

	c.threads.Range(func(k, v any) bool {
		c.threads.Delete(k)
		errs = multierr.Append(errs, v.(*objectCache).EjectAll())
		return true
	})

	errs = multierr.Append(errs, c.singletons.EjectAll())

	if c.parent != nil {
		c.parent.mu.Lock()
		delete(c.parent.children, c)
		c.parent.mu.Unlock()
	}

	c.options.logger.Debug("container closed", zap.String("container", c.id))

	if errs != nil {
		return &DisposalError{Context: "container", Errors: multierr.Errors(errs)}
	}

	return nil
}

// IsDisposed reports whether Close has been called.
func (c *Container) IsDisposed() bool {
	return c.disposed.Load()
}
