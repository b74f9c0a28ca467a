package plugraph

import "fmt"

// Lifecycle decides which ObjectCache holds the objects built for an
// instance. owner is the container whose registry owns the instance's family.
type Lifecycle interface {
	Name() string
	FindCache(s *BuildSession, owner *Container) (ObjectCache, error)
}

var (
	// Transient builds a new object on every request. Inside a nested
	// container objects are reused for the life of that container.
	Transient Lifecycle = transientLifecycle{}

	// Singleton keeps one object per owning container.
	Singleton Lifecycle = singletonLifecycle{}

	// ThreadScoped keeps one object per goroutine until ReleaseThread.
	ThreadScoped Lifecycle = threadLifecycle{}

	// ContextScoped keeps one object per unit of work carried by the
	// context (see BeginScope), or per nested container.
	ContextScoped Lifecycle = contextLifecycle{}

	// HybridScoped behaves like ContextScoped when a unit of work is active
	// and like Singleton otherwise.
	HybridScoped Lifecycle = Hybrid(ContextScoped, Singleton)
)

type transientLifecycle struct{}

func (transientLifecycle) Name() string { return "Transient" }

func (transientLifecycle) FindCache(s *BuildSession, _ *Container) (ObjectCache, error) {
	if nested := s.container.nearestNested(); nested != nil {
		return nested.transients, nil
	}

	return noCache{}, nil
}

type singletonLifecycle struct{}

func (singletonLifecycle) Name() string { return "Singleton" }

func (singletonLifecycle) FindCache(_ *BuildSession, owner *Container) (ObjectCache, error) {
	return owner.singletons, nil
}

type threadLifecycle struct{}

func (threadLifecycle) Name() string { return "ThreadScoped" }

func (threadLifecycle) FindCache(s *BuildSession, owner *Container) (ObjectCache, error) {
	return owner.threadCache(s.goroutine), nil
}

type contextLifecycle struct{}

func (contextLifecycle) Name() string { return "ContextScoped" }

func (contextLifecycle) FindCache(s *BuildSession, owner *Container) (ObjectCache, error) {
	if nested := s.container.nearestNested(); nested != nil {
		return nested.scoped, nil
	}

	scope := s.container.options.scopeDetector(s.ctx)
	if scope == nil {
		return nil, ErrNoActiveScope
	}

	return scope.cacheFor(owner)
}

// HybridLifecycle uses its primary lifecycle while that lifecycle has an
// active scope and falls back otherwise.
type HybridLifecycle struct {
	Primary  Lifecycle
	Fallback Lifecycle
}

// Hybrid returns a lifecycle that uses primary when its scope is active and
// fallback otherwise.
func Hybrid(primary, fallback Lifecycle) *HybridLifecycle {
	return &HybridLifecycle{Primary: primary, Fallback: fallback}
}

func (h *HybridLifecycle) Name() string {
	return fmt.Sprintf("Hybrid(%s, %s)", h.Primary.Name(), h.Fallback.Name())
}

func (h *HybridLifecycle) FindCache(s *BuildSession, owner *Container) (ObjectCache, error) {
	cache, err := h.Primary.FindCache(s, owner)
	if err == nil {
		return cache, nil
	}

	if err != ErrNoActiveScope {
		return nil, err
	}

	return h.Fallback.FindCache(s, owner)
}

// lifecycleOrDefault returns l, or Transient when l is nil.
func lifecycleOrDefault(l Lifecycle) Lifecycle {
	if l == nil {
		return Transient
	}
	return l
}
