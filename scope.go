package plugraph

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type scopeContextKey struct{}

// Scope is a unit of work, such as one request, carried by a context.
// ContextScoped objects built while the scope is active are cached in it and
// disposed when it closes.
//
// Example:
//
//	ctx, scope := plugraph.BeginScope(r.Context())
//	defer scope.Close()
//
//	svc, err := plugraph.Resolve[RequestService](ctx, c)
type Scope struct {
	id string

	mu     sync.Mutex
	caches map[*Container]*objectCache
	order  []*objectCache
	closed bool

	stop func() bool
}

// BeginScope starts a unit of work and returns a context carrying it. The
// scope closes when Close is called or when ctx is done, whichever comes
// first.
func BeginScope(ctx context.Context) (context.Context, *Scope) {
	if ctx == nil {
		ctx = context.Background()
	}

	s := &Scope{
		id:     uuid.NewString(),
		caches: make(map[*Container]*objectCache),
	}

	ctx = context.WithValue(ctx, scopeContextKey{}, s)
	s.stop = context.AfterFunc(ctx, func() {
		_ = s.Close()
	})

	return ctx, s
}

// ScopeFromContext returns the scope carried by ctx, or nil. A closed scope
// is still returned so that resolutions report ErrScopeDisposed.
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}

	s, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return s
}

// ID returns the unique id of the scope.
func (s *Scope) ID() string { return s.id }

// IsClosed reports whether the scope has been closed.
func (s *Scope) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// cacheFor returns the cache holding the objects owned by owner.
func (s *Scope) cacheFor(owner *Container) (ObjectCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeDisposed
	}

	cache, ok := s.caches[owner]
	if !ok {
		cache = newObjectCache(ContextScoped.Name(), owner.options)
		s.caches[owner] = cache
		s.order = append(s.order, cache)
	}

	return cache, nil
}

// Close disposes the objects cached in the scope, in reverse creation order
// per container. It is safe to call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	order := s.order
	s.order = nil
	s.caches = nil
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, order[i].EjectAll())
	}

	if errs != nil {
		return &DisposalError{Context: "scope", Errors: multierr.Errors(errs)}
	}

	return nil
}
