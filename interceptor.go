package plugraph

import (
	"fmt"
	"reflect"
	"sync"
)

// Interceptor transforms objects after construction. Interceptors receive the
// built object and may return a replacement, such as a decorator wrapping it.
type Interceptor interface {
	// MatchesType reports whether the interceptor applies to objects
	// requested as pluginType.
	MatchesType(pluginType reflect.Type) bool

	// Intercept returns the object to use in place of target.
	Intercept(target any, s *BuildSession) (any, error)
}

// InterceptorFunc adapts a function to an Interceptor matching every type.
type InterceptorFunc func(target any, s *BuildSession) (any, error)

func (f InterceptorFunc) MatchesType(reflect.Type) bool { return true }

func (f InterceptorFunc) Intercept(target any, s *BuildSession) (any, error) {
	return f(target, s)
}

type matchingInterceptor struct {
	match func(reflect.Type) bool
	fn    InterceptorFunc
}

func (m *matchingInterceptor) MatchesType(t reflect.Type) bool {
	return m.match(t)
}

func (m *matchingInterceptor) Intercept(target any, s *BuildSession) (any, error) {
	return m.fn(target, s)
}

// ForType returns an interceptor applied to objects requested as t.
func ForType(t reflect.Type, fn InterceptorFunc) Interceptor {
	return &matchingInterceptor{
		match: func(other reflect.Type) bool { return other == t },
		fn:    fn,
	}
}

// ForTypes returns an interceptor applied to every plugin type accepted by match.
func ForTypes(match func(reflect.Type) bool, fn InterceptorFunc) Interceptor {
	return &matchingInterceptor{match: match, fn: fn}
}

// EnrichWith returns an interceptor that replaces objects of type T with the
// result of fn, typically a decorator.
//
// Example:
//
//	plugraph.For[Store](r).
//	    Use(NewSQLStore).
//	    InterceptWith(plugraph.EnrichWith(func(s Store, _ *plugraph.BuildSession) (Store, error) {
//	        return &cachingStore{next: s}, nil
//	    }))
func EnrichWith[T any](fn func(T, *BuildSession) (T, error)) Interceptor {
	return &matchingInterceptor{
		match: matchesTypeOf[T](),
		fn: func(target any, s *BuildSession) (any, error) {
			typed, ok := target.(T)
			if !ok {
				return target, nil
			}
			return fn(typed, s)
		},
	}
}

// OnCreation returns an interceptor that calls fn with each new object of
// type T and keeps the object unchanged.
func OnCreation[T any](fn func(T, *BuildSession) error) Interceptor {
	return &matchingInterceptor{
		match: matchesTypeOf[T](),
		fn: func(target any, s *BuildSession) (any, error) {
			typed, ok := target.(T)
			if !ok {
				return target, nil
			}
			if err := fn(typed, s); err != nil {
				return nil, err
			}
			return target, nil
		},
	}
}

func matchesTypeOf[T any]() func(reflect.Type) bool {
	want := reflect.TypeFor[T]()
	return func(t reflect.Type) bool {
		if t == want {
			return true
		}
		if want.Kind() == reflect.Interface {
			return t.Implements(want)
		}
		return t.AssignableTo(want)
	}
}

// CompoundInterceptor pipes an object through several interceptors in order.
type CompoundInterceptor []Interceptor

func (c CompoundInterceptor) MatchesType(t reflect.Type) bool {
	for _, i := range c {
		if i.MatchesType(t) {
			return true
		}
	}
	return false
}

func (c CompoundInterceptor) Intercept(target any, s *BuildSession) (any, error) {
	current := target
	for i, interceptor := range c {
		next, err := interceptor.Intercept(current, s)
		if err != nil {
			return nil, fmt.Errorf("interceptor %d: %w", i, err)
		}
		current = next
	}
	return current, nil
}

// interceptorLibrary holds the global interceptors of a graph and memoises
// the matching compound per plugin type.
type interceptorLibrary struct {
	mu           sync.RWMutex
	interceptors []Interceptor
	memo         sync.Map // reflect.Type -> CompoundInterceptor
}

func newInterceptorLibrary() *interceptorLibrary {
	return &interceptorLibrary{}
}

func (l *interceptorLibrary) add(interceptors ...Interceptor) {
	l.mu.Lock()
	for _, i := range interceptors {
		if i != nil {
			l.interceptors = append(l.interceptors, i)
		}
	}
	l.mu.Unlock()

	l.memo.Clear()
}

// compoundFor returns the interceptors matching t, in registration order.
func (l *interceptorLibrary) compoundFor(t reflect.Type) CompoundInterceptor {
	if v, ok := l.memo.Load(t); ok {
		return v.(CompoundInterceptor)
	}

	l.mu.RLock()
	var compound CompoundInterceptor
	for _, i := range l.interceptors {
		if i.MatchesType(t) {
			compound = append(compound, i)
		}
	}
	l.mu.RUnlock()

	actual, _ := l.memo.LoadOrStore(t, compound)
	return actual.(CompoundInterceptor)
}
