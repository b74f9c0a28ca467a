// Package typematch decides whether a concrete type can satisfy a requested
// plugin type, including the closing of open generic registrations.
//
// Go does not instantiate generic types at runtime, so an open generic type is
// identified by its definition (package path plus the base name that
// precedes the type argument list), and closing is performed against a set of
// known closed types collected when plugins are registered.
package typematch

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// OpenType identifies an uninstantiated generic type such as Repository[T].
type OpenType struct {
	PkgPath string
	Name    string
}

// IsZero reports whether o identifies no type.
func (o OpenType) IsZero() bool {
	return o.Name == ""
}

// String returns the qualified generic name, for example "app.Repository[...]".
func (o OpenType) String() string {
	if o.IsZero() {
		return "<nil>"
	}

	pkg := o.PkgPath
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		pkg = pkg[i+1:]
	}

	if pkg == "" {
		return o.Name + "[...]"
	}

	return pkg + "." + o.Name + "[...]"
}

// Matches reports whether t is an instantiation of o.
func (o OpenType) Matches(t reflect.Type) bool {
	other, ok := OpenTypeOf(t)
	return ok && other == o
}

// OpenTypeOf returns the generic definition of an instantiated type.
// A single level of pointer indirection is removed first, so *Repository[int]
// and Repository[int] share the same definition.
func OpenTypeOf(t reflect.Type) (OpenType, bool) {
	t = named(t)
	if t == nil {
		return OpenType{}, false
	}

	name := t.Name()
	i := strings.IndexByte(name, '[')
	if i <= 0 || !strings.HasSuffix(name, "]") {
		return OpenType{}, false
	}

	return OpenType{PkgPath: t.PkgPath(), Name: name[:i]}, true
}

// IsGeneric reports whether t is an instantiation of a generic type.
func IsGeneric(t reflect.Type) bool {
	_, ok := OpenTypeOf(t)
	return ok
}

// TypeArgs returns the type argument names of an instantiated generic type in
// declaration order. It returns nil for non-generic types.
func TypeArgs(t reflect.Type) []string {
	t = named(t)
	if t == nil {
		return nil
	}

	name := t.Name()
	i := strings.IndexByte(name, '[')
	if i <= 0 || !strings.HasSuffix(name, "]") {
		return nil
	}

	return splitArgs(name[i+1 : len(name)-1])
}

// splitArgs splits a type argument list on top-level commas.
func splitArgs(list string) []string {
	var (
		args  []string
		depth int
		start int
	)

	for i, r := range list {
		switch r {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(list[start:i]))
				start = i + 1
			}
		}
	}

	if last := strings.TrimSpace(list[start:]); last != "" {
		args = append(args, last)
	}

	return args
}

func named(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}

	if t.Kind() == reflect.Pointer && t.Name() == "" {
		return t.Elem()
	}

	return t
}

type pairKey struct {
	requested reflect.Type
	candidate reflect.Type
}

// Matcher answers type compatibility questions and remembers the answers.
// It is safe for concurrent use.
type Matcher struct {
	mu       sync.RWMutex
	known    map[reflect.Type]struct{}
	sorted   []reflect.Type
	dirty    bool
	satisfy  sync.Map // pairKey -> bool
	bindings sync.Map // pairKey -> bool
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{
		known: make(map[reflect.Type]struct{}),
	}
}

// Known adds closed types to the universe searched by FindClosedInterfaceFor.
func (m *Matcher) Known(types ...reflect.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range types {
		if t == nil {
			continue
		}

		if _, ok := m.known[t]; ok {
			continue
		}

		m.known[t] = struct{}{}
		m.dirty = true
	}
}

// KnownTypes returns the known types ordered by their string form.
func (m *Matcher) KnownTypes() []reflect.Type {
	m.mu.RLock()
	if !m.dirty && m.sorted != nil {
		out := make([]reflect.Type, len(m.sorted))
		copy(out, m.sorted)
		m.mu.RUnlock()
		return out
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]reflect.Type, 0, len(m.known))
	for t := range m.known {
		sorted = append(sorted, t)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	m.sorted = sorted
	m.dirty = false

	out := make([]reflect.Type, len(sorted))
	copy(out, sorted)
	return out
}

// CanSatisfy reports whether a value of candidate can be returned where
// requested is asked for.
func (m *Matcher) CanSatisfy(requested, candidate reflect.Type) bool {
	if requested == nil || candidate == nil {
		return false
	}

	key := pairKey{requested: requested, candidate: candidate}
	if v, ok := m.satisfy.Load(key); ok {
		return v.(bool)
	}

	var ok bool
	if requested.Kind() == reflect.Interface {
		ok = candidate.Implements(requested)
	} else {
		ok = candidate.AssignableTo(requested)
	}

	m.satisfy.Store(key, ok)
	return ok
}

// Binds reports whether the type arguments of a closed requested type are
// bound consistently by candidate. A non-generic candidate closes by
// construction; a generic candidate must carry every type argument of the
// requested type among its own arguments.
func (m *Matcher) Binds(requested, candidate reflect.Type) bool {
	if requested == nil || candidate == nil {
		return false
	}

	key := pairKey{requested: requested, candidate: candidate}
	if v, ok := m.bindings.Load(key); ok {
		return v.(bool)
	}

	ok := binds(TypeArgs(requested), TypeArgs(candidate))
	m.bindings.Store(key, ok)
	return ok
}

func binds(requested, candidate []string) bool {
	if len(candidate) == 0 {
		return true
	}

	have := make(map[string]struct{}, len(candidate))
	for _, arg := range candidate {
		have[arg] = struct{}{}
	}

	for _, arg := range requested {
		if _, ok := have[arg]; !ok {
			return false
		}
	}

	return true
}

// CanClose reports whether candidate satisfies requested, a closed form of
// open, with a consistent type argument binding.
func (m *Matcher) CanClose(open OpenType, requested, candidate reflect.Type) bool {
	if !open.Matches(requested) {
		return false
	}

	return m.CanSatisfy(requested, candidate) && m.Binds(requested, candidate)
}

// FindClosedInterfaceFor returns the first known closed form of open that
// candidate satisfies.
func (m *Matcher) FindClosedInterfaceFor(candidate reflect.Type, open OpenType) (reflect.Type, bool) {
	all := m.FindAllClosedInterfacesFor(candidate, open)
	if len(all) == 0 {
		return nil, false
	}

	return all[0], true
}

// FindAllClosedInterfacesFor returns every known closed form of open that
// candidate satisfies, ordered by type name.
func (m *Matcher) FindAllClosedInterfacesFor(candidate reflect.Type, open OpenType) []reflect.Type {
	if candidate == nil || open.IsZero() {
		return nil
	}

	var found []reflect.Type
	for _, t := range m.KnownTypes() {
		if t == candidate {
			continue
		}

		if m.CanClose(open, t, candidate) {
			found = append(found, t)
		}
	}

	return found
}

// SafeClose runs a closing function and reports a panic or an error as a
// failed match instead of propagating it.
func SafeClose[T any](fn func() (T, error)) (result T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, ok = zero, false
		}
	}()

	v, err := fn()
	if err != nil {
		var zero T
		return zero, false
	}

	return v, true
}
