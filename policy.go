package plugraph

import (
	"fmt"
	"reflect"
)

// FamilyPolicy derives a family for a plugin type that was never registered.
// Policies are consulted in order after the graph chain has been searched.
type FamilyPolicy interface {
	AppliesTo(pluginType reflect.Type) bool

	// Build returns the default instance of the derived family, or nil to
	// let later policies try.
	Build(pluginType reflect.Type) Instance
}

func defaultPolicies() []FamilyPolicy {
	return []FamilyPolicy{
		ConcreteTypePolicy{},
		EnumerablePolicy{},
		FuncPolicy{},
	}
}

// ConcreteTypePolicy resolves an unregistered struct or pointer to struct
// type to itself, filling its inject tagged fields.
type ConcreteTypePolicy struct{}

func (ConcreteTypePolicy) AppliesTo(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t.Name() != ""
}

func (ConcreteTypePolicy) Build(t reflect.Type) Instance {
	return Type(t, Named("concrete"))
}

// EnumerablePolicy resolves an unregistered slice type []T to every instance
// of T.
type EnumerablePolicy struct{}

func (EnumerablePolicy) AppliesTo(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8
}

func (EnumerablePolicy) Build(reflect.Type) Instance {
	e := Enumerable()
	e.name = "all"
	return e
}

// FuncPolicy resolves an unregistered func() T or func() (T, error) to a
// lazy factory that resolves T from the requesting container on each call.
// Calling the factory of an object that is still being built is a circular
// dependency.
type FuncPolicy struct{}

func (FuncPolicy) AppliesTo(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 0 || t.IsVariadic() {
		return false
	}

	switch t.NumOut() {
	case 1:
		return true
	case 2:
		return t.Out(1) == errorType
	default:
		return false
	}
}

func (FuncPolicy) Build(t reflect.Type) Instance {
	target := t.Out(0)
	withError := t.NumOut() == 2

	return Lambda(func(s *BuildSession) (any, error) {
		c, ctx, origin := s.container, s.ctx, s.origin()

		fn := reflect.MakeFunc(t, func([]reflect.Value) []reflect.Value {
			v, err := c.lazyInstance(ctx, target, origin)

			out := reflect.Zero(target)
			if err == nil {
				ov, cerr := coerceValue(v, target)
				if cerr != nil {
					err = cerr
				} else {
					out = ov
				}
			}

			if withError {
				errOut := reflect.Zero(errorType)
				if err != nil {
					errOut = reflect.ValueOf(&err).Elem()
				}
				return []reflect.Value{out, errOut}
			}

			if err != nil {
				panic(fmt.Errorf("lazy %s: %w", formatType(target), err))
			}
			return []reflect.Value{out}
		})

		return fn.Interface(), nil
	}, Named("lazy"))
}

var errorType = reflect.TypeFor[error]()
