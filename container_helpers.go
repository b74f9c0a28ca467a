package plugraph

import (
	"context"
	"errors"
	"reflect"
)

// Resolve is a generic helper function that resolves the default instance of T.
func Resolve[T any](ctx context.Context, c *Container) (T, error) {
	var zero T
	if c == nil {
		return zero, ErrContainerNil
	}

	instance, err := c.GetInstance(ctx, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}

	return assertAs[T](instance)
}

// ResolveNamed is a generic helper function that resolves the instance of T
// called name.
func ResolveNamed[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T
	if c == nil {
		return zero, ErrContainerNil
	}

	instance, err := c.GetNamedInstance(ctx, reflect.TypeFor[T](), name)
	if err != nil {
		return zero, err
	}

	return assertAs[T](instance)
}

// ResolveAll is a generic helper function that resolves every instance of T.
func ResolveAll[T any](ctx context.Context, c *Container) ([]T, error) {
	if c == nil {
		return nil, ErrContainerNil
	}

	instances, err := c.GetAllInstances(ctx, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	results := make([]T, 0, len(instances))
	for _, instance := range instances {
		result, err := assertAs[T](instance)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// TryResolve resolves the default instance of T. It reports false without an
// error when nothing is registered for T.
func TryResolve[T any](ctx context.Context, c *Container) (T, bool, error) {
	var zero T
	if c == nil {
		return zero, false, ErrContainerNil
	}

	instance, ok, err := c.TryGetInstance(ctx, reflect.TypeFor[T]())
	if err != nil || !ok {
		return zero, ok, err
	}

	result, err := assertAs[T](instance)
	if err != nil {
		return zero, false, err
	}

	return result, true, nil
}

// MustResolve resolves T or panics if resolution fails.
func MustResolve[T any](ctx context.Context, c *Container) T {
	result, err := Resolve[T](ctx, c)
	if err != nil {
		panic(err)
	}
	return result
}

// IsRegistered reports whether c can answer a request for the default
// instance of T without building it. Families derived by a FamilyPolicy do
// not count as registered.
func IsRegistered[T any](c *Container) bool {
	if c == nil {
		return false
	}

	fam, err := c.graph.FindFamily(reflect.TypeFor[T]())
	if err != nil || fam.derived() {
		return false
	}

	_, err = fam.defaultInstance()
	return err == nil
}

// IsCircularDependencyError reports whether err is caused by a dependency cycle.
func IsCircularDependencyError(err error) bool {
	var cycle *CircularDependencyError
	return errors.As(err, &cycle)
}

func assertAs[T any](instance any) (T, error) {
	var zero T

	if instance == nil {
		return zero, nil
	}

	result, ok := instance.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Expected: reflect.TypeFor[T](),
			Actual:   reflect.TypeOf(instance),
			Context:  "type assertion",
		}
	}

	return result, nil
}
