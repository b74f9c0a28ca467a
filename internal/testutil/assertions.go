package testutil

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/junioryono/plugraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertResolvable checks if the default instance of T can be resolved
func AssertResolvable[T any](t *testing.T, c *plugraph.Container) T {
	t.Helper()
	v, err := plugraph.Resolve[T](context.Background(), c)
	require.NoError(t, err, "failed to resolve %v", reflect.TypeFor[T]())
	require.NotNil(t, v, "resolved value is nil")
	return v
}

// AssertNamedResolvable checks if a named instance of T can be resolved
func AssertNamedResolvable[T any](t *testing.T, c *plugraph.Container, name string) T {
	t.Helper()
	v, err := plugraph.ResolveNamed[T](context.Background(), c, name)
	require.NoError(t, err, "failed to resolve %v named %q", reflect.TypeFor[T](), name)
	require.NotNil(t, v, "resolved value is nil")
	return v
}

// AssertNotFound checks if resolving T fails because nothing is registered
func AssertNotFound[T any](t *testing.T, c *plugraph.Container) {
	t.Helper()
	_, err := plugraph.Resolve[T](context.Background(), c)
	assert.Error(t, err)
	assert.True(t, plugraph.IsNotFound(err), "expected not found error, got: %v", err)
}

// AssertConfigurationCode checks the code of a ConfigurationError
func AssertConfigurationCode(t *testing.T, err error, code int) {
	t.Helper()
	cfg := AssertErrorType[*plugraph.ConfigurationError](t, err)
	if cfg != nil {
		assert.Equal(t, code, cfg.Code, "unexpected configuration error code: %v", err)
	}
}

// AssertPanicsWithError checks if a function panics with specific error
func AssertPanicsWithError(t *testing.T, expectedError error, f func(), msgAndArgs ...any) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			assert.Fail(t, "function did not panic", msgAndArgs...)
			return
		}

		err, ok := r.(error)
		if !ok {
			assert.Fail(t, "panic value is not an error: %v", r)
			return
		}

		assert.ErrorIs(t, err, expectedError, msgAndArgs...)
	}()
	f()
}

// AssertSameInstance verifies two values are the same instance
func AssertSameInstance(t *testing.T, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	assert.Same(t, expected, actual, msgAndArgs...)
}

// AssertDifferentInstances verifies two values are different instances
func AssertDifferentInstances(t *testing.T, first, second any, msgAndArgs ...any) {
	t.Helper()
	assert.NotSame(t, first, second, msgAndArgs...)
}

// AssertErrorType checks if an error is of a specific type
func AssertErrorType[T error](t *testing.T, err error, msgAndArgs ...any) T {
	t.Helper()
	var target T
	assert.ErrorAs(t, err, &target, msgAndArgs...)
	return target
}

// AssertCircularDependency checks if an error is a circular dependency error
func AssertCircularDependency(t *testing.T, err error) *plugraph.CircularDependencyError {
	t.Helper()
	require.Error(t, err)
	require.True(t, plugraph.IsCircularDependencyError(err), "expected circular dependency error, got: %v", err)

	var cycle *plugraph.CircularDependencyError
	errors.As(err, &cycle)
	return cycle
}

// AssertTimeout checks if an error is a timeout error
func AssertTimeout(t *testing.T, err error) {
	t.Helper()
	assert.Error(t, err)
	AssertErrorType[*plugraph.TimeoutError](t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// AssertDisposed checks if an error indicates a disposed container
func AssertDisposed(t *testing.T, err error) {
	t.Helper()
	assert.ErrorIs(t, err, plugraph.ErrContainerDisposed)
}
