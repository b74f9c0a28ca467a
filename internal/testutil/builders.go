package testutil

import (
	"testing"

	"github.com/junioryono/plugraph"
	"github.com/stretchr/testify/require"
)

// RegistryBuilder helps build registries and containers for testing
type RegistryBuilder struct {
	t        *testing.T
	registry *plugraph.Registry
	options  []plugraph.Option
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder(t *testing.T) *RegistryBuilder {
	return &RegistryBuilder{
		t:        t,
		registry: plugraph.NewRegistry(),
	}
}

// With applies a registration function
func (b *RegistryBuilder) With(fn func(r *plugraph.Registry)) *RegistryBuilder {
	fn(b.registry)
	return b
}

// WithModule includes modules
func (b *RegistryBuilder) WithModule(modules ...plugraph.ModuleOption) *RegistryBuilder {
	b.registry.Include(modules...)
	return b
}

// WithOptions adds container options
func (b *RegistryBuilder) WithOptions(opts ...plugraph.Option) *RegistryBuilder {
	b.options = append(b.options, opts...)
	return b
}

// Registry returns the registry being built
func (b *RegistryBuilder) Registry() *plugraph.Registry {
	return b.registry
}

// Build builds a container and closes it when the test ends
func (b *RegistryBuilder) Build() *plugraph.Container {
	b.t.Helper()

	c, err := b.registry.Build(b.options...)
	require.NoError(b.t, err, "failed to build container")

	b.t.Cleanup(func() {
		_ = c.Close()
	})

	return c
}

// BuildErr builds a container and returns the error instead of failing
func (b *RegistryBuilder) BuildErr() (*plugraph.Container, error) {
	c, err := b.registry.Build(b.options...)
	if err == nil {
		b.t.Cleanup(func() {
			_ = c.Close()
		})
	}
	return c, err
}
