package plugraph_test

import (
	"context"
	"testing"

	"github.com/junioryono/plugraph"
	"github.com/junioryono/plugraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModule(t *testing.T) {
	t.Parallel()

	t.Run("registers its builders", func(t *testing.T) {
		t.Parallel()

		module := plugraph.NewModule("test-module",
			plugraph.Use[testutil.Widget](testutil.NewAWidget),
			plugraph.Add[testutil.Widget](testutil.NewColorWidget("Blue"), plugraph.Named("Blue")),
		)

		r := plugraph.NewRegistry().Include(module)
		require.NoError(t, r.Err())

		c, err := r.Build()
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })

		all, err := plugraph.ResolveAll[testutil.Widget](context.Background(), c)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("empty module", func(t *testing.T) {
		t.Parallel()

		r := plugraph.NewRegistry().Include(plugraph.NewModule("empty"))
		assert.NoError(t, r.Err())
		assert.Empty(t, r.Graph().PluginTypes())
	})

	t.Run("nil builders are skipped", func(t *testing.T) {
		t.Parallel()

		module := plugraph.NewModule("with-nils",
			plugraph.Use[testutil.Widget](testutil.NewAWidget),
			nil,
			plugraph.Use[testutil.Gateway](testutil.DefaultGateway{}),
		)

		r := plugraph.NewRegistry().Include(module, nil)
		require.NoError(t, r.Err())
		assert.Len(t, r.Graph().PluginTypes(), 2)
	})
}

func TestModule_Composition(t *testing.T) {
	t.Parallel()

	t.Run("nested modules", func(t *testing.T) {
		t.Parallel()

		storage := plugraph.NewModule("storage",
			plugraph.Use[testutil.Gateway](testutil.DefaultGateway{}),
		)
		app := plugraph.NewModule("app",
			storage,
			plugraph.Use[testutil.Widget](testutil.NewAWidget),
			plugraph.Use[*testutil.WidgetService](testutil.NewWidgetService),
		)

		c := testutil.NewRegistryBuilder(t).WithModule(app).Build()

		svc := testutil.AssertResolvable[*testutil.WidgetService](t, c)
		assert.Equal(t, "A", svc.Widget.Name())
	})

	t.Run("lifecycles and interceptors", func(t *testing.T) {
		t.Parallel()

		var created int
		module := plugraph.NewModule("widgets",
			plugraph.Use[testutil.Widget](testutil.NewAWidget),
			plugraph.LifecycleOf[testutil.Widget](plugraph.LifecycleTransient),
			plugraph.Intercept(plugraph.OnCreation(func(testutil.Widget, *plugraph.BuildSession) error {
				created++
				return nil
			})),
		)

		c := testutil.NewRegistryBuilder(t).WithModule(module).Build()

		a := testutil.AssertResolvable[testutil.Widget](t, c)
		b := testutil.AssertResolvable[testutil.Widget](t, c)
		testutil.AssertDifferentInstances(t, a, b)
		assert.Equal(t, 2, created)
	})

	t.Run("configure", func(t *testing.T) {
		t.Parallel()

		module := plugraph.NewModule("configured",
			plugraph.Configure(func(r *plugraph.Registry) {
				plugraph.For[testutil.Widget](r).Use(testutil.NewAWidget).Singleton()
			}),
		)

		c := testutil.NewRegistryBuilder(t).WithModule(module).Build()

		testutil.AssertSameInstance(t,
			testutil.AssertResolvable[testutil.Widget](t, c),
			testutil.AssertResolvable[testutil.Widget](t, c),
		)
	})
}

func TestModule_Errors(t *testing.T) {
	t.Parallel()

	t.Run("registration errors name the module", func(t *testing.T) {
		t.Parallel()

		module := plugraph.NewModule("broken",
			plugraph.Use[testutil.Widget](nil),
		)

		r := plugraph.NewRegistry().Include(module)
		err := r.Err()
		require.Error(t, err)
		assert.ErrorIs(t, err, plugraph.ErrInstanceNil)

		moduleErr := testutil.AssertErrorType[*plugraph.ModuleError](t, err)
		require.NotNil(t, moduleErr)
		assert.Equal(t, "broken", moduleErr.Module)
		assert.Contains(t, err.Error(), `module "broken"`)

		_, err = r.Build()
		assert.Error(t, err)
	})

	t.Run("nested modules wrap each other", func(t *testing.T) {
		t.Parallel()

		inner := plugraph.NewModule("inner", plugraph.Use[testutil.Widget](testutil.NewColorRule))
		outer := plugraph.NewModule("outer", inner)

		err := plugraph.NewRegistry().Include(outer).Err()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `module "outer": module "inner"`)
		testutil.AssertConfigurationCode(t, err, plugraph.CodeNotPluggable)
	})

	t.Run("stops at the first failing builder", func(t *testing.T) {
		t.Parallel()

		module := plugraph.NewModule("partial",
			plugraph.Use[testutil.Widget](nil),
			plugraph.Use[testutil.Gateway](testutil.DefaultGateway{}),
		)

		r := plugraph.NewRegistry().Include(module)
		require.Error(t, r.Err())
		assert.False(t, r.Graph().HasFamily(gatewayType))
	})

	t.Run("earlier errors are kept", func(t *testing.T) {
		t.Parallel()

		r := plugraph.NewRegistry()
		plugraph.For[testutil.Widget](r).Use(nil)
		r.Include(plugraph.NewModule("ok", plugraph.Use[testutil.Gateway](testutil.DefaultGateway{})))

		assert.ErrorIs(t, r.Err(), plugraph.ErrInstanceNil)
	})

	t.Run("invalid lifecycle kind", func(t *testing.T) {
		t.Parallel()

		module := plugraph.NewModule("lifecycles",
			plugraph.LifecycleOf[testutil.Widget](plugraph.LifecycleKind(42)),
		)

		err := plugraph.NewRegistry().Include(module).Err()
		require.Error(t, err)
		testutil.AssertErrorType[*plugraph.LifecycleError](t, err)
	})
}
