package plugraph_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/junioryono/plugraph"
	"github.com/junioryono/plugraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScopedContainer(t *testing.T, lifecycle plugraph.Lifecycle, opts ...plugraph.Option) *plugraph.Container {
	t.Helper()

	return testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
		plugraph.For[*testutil.TestDisposable](r).Use(testutil.NewTestDisposable).LifecycleIs(lifecycle)
	}).WithOptions(opts...).Build()
}

func TestScope_Creation(t *testing.T) {
	t.Parallel()

	t.Run("carried by the context", func(t *testing.T) {
		t.Parallel()

		ctx, scope := plugraph.BeginScope(context.Background())
		t.Cleanup(func() { require.NoError(t, scope.Close()) })

		assert.NotEmpty(t, scope.ID())
		assert.False(t, scope.IsClosed())
		assert.Same(t, scope, plugraph.ScopeFromContext(ctx))
		assert.Nil(t, plugraph.ScopeFromContext(context.Background()))
	})

	t.Run("nil context", func(t *testing.T) {
		t.Parallel()

		//nolint:staticcheck // nil context is accepted
		ctx, scope := plugraph.BeginScope(nil)
		require.NotNil(t, ctx)
		assert.NoError(t, scope.Close())
	})

	t.Run("unique ids", func(t *testing.T) {
		t.Parallel()

		_, a := plugraph.BeginScope(context.Background())
		_, b := plugraph.BeginScope(context.Background())
		defer a.Close()
		defer b.Close()

		assert.NotEqual(t, a.ID(), b.ID())
	})
}

func TestScope_ContextScoped(t *testing.T) {
	t.Parallel()

	t.Run("one object per scope", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.ContextScoped)

		ctx1, scope1 := plugraph.BeginScope(context.Background())
		ctx2, scope2 := plugraph.BeginScope(context.Background())

		a, err := plugraph.Resolve[*testutil.TestDisposable](ctx1, c)
		require.NoError(t, err)
		b, err := plugraph.Resolve[*testutil.TestDisposable](ctx1, c)
		require.NoError(t, err)
		other, err := plugraph.Resolve[*testutil.TestDisposable](ctx2, c)
		require.NoError(t, err)

		testutil.AssertSameInstance(t, a, b)
		testutil.AssertDifferentInstances(t, a, other)

		require.NoError(t, scope1.Close())
		assert.True(t, a.IsDisposed())
		assert.False(t, other.IsDisposed())

		require.NoError(t, scope2.Close())
		assert.True(t, other.IsDisposed())
	})

	t.Run("no active scope", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.ContextScoped)

		_, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
		assert.ErrorIs(t, err, plugraph.ErrNoActiveScope)
	})

	t.Run("closed scope", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.ContextScoped)

		ctx, scope := plugraph.BeginScope(context.Background())
		require.NoError(t, scope.Close())
		assert.True(t, scope.IsClosed())

		_, err := plugraph.Resolve[*testutil.TestDisposable](ctx, c)
		assert.ErrorIs(t, err, plugraph.ErrScopeDisposed)

		// closing twice is a no-op
		assert.NoError(t, scope.Close())
	})

	t.Run("closes when the context is done", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.ContextScoped)

		parent, cancel := context.WithCancel(context.Background())
		ctx, scope := plugraph.BeginScope(parent)

		a, err := plugraph.Resolve[*testutil.TestDisposable](ctx, c)
		require.NoError(t, err)

		cancel()

		assert.Eventually(t, func() bool {
			return scope.IsClosed() && a.IsDisposed()
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("dependencies share the scope", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).Use(testutil.NewAWidget).ContextScoped()
			plugraph.For[testutil.Gateway](r).Use(testutil.DefaultGateway{})
			plugraph.For[*testutil.WidgetService](r).Use(testutil.NewWidgetService)
		}).Build()

		ctx, scope := plugraph.BeginScope(context.Background())
		defer scope.Close()

		svc, err := plugraph.Resolve[*testutil.WidgetService](ctx, c)
		require.NoError(t, err)
		w, err := plugraph.Resolve[testutil.Widget](ctx, c)
		require.NoError(t, err)

		testutil.AssertSameInstance(t, w, svc.Widget)
	})

	t.Run("concurrent requests in one scope build once", func(t *testing.T) {
		t.Parallel()

		var counter testutil.Counter
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).Use(testutil.NewCountingWidgetFunc(&counter)).ContextScoped()
		}).Build()

		ctx, scope := plugraph.BeginScope(context.Background())
		defer scope.Close()

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := plugraph.Resolve[testutil.Widget](ctx, c)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), counter.Load())
	})

	t.Run("child container objects are cached per owner", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.ContextScoped)
		child, err := c.CreateChildContainer()
		require.NoError(t, err)
		require.NoError(t, child.Configure(func(r *plugraph.Registry) {
			plugraph.For[*testutil.TestDisposable](r).Use(testutil.NewTestDisposable).ContextScoped()
		}))

		ctx, scope := plugraph.BeginScope(context.Background())

		fromRoot, err := plugraph.Resolve[*testutil.TestDisposable](ctx, c)
		require.NoError(t, err)
		fromChild, err := plugraph.Resolve[*testutil.TestDisposable](ctx, child)
		require.NoError(t, err)

		testutil.AssertDifferentInstances(t, fromRoot, fromChild)

		require.NoError(t, scope.Close())
		assert.True(t, fromRoot.IsDisposed())
		assert.True(t, fromChild.IsDisposed())
	})

	t.Run("collects disposal errors", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[*testutil.TestDisposable](r).Use(func() *testutil.TestDisposable {
				return testutil.NewTestDisposableWithError(testutil.ErrDisposal)
			}).ContextScoped()
		}).Build()

		ctx, scope := plugraph.BeginScope(context.Background())
		_, err := plugraph.Resolve[*testutil.TestDisposable](ctx, c)
		require.NoError(t, err)

		err = scope.Close()
		require.Error(t, err)
		assert.ErrorIs(t, err, testutil.ErrDisposal)

		disposal := testutil.AssertErrorType[*plugraph.DisposalError](t, err)
		require.NotNil(t, disposal)
		assert.Equal(t, "scope", disposal.Context)
	})
}

func TestScope_Hybrid(t *testing.T) {
	t.Parallel()

	t.Run("uses the scope when active", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.HybridScoped)

		ctx, scope := plugraph.BeginScope(context.Background())
		scoped, err := plugraph.Resolve[*testutil.TestDisposable](ctx, c)
		require.NoError(t, err)

		global, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
		require.NoError(t, err)

		testutil.AssertDifferentInstances(t, scoped, global)

		require.NoError(t, scope.Close())
		assert.True(t, scoped.IsDisposed())
		assert.False(t, global.IsDisposed())
	})

	t.Run("falls back to singleton", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.HybridScoped)

		a, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
		require.NoError(t, err)
		b, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
		require.NoError(t, err)

		testutil.AssertSameInstance(t, a, b)
	})

	t.Run("does not fall back on a closed scope", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.HybridScoped)

		ctx, scope := plugraph.BeginScope(context.Background())
		require.NoError(t, scope.Close())

		_, err := plugraph.Resolve[*testutil.TestDisposable](ctx, c)
		assert.ErrorIs(t, err, plugraph.ErrScopeDisposed)
	})

	t.Run("custom fallback", func(t *testing.T) {
		t.Parallel()

		c := newScopedContainer(t, plugraph.Hybrid(plugraph.ContextScoped, plugraph.Transient))

		a, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
		require.NoError(t, err)
		b, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
		require.NoError(t, err)

		testutil.AssertDifferentInstances(t, a, b)
		assert.Equal(t, "Hybrid(ContextScoped, Transient)", plugraph.Hybrid(plugraph.ContextScoped, plugraph.Transient).Name())
	})
}

func TestScope_Detector(t *testing.T) {
	t.Parallel()

	_, shared := plugraph.BeginScope(context.Background())
	defer shared.Close()

	c := newScopedContainer(t, plugraph.ContextScoped,
		plugraph.WithScopeDetector(func(context.Context) *plugraph.Scope { return shared }),
	)

	a, err := plugraph.Resolve[*testutil.TestDisposable](context.Background(), c)
	require.NoError(t, err)
	b, err := plugraph.Resolve[*testutil.TestDisposable](context.TODO(), c)
	require.NoError(t, err)

	testutil.AssertSameInstance(t, a, b)

	require.NoError(t, shared.Close())
	assert.True(t, a.IsDisposed())
}
