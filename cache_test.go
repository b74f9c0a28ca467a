package plugraph

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheDisposable struct {
	id  string
	log *[]string
	mu  *sync.Mutex
	err error
}

func (d *cacheDisposable) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	*d.log = append(*d.log, d.id)
	return d.err
}

func newCacheKey(name string) CacheKey {
	return CacheKey{PluginType: reflect.TypeFor[any](), Instance: name}
}

func TestObjectCache_GetOrBuild(t *testing.T) {
	t.Parallel()

	t.Run("builds once per key under concurrency", func(t *testing.T) {
		t.Parallel()

		cache := newObjectCache("Singleton", newOptions())
		key := newCacheKey("a")

		var builds atomic.Int32
		var wg sync.WaitGroup
		results := make([]any, 50)

		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := cache.GetOrBuild(key, func() (any, error) {
					builds.Add(1)
					return &struct{ n int }{n: 1}, nil
				})
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), builds.Load())
		for _, v := range results {
			assert.Same(t, results[0], v)
		}
		assert.Equal(t, 1, cache.Count())
	})

	t.Run("failed build leaves no entry", func(t *testing.T) {
		t.Parallel()

		cache := newObjectCache("Singleton", newOptions())
		key := newCacheKey("a")
		boom := errors.New("boom")

		_, err := cache.GetOrBuild(key, func() (any, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
		assert.False(t, cache.Has(key))
		assert.Zero(t, cache.Count())

		v, err := cache.GetOrBuild(key, func() (any, error) { return "ok", nil })
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.True(t, cache.Has(key))
	})

	t.Run("distinct keys build separately", func(t *testing.T) {
		t.Parallel()

		cache := newObjectCache("Singleton", newOptions())

		a, err := cache.GetOrBuild(newCacheKey("a"), func() (any, error) { return "a", nil })
		require.NoError(t, err)
		b, err := cache.GetOrBuild(newCacheKey("b"), func() (any, error) { return "b", nil })
		require.NoError(t, err)

		assert.Equal(t, "a", a)
		assert.Equal(t, "b", b)
		assert.Equal(t, 2, cache.Count())

		v, ok := cache.Get(newCacheKey("a"))
		assert.True(t, ok)
		assert.Equal(t, "a", v)
	})

	t.Run("records hits and misses", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		opts := newOptions(WithMetrics(reg))
		cache := newObjectCache("Singleton", opts)
		key := newCacheKey("a")

		for range 3 {
			_, err := cache.GetOrBuild(key, func() (any, error) { return 1, nil })
			require.NoError(t, err)
		}

		assert.Equal(t, float64(1), promtest.ToFloat64(opts.metrics.cacheMisses.WithLabelValues("Singleton")))
		assert.Equal(t, float64(2), promtest.ToFloat64(opts.metrics.cacheHits.WithLabelValues("Singleton")))
	})
}

func TestObjectCache_Eject(t *testing.T) {
	t.Parallel()

	t.Run("disposes the ejected object", func(t *testing.T) {
		t.Parallel()

		var (
			mu  sync.Mutex
			log []string
		)
		cache := newObjectCache("Singleton", newOptions())
		key := newCacheKey("a")

		_, err := cache.GetOrBuild(key, func() (any, error) {
			return &cacheDisposable{id: "a", log: &log, mu: &mu}, nil
		})
		require.NoError(t, err)

		require.NoError(t, cache.Eject(key))
		assert.Equal(t, []string{"a"}, log)
		assert.False(t, cache.Has(key))
		assert.Zero(t, cache.Count())

		// ejecting again is a no-op
		require.NoError(t, cache.Eject(key))
		assert.Len(t, log, 1)
	})

	t.Run("wraps disposal errors", func(t *testing.T) {
		t.Parallel()

		var (
			mu  sync.Mutex
			log []string
		)
		boom := errors.New("close failed")
		cache := newObjectCache("Singleton", newOptions())
		key := newCacheKey("a")

		_, err := cache.GetOrBuild(key, func() (any, error) {
			return &cacheDisposable{id: "a", log: &log, mu: &mu, err: boom}, nil
		})
		require.NoError(t, err)

		err = cache.Eject(key)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)

		var disposal *DisposalError
		require.ErrorAs(t, err, &disposal)
		assert.Equal(t, "Singleton cache", disposal.Context)
	})
}

func TestObjectCache_EjectAll(t *testing.T) {
	t.Parallel()

	t.Run("disposes in reverse creation order", func(t *testing.T) {
		t.Parallel()

		var (
			mu  sync.Mutex
			log []string
		)
		cache := newObjectCache("Singleton", newOptions())

		for _, id := range []string{"first", "second", "third"} {
			_, err := cache.GetOrBuild(newCacheKey(id), func() (any, error) {
				return &cacheDisposable{id: id, log: &log, mu: &mu}, nil
			})
			require.NoError(t, err)
		}

		require.NoError(t, cache.EjectAll())
		assert.Equal(t, []string{"third", "second", "first"}, log)
		assert.Zero(t, cache.Count())
		assert.False(t, cache.Has(newCacheKey("first")))
	})

	t.Run("completes the sweep and collects errors", func(t *testing.T) {
		t.Parallel()

		var (
			mu  sync.Mutex
			log []string
		)
		errA := errors.New("a failed")
		errC := errors.New("c failed")
		cache := newObjectCache("Singleton", newOptions())

		for _, d := range []*cacheDisposable{
			{id: "a", err: errA},
			{id: "b"},
			{id: "c", err: errC},
		} {
			d.log, d.mu = &log, &mu
			_, err := cache.GetOrBuild(newCacheKey(d.id), func() (any, error) { return d, nil })
			require.NoError(t, err)
		}

		err := cache.EjectAll()
		require.Error(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, log)

		var disposal *DisposalError
		require.ErrorAs(t, err, &disposal)
		assert.Len(t, disposal.Errors, 2)
		assert.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errC)
	})
}

func TestNoCache(t *testing.T) {
	t.Parallel()

	var builds int
	c := noCache{}
	key := newCacheKey("a")

	for range 2 {
		_, err := c.GetOrBuild(key, func() (any, error) {
			builds++
			return builds, nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, builds)
	assert.False(t, c.Has(key))
	assert.Zero(t, c.Count())
	assert.NoError(t, c.EjectAll())
}

func TestCacheKey_String(t *testing.T) {
	t.Parallel()

	key := CacheKey{PluginType: reflect.TypeFor[*cacheDisposable](), Instance: "x"}
	assert.Equal(t, "*cacheDisposable(x)", key.String())
}
