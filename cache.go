package plugraph

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CacheKey identifies one built object: the plugin type it was requested as
// and the name of the instance that built it.
type CacheKey struct {
	PluginType reflect.Type
	Instance   string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s(%s)", formatType(k.PluginType), k.Instance)
}

// ObjectCache stores built objects for a lifecycle.
type ObjectCache interface {
	// Get returns a ready object without building.
	Get(key CacheKey) (any, bool)

	// GetOrBuild returns the cached object for key, building it at most once
	// per key. A failed build leaves no entry behind.
	GetOrBuild(key CacheKey, build func() (any, error)) (any, error)

	// Has reports whether a ready object is cached for key.
	Has(key CacheKey) bool

	// Eject removes and disposes the object cached for key.
	Eject(key CacheKey) error

	// EjectAll removes every object and disposes them in reverse creation order.
	EjectAll() error

	// Count returns the number of ready objects.
	Count() int
}

// cacheEntry is the per-key slot. Its mutex serialises construction of one
// key only; ready entries are read without locking.
type cacheEntry struct {
	key   CacheKey
	mu    sync.Mutex
	ready atomic.Bool
	dead  bool
	value any
}

// objectCache implements ObjectCache on a sync.Map with per-key locks.
type objectCache struct {
	name    string
	options *options

	entries sync.Map // CacheKey -> *cacheEntry

	mu    sync.Mutex
	order []*cacheEntry // ready entries in creation order
}

func newObjectCache(name string, opts *options) *objectCache {
	return &objectCache{
		name:    name,
		options: opts,
	}
}

func (c *objectCache) Get(key CacheKey) (any, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}

	e := v.(*cacheEntry)
	if !e.ready.Load() {
		return nil, false
	}

	return e.value, true
}

func (c *objectCache) Has(key CacheKey) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *objectCache) GetOrBuild(key CacheKey, build func() (any, error)) (any, error) {
	for {
		if value, ok := c.Get(key); ok {
			c.options.metrics.cacheHit(c.name)
			return value, nil
		}

		actual, _ := c.entries.LoadOrStore(key, &cacheEntry{key: key})
		e := actual.(*cacheEntry)

		e.mu.Lock()
		if e.ready.Load() {
			e.mu.Unlock()
			c.options.metrics.cacheHit(c.name)
			return e.value, nil
		}

		if e.dead {
			// ejected or failed while we waited; start over with a fresh slot
			e.mu.Unlock()
			continue
		}

		c.options.metrics.cacheMiss(c.name)
		c.options.logger.Debug("cache miss",
			zap.String("cache", c.name),
			zap.Stringer("key", key),
		)

		value, err := build()
		if err != nil {
			e.dead = true
			c.entries.CompareAndDelete(key, e)
			e.mu.Unlock()
			return nil, err
		}

		e.value = value
		c.mu.Lock()
		c.order = append(c.order, e)
		c.mu.Unlock()
		e.ready.Store(true)
		e.mu.Unlock()

		return value, nil
	}
}

func (c *objectCache) Eject(key CacheKey) error {
	v, ok := c.entries.LoadAndDelete(key)
	if !ok {
		return nil
	}

	e := v.(*cacheEntry)
	e.mu.Lock()
	ready := e.ready.Load()
	e.dead = true
	value := e.value
	e.mu.Unlock()

	if !ready {
		return nil
	}

	c.mu.Lock()
	for i, o := range c.order {
		if o == e {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if c.retained(key) {
		return nil
	}

	if err := dispose(value); err != nil {
		return &DisposalError{Context: c.name + " cache", Errors: []error{err}}
	}

	return nil
}

func (c *objectCache) EjectAll() error {
	c.mu.Lock()
	order := c.order
	c.order = nil
	c.mu.Unlock()

	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		if c.retained(order[i].key) {
			continue
		}
		if err := dispose(order[i].value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", order[i].key, err))
		}
	}

	if errs != nil {
		c.options.logger.Warn("disposal errors",
			zap.String("cache", c.name),
			zap.Error(errs),
		)
		return &DisposalError{Context: c.name + " cache", Errors: multierr.Errors(errs)}
	}

	return nil
}

func (c *objectCache) retained(key CacheKey) bool {
	return c.options.retain != nil && c.options.retain(key)
}

func (c *objectCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// noCache is the cache of plain transient objects: nothing is stored.
type noCache struct{}

func (noCache) Get(CacheKey) (any, bool) { return nil, false }

func (noCache) GetOrBuild(_ CacheKey, build func() (any, error)) (any, error) {
	return build()
}

func (noCache) Has(CacheKey) bool    { return false }
func (noCache) Eject(CacheKey) error { return nil }
func (noCache) EjectAll() error      { return nil }
func (noCache) Count() int           { return 0 }
