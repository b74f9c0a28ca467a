package plugraph_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/junioryono/plugraph"
	"github.com/junioryono/plugraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog records interceptor calls from concurrent builds.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(name string) plugraph.InterceptorFunc {
	return func(target any, _ *plugraph.BuildSession) (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls = append(l.calls, name)
		return target, nil
	}
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func TestInterceptors_Order(t *testing.T) {
	t.Parallel()

	t.Run("global then family then instance", func(t *testing.T) {
		t.Parallel()

		var log callLog
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			r.Intercept(log.record("global"))
			plugraph.For[testutil.Widget](r).
				Use(testutil.NewAWidget, plugraph.InterceptWith(log.record("instance-1"), log.record("instance-2"))).
				InterceptWith(log.record("family"))
		}).Build()

		testutil.AssertResolvable[testutil.Widget](t, c)
		assert.Equal(t, []string{"global", "family", "instance-1", "instance-2"}, log.get())
	})

	t.Run("parent globals run before child globals", func(t *testing.T) {
		t.Parallel()

		var log callLog
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			r.Intercept(log.record("parent"))
			plugraph.For[testutil.Widget](r).Use(testutil.NewAWidget).Transient()
		}).Build()

		child, err := c.CreateChildContainer()
		require.NoError(t, err)
		require.NoError(t, child.Configure(func(r *plugraph.Registry) {
			r.Intercept(log.record("child"))
		}))

		_, err = plugraph.Resolve[testutil.Widget](context.Background(), child)
		require.NoError(t, err)
		assert.Equal(t, []string{"parent", "child"}, log.get())
	})

	t.Run("missing-name references are intercepted once", func(t *testing.T) {
		t.Parallel()

		var log callLog
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			r.Intercept(log.record("global"))
			plugraph.For[testutil.Widget](r).
				Use(func() *testutil.ColorWidget { return testutil.NewColorWidget("Red") }, plugraph.Named("Red")).
				MissingNamedInstanceIs(plugraph.Reference("Red")).
				InterceptWith(log.record("family"))
		}).Build()

		w := testutil.AssertNamedResolvable[testutil.Widget](t, c, "Nope")
		assert.Equal(t, "Red", w.Name())
		assert.Equal(t, []string{"global", "family"}, log.get())
	})

	t.Run("cached objects are intercepted once", func(t *testing.T) {
		t.Parallel()

		var log callLog
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).Use(testutil.NewAWidget).Singleton().InterceptWith(log.record("family"))
		}).Build()

		for range 3 {
			testutil.AssertResolvable[testutil.Widget](t, c)
		}
		assert.Len(t, log.get(), 1)
	})
}

func TestInterceptors_EnrichWith(t *testing.T) {
	t.Parallel()

	t.Run("decorates the object", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).
				Use(testutil.NewAWidget).
				InterceptWith(plugraph.EnrichWith(func(w testutil.Widget, _ *plugraph.BuildSession) (testutil.Widget, error) {
					return &testutil.DecoratedWidget{Inner: w, Prefix: "decorated-"}, nil
				}))
		}).Build()

		w := testutil.AssertResolvable[testutil.Widget](t, c)
		assert.Equal(t, "decorated-A", w.Name())
		assert.IsType(t, &testutil.DecoratedWidget{}, w)
	})

	t.Run("decorators stack in order", func(t *testing.T) {
		t.Parallel()

		prefix := func(p string) plugraph.Interceptor {
			return plugraph.EnrichWith(func(w testutil.Widget, _ *plugraph.BuildSession) (testutil.Widget, error) {
				return &testutil.DecoratedWidget{Inner: w, Prefix: p}, nil
			})
		}

		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).Use(testutil.NewAWidget).InterceptWith(prefix("inner-"), prefix("outer-"))
		}).Build()

		assert.Equal(t, "outer-inner-A", testutil.AssertResolvable[testutil.Widget](t, c).Name())
	})

	t.Run("only matching types are enriched", func(t *testing.T) {
		t.Parallel()

		var enriched int
		c := testutil.NewRegistryBuilder(t).
			WithModule(testutil.WidgetModule()).
			With(func(r *plugraph.Registry) {
				r.Intercept(plugraph.EnrichWith(func(g testutil.Gateway, _ *plugraph.BuildSession) (testutil.Gateway, error) {
					enriched++
					return g, nil
				}))
			}).
			Build()

		testutil.AssertResolvable[testutil.Widget](t, c)
		assert.Zero(t, enriched)

		testutil.AssertResolvable[testutil.Gateway](t, c)
		assert.Equal(t, 1, enriched)
	})

	t.Run("errors fail the build", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).
				Use(testutil.NewAWidget).
				InterceptWith(plugraph.EnrichWith(func(testutil.Widget, *plugraph.BuildSession) (testutil.Widget, error) {
					return nil, testutil.ErrIntentional
				}))
		}).Build()

		_, err := plugraph.Resolve[testutil.Widget](context.Background(), c)
		require.Error(t, err)
		assert.ErrorIs(t, err, testutil.ErrIntentional)
		assert.ErrorContains(t, err, "interceptor 0")
	})
}

func TestInterceptors_OnCreation(t *testing.T) {
	t.Parallel()

	t.Run("sees each new object", func(t *testing.T) {
		t.Parallel()

		var seen []string
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			r.Intercept(plugraph.OnCreation(func(w testutil.Widget, _ *plugraph.BuildSession) error {
				seen = append(seen, w.Name())
				return nil
			}))
		}).WithModule(testutil.WidgetModule()).Build()

		testutil.AssertNamedResolvable[testutil.Widget](t, c, "Green")
		testutil.AssertNamedResolvable[testutil.Widget](t, c, "Blue")

		assert.Equal(t, []string{"Green", "Blue"}, seen)
	})

	t.Run("keeps the object", func(t *testing.T) {
		t.Parallel()

		w := testutil.NewColorWidget("Red")
		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).Use(w).InterceptWith(plugraph.OnCreation(func(testutil.Widget, *plugraph.BuildSession) error {
				return nil
			}))
		}).Build()

		testutil.AssertSameInstance(t, w, testutil.AssertResolvable[testutil.Widget](t, c))
	})

	t.Run("errors fail the build", func(t *testing.T) {
		t.Parallel()

		c := testutil.NewRegistryBuilder(t).With(func(r *plugraph.Registry) {
			plugraph.For[testutil.Widget](r).Use(testutil.NewAWidget).InterceptWith(
				plugraph.OnCreation(func(testutil.Widget, *plugraph.BuildSession) error { return testutil.ErrInvalid }),
			)
		}).Build()

		_, err := plugraph.Resolve[testutil.Widget](context.Background(), c)
		assert.ErrorIs(t, err, testutil.ErrInvalid)
	})
}

func TestInterceptors_Matching(t *testing.T) {
	t.Parallel()

	t.Run("ForType", func(t *testing.T) {
		t.Parallel()

		var log callLog
		c := testutil.NewRegistryBuilder(t).
			WithModule(testutil.WidgetModule()).
			With(func(r *plugraph.Registry) {
				r.Intercept(plugraph.ForType(gatewayType, log.record("gateway")))
			}).
			Build()

		testutil.AssertResolvable[testutil.Widget](t, c)
		assert.Empty(t, log.get())

		testutil.AssertResolvable[testutil.Gateway](t, c)
		assert.Equal(t, []string{"gateway"}, log.get())
	})

	t.Run("ForTypes", func(t *testing.T) {
		t.Parallel()

		var log callLog
		c := testutil.NewRegistryBuilder(t).
			WithModule(testutil.WidgetModule()).
			With(func(r *plugraph.Registry) {
				r.Intercept(plugraph.ForTypes(func(t reflect.Type) bool {
					return t.Kind() == reflect.Interface
				}, log.record("interface")))
				plugraph.For[*testutil.AWidget](r).Use(testutil.NewAWidget)
			}).
			Build()

		testutil.AssertResolvable[*testutil.AWidget](t, c)
		assert.Empty(t, log.get())

		testutil.AssertResolvable[testutil.Rule](t, c)
		assert.Equal(t, []string{"interface"}, log.get())
	})
}

func TestCompoundInterceptor(t *testing.T) {
	t.Parallel()

	t.Run("matches when any member matches", func(t *testing.T) {
		t.Parallel()

		compound := plugraph.CompoundInterceptor{
			plugraph.ForType(widgetType, nil),
			plugraph.ForType(gatewayType, nil),
		}

		assert.True(t, compound.MatchesType(widgetType))
		assert.True(t, compound.MatchesType(gatewayType))
		assert.False(t, compound.MatchesType(reflect.TypeFor[string]()))
		assert.False(t, plugraph.CompoundInterceptor{}.MatchesType(widgetType))
	})

	t.Run("pipes in order", func(t *testing.T) {
		t.Parallel()

		appendTo := func(s string) plugraph.InterceptorFunc {
			return func(target any, _ *plugraph.BuildSession) (any, error) {
				return target.(string) + s, nil
			}
		}

		out, err := plugraph.CompoundInterceptor{appendTo("a"), appendTo("b")}.Intercept("", nil)
		require.NoError(t, err)
		assert.Equal(t, "ab", out)
	})

	t.Run("reports the failing member", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		compound := plugraph.CompoundInterceptor{
			plugraph.InterceptorFunc(func(target any, _ *plugraph.BuildSession) (any, error) { return target, nil }),
			plugraph.InterceptorFunc(func(any, *plugraph.BuildSession) (any, error) { return nil, boom }),
		}

		_, err := compound.Intercept("x", nil)
		require.ErrorIs(t, err, boom)
		assert.EqualError(t, err, "interceptor 1: boom")
	})
}
