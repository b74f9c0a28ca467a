package chi

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/junioryono/plugraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test types
type testService struct {
	ID     string
	closed *atomic.Int32
}

func (s *testService) Close() error {
	if s.closed != nil {
		s.closed.Add(1)
	}
	return nil
}

type testController struct {
	Service *testService
}

func newTestController(svc *testService) *testController {
	return &testController{Service: svc}
}

func (c *testController) GetValue(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(c.Service.ID))
}

func (c *testController) Param(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(c.Service.ID + ":" + chi.URLParam(r, "id")))
}

func (c *testController) Panic(w http.ResponseWriter, r *http.Request) {
	panic("test panic")
}

func newContainer(t *testing.T, configure func(r *plugraph.Registry)) *plugraph.Container {
	t.Helper()

	r := plugraph.NewRegistry()
	configure(r)

	c, err := r.Build()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScopeMiddleware(t *testing.T) {
	t.Run("attaches a nested container to the request", func(t *testing.T) {
		c := newContainer(t, func(r *plugraph.Registry) {
			plugraph.For[*testService](r).Use(func() *testService {
				return &testService{ID: "scoped"}
			}).ContextScoped()
		})

		var first, second *testService
		handler := ScopeMiddleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nested, err := FromContext(r.Context())
			require.NoError(t, err)
			assert.True(t, nested.IsNested())
			assert.Equal(t, c, nested.Parent())

			first, err = plugraph.Resolve[*testService](r.Context(), nested)
			require.NoError(t, err)
			second, err = plugraph.Resolve[*testService](r.Context(), nested)
			require.NoError(t, err)

			w.WriteHeader(http.StatusOK)
		}))

		rec := serve(handler, "/test")

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, first)
		assert.Equal(t, "scoped", first.ID)
		assert.Same(t, first, second)
	})

	t.Run("disposes request objects when the request completes", func(t *testing.T) {
		var closed atomic.Int32
		c := newContainer(t, func(r *plugraph.Registry) {
			plugraph.For[*testService](r).Use(func() *testService {
				return &testService{ID: "transient", closed: &closed}
			})
		})

		handler := ScopeMiddleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nested, err := FromContext(r.Context())
			require.NoError(t, err)

			_, err = plugraph.Resolve[*testService](r.Context(), nested)
			require.NoError(t, err)
			assert.Zero(t, closed.Load())
		}))

		serve(handler, "/test")
		serve(handler, "/test")

		assert.Equal(t, int32(2), closed.Load())
	})

	t.Run("calls error handler when the container is closed", func(t *testing.T) {
		errorHandlerCalled := false

		c, err := plugraph.NewRegistry().Build()
		require.NoError(t, err)
		require.NoError(t, c.Close())

		handler := ScopeMiddleware(c,
			WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
				errorHandlerCalled = true
				assert.ErrorIs(t, err, plugraph.ErrContainerDisposed)
				w.WriteHeader(http.StatusServiceUnavailable)
			}),
		)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))

		rec := serve(handler, "/test")

		assert.True(t, errorHandlerCalled)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("runs middlewares in order", func(t *testing.T) {
		c := newContainer(t, func(r *plugraph.Registry) {})

		var order []int
		handler := ScopeMiddleware(c,
			WithMiddleware(func(*plugraph.Container, *http.Request) error {
				order = append(order, 1)
				return nil
			}),
			WithMiddleware(func(nested *plugraph.Container, _ *http.Request) error {
				order = append(order, 2)
				return nested.Configure(func(r *plugraph.Registry) {
					plugraph.For[*testService](r).Use(&testService{ID: "seeded"})
				})
			}),
		)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, 3)

			nested, err := FromContext(r.Context())
			require.NoError(t, err)

			svc, err := plugraph.Resolve[*testService](r.Context(), nested)
			require.NoError(t, err)
			w.Write([]byte(svc.ID))
		}))

		rec := serve(handler, "/test")

		assert.Equal(t, []int{1, 2, 3}, order)
		assert.Equal(t, "seeded", rec.Body.String())
	})

	t.Run("calls error handler when middleware fails", func(t *testing.T) {
		c := newContainer(t, func(r *plugraph.Registry) {})

		handler := ScopeMiddleware(c,
			WithMiddleware(func(*plugraph.Container, *http.Request) error {
				return errors.New("middleware error")
			}),
			WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
				w.WriteHeader(http.StatusBadRequest)
			}),
		)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))

		rec := serve(handler, "/test")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandle(t *testing.T) {
	t.Run("resolves controller through a chi router", func(t *testing.T) {
		c := newContainer(t, func(r *plugraph.Registry) {
			plugraph.For[*testService](r).Use(func() *testService {
				return &testService{ID: "handled"}
			})
			plugraph.For[*testController](r).Use(newTestController)
		})

		router := NewRouter(c)
		router.Get("/value", Handle((*testController).GetValue))
		router.Get("/users/{id}", Handle((*testController).Param))

		rec := serve(router, "/value")
		assert.Equal(t, http.StatusOK, rec.Code)
		body, _ := io.ReadAll(rec.Body)
		assert.Equal(t, "handled", string(body))

		rec = serve(router, "/users/42")
		assert.Equal(t, "handled:42", rec.Body.String())
	})

	t.Run("calls container error handler when no container", func(t *testing.T) {
		errorHandlerCalled := false

		handler := Handle((*testController).GetValue,
			WithContainerErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
				errorHandlerCalled = true
				assert.ErrorIs(t, err, ErrNoContainer)
				w.WriteHeader(http.StatusInternalServerError)
			}),
		)

		serve(handler, "/value")

		assert.True(t, errorHandlerCalled)
	})

	t.Run("calls resolution error handler when controller fails", func(t *testing.T) {
		errorHandlerCalled := false

		c := newContainer(t, func(r *plugraph.Registry) {
			plugraph.For[*testController](r).Use(func() (*testController, error) {
				return nil, errors.New("boom")
			})
		})

		handler := ScopeMiddleware(c)(Handle((*testController).GetValue,
			WithResolutionErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
				errorHandlerCalled = true
				w.WriteHeader(http.StatusNotFound)
			}),
		))

		rec := serve(handler, "/value")

		assert.True(t, errorHandlerCalled)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("recovers from panic when enabled", func(t *testing.T) {
		panicHandlerCalled := false

		c := newContainer(t, func(r *plugraph.Registry) {
			plugraph.For[*testService](r).Use(&testService{ID: "test"})
			plugraph.For[*testController](r).Use(newTestController)
		})

		handler := ScopeMiddleware(c)(Handle((*testController).Panic,
			WithPanicRecovery(true),
			WithPanicHandler(func(w http.ResponseWriter, r *http.Request, v any) {
				panicHandlerCalled = true
				assert.Equal(t, "test panic", v)
				w.WriteHeader(http.StatusInternalServerError)
			}),
		))

		rec := serve(handler, "/panic")

		assert.True(t, panicHandlerCalled)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("does not recover from panic when disabled", func(t *testing.T) {
		c := newContainer(t, func(r *plugraph.Registry) {
			plugraph.For[*testService](r).Use(&testService{ID: "test"})
			plugraph.For[*testController](r).Use(newTestController)
		})

		handler := ScopeMiddleware(c)(Handle((*testController).Panic, WithPanicRecovery(false)))

		assert.Panics(t, func() {
			serve(handler, "/panic")
		})
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("default error handler returns 500", func(t *testing.T) {
		cfg := defaultConfig()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)

		cfg.ErrorHandler(rec, req, errors.New("test error"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestDefaultHandlerConfig(t *testing.T) {
	t.Run("panic recovery disabled by default", func(t *testing.T) {
		cfg := defaultHandlerConfig()
		assert.False(t, cfg.PanicRecovery)
	})

	t.Run("default panic handler returns 500", func(t *testing.T) {
		cfg := defaultHandlerConfig()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)

		cfg.PanicHandler(rec, req, "panic value")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
