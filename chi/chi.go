// Package chi provides plugraph integration for the Chi router.
//
// Every request gets a nested container and a unit of work. Transient and
// ContextScoped objects built while serving the request are disposed when the
// request completes.
//
// Example usage:
//
//	c, _ := registry.Build()
//
//	r := plugraphchi.NewRouter(c)
//	r.Post("/login", plugraphchi.Handle(AuthController.Login))
//	r.Get("/users/{id}", plugraphchi.Handle(UserController.GetByID))
package chi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/junioryono/plugraph"
	"go.uber.org/zap"
)

// ErrNoContainer is returned by FromContext when the request was not served
// through ScopeMiddleware.
var ErrNoContainer = errors.New("no request container in context")

type containerKey struct{}

// Config holds the configuration for the scope middleware.
type Config struct {
	// Logger receives close failures and the default handlers' errors.
	Logger *zap.Logger

	// ErrorHandler is called when the request container cannot be created.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// CloseErrorHandler is called when disposing the request objects fails.
	// If nil, errors are logged.
	CloseErrorHandler func(error)

	// Middlewares are functions that run after the request container is
	// created, in the order they were added.
	Middlewares []func(*plugraph.Container, *http.Request) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithLogger sets the logger used by the default handlers.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithErrorHandler sets the error handler for request container failures.
func WithErrorHandler(h func(http.ResponseWriter, *http.Request, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithCloseErrorHandler sets the error handler for disposal failures.
func WithCloseErrorHandler(h func(error)) Option {
	return func(c *Config) {
		c.CloseErrorHandler = h
	}
}

// WithMiddleware adds a function that runs after the request container is
// created. It can seed request data, for example with Configure.
func WithMiddleware(mw func(*plugraph.Container, *http.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	cfg := &Config{Logger: zap.NewNop()}
	cfg.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		cfg.Logger.Error("failed to create request container", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
	cfg.CloseErrorHandler = func(err error) {
		cfg.Logger.Error("failed to close request container", zap.Error(err))
	}
	return cfg
}

// ScopeMiddleware creates a middleware that serves every request with a
// nested container of c and a unit of work started with plugraph.BeginScope.
// Both are attached to the request context and closed when the request
// completes.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(plugraphchi.ScopeMiddleware(c))
func ScopeMiddleware(c *plugraph.Container, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nested, err := c.GetNestedContainer()
			if err != nil {
				cfg.ErrorHandler(w, r, err)
				return
			}

			ctx, scope := plugraph.BeginScope(r.Context())
			defer func() {
				if err := errors.Join(scope.Close(), nested.Close()); err != nil {
					cfg.CloseErrorHandler(err)
				}
			}()

			r = r.WithContext(WithContainer(ctx, nested))

			for _, mw := range cfg.Middlewares {
				if err := mw(nested, r); err != nil {
					cfg.ErrorHandler(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter returns a chi router serving every request through
// ScopeMiddleware.
func NewRouter(c *plugraph.Container, opts ...Option) chi.Router {
	r := chi.NewRouter()
	r.Use(ScopeMiddleware(c, opts...))
	return r
}

// WithContainer returns a context carrying c.
func WithContainer(ctx context.Context, c *plugraph.Container) context.Context {
	return context.WithValue(ctx, containerKey{}, c)
}

// FromContext returns the request container attached by ScopeMiddleware.
func FromContext(ctx context.Context) (*plugraph.Container, error) {
	c, ok := ctx.Value(containerKey{}).(*plugraph.Container)
	if !ok || c == nil {
		return nil, ErrNoContainer
	}
	return c, nil
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(http.ResponseWriter, *http.Request, any)

	// ContainerErrorHandler is called when the request has no container.
	ContainerErrorHandler func(http.ResponseWriter, *http.Request, error)

	// ResolutionErrorHandler is called when the controller cannot be resolved.
	ResolutionErrorHandler func(http.ResponseWriter, *http.Request, error)
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics.
func WithPanicHandler(h func(http.ResponseWriter, *http.Request, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for requests without a
// container.
func WithContainerErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	internalError := func(w http.ResponseWriter, _ *http.Request, _ error) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(w http.ResponseWriter, r *http.Request, _ any) {
			internalError(w, r, nil)
		},
		ContainerErrorHandler:  internalError,
		ResolutionErrorHandler: internalError,
	}
}

// Handle wraps a controller method for type-safe resolution from the request
// container. The controller T is resolved for every request.
//
// The method signature should be: func(T, http.ResponseWriter, *http.Request)
//
// Example:
//
//	type UserController interface {
//	    GetByID(http.ResponseWriter, *http.Request)
//	}
//
//	r.Get("/users/{id}", plugraphchi.Handle(UserController.GetByID))
func Handle[T any](method func(T, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(w, r, v)
				}
			}()
		}

		c, err := FromContext(r.Context())
		if err != nil {
			cfg.ContainerErrorHandler(w, r, err)
			return
		}

		controller, err := plugraph.Resolve[T](r.Context(), c)
		if err != nil {
			cfg.ResolutionErrorHandler(w, r, err)
			return
		}

		method(controller, w, r)
	}
}
