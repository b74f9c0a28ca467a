// Package echo provides plugraph integration for the Echo web framework.
//
// Every request is served with a nested container and a unit of work, both
// closed when the handler returns.
//
// Example usage:
//
//	c, _ := registry.Build()
//
//	e := echo.New()
//	e.Use(plugraphecho.ScopeMiddleware(c))
//
//	e.POST("/login", plugraphecho.Handle(AuthController.Login))
//	e.GET("/users/:id", plugraphecho.Handle(UserController.GetByID))
package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/junioryono/plugraph"
	"github.com/labstack/echo/v4"
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
	// If nil, a 500 echo.HTTPError is returned.
	ErrorHandler func(echo.Context, error) error

	// CloseErrorHandler is called when disposing the request objects fails.
	// If nil, errors are logged.
	CloseErrorHandler func(error)

	// Middlewares run after the request container is created, in the order
	// they were added.
	Middlewares []func(*plugraph.Container, echo.Context) error
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
func WithErrorHandler(h func(echo.Context, error) error) Option {
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
// created.
func WithMiddleware(mw func(*plugraph.Container, echo.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	cfg := &Config{Logger: zap.NewNop()}
	cfg.ErrorHandler = func(_ echo.Context, err error) error {
		cfg.Logger.Error("failed to create request container", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
	}
	cfg.CloseErrorHandler = func(err error) {
		cfg.Logger.Error("failed to close request container", zap.Error(err))
	}
	return cfg
}

// ScopeMiddleware creates an Echo middleware that serves every request with
// a nested container of c and a unit of work started with
// plugraph.BeginScope.
func ScopeMiddleware(c *plugraph.Container, opts ...Option) echo.MiddlewareFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			nested, err := c.GetNestedContainer()
			if err != nil {
				return cfg.ErrorHandler(ec, err)
			}

			ctx, scope := plugraph.BeginScope(ec.Request().Context())
			defer func() {
				if err := errors.Join(scope.Close(), nested.Close()); err != nil {
					cfg.CloseErrorHandler(err)
				}
			}()

			ec.SetRequest(ec.Request().WithContext(context.WithValue(ctx, containerKey{}, nested)))

			for _, mw := range cfg.Middlewares {
				if err := mw(nested, ec); err != nil {
					return cfg.ErrorHandler(ec, err)
				}
			}

			return next(ec)
		}
	}
}

// FromContext returns the request container attached by ScopeMiddleware.
func FromContext(ec echo.Context) (*plugraph.Container, error) {
	c, ok := ec.Request().Context().Value(containerKey{}).(*plugraph.Container)
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
	PanicHandler func(echo.Context, any) error

	// ContainerErrorHandler is called when the request has no container.
	ContainerErrorHandler func(echo.Context, error) error

	// ResolutionErrorHandler is called when the controller cannot be resolved.
	ResolutionErrorHandler func(echo.Context, error) error
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
func WithPanicHandler(h func(echo.Context, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for requests without a
// container.
func WithContainerErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	internalError := func(echo.Context, error) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
	}

	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(ec echo.Context, _ any) error {
			return internalError(ec, nil)
		},
		ContainerErrorHandler:  internalError,
		ResolutionErrorHandler: internalError,
	}
}

// Handle wraps a controller method for type-safe resolution from the request
// container. The controller T is resolved for every request.
//
// The method signature should be: func(T, echo.Context) error
func Handle[T any](method func(T, echo.Context) error, opts ...HandlerOption) echo.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(ec echo.Context) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(ec, v)
				}
			}()
		}

		c, cerr := FromContext(ec)
		if cerr != nil {
			return cfg.ContainerErrorHandler(ec, cerr)
		}

		controller, rerr := plugraph.Resolve[T](ec.Request().Context(), c)
		if rerr != nil {
			return cfg.ResolutionErrorHandler(ec, rerr)
		}

		return method(controller, ec)
	}
}
