// Package gin provides plugraph integration for the Gin web framework.
//
// Every request is served with a nested container and a unit of work, both
// closed after the handler chain has run.
//
// Example usage:
//
//	c, _ := registry.Build()
//
//	g := gin.New()
//	g.Use(plugraphgin.ScopeMiddleware(c))
//
//	g.POST("/login", plugraphgin.Handle(AuthController.Login))
//	g.GET("/users/:id", plugraphgin.Handle(UserController.GetByID))
package gin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
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
	// If nil, a default handler aborting with 500 Internal Server Error is used.
	ErrorHandler func(*gin.Context, error)

	// CloseErrorHandler is called when disposing the request objects fails.
	// If nil, errors are logged.
	CloseErrorHandler func(error)

	// Middlewares run after the request container is created, in the order
	// they were added. They can seed request data into the container.
	Middlewares []func(*plugraph.Container, *gin.Context) error
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
func WithErrorHandler(h func(*gin.Context, error)) Option {
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
//
// Example:
//
//	plugraphgin.ScopeMiddleware(c,
//	    plugraphgin.WithMiddleware(func(nested *plugraph.Container, gc *gin.Context) error {
//	        return nested.Configure(func(r *plugraph.Registry) {
//	            plugraph.For[*RequestInfo](r).Use(&RequestInfo{Path: gc.FullPath()})
//	        })
//	    }),
//	)
func WithMiddleware(mw func(*plugraph.Container, *gin.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func abortInternal(gc *gin.Context) {
	gc.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "Internal Server Error",
	})
}

func defaultConfig() *Config {
	cfg := &Config{Logger: zap.NewNop()}
	cfg.ErrorHandler = func(gc *gin.Context, err error) {
		cfg.Logger.Error("failed to create request container", zap.Error(err))
		abortInternal(gc)
	}
	cfg.CloseErrorHandler = func(err error) {
		cfg.Logger.Error("failed to close request container", zap.Error(err))
	}
	return cfg
}

// ScopeMiddleware creates a gin.HandlerFunc that serves every request with a
// nested container of c and a unit of work started with plugraph.BeginScope.
func ScopeMiddleware(c *plugraph.Container, opts ...Option) gin.HandlerFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(gc *gin.Context) {
		nested, err := c.GetNestedContainer()
		if err != nil {
			cfg.ErrorHandler(gc, err)
			return
		}

		ctx, scope := plugraph.BeginScope(gc.Request.Context())
		defer func() {
			if err := errors.Join(scope.Close(), nested.Close()); err != nil {
				cfg.CloseErrorHandler(err)
			}
		}()

		gc.Request = gc.Request.WithContext(context.WithValue(ctx, containerKey{}, nested))

		for _, mw := range cfg.Middlewares {
			if err := mw(nested, gc); err != nil {
				cfg.ErrorHandler(gc, err)
				return
			}
		}

		gc.Next()
	}
}

// FromContext returns the request container attached by ScopeMiddleware.
func FromContext(gc *gin.Context) (*plugraph.Container, error) {
	c, ok := gc.Request.Context().Value(containerKey{}).(*plugraph.Container)
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
	PanicHandler func(*gin.Context, any)

	// ContainerErrorHandler is called when the request has no container.
	ContainerErrorHandler func(*gin.Context, error)

	// ResolutionErrorHandler is called when the controller cannot be resolved.
	ResolutionErrorHandler func(*gin.Context, error)
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics (requires WithPanicRecovery(true)).
func WithPanicHandler(h func(*gin.Context, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for requests without a
// container.
func WithContainerErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(gc *gin.Context, _ any) {
			abortInternal(gc)
		},
		ContainerErrorHandler: func(gc *gin.Context, _ error) {
			abortInternal(gc)
		},
		ResolutionErrorHandler: func(gc *gin.Context, _ error) {
			abortInternal(gc)
		},
	}
}

// Handle wraps a controller method for type-safe resolution from the request
// container. The controller T is resolved for every request.
//
// The method signature should be: func(T, *gin.Context)
func Handle[T any](method func(T, *gin.Context), opts ...HandlerOption) gin.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(gc *gin.Context) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(gc, v)
				}
			}()
		}

		c, err := FromContext(gc)
		if err != nil {
			cfg.ContainerErrorHandler(gc, err)
			return
		}

		controller, err := plugraph.Resolve[T](gc.Request.Context(), c)
		if err != nil {
			cfg.ResolutionErrorHandler(gc, err)
			return
		}

		method(controller, gc)
	}
}
