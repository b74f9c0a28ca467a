// Package fiber provides plugraph integration for the Fiber web framework.
//
// Every request is served with a nested container and a unit of work. The
// container is stored in fiber.Ctx.Locals and both are carried by the
// request's UserContext.
//
// Example usage:
//
//	c, _ := registry.Build()
//
//	app := fiber.New()
//	app.Use(plugraphfiber.ScopeMiddleware(c))
//
//	app.Post("/login", plugraphfiber.Handle(AuthController.Login))
//	app.Get("/users/:id", plugraphfiber.Handle(UserController.GetByID))
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/junioryono/plugraph"
	"go.uber.org/zap"
)

// containerKey is the fiber.Ctx.Locals key of the request container.
const containerKey = "plugraph_container"

// ErrNoContainer is reported when the request was not served through
// ScopeMiddleware.
var ErrNoContainer = errors.New("no request container in context")

// Config holds the configuration for the scope middleware.
type Config struct {
	// Logger receives close failures and the default handlers' errors.
	Logger *zap.Logger

	// ErrorHandler is called when the request container cannot be created.
	// If nil, a 500 JSON response is sent.
	ErrorHandler func(*fiber.Ctx, error) error

	// CloseErrorHandler is called when disposing the request objects fails.
	// If nil, errors are logged.
	CloseErrorHandler func(error)

	// Middlewares run after the request container is created, in the order
	// they were added.
	Middlewares []func(*plugraph.Container, *fiber.Ctx) error
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
func WithErrorHandler(h func(*fiber.Ctx, error) error) Option {
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
func WithMiddleware(mw func(*plugraph.Container, *fiber.Ctx) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal Server Error",
	})
}

func defaultConfig() *Config {
	cfg := &Config{Logger: zap.NewNop()}
	cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
		cfg.Logger.Error("failed to create request container", zap.Error(err))
		return internalError(c)
	}
	cfg.CloseErrorHandler = func(err error) {
		cfg.Logger.Error("failed to close request container", zap.Error(err))
	}
	return cfg
}

// ScopeMiddleware creates a Fiber middleware that serves every request with
// a nested container of c and a unit of work started with
// plugraph.BeginScope. Both are closed when the handler chain returns.
func ScopeMiddleware(c *plugraph.Container, opts ...Option) fiber.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(fc *fiber.Ctx) error {
		nested, err := c.GetNestedContainer()
		if err != nil {
			return cfg.ErrorHandler(fc, err)
		}

		ctx, scope := plugraph.BeginScope(fc.UserContext())
		defer func() {
			fc.Locals(containerKey, nil)
			if err := errors.Join(scope.Close(), nested.Close()); err != nil {
				cfg.CloseErrorHandler(err)
			}
		}()

		fc.SetUserContext(ctx)
		fc.Locals(containerKey, nested)

		for _, mw := range cfg.Middlewares {
			if err := mw(nested, fc); err != nil {
				return cfg.ErrorHandler(fc, err)
			}
		}

		return fc.Next()
	}
}

// FromContext returns the request container stored by ScopeMiddleware.
func FromContext(fc *fiber.Ctx) (*plugraph.Container, error) {
	c, ok := fc.Locals(containerKey).(*plugraph.Container)
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
	PanicHandler func(*fiber.Ctx, any) error

	// ContainerErrorHandler is called when the request has no container.
	ContainerErrorHandler func(*fiber.Ctx, error) error

	// ResolutionErrorHandler is called when the controller cannot be resolved.
	ResolutionErrorHandler func(*fiber.Ctx, error) error
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
func WithPanicHandler(h func(*fiber.Ctx, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for requests without a
// container.
func WithContainerErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(c *fiber.Ctx, _ any) error {
			return internalError(c)
		},
		ContainerErrorHandler: func(c *fiber.Ctx, _ error) error {
			return internalError(c)
		},
		ResolutionErrorHandler: func(c *fiber.Ctx, _ error) error {
			return internalError(c)
		},
	}
}

// Handle wraps a controller method for type-safe resolution from the request
// container. The controller T is resolved for every request.
//
// The method signature should be: func(T, *fiber.Ctx) error
func Handle[T any](method func(T, *fiber.Ctx) error, opts ...HandlerOption) fiber.Handler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(fc *fiber.Ctx) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(fc, v)
				}
			}()
		}

		c, cerr := FromContext(fc)
		if cerr != nil {
			return cfg.ContainerErrorHandler(fc, cerr)
		}

		controller, rerr := plugraph.Resolve[T](fc.UserContext(), c)
		if rerr != nil {
			return cfg.ResolutionErrorHandler(fc, rerr)
		}

		return method(controller, fc)
	}
}
