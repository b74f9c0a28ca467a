package plugraph

import (
	"go.uber.org/multierr"
)

// ModuleOption represents a registration action within a module.
type ModuleOption func(*Registry) error

// NewModule creates a new module with the given name and builders.
// Modules are a way to group related registrations together.
//
// Example:
//
//	var StorageModule = plugraph.NewModule("storage",
//	    plugraph.Use[Store](NewSQLStore, plugraph.WithLifecycle(plugraph.Singleton)),
//	    plugraph.Add[Cache](NewRedisCache, plugraph.Named("redis")),
//	)
//
//	var AppModule = plugraph.NewModule("app",
//	    StorageModule,
//	    plugraph.Use[Widget](NewColorWidget),
//	    plugraph.Intercept(auditInterceptor),
//	)
//
//	r := plugraph.NewRegistry()
//	r.Include(AppModule)
func NewModule(name string, builders ...ModuleOption) ModuleOption {
	return func(r *Registry) error {
		for _, builder := range builders {
			if builder == nil {
				continue
			}

			if err := builder(r); err != nil {
				return &ModuleError{Module: name, Cause: err}
			}
		}

		return nil
	}
}

// Use creates a ModuleOption registering x as the default instance of T.
func Use[T any](x any, opts ...InstanceOption) ModuleOption {
	return func(r *Registry) error {
		return r.capture(func() {
			For[T](r).Use(x, opts...)
		})
	}
}

// Add creates a ModuleOption registering x as an additional instance of T.
func Add[T any](x any, opts ...InstanceOption) ModuleOption {
	return func(r *Registry) error {
		return r.capture(func() {
			For[T](r).Add(x, opts...)
		})
	}
}

// LifecycleOf creates a ModuleOption setting the lifecycle of T.
func LifecycleOf[T any](kind LifecycleKind) ModuleOption {
	return func(r *Registry) error {
		return r.capture(func() {
			For[T](r).SetLifecycle(kind)
		})
	}
}

// Intercept creates a ModuleOption registering global interceptors.
func Intercept(interceptors ...Interceptor) ModuleOption {
	return func(r *Registry) error {
		r.Intercept(interceptors...)
		return nil
	}
}

// Configure creates a ModuleOption from an arbitrary registration function.
func Configure(fn func(*Registry)) ModuleOption {
	return func(r *Registry) error {
		return r.capture(func() {
			fn(r)
		})
	}
}

// capture runs fn and returns the registration errors it produced instead of
// keeping them in the registry, so a module can wrap them.
func (r *Registry) capture(fn func()) error {
	before := multierr.Errors(r.errs)
	r.errs = nil

	fn()

	produced := r.errs
	r.errs = multierr.Combine(before...)
	return produced
}
