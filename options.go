package plugraph

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/junioryono/plugraph"

// Option configures a Container.
type Option interface {
	apply(*options)
}

// options holds container configuration. Child and nested containers share
// the options of their root.
type options struct {
	logger        *zap.Logger
	metrics       *metrics
	tracer        trace.Tracer
	timeout       time.Duration
	scopeDetector ScopeDetector

	// retain reports cached objects that must not be disposed with the
	// cache, such as shared pre-built objects in a validation copy.
	retain func(CacheKey) bool
}

// optionFunc adapts a function to Option.
type optionFunc func(*options)

func (f optionFunc) apply(opts *options) {
	f(opts)
}

// ScopeDetector returns the unit of work active for ctx, or nil when there is
// none. ContextScoped and HybridScoped objects are cached in that scope.
type ScopeDetector func(ctx context.Context) *Scope

// WithLogger sets the logger used for registration, build and disposal events.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	})
}

// WithMetrics registers resolution metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return optionFunc(func(opts *options) {
		opts.metrics = newMetrics(reg)
	})
}

// WithTracer sets the tracer used for top-level resolution spans.
func WithTracer(tracer trace.Tracer) Option {
	return optionFunc(func(opts *options) {
		if tracer != nil {
			opts.tracer = tracer
		}
	})
}

// WithResolutionTimeout bounds every top-level resolution. A resolution that
// runs longer returns a TimeoutError while construction finishes in the
// background.
func WithResolutionTimeout(d time.Duration) Option {
	return optionFunc(func(opts *options) {
		opts.timeout = d
	})
}

// WithScopeDetector replaces the default ScopeFromContext detector.
func WithScopeDetector(detector ScopeDetector) Option {
	return optionFunc(func(opts *options) {
		if detector != nil {
			opts.scopeDetector = detector
		}
	})
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:        zap.NewNop(),
		tracer:        otel.Tracer(instrumentationName),
		scopeDetector: ScopeFromContext,
	}

	for _, opt := range opts {
		if opt != nil {
			opt.apply(o)
		}
	}

	return o
}
