package plugraph

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type optionsTestWidget interface{ Name() string }

type optionsTestRed struct{}

func (optionsTestRed) Name() string { return "Red" }

// recordingTracer records the names of the spans it starts.
type recordingTracer struct {
	noop.Tracer

	mu    sync.Mutex
	spans []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.spans = append(r.spans, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func newOptionsTestContainer(t *testing.T, opts ...Option) *Container {
	t.Helper()

	r := NewRegistry()
	For[optionsTestWidget](r).Use(optionsTestRed{}, Named("Red")).Singleton()

	c, err := r.Build(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewOptions(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		opts := newOptions()
		assert.NotNil(t, opts.logger)
		assert.NotNil(t, opts.tracer)
		assert.NotNil(t, opts.scopeDetector)
		assert.Nil(t, opts.metrics)
		assert.Zero(t, opts.timeout)
	})

	t.Run("nil values keep the defaults", func(t *testing.T) {
		t.Parallel()

		opts := newOptions(nil, WithLogger(nil), WithTracer(nil), WithScopeDetector(nil), WithMetrics(nil))
		assert.NotNil(t, opts.logger)
		assert.NotNil(t, opts.tracer)
		assert.NotNil(t, opts.scopeDetector)
		assert.Nil(t, opts.metrics)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, time.Second, newOptions(WithResolutionTimeout(time.Second)).timeout)
	})
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("records builds and resolutions", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		c := newOptionsTestContainer(t, WithMetrics(reg))

		for range 3 {
			_, err := Resolve[optionsTestWidget](context.Background(), c)
			require.NoError(t, err)
		}

		m := c.options.metrics
		assert.Equal(t, float64(1), promtest.ToFloat64(m.builds.WithLabelValues("optionsTestWidget")))
		assert.Equal(t, float64(1), promtest.ToFloat64(m.cacheMisses.WithLabelValues("Singleton")))
		assert.Equal(t, float64(2), promtest.ToFloat64(m.cacheHits.WithLabelValues("Singleton")))
		assert.Equal(t, 1, promtest.CollectAndCount(m.resolve))
	})

	t.Run("records failures by kind", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		c := newOptionsTestContainer(t, WithMetrics(reg))

		_, err := ResolveNamed[optionsTestWidget](context.Background(), c, "Purple")
		require.Error(t, err)

		assert.Equal(t, float64(1), promtest.ToFloat64(c.options.metrics.buildErrors.WithLabelValues("configuration")))
	})

	t.Run("containers share a registerer", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		a := newOptionsTestContainer(t, WithMetrics(reg))
		b := newOptionsTestContainer(t, WithMetrics(reg))

		_, err := Resolve[optionsTestWidget](context.Background(), a)
		require.NoError(t, err)
		_, err = Resolve[optionsTestWidget](context.Background(), b)
		require.NoError(t, err)

		assert.Same(t, a.options.metrics.builds, b.options.metrics.builds)
		assert.Equal(t, float64(2), promtest.ToFloat64(b.options.metrics.builds.WithLabelValues("optionsTestWidget")))
	})

	t.Run("nil metrics record nothing", func(t *testing.T) {
		t.Parallel()

		var m *metrics
		assert.NotPanics(t, func() {
			m.built("x")
			m.cacheHit("x")
			m.cacheMiss("x")
			m.failed(errors.New("x"))
			m.observe(time.Now())
		})
	})
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{&CircularDependencyError{}, "circular"},
		{&TimeoutError{}, "timeout"},
		{&BuildError{Cause: &ConstructorPanicError{}}, "panic"},
		{&BuildError{Cause: &ConfigurationError{Code: CodeNoDefaultInstance}}, "configuration"},
		{&TypeMismatchError{}, "type_mismatch"},
		{errors.New("boom"), "build"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err))
	}
}

func TestTracing(t *testing.T) {
	t.Parallel()

	tracer := &recordingTracer{}
	c := newOptionsTestContainer(t, WithTracer(tracer))

	_, err := Resolve[optionsTestWidget](context.Background(), c)
	require.NoError(t, err)
	_, err = ResolveAll[optionsTestWidget](context.Background(), c)
	require.NoError(t, err)

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	assert.Equal(t, []string{"plugraph.Resolve", "plugraph.Resolve"}, tracer.spans)
}

func TestLogging(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	c := newOptionsTestContainer(t, WithLogger(zap.New(core)))

	_, err := Resolve[optionsTestWidget](context.Background(), c)
	require.NoError(t, err)

	built := logs.FilterMessage("built").All()
	require.Len(t, built, 1)
	fields := built[0].ContextMap()
	assert.Equal(t, "optionsTestWidget", fields["plugin_type"])
	assert.Equal(t, "Red", fields["instance"])
	assert.Equal(t, "Singleton", fields["lifecycle"])
	assert.Equal(t, c.ID(), fields["container"])

	_, err = c.GetNamedInstance(context.Background(), reflect.TypeFor[optionsTestWidget](), "Purple")
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("resolution failed").Len())
}
