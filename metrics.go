package plugraph

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the resolution collectors. A nil *metrics records nothing.
type metrics struct {
	builds      *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	buildErrors *prometheus.CounterVec
	resolve     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugraph",
			Name:      "builds_total",
			Help:      "Number of objects constructed, by plugin type.",
		}, []string{"plugin_type"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugraph",
			Name:      "cache_hits_total",
			Help:      "Number of lifecycle cache hits, by cache.",
		}, []string{"lifecycle"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugraph",
			Name:      "cache_misses_total",
			Help:      "Number of lifecycle cache misses, by cache.",
		}, []string{"lifecycle"}),
		buildErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugraph",
			Name:      "build_errors_total",
			Help:      "Number of failed top-level resolutions, by error kind.",
		}, []string{"kind"}),
		resolve: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plugraph",
			Name:      "resolve_duration_seconds",
			Help:      "Duration of top-level resolutions.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}

	m.builds = register(reg, m.builds)
	m.cacheHits = register(reg, m.cacheHits)
	m.cacheMisses = register(reg, m.cacheMisses)
	m.buildErrors = register(reg, m.buildErrors)
	m.resolve = register(reg, m.resolve)

	return m
}

// register registers c, reusing the collector already registered under the
// same descriptor when two containers share a registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}

	return c
}

func (m *metrics) built(pluginType string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(pluginType).Inc()
}

func (m *metrics) cacheHit(lifecycle string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(lifecycle).Inc()
}

func (m *metrics) cacheMiss(lifecycle string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(lifecycle).Inc()
}

func (m *metrics) failed(err error) {
	if m == nil {
		return
	}
	m.buildErrors.WithLabelValues(errorKind(err)).Inc()
}

func (m *metrics) observe(start time.Time) {
	if m == nil {
		return
	}
	m.resolve.Observe(time.Since(start).Seconds())
}

// errorKind classifies err for the build_errors_total label.
func errorKind(err error) string {
	var (
		cfg      *ConfigurationError
		cycle    *CircularDependencyError
		timeout  *TimeoutError
		panicked *ConstructorPanicError
		mismatch *TypeMismatchError
	)

	switch {
	case errors.As(err, &cycle):
		return "circular"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &panicked):
		return "panic"
	case errors.As(err, &cfg):
		return "configuration"
	case errors.As(err, &mismatch):
		return "type_mismatch"
	default:
		return "build"
	}
}
