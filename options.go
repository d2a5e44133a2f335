package embedspace

import (
	"log/slog"
	"time"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/engine"
	"github.com/hupe1980/embedspace/guard"
	"github.com/hupe1980/embedspace/projection"
)

type options struct {
	artifacts        artifact.Store
	guard            guard.Guard
	reducer          projection.Reducer
	limits           engine.ValidationLimits
	jobWorkers       int
	maxJobAttempts   int
	retryDelay       time.Duration
	driftParallelism int
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures an EmbedSpace.
type Option func(*options)

func applyOptions(optFns []Option) *options {
	o := &options{
		limits:           engine.DefaultLimits(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}

	for _, fn := range optFns {
		fn(o)
	}

	return o
}

// WithArtifactStore stores drift statistics and projections in the given
// store instead of in memory. The EmbedSpace takes ownership and closes it
// on Close.
func WithArtifactStore(artifacts artifact.Store) Option {
	return func(o *options) {
		o.artifacts = artifacts
	}
}

// WithGuard enforces quota and rate limits on incoming operations. A nil
// guard admits everything.
func WithGuard(g guard.Guard) Option {
	return func(o *options) {
		o.guard = g
	}
}

// WithReducer replaces the projection's default PCA reducer.
func WithReducer(r projection.Reducer) Option {
	return func(o *options) {
		o.reducer = r
	}
}

// WithLimits overrides the validation limits for dimensions, batch sizes
// and k.
func WithLimits(limits engine.ValidationLimits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithJobWorkers sets the number of background job workers. Values < 1
// keep the default.
func WithJobWorkers(n int) Option {
	return func(o *options) {
		o.jobWorkers = n
	}
}

// WithMaxJobAttempts sets how often a failing background job runs before
// it is marked failed. Values < 1 keep the default.
func WithMaxJobAttempts(n int) Option {
	return func(o *options) {
		o.maxJobAttempts = n
	}
}

// WithRetryDelay sets the fixed delay between background job attempts.
// Values <= 0 keep the default.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithDriftParallelism sets how many classes are drift-scored
// concurrently. Values < 1 keep the default.
func WithDriftParallelism(n int) Option {
	return func(o *options) {
		o.driftParallelism = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &embedspace.BasicMetricsCollector{}
//	es, _ := embedspace.New(s, idx, embedspace.WithMetricsCollector(metrics))
//	// ... use es ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Avg latency: %dns\n", stats.QueryCount, stats.QueryAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := embedspace.NewJSONLogger(slog.LevelInfo)
//	es, _ := embedspace.New(s, idx, embedspace.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}
