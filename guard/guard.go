// Package guard provides admission control for write and query paths:
// quotas checked against live counts and token-bucket rate limits per
// (kind, namespace) pair.
package guard

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Kind names a guarded operation class.
type Kind string

const (
	KindAdd      Kind = "add"
	KindQuery    Kind = "query"
	KindBuild    Kind = "build"
	KindAnalysis Kind = "analysis"
)

// QuotaExceededError is returned when an operation would exceed a
// configured quota.
type QuotaExceededError struct {
	Kind      Kind
	Namespace string
	Limit     int
	Current   int
}

// Error returns the error message for an exceeded quota.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("guard: quota exceeded for %s in namespace %q: %d of %d used", e.Kind, e.Namespace, e.Current, e.Limit)
}

// RateLimitedError is returned when the (kind, namespace) token bucket
// is empty.
type RateLimitedError struct {
	Kind      Kind
	Namespace string
}

// Error returns the error message for a rate-limited operation.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("guard: rate limit hit for %s in namespace %q", e.Kind, e.Namespace)
}

// Guard admits or rejects operations before they reach the stores.
type Guard interface {
	// CheckQuota reports whether adding n records to namespace stays
	// within the configured quotas.
	CheckQuota(ctx context.Context, kind Kind, namespace string, n int) error

	// CheckRate consumes one token from the (kind, namespace) bucket.
	CheckRate(ctx context.Context, kind Kind, namespace string) error
}

// Counter reports live usage for quota decisions. store.Store satisfies
// it.
type Counter interface {
	Count(ctx context.Context, namespace string) (int, error)
	Namespaces(ctx context.Context) ([]string, error)
}

// RateConfig configures one kind's token bucket.
type RateConfig struct {
	// PerSecond is the sustained rate. Zero disables limiting for the
	// kind.
	PerSecond float64

	// Burst is the bucket capacity. Defaults to PerSecond rounded down,
	// at least 1.
	Burst int
}

// Config holds guard limits. Zero values mean unlimited.
type Config struct {
	// MaxRecordsPerNamespace caps live records in one namespace.
	MaxRecordsPerNamespace int

	// MaxNamespaces caps the total number of namespaces.
	MaxNamespaces int

	// Rates configures token buckets per kind. Kinds without an entry
	// pass.
	Rates map[Kind]RateConfig
}

// Validate checks that the Config is valid and applies defaults.
func (c *Config) Validate() error {
	if c.MaxRecordsPerNamespace < 0 {
		return fmt.Errorf("guard: max records per namespace must not be negative (got %d)", c.MaxRecordsPerNamespace)
	}

	if c.MaxNamespaces < 0 {
		return fmt.Errorf("guard: max namespaces must not be negative (got %d)", c.MaxNamespaces)
	}

	for kind, rc := range c.Rates {
		if rc.PerSecond < 0 {
			return fmt.Errorf("guard: rate for %s must not be negative (got %g)", kind, rc.PerSecond)
		}

		if rc.Burst < 0 {
			return fmt.Errorf("guard: burst for %s must not be negative (got %d)", kind, rc.Burst)
		}

		if rc.PerSecond > 0 && rc.Burst == 0 {
			rc.Burst = int(rc.PerSecond)
			if rc.Burst < 1 {
				rc.Burst = 1
			}
			c.Rates[kind] = rc
		}
	}

	return nil
}

// Compile time check to ensure Controller satisfies the Guard interface.
var _ Guard = (*Controller)(nil)

// Controller enforces quotas against live counts and per-kind rate
// limits. A nil Controller admits everything.
type Controller struct {
	cfg     Config
	counter Counter

	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
}

type bucketKey struct {
	kind      Kind
	namespace string
}

// NewController creates a new guard controller. counter may be nil,
// which disables quota checks.
func NewController(cfg Config, counter Counter) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Controller{
		cfg:     cfg,
		counter: counter,
		buckets: make(map[bucketKey]*rate.Limiter),
	}, nil
}

// CheckQuota checks the per-namespace record quota and the namespace
// count quota. Quotas only constrain growth, so n <= 0 always passes.
func (c *Controller) CheckQuota(ctx context.Context, kind Kind, namespace string, n int) error {
	if c == nil || c.counter == nil || n <= 0 {
		return nil
	}

	if limit := c.cfg.MaxRecordsPerNamespace; limit > 0 {
		current, err := c.counter.Count(ctx, namespace)
		if err != nil {
			return fmt.Errorf("guard: count %q: %w", namespace, err)
		}

		if current+n > limit {
			return &QuotaExceededError{Kind: kind, Namespace: namespace, Limit: limit, Current: current}
		}
	}

	if limit := c.cfg.MaxNamespaces; limit > 0 {
		namespaces, err := c.counter.Namespaces(ctx)
		if err != nil {
			return fmt.Errorf("guard: list namespaces: %w", err)
		}

		known := false
		for _, ns := range namespaces {
			if ns == namespace {
				known = true
				break
			}
		}

		if !known && len(namespaces) >= limit {
			return &QuotaExceededError{Kind: kind, Namespace: namespace, Limit: limit, Current: len(namespaces)}
		}
	}

	return nil
}

// CheckRate consumes one token without blocking. Kinds without a
// configured rate pass.
func (c *Controller) CheckRate(_ context.Context, kind Kind, namespace string) error {
	if c == nil {
		return nil
	}

	rc, ok := c.cfg.Rates[kind]
	if !ok || rc.PerSecond <= 0 {
		return nil
	}

	if !c.bucket(kind, namespace, rc).Allow() {
		return &RateLimitedError{Kind: kind, Namespace: namespace}
	}

	return nil
}

func (c *Controller) bucket(kind Kind, namespace string, rc RateConfig) *rate.Limiter {
	key := bucketKey{kind: kind, namespace: namespace}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(rc.PerSecond), rc.Burst)
		c.buckets[key] = b
	}

	return b
}
