package embedspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/artifact/badgerstore"
	"github.com/hupe1980/embedspace/distance"
	"github.com/hupe1980/embedspace/guard"
	"github.com/hupe1980/embedspace/index"
	"github.com/hupe1980/embedspace/index/annoy"
	"github.com/hupe1980/embedspace/index/exact"
	"github.com/hupe1980/embedspace/store"
	"github.com/hupe1980/embedspace/store/sqlitestore"
)

// Config describes a full deployment: which backends to run and how to
// tune them. Open turns a Config into a ready EmbedSpace.
type Config struct {
	Store     StoreConfig    `yaml:"store"`
	Index     IndexConfig    `yaml:"index"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
	Jobs      JobsConfig     `yaml:"jobs"`
	Guard     *GuardConfig   `yaml:"guard,omitempty"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects the metadata store backend.
type StoreConfig struct {
	// Type is "memory" or "sqlite".
	Type string `yaml:"type"`

	// Path is the sqlite database file. Required for type sqlite.
	Path string `yaml:"path,omitempty"`
}

// IndexConfig selects and tunes the ANN index backend.
type IndexConfig struct {
	// Type is "exact" or "annoy".
	Type string `yaml:"type"`

	// Metric is "l2", "euclidean" or "cosine". Only the exact index
	// honors it; annoy always ranks by squared L2.
	Metric string `yaml:"metric,omitempty"`

	// PersistDir enables snapshot persistence under the directory.
	PersistDir string `yaml:"persist_dir,omitempty"`

	// Compression is "zstd", "lz4" or "none" for exact index snapshots.
	Compression string `yaml:"compression,omitempty"`

	// NumTrees is the annoy tree count. Zero keeps the default.
	NumTrees int `yaml:"num_trees,omitempty"`
}

// ArtifactConfig selects the artifact store backend.
type ArtifactConfig struct {
	// Type is "memory" or "badger".
	Type string `yaml:"type"`

	// Dir is the badger database directory. Required for type badger.
	Dir string `yaml:"dir,omitempty"`
}

// JobsConfig tunes the background job runner.
type JobsConfig struct {
	// Workers is the worker goroutine count. Zero keeps the default.
	Workers int `yaml:"workers,omitempty"`

	// MaxAttempts is how often a failing job runs before it is marked
	// failed. Zero keeps the default.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// RetryDelay is the fixed delay between attempts, as a Go duration
	// string such as "60s". Empty keeps the default.
	RetryDelay string `yaml:"retry_delay,omitempty"`
}

// GuardConfig enables quota and rate limiting. A nil GuardConfig runs
// without a guard.
type GuardConfig struct {
	// MaxRecordsPerNamespace caps live records per namespace. Zero
	// disables the cap.
	MaxRecordsPerNamespace int `yaml:"max_records_per_namespace,omitempty"`

	// MaxNamespaces caps the total namespace count. Zero disables the
	// cap.
	MaxNamespaces int `yaml:"max_namespaces,omitempty"`

	// Rates configures token buckets per operation kind: "add", "query",
	// "build" or "analysis". Kinds without an entry pass.
	Rates map[string]RateConfig `yaml:"rates,omitempty"`
}

// RateConfig is one token bucket.
type RateConfig struct {
	// PerSecond is the sustained rate. Zero disables limiting.
	PerSecond float64 `yaml:"per_second"`

	// Burst is the bucket capacity. Zero derives it from PerSecond.
	Burst int `yaml:"burst,omitempty"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Empty disables logging.
	Format string `yaml:"format,omitempty"`
}

// DefaultConfig returns an in-memory deployment: memory store, exact L2
// index, memory artifacts and no log output.
func DefaultConfig() Config {
	return Config{
		Store:     StoreConfig{Type: "memory"},
		Index:     IndexConfig{Type: "exact", Metric: "l2"},
		Artifacts: ArtifactConfig{Type: "memory"},
		Jobs:      JobsConfig{Workers: 2, MaxAttempts: 3, RetryDelay: "60s"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML config file. A missing file returns
// DefaultConfig, so a fresh deployment starts without one. Fields absent
// from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("embedspace: read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("embedspace: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// SaveConfig writes the config as YAML.
func SaveConfig(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("embedspace: marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("embedspace: write config: %w", err)
	}

	return nil
}

// Validate checks the config for unknown backends and malformed values.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("embedspace: sqlite store requires a path")
		}
	default:
		return fmt.Errorf("embedspace: unknown store type %q", c.Store.Type)
	}

	switch c.Index.Type {
	case "exact", "annoy":
	default:
		return fmt.Errorf("embedspace: unknown index type %q", c.Index.Type)
	}

	if _, err := parseMetric(c.Index.Metric); err != nil {
		return err
	}

	if _, err := parseCompression(c.Index.Compression); err != nil {
		return err
	}

	if c.Index.NumTrees < 0 {
		return fmt.Errorf("embedspace: num_trees must not be negative (got %d)", c.Index.NumTrees)
	}

	switch c.Artifacts.Type {
	case "memory":
	case "badger":
		if c.Artifacts.Dir == "" {
			return errors.New("embedspace: badger artifacts require a dir")
		}
	default:
		return fmt.Errorf("embedspace: unknown artifact store type %q", c.Artifacts.Type)
	}

	if c.Jobs.Workers < 0 {
		return fmt.Errorf("embedspace: job workers must not be negative (got %d)", c.Jobs.Workers)
	}

	if c.Jobs.MaxAttempts < 0 {
		return fmt.Errorf("embedspace: job max_attempts must not be negative (got %d)", c.Jobs.MaxAttempts)
	}

	if c.Jobs.RetryDelay != "" {
		if _, err := time.ParseDuration(c.Jobs.RetryDelay); err != nil {
			return fmt.Errorf("embedspace: parse retry_delay: %w", err)
		}
	}

	if c.Guard != nil {
		if _, err := c.Guard.toGuardConfig(); err != nil {
			return err
		}
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("embedspace: unknown log format %q", c.Logging.Format)
	}

	return nil
}

func (g *GuardConfig) toGuardConfig() (guard.Config, error) {
	cfg := guard.Config{
		MaxRecordsPerNamespace: g.MaxRecordsPerNamespace,
		MaxNamespaces:          g.MaxNamespaces,
	}

	if len(g.Rates) > 0 {
		cfg.Rates = make(map[guard.Kind]guard.RateConfig, len(g.Rates))

		for name, rc := range g.Rates {
			kind := guard.Kind(name)
			switch kind {
			case guard.KindAdd, guard.KindQuery, guard.KindBuild, guard.KindAnalysis:
			default:
				return guard.Config{}, fmt.Errorf("embedspace: unknown rate kind %q", name)
			}

			cfg.Rates[kind] = guard.RateConfig{PerSecond: rc.PerSecond, Burst: rc.Burst}
		}
	}

	return cfg, nil
}

func parseMetric(s string) (distance.Metric, error) {
	switch s {
	case "", "l2":
		return distance.MetricL2, nil
	case "euclidean":
		return distance.MetricEuclidean, nil
	case "cosine":
		return distance.MetricCosine, nil
	default:
		return 0, fmt.Errorf("embedspace: unknown metric %q", s)
	}
}

func parseCompression(s string) (exact.CompressionType, error) {
	switch s {
	case "":
		return exact.DefaultOptions.Compression, nil
	case "zstd":
		return exact.CompressionZSTD, nil
	case "lz4":
		return exact.CompressionLZ4, nil
	case "none":
		return exact.CompressionNone, nil
	default:
		return 0, fmt.Errorf("embedspace: unknown compression %q", s)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("embedspace: unknown log level %q", s)
	}
}

// Open builds the backends the config names and wires them into an
// EmbedSpace. Extra options are applied after the config-derived ones, so
// they win on conflict. On error, any backend already built is closed.
func Open(cfg Config, optFns ...Option) (*EmbedSpace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var s store.Store

	switch cfg.Store.Type {
	case "sqlite":
		sq, err := sqlitestore.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s = sq
	default:
		s = store.NewMemory()
	}

	idx, err := openIndex(cfg.Index)
	if err != nil {
		s.Close()
		return nil, err
	}

	var artifacts artifact.Store

	switch cfg.Artifacts.Type {
	case "badger":
		b, err := badgerstore.New(cfg.Artifacts.Dir)
		if err != nil {
			idx.Close()
			s.Close()
			return nil, err
		}
		artifacts = b
	default:
		artifacts = artifact.NewMemory()
	}

	derived := []Option{WithArtifactStore(artifacts)}

	if cfg.Jobs.Workers > 0 {
		derived = append(derived, WithJobWorkers(cfg.Jobs.Workers))
	}
	if cfg.Jobs.MaxAttempts > 0 {
		derived = append(derived, WithMaxJobAttempts(cfg.Jobs.MaxAttempts))
	}
	if cfg.Jobs.RetryDelay != "" {
		delay, _ := time.ParseDuration(cfg.Jobs.RetryDelay)
		derived = append(derived, WithRetryDelay(delay))
	}

	if cfg.Guard != nil {
		gc, _ := cfg.Guard.toGuardConfig()

		controller, err := guard.NewController(gc, s)
		if err != nil {
			artifacts.Close()
			idx.Close()
			s.Close()
			return nil, err
		}

		derived = append(derived, WithGuard(controller))
	}

	if cfg.Logging.Format != "" {
		level, _ := parseLogLevel(cfg.Logging.Level)

		if cfg.Logging.Format == "json" {
			derived = append(derived, WithLogger(NewJSONLogger(level)))
		} else {
			derived = append(derived, WithLogger(NewTextLogger(level)))
		}
	}

	derived = append(derived, optFns...)

	es, err := New(s, idx, derived...)
	if err != nil {
		artifacts.Close()
		idx.Close()
		s.Close()
		return nil, err
	}

	return es, nil
}

func openIndex(cfg IndexConfig) (index.Index, error) {
	switch cfg.Type {
	case "annoy":
		idx := annoy.New(func(o *annoy.Options) {
			if cfg.NumTrees > 0 {
				o.NumTrees = cfg.NumTrees
			}
		})

		if cfg.PersistDir != "" {
			if err := idx.SetPersistenceDir(cfg.PersistDir); err != nil {
				idx.Close()
				return nil, err
			}
		}

		return idx, nil
	default:
		metric, _ := parseMetric(cfg.Metric)
		compression, _ := parseCompression(cfg.Compression)

		idx, err := exact.New(func(o *exact.Options) {
			o.Metric = metric
			o.Compression = compression
		})
		if err != nil {
			return nil, err
		}

		if cfg.PersistDir != "" {
			if err := idx.SetPersistenceDir(cfg.PersistDir); err != nil {
				idx.Close()
				return nil, err
			}
		}

		return idx, nil
	}
}
