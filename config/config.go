// Package config defines the configuration surface consumed by the
// memory store: connection parameters, pool bounds, embedding model
// identifier, default retrieval weights, and forgetting-curve defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a store instance.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Pool      PoolConfig      `yaml:"pool" json:"pool"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Decay     DecayConfig     `yaml:"decay" json:"decay"`
}

// DatabaseConfig holds backing-store connection parameters.
type DatabaseConfig struct {
	// Driver selects the backend: "postgres" or "sqlite".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string. For sqlite this is a
	// file path, or ":memory:" for an in-process database.
	DSN string `yaml:"dsn" json:"dsn"`
}

// PoolConfig bounds the shared connection pool.
type PoolConfig struct {
	// Minimum number of idle connections kept open.
	MinConns int `yaml:"min_conns" json:"min_conns"`

	// Maximum number of connections; acquisition blocks once reached.
	MaxConns int `yaml:"max_conns" json:"max_conns"`

	// Default deadline for acquiring a connection.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`

	// Connection max lifetime before recycling.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// CacheConfig configures the optional redis-backed embedding cache.
// When Addr is empty the cache runs purely in process.
type CacheConfig struct {
	Addr       string        `yaml:"addr" json:"addr"`
	Password   string        `yaml:"password" json:"password"`
	DB         int           `yaml:"db" json:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
}

// EmbeddingConfig identifies the external embedding provider.
type EmbeddingConfig struct {
	// Model is the embedding model identifier, recorded for stats only;
	// the provider itself is injected.
	Model string `yaml:"model" json:"model"`

	// Dimension is the fixed vector length enforced on write.
	Dimension int `yaml:"dimension" json:"dimension"`
}

// RetrievalConfig holds default weights for the composite ranking.
type RetrievalConfig struct {
	// RelevanceWeight, ImportanceWeight and RecencyWeight are the default
	// alpha/beta/gamma of the composite score. They are accepted as given;
	// no renormalization is applied.
	RelevanceWeight  float64 `yaml:"relevance_weight" json:"relevance_weight"`
	ImportanceWeight float64 `yaml:"importance_weight" json:"importance_weight"`
	RecencyWeight    float64 `yaml:"recency_weight" json:"recency_weight"`

	// RecencyHalfLifeDays scales the exponential recency term
	// exp(-ageDays/halfLife). The default is tuned so a one-week-old,
	// untouched memory scores about 0.5.
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days" json:"recency_half_life_days"`

	// OverfetchFactor multiplies the search limit when drawing weighted
	// recall candidates, so high-importance items that rank lower on raw
	// relevance are not starved.
	OverfetchFactor int `yaml:"overfetch_factor" json:"overfetch_factor"`
}

// DecayConfig holds forgetting-curve defaults.
type DecayConfig struct {
	MinAgeHours int     `yaml:"min_age_hours" json:"min_age_hours"`
	DecayFactor float64 `yaml:"decay_factor" json:"decay_factor"`
	AccessBoost float64 `yaml:"access_boost" json:"access_boost"`
	MaxDecay    float64 `yaml:"max_decay" json:"max_decay"`

	// SweepInterval is the cadence an external scheduler should use for
	// the expiry sweep; the store never runs it implicitly.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database:  DefaultDatabaseConfig(),
		Pool:      DefaultPoolConfig(),
		Cache:     DefaultCacheConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Decay:     DefaultDecayConfig(),
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: "sqlite",
		DSN:    "mnemo.db",
	}
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConns:        1,
		MaxConns:        20,
		AcquireTimeout:  5 * time.Second,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultCacheConfig returns the default embedding cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL: 10 * time.Minute,
		MaxEntries: 4096,
	}
}

// DefaultEmbeddingConfig returns the default embedding configuration.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:     "all-MiniLM-L6-v2",
		Dimension: 384,
	}
}

// DefaultRetrievalConfig returns the default retrieval configuration.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RelevanceWeight:  0.3,
		ImportanceWeight: 0.4,
		RecencyWeight:    0.3,
		// 7/ln2: a week-old untouched memory scores ~0.5.
		RecencyHalfLifeDays: 10.1,
		OverfetchFactor:     4,
	}
}

// DefaultDecayConfig returns the default forgetting-curve configuration.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		MinAgeHours:   168,
		DecayFactor:   0.1,
		AccessBoost:   0.2,
		MaxDecay:      0.8,
		SweepInterval: 24 * time.Hour,
	}
}

// decodeDuration parses a yaml scalar into a duration, accepting both
// time.ParseDuration strings ("5s", "1h") and raw nanosecond integers.
// An empty scalar keeps the current value, so file entries layer over
// the defaults.
func decodeDuration(node *yaml.Node, into *time.Duration) error {
	if node == nil || node.Value == "" {
		return nil
	}
	d, err := time.ParseDuration(node.Value)
	if err != nil {
		var ns int64
		if ierr := node.Decode(&ns); ierr != nil {
			return fmt.Errorf("invalid duration %q: %w", node.Value, err)
		}
		d = time.Duration(ns)
	}
	*into = d
	return nil
}

func child(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler so duration fields accept
// "5s"-style strings.
func (p *PoolConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain struct {
		MinConns *int `yaml:"min_conns"`
		MaxConns *int `yaml:"max_conns"`
	}
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.MinConns != nil {
		p.MinConns = *raw.MinConns
	}
	if raw.MaxConns != nil {
		p.MaxConns = *raw.MaxConns
	}
	if err := decodeDuration(child(node, "acquire_timeout"), &p.AcquireTimeout); err != nil {
		return err
	}
	return decodeDuration(child(node, "conn_max_lifetime"), &p.ConnMaxLifetime)
}

// UnmarshalYAML implements yaml.Unmarshaler so duration fields accept
// "5s"-style strings.
func (c *CacheConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain struct {
		Addr       *string `yaml:"addr"`
		Password   *string `yaml:"password"`
		DB         *int    `yaml:"db"`
		MaxEntries *int    `yaml:"max_entries"`
	}
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Addr != nil {
		c.Addr = *raw.Addr
	}
	if raw.Password != nil {
		c.Password = *raw.Password
	}
	if raw.DB != nil {
		c.DB = *raw.DB
	}
	if raw.MaxEntries != nil {
		c.MaxEntries = *raw.MaxEntries
	}
	return decodeDuration(child(node, "default_ttl"), &c.DefaultTTL)
}

// UnmarshalYAML implements yaml.Unmarshaler so duration fields accept
// "5s"-style strings.
func (d *DecayConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain struct {
		MinAgeHours *int     `yaml:"min_age_hours"`
		DecayFactor *float64 `yaml:"decay_factor"`
		AccessBoost *float64 `yaml:"access_boost"`
		MaxDecay    *float64 `yaml:"max_decay"`
	}
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.MinAgeHours != nil {
		d.MinAgeHours = *raw.MinAgeHours
	}
	if raw.DecayFactor != nil {
		d.DecayFactor = *raw.DecayFactor
	}
	if raw.AccessBoost != nil {
		d.AccessBoost = *raw.AccessBoost
	}
	if raw.MaxDecay != nil {
		d.MaxDecay = *raw.MaxDecay
	}
	return decodeDuration(child(node, "sweep_interval"), &d.SweepInterval)
}

// Load reads a yaml configuration file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks bounds that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Pool.MinConns < 0 || c.Pool.MaxConns <= 0 {
		return fmt.Errorf("pool bounds must be positive, got min=%d max=%d", c.Pool.MinConns, c.Pool.MaxConns)
	}
	if c.Pool.MinConns > c.Pool.MaxConns {
		return fmt.Errorf("pool min_conns %d exceeds max_conns %d", c.Pool.MinConns, c.Pool.MaxConns)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding dimension must be non-negative, got %d", c.Embedding.Dimension)
	}
	if c.Retrieval.OverfetchFactor <= 0 {
		return fmt.Errorf("overfetch_factor must be positive, got %d", c.Retrieval.OverfetchFactor)
	}
	if c.Retrieval.RecencyHalfLifeDays <= 0 {
		return fmt.Errorf("recency_half_life_days must be positive, got %v", c.Retrieval.RecencyHalfLifeDays)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
