// Package config loads and validates the gateway configuration.
//
// DESIGN: One YAML file, loaded once at process start. Every numeric field is
// validated up front; an invalid config fails process start rather than
// surfacing as a runtime surprise. ${VAR} references in string fields are
// expanded from the environment so secrets stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30s", "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string or a bare number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete gateway configuration. Immutable after Load.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Pools      PoolsConfig      `yaml:"pools"`
	Retry      RetryConfig      `yaml:"retry"`
	Cache      CacheConfig      `yaml:"cache"`
	Credits    CreditsConfig    `yaml:"credits"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Auth       AuthConfig       `yaml:"auth"`
	Routing    RoutingConfig    `yaml:"routing"`
	Server     ServerConfig     `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// BackendConfig identifies the warehouse endpoints.
type BackendConfig struct {
	// DirectAddr is the host:port of the backend's native protocol listener.
	DirectAddr string `yaml:"direct_addr"`
	// RelayURL is the base URL of the HTTP relay. Empty disables the relay
	// transport entirely (no fallback).
	RelayURL string `yaml:"relay_url"`
	// CallTimeout bounds a single network call on either transport.
	CallTimeout Duration `yaml:"call_timeout"`
}

// PoolConfig sizes one connection pool.
type PoolConfig struct {
	Min          int      `yaml:"min"`
	Max          int      `yaml:"max"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
	LeaseTimeout Duration `yaml:"lease_timeout"`
	// Freshness is the last-used age beyond which a connection is
	// health-checked before being handed out.
	Freshness Duration `yaml:"freshness"`
}

// PoolsConfig holds the two independent pool configurations.
type PoolsConfig struct {
	Direct PoolConfig `yaml:"direct"`
	Relay  PoolConfig `yaml:"relay"`
}

// RetryConfig controls per-operation retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per transport (first + retries).
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// TTL maps operation name to cache TTL. Zero or absent disables caching
	// for that operation.
	TTL           map[string]Duration `yaml:"ttl"`
	SweepInterval Duration            `yaml:"sweep_interval"`
}

// CreditsConfig controls the credit ledger.
type CreditsConfig struct {
	// Window is "daily" or "monthly".
	Window string `yaml:"window"`
	// Quota is the hard credit limit per window.
	Quota float64 `yaml:"quota"`
	// SoftWarnPct emits a warning when consumption crosses this percentage
	// of the quota (e.g. 80).
	SoftWarnPct float64 `yaml:"soft_warn_pct"`
	// CostTable maps operation name to flat credits per call.
	CostTable map[string]float64 `yaml:"cost_table"`
	// TokenRate maps operation name to credits per 1K tokens of input text.
	TokenRate map[string]float64 `yaml:"token_rate"`
}

// BreakerConfig controls the per-transport circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	EvaluationWindow Duration `yaml:"evaluation_window"`
	CoolDown         Duration `yaml:"cool_down"`
}

// AuthConfig controls access token tracking.
type AuthConfig struct {
	// Environment selects which token the secret source is asked for
	// (e.g. "prod", "staging").
	Environment string `yaml:"environment"`
	// Source is one of "file", "env", "awssm".
	Source string `yaml:"source"`
	// TokenFile is the JSON token file path (source: file).
	TokenFile string `yaml:"token_file"`
	// SecretID is the Secrets Manager secret id (source: awssm).
	SecretID string `yaml:"secret_id"`
	// RotationWarn is how long before expiry a rotation warning is raised.
	RotationWarn Duration `yaml:"rotation_warn"`
	PollInterval Duration `yaml:"poll_interval"`
}

// RoutingConfig maps workload types to warehouse names.
type RoutingConfig struct {
	Warehouses map[string]string `yaml:"warehouses"`
	// Default receives unknown workload types.
	Default string `yaml:"default"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// MonitoringConfig controls the usage journal.
type MonitoringConfig struct {
	JournalEnabled bool   `yaml:"journal_enabled"`
	JournalPath    string `yaml:"journal_path"`
}

// Load reads, expands, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.CallTimeout <= 0 {
		c.Backend.CallTimeout = Duration(DefaultCallTimeout)
	}
	applyPoolDefaults(&c.Pools.Direct)
	applyPoolDefaults(&c.Pools.Relay)

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.Retry.BackoffBase <= 0 {
		c.Retry.BackoffBase = Duration(DefaultBackoffBase)
	}
	if c.Retry.BackoffMax <= 0 {
		c.Retry.BackoffMax = Duration(DefaultBackoffMax)
	}

	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = Duration(DefaultCacheSweepInterval)
	}

	if c.Credits.Window == "" {
		c.Credits.Window = "daily"
	}
	if c.Credits.SoftWarnPct == 0 {
		c.Credits.SoftWarnPct = DefaultSoftWarnPct
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.EvaluationWindow <= 0 {
		c.Breaker.EvaluationWindow = Duration(DefaultEvaluationWindow)
	}
	if c.Breaker.CoolDown <= 0 {
		c.Breaker.CoolDown = Duration(DefaultCoolDown)
	}

	if c.Auth.Environment == "" {
		c.Auth.Environment = "prod"
	}
	if c.Auth.Source == "" {
		c.Auth.Source = "env"
	}
	if c.Auth.RotationWarn <= 0 {
		c.Auth.RotationWarn = Duration(DefaultRotationWarn)
	}
	if c.Auth.PollInterval <= 0 {
		c.Auth.PollInterval = Duration(DefaultTokenPollInterval)
	}

	if c.Routing.Default == "" {
		c.Routing.Default = DefaultWarehouse
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultListenAddr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = Duration(DefaultServerReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = Duration(DefaultServerWriteTimeout)
	}
}

func applyPoolDefaults(p *PoolConfig) {
	if p.Min == 0 {
		p.Min = DefaultPoolMin
	}
	if p.Max == 0 {
		p.Max = DefaultPoolMax
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = Duration(DefaultPoolIdleTimeout)
	}
	if p.LeaseTimeout <= 0 {
		p.LeaseTimeout = Duration(DefaultLeaseTimeout)
	}
	if p.Freshness <= 0 {
		p.Freshness = Duration(DefaultFreshness)
	}
}

// Validate checks every section. All numeric fields must be positive.
func (c *Config) Validate() error {
	if c.Backend.DirectAddr == "" {
		return fmt.Errorf("backend.direct_addr is required")
	}
	if c.Backend.CallTimeout <= 0 {
		return fmt.Errorf("backend.call_timeout must be positive")
	}
	if err := validatePool("pools.direct", c.Pools.Direct); err != nil {
		return err
	}
	if err := validatePool("pools.relay", c.Pools.Relay); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffBase <= 0 || c.Retry.BackoffMax <= 0 {
		return fmt.Errorf("retry backoff durations must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}
	for op, ttl := range c.Cache.TTL {
		if ttl < 0 {
			return fmt.Errorf("cache.ttl[%s] must be >= 0", op)
		}
	}
	if c.Credits.Window != "daily" && c.Credits.Window != "monthly" {
		return fmt.Errorf("credits.window must be daily or monthly, got %q", c.Credits.Window)
	}
	if c.Credits.Quota <= 0 {
		return fmt.Errorf("credits.quota must be positive, got %f", c.Credits.Quota)
	}
	if c.Credits.SoftWarnPct <= 0 || c.Credits.SoftWarnPct >= 100 {
		return fmt.Errorf("credits.soft_warn_pct must be in (0,100), got %f", c.Credits.SoftWarnPct)
	}
	for op, cost := range c.Credits.CostTable {
		if cost <= 0 {
			return fmt.Errorf("credits.cost_table[%s] must be positive", op)
		}
	}
	for op, rate := range c.Credits.TokenRate {
		if rate < 0 {
			return fmt.Errorf("credits.token_rate[%s] must be >= 0", op)
		}
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.EvaluationWindow <= 0 || c.Breaker.CoolDown <= 0 {
		return fmt.Errorf("breaker durations must be positive")
	}
	switch c.Auth.Source {
	case "file":
		if c.Auth.TokenFile == "" {
			return fmt.Errorf("auth.token_file is required for source=file")
		}
	case "env":
	case "awssm":
		if c.Auth.SecretID == "" {
			return fmt.Errorf("auth.secret_id is required for source=awssm")
		}
	default:
		return fmt.Errorf("auth.source must be file, env or awssm, got %q", c.Auth.Source)
	}
	if c.Auth.RotationWarn <= 0 || c.Auth.PollInterval <= 0 {
		return fmt.Errorf("auth durations must be positive")
	}
	if c.Routing.Default == "" {
		return fmt.Errorf("routing.default is required")
	}
	return nil
}

func validatePool(name string, p PoolConfig) error {
	if p.Min < 0 {
		return fmt.Errorf("%s.min must be >= 0, got %d", name, p.Min)
	}
	if p.Max < 1 {
		return fmt.Errorf("%s.max must be >= 1, got %d", name, p.Max)
	}
	if p.Min > p.Max {
		return fmt.Errorf("%s.min (%d) exceeds max (%d)", name, p.Min, p.Max)
	}
	if p.IdleTimeout <= 0 || p.LeaseTimeout <= 0 || p.Freshness <= 0 {
		return fmt.Errorf("%s durations must be positive", name)
	}
	return nil
}

// WindowDuration returns the credit window length.
func (c *CreditsConfig) WindowDuration() time.Duration {
	if c.Window == "monthly" {
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}
