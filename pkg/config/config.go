// Package config defines the gateway configuration model.
//
// Configuration is loaded from YAML, with ${VAR} environment expansion,
// then run through the SetDefaults -> Validate pipeline.
package config

import (
	"fmt"
	"time"
)

// knownTiers is the closed set of service tiers, most restrictive first.
var knownTiers = []string{"basic", "professional", "growth", "elite"}

func isKnownTier(name string) bool {
	for _, t := range knownTiers {
		if t == name {
			return true
		}
	}
	return false
}

// Config is the root configuration for the admission gateway.
type Config struct {
	Server     ServerConfig                `yaml:"server,omitempty"`
	Auth       AuthConfig                  `yaml:"auth"`
	Redis      RedisConfig                 `yaml:"redis,omitempty"`
	Limits     LimitsConfig                `yaml:"limits,omitempty"`
	Tiers      map[string]*TierQuotaConfig `yaml:"tiers,omitempty"`
	Operations []*OperationConfig          `yaml:"operations,omitempty"`
	Audit      AuditConfig                 `yaml:"audit,omitempty"`
	Logging    LoggingConfig               `yaml:"logging,omitempty"`
	Metrics    MetricsConfig               `yaml:"metrics,omitempty"`
}

// SetDefaults applies default values to the whole tree.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.Redis.SetDefaults()
	c.Limits.SetDefaults()
	c.Audit.SetDefaults()
	c.Logging.SetDefaults()

	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTierQuotas()
	}
	for _, tier := range c.Tiers {
		tier.SetDefaults()
	}
}

// Validate checks the whole tree for errors.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if c.Limits.Backend == BackendRedis {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}

	for name, tier := range c.Tiers {
		if !isKnownTier(name) {
			return fmt.Errorf("tiers: unknown tier %q", name)
		}
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("tiers.%s: %w", name, err)
		}
	}

	seen := make(map[string]bool, len(c.Operations))
	for _, op := range c.Operations {
		if err := op.Validate(); err != nil {
			return err
		}
		if seen[op.Route] {
			return fmt.Errorf("operations: duplicate route %q", op.Route)
		}
		seen[op.Route] = true
	}

	return nil
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host,omitempty"`
	Port            int      `yaml:"port,omitempty"`
	ReadTimeout     Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(10 * time.Second)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = Duration(30 * time.Second)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// Validate checks the ServerConfig for errors.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}

// AuthConfig configures credential verification.
//
// The signing secret is the only secret the gateway holds. It is normally
// injected through the environment:
//
//	auth:
//	  secret: ${GATEWARDEN_JWT_SECRET}
type AuthConfig struct {
	// Secret is the shared HS256 signing secret. Required.
	Secret string `yaml:"secret"`

	// CookieName is the fallback cookie carrying the bearer token when no
	// Authorization header is present.
	// Default: "access_token"
	CookieName string `yaml:"cookie_name,omitempty"`

	// OverrideHeader names the header through which a caller holding the
	// sovereign-override capability requests another tenant's scope.
	// Default: "X-Act-As-Tenant"
	OverrideHeader string `yaml:"override_header,omitempty"`
}

// SetDefaults applies default values to AuthConfig.
func (c *AuthConfig) SetDefaults() {
	if c.CookieName == "" {
		c.CookieName = "access_token"
	}
	if c.OverrideHeader == "" {
		c.OverrideHeader = "X-Act-As-Tenant"
	}
}

// Validate checks the AuthConfig for errors.
func (c *AuthConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}
	return nil
}

// RedisConfig configures the shared rate-limit store.
type RedisConfig struct {
	Addr        string   `yaml:"addr,omitempty"`
	Password    string   `yaml:"password,omitempty"`
	DB          int      `yaml:"db,omitempty"`
	DialTimeout Duration `yaml:"dial_timeout,omitempty"`
}

// SetDefaults applies default values to RedisConfig.
func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the RedisConfig for errors.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

// Limiter backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Rate-limit key scopes.
const (
	ScopeSubject = "subject"
	ScopeTenant  = "tenant"
)

// LimitsConfig configures how rate-limit keys are built and which backend
// enforces them.
type LimitsConfig struct {
	// Backend selects the limiter store: "redis" (shared across replicas)
	// or "memory" (single instance, development only).
	// Default: "redis"
	Backend string `yaml:"backend,omitempty"`

	// Scope selects the identity component of the key: "subject" or
	// "tenant". Default: "subject"
	Scope string `yaml:"scope,omitempty"`

	// KeyPrefix namespaces all limiter keys in the shared store.
	// Default: "rl"
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// StoreTimeout bounds every store round trip. It is independent of any
	// quota window; on expiry the request is admitted degraded.
	// Default: 150ms
	StoreTimeout Duration `yaml:"store_timeout,omitempty"`
}

// SetDefaults applies default values to LimitsConfig.
func (c *LimitsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendRedis
	}
	if c.Scope == "" {
		c.Scope = ScopeSubject
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "rl"
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = Duration(150 * time.Millisecond)
	}
}

// Validate checks the LimitsConfig for errors.
func (c *LimitsConfig) Validate() error {
	if c.Backend != BackendRedis && c.Backend != BackendMemory {
		return fmt.Errorf("limits.backend must be %q or %q", BackendRedis, BackendMemory)
	}
	if c.Scope != ScopeSubject && c.Scope != ScopeTenant {
		return fmt.Errorf("limits.scope must be %q or %q", ScopeSubject, ScopeTenant)
	}
	if c.StoreTimeout.Duration() < time.Millisecond {
		return fmt.Errorf("limits.store_timeout must be at least 1ms")
	}
	return nil
}

// QuotaConfig is one throughput quota: a window length and the number of
// requests admitted inside any trailing window of that length.
type QuotaConfig struct {
	Window      Duration `yaml:"window"`
	MaxRequests int64    `yaml:"max_requests"`
}

// Validate checks the QuotaConfig for errors.
func (c *QuotaConfig) Validate() error {
	if c.Window.Duration() <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive")
	}
	return nil
}

// TierQuotaConfig is the quota set for one tier: a burst window plus an
// optional sustained window enforced in the same atomic store operation.
type TierQuotaConfig struct {
	Window      Duration     `yaml:"window"`
	MaxRequests int64        `yaml:"max_requests"`
	Sustained   *QuotaConfig `yaml:"sustained,omitempty"`
}

// SetDefaults applies default values to TierQuotaConfig.
func (c *TierQuotaConfig) SetDefaults() {
	if c.Window == 0 {
		c.Window = Duration(time.Minute)
	}
}

// Validate checks the TierQuotaConfig for errors.
func (c *TierQuotaConfig) Validate() error {
	burst := QuotaConfig{Window: c.Window, MaxRequests: c.MaxRequests}
	if err := burst.Validate(); err != nil {
		return err
	}
	if c.Sustained != nil {
		if err := c.Sustained.Validate(); err != nil {
			return fmt.Errorf("sustained: %w", err)
		}
		if c.Sustained.Window.Duration() <= c.Window.Duration() {
			return fmt.Errorf("sustained.window must be longer than the burst window")
		}
	}
	return nil
}

// DefaultTierQuotas returns the built-in quota table, used when the config
// file declares no tiers.
func DefaultTierQuotas() map[string]*TierQuotaConfig {
	day := Duration(24 * time.Hour)
	return map[string]*TierQuotaConfig{
		"basic": {
			Window:      Duration(time.Minute),
			MaxRequests: 30,
			Sustained:   &QuotaConfig{Window: day, MaxRequests: 5000},
		},
		"professional": {
			Window:      Duration(time.Minute),
			MaxRequests: 120,
			Sustained:   &QuotaConfig{Window: day, MaxRequests: 20000},
		},
		"growth": {
			Window:      Duration(time.Minute),
			MaxRequests: 300,
			Sustained:   &QuotaConfig{Window: day, MaxRequests: 50000},
		},
		"elite": {
			Window:      Duration(time.Minute),
			MaxRequests: 1200,
			Sustained:   &QuotaConfig{Window: day, MaxRequests: 200000},
		},
	}
}

// OperationConfig declares a tier gate for one protected operation.
// Operations are named by chi route pattern. A route with no entry here is
// open to all tiers.
type OperationConfig struct {
	Route        string   `yaml:"route"`
	AllowedTiers []string `yaml:"allowed_tiers"`
}

// Validate checks the OperationConfig for errors.
func (c *OperationConfig) Validate() error {
	if c.Route == "" {
		return fmt.Errorf("operations: route is required")
	}
	if len(c.AllowedTiers) == 0 {
		return fmt.Errorf("operations.%s: allowed_tiers must not be empty", c.Route)
	}
	for _, tier := range c.AllowedTiers {
		if !isKnownTier(tier) {
			return fmt.Errorf("operations.%s: unknown tier %q", c.Route, tier)
		}
	}
	return nil
}

// Audit sink kinds.
const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
)

// AuditConfig configures where sovereign-override events are written.
type AuditConfig struct {
	// Sink selects the audit destination: "log" (structured log stream) or
	// "postgres" (table). Default: "log"
	Sink string `yaml:"sink,omitempty"`

	// DSN is the Postgres connection string. Required for the postgres sink.
	DSN string `yaml:"dsn,omitempty"`
}

// SetDefaults applies default values to AuditConfig.
func (c *AuditConfig) SetDefaults() {
	if c.Sink == "" {
		c.Sink = AuditSinkLog
	}
}

// Validate checks the AuditConfig for errors.
func (c *AuditConfig) Validate() error {
	switch c.Sink {
	case AuditSinkLog:
		return nil
	case AuditSinkPostgres:
		if c.DSN == "" {
			return fmt.Errorf("audit.dsn is required for the postgres sink")
		}
		return nil
	default:
		return fmt.Errorf("audit.sink must be %q or %q", AuditSinkLog, AuditSinkPostgres)
	}
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: "info"
	Level string `yaml:"level,omitempty"`

	// Format is "simple" or "verbose". Default: "simple"
	Format string `yaml:"format,omitempty"`

	// File is the log file path. Empty means stderr.
	File string `yaml:"file,omitempty"`
}

// SetDefaults applies default values to LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}
