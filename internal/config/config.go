package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds all trust/access policy knobs. Every threshold the
// security core applies is configured here and injected at construction time.
type SecurityConfig struct {
	Password     PasswordConfig     `mapstructure:"password"`
	Tokens       TokenConfig        `mapstructure:"tokens"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	IPReputation IPReputationConfig `mapstructure:"ip_reputation"`
	TwoFactor    TwoFactorConfig    `mapstructure:"two_factor"`
}

// PasswordConfig holds password hashing configuration
type PasswordConfig struct {
	MinLength         int    `mapstructure:"min_length"`
	Argon2Memory      uint32 `mapstructure:"argon2_memory"`
	Argon2Iterations  uint32 `mapstructure:"argon2_iterations"`
	Argon2Parallelism uint8  `mapstructure:"argon2_parallelism"`
}

// TokenConfig holds session credential configuration
type TokenConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	Issuer        string        `mapstructure:"issuer"`
	SigningSecret string        `mapstructure:"signing_secret"`
}

// RateLimitingConfig holds sliding-window rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
	// Store selects the window store backend: "redis" or "memory".
	// Memory is only suitable for single-process deployments.
	Store string `mapstructure:"store"`
	// EscalationMultiplier: an IP that accumulates multiplier*limit
	// violations inside one window is blocked automatically.
	EscalationMultiplier int           `mapstructure:"escalation_multiplier"`
	AutoBlockDuration    time.Duration `mapstructure:"auto_block_duration"`
	// FailOpen controls behavior when the window store is unreachable.
	// Rate limiting fails open: a store outage must not take down the site.
	FailOpen bool `mapstructure:"fail_open"`
}

// IPReputationConfig holds blacklist/whitelist configuration
type IPReputationConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// FailOpen controls behavior when neither cache nor durable store can
	// answer a block check. The block check fails closed: losing an
	// attacker is preferable to losing protection.
	FailOpen      bool          `mapstructure:"fail_open"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TwoFactorConfig holds TOTP two-factor authentication configuration
type TwoFactorConfig struct {
	Issuer            string        `mapstructure:"issuer"`
	Digits            int           `mapstructure:"digits"`
	Period            int           `mapstructure:"period"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
	RecoveryCodeCount int           `mapstructure:"recovery_code_count"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/shopguard")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("SHOPGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "shopguard")
	v.SetDefault("database.user", "shopguard")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 20)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Password hashing
	v.SetDefault("security.password.min_length", 8)
	v.SetDefault("security.password.argon2_memory", 64*1024)
	v.SetDefault("security.password.argon2_iterations", 3)
	v.SetDefault("security.password.argon2_parallelism", 4)

	// Session credentials
	v.SetDefault("security.tokens.session_ttl", "15m")
	v.SetDefault("security.tokens.issuer", "shopguard")

	// Rate limiting
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 100)
	v.SetDefault("security.rate_limiting.default_window", "1m")
	v.SetDefault("security.rate_limiting.store", "redis")
	v.SetDefault("security.rate_limiting.escalation_multiplier", 3)
	v.SetDefault("security.rate_limiting.auto_block_duration", "1h")
	v.SetDefault("security.rate_limiting.fail_open", true)

	// IP reputation
	v.SetDefault("security.ip_reputation.cache_ttl", "5m")
	v.SetDefault("security.ip_reputation.fail_open", false)
	v.SetDefault("security.ip_reputation.sweep_interval", "10m")

	// Two-factor authentication
	v.SetDefault("security.two_factor.issuer", "ShopGuard")
	v.SetDefault("security.two_factor.digits", 6)
	v.SetDefault("security.two_factor.period", 30)
	v.SetDefault("security.two_factor.max_failed_attempts", 5)
	v.SetDefault("security.two_factor.lockout_duration", "15m")
	v.SetDefault("security.two_factor.recovery_code_count", 10)
}
