// Package config loads and validates the session bridge configuration from
// defaults, an optional YAML file and environment variables.
package config

import (
	"time"

	"github.com/lukaszraczylo/sessionbridge/internal/guard"
)

// Config is the complete bridge configuration
type Config struct {
	// Environment mirrors NODE_ENV: development, test or production.
	Environment string `yaml:"environment"`

	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Cookies  CookieConfig   `yaml:"cookies"`
	Routes   RoutesConfig   `yaml:"routes"`
	Bypass   BypassConfig   `yaml:"bypass"`
	CORS     CORSConfig     `yaml:"cors"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// ProviderConfig configures the managed auth provider
type ProviderConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anonKey"`
	// JWTSecret enables local signature verification of access tokens.
	JWTSecret string        `yaml:"jwtSecret"`
	Timeout   time.Duration `yaml:"timeout"`
	// RateLimit is provider calls per second; 0 disables limiting.
	RateLimit          float64       `yaml:"rateLimit"`
	RateBurst          int           `yaml:"rateBurst"`
	BreakerFailures    uint32        `yaml:"breakerFailures"`
	BreakerOpenTimeout time.Duration `yaml:"breakerOpenTimeout"`
}

// SessionConfig configures session lifetime handling
type SessionConfig struct {
	// RefreshThreshold is the remaining lifetime below which sessions are
	// refreshed. It is the only refresh threshold in the system.
	RefreshThreshold time.Duration `yaml:"refreshThreshold"`
}

// CookieConfig configures the session cookies
type CookieConfig struct {
	Domain string `yaml:"domain"`
	// Secure overrides the production-derived default when set.
	Secure *bool `yaml:"secure"`
	// AccessTokenReadable leaves the access cookie readable by client scripts.
	AccessTokenReadable bool `yaml:"accessTokenReadable"`
}

// RoutesConfig is the route table plus the list of application routes it
// must classify.
type RoutesConfig struct {
	guard.PolicyConfig `yaml:",inline"`
	// Known lists the application's routes for exhaustiveness checks.
	Known []string `yaml:"known"`
}

// BypassConfig configures the test bypass login
type BypassConfig struct {
	// Enabled mirrors ENABLE_AUTH_BYPASS=true.
	Enabled  bool          `yaml:"enabled"`
	Lifetime time.Duration `yaml:"lifetime"`
}

// CORSConfig configures cross-origin access to the session endpoints
type CORSConfig struct {
	Origins          []string `yaml:"origins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// RedisConfig configures the shared revocation store. Empty URL selects the
// in-memory store.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// DatabaseConfig configures the profile directory. Empty URL selects
// metadata-derived display names.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// ServerConfig configures the gateway
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Upstream        string        `yaml:"upstream"`
	MetricsPath     string        `yaml:"metricsPath"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IsProduction reports whether the bridge runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SecureCookies reports whether cookies carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	if c.Cookies.Secure != nil {
		return *c.Cookies.Secure
	}
	return c.IsProduction()
}
