package config

import (
	"time"

	"github.com/lukaszraczylo/sessionbridge/internal/guard"
)

// DefaultRefreshThreshold is three days.
const DefaultRefreshThreshold = 72 * time.Hour

// DefaultEnvironment applies when NODE_ENV is unset. Development behaviour
// (bypass tokens, insecure cookies) must be asked for explicitly.
const DefaultEnvironment = "production"

// New returns a configuration with defaults applied
func New() *Config {
	return &Config{
		Environment: DefaultEnvironment,
		Provider: ProviderConfig{
			Timeout:            10 * time.Second,
			RateLimit:          0,
			RateBurst:          0,
			BreakerFailures:    5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			RefreshThreshold: DefaultRefreshThreshold,
		},
		Cookies: CookieConfig{
			AccessTokenReadable: true,
		},
		Routes: RoutesConfig{
			PolicyConfig: guard.DefaultPolicyConfig(),
		},
		Bypass: BypassConfig{
			Lifetime: 24 * time.Hour,
		},
		CORS: CORSConfig{
			AllowCredentials: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "sessionbridge:revoked:",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsPath:     "/metrics",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
