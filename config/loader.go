package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every bridge-specific environment variable.
const EnvPrefix = "SESSIONBRIDGE_"

// Loader handles loading configuration from defaults, a file and the
// environment, in that order of precedence.
type Loader struct {
	envPrefix   string
	configPaths []string
	lookupEnv   func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix:   EnvPrefix,
		configPaths: defaultConfigPaths(),
		lookupEnv:   os.LookupEnv,
	}
}

func defaultConfigPaths() []string {
	return []string{
		"sessionbridge.yaml",
		"sessionbridge.yml",
		"/etc/sessionbridge/config.yaml",
	}
}

// Load builds and validates the configuration. path, when non-empty, names a
// config file that must exist.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := New()

	if err := l.LoadFromFile(cfg, path); err != nil {
		return nil, err
	}
	if err := l.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFromFile decodes a YAML (or JSON) file over cfg. Without an explicit
// path it checks SESSIONBRIDGE_CONFIG_FILE and then the default locations; no
// file found is not an error.
func (l *Loader) LoadFromFile(cfg *Config, path string) error {
	if path == "" {
		path = l.env("CONFIG_FILE")
	}
	if path != "" {
		return l.loadFile(cfg, path)
	}

	for _, candidate := range l.configPaths {
		if _, err := os.Stat(candidate); err == nil {
			return l.loadFile(cfg, candidate)
		}
	}
	return nil
}

func (l *Loader) loadFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid config path: potential path traversal detected in %s", path)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}
	if err := Decode(cfg, data); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	return nil
}

// Decode decodes YAML data over cfg, rejecting unknown keys. JSON documents
// are valid YAML and decode the same way.
func Decode(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadFromEnv applies environment overrides. Each setting is read from the
// prefixed name first and then from the conventional unprefixed names.
func (l *Loader) LoadFromEnv(cfg *Config) error {
	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	l.loadEnvString(&cfg.Environment, "ENVIRONMENT", "NODE_ENV")

	l.loadEnvString(&cfg.Provider.URL, "SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL")
	l.loadEnvString(&cfg.Provider.AnonKey, "SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY")
	l.loadEnvString(&cfg.Provider.JWTSecret, "SUPABASE_JWT_SECRET")
	collect(l.loadEnvDuration(&cfg.Provider.Timeout, "PROVIDER_TIMEOUT"))
	collect(l.loadEnvFloat(&cfg.Provider.RateLimit, "PROVIDER_RATE_LIMIT"))
	collect(l.loadEnvInt(&cfg.Provider.RateBurst, "PROVIDER_RATE_BURST"))

	collect(l.loadEnvDuration(&cfg.Session.RefreshThreshold, "REFRESH_THRESHOLD"))

	l.loadEnvString(&cfg.Cookies.Domain, "COOKIE_DOMAIN")
	if v, ok := l.lookup("COOKIE_SECURE"); ok {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			collect(fmt.Errorf("COOKIE_SECURE: %w", err))
		} else {
			cfg.Cookies.Secure = &secure
		}
	}

	collect(l.loadEnvBool(&cfg.Bypass.Enabled, "ENABLE_AUTH_BYPASS"))
	collect(l.loadEnvDuration(&cfg.Bypass.Lifetime, "BYPASS_LIFETIME"))

	l.loadEnvStringSlice(&cfg.CORS.Origins, "CORS_ORIGIN")

	l.loadEnvString(&cfg.Redis.URL, "REDIS_URL")
	l.loadEnvString(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	l.loadEnvString(&cfg.Database.URL, "DATABASE_URL")

	l.loadEnvString(&cfg.Server.Addr, "ADDR", "LISTEN_ADDR")
	l.loadEnvString(&cfg.Server.Upstream, "UPSTREAM_URL")

	l.loadEnvString(&cfg.Log.Level, "LOG_LEVEL")
	l.loadEnvString(&cfg.Log.Format, "LOG_FORMAT")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (l *Loader) env(key string) string {
	v, _ := l.lookupEnv(l.envPrefix + key)
	return v
}

// lookup returns the first non-empty value among the prefixed and plain keys.
func (l *Loader) lookup(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := l.lookupEnv(l.envPrefix + key); ok && v != "" {
			return v, true
		}
	}
	for _, key := range keys {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (l *Loader) loadEnvString(target *string, keys ...string) {
	if v, ok := l.lookup(keys...); ok {
		*target = v
	}
}

func (l *Loader) loadEnvBool(target *bool, keys ...string) error {
	v, ok := l.lookup(keys...)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*target = b
	return nil
}

func (l *Loader) loadEnvInt(target *int, keys ...string) error {
	v, ok := l.lookup(keys...)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*target = i
	return nil
}

func (l *Loader) loadEnvFloat(target *float64, keys ...string) error {
	v, ok := l.lookup(keys...)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*target = f
	return nil
}

func (l *Loader) loadEnvDuration(target *time.Duration, keys ...string) error {
	v, ok := l.lookup(keys...)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*target = d
	return nil
}

func (l *Loader) loadEnvStringSlice(target *[]string, keys ...string) {
	if v, ok := l.lookup(keys...); ok {
		*target = splitAndTrim(v, ",")
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
