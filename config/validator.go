package config

import (
	"fmt"
	"net/url"
	"strings"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/guard"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("config validation error: %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Validate checks the configuration and returns a CONFIG_INVALID AuthError
// wrapping every problem found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.Environment {
	case "development", "test", "production":
	default:
		errs = append(errs, ValidationError{Field: "environment", Message: "must be development, test or production", Value: c.Environment})
	}

	if c.Provider.URL == "" {
		errs = append(errs, ValidationError{Field: "provider.url", Message: "is required (SUPABASE_URL)"})
	} else if err := validateHTTPURL(c.Provider.URL); err != nil {
		errs = append(errs, ValidationError{Field: "provider.url", Message: err.Error(), Value: c.Provider.URL})
	}
	if c.Provider.AnonKey == "" {
		errs = append(errs, ValidationError{Field: "provider.anonKey", Message: "is required (SUPABASE_ANON_KEY)"})
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "provider.timeout", Message: "must be positive", Value: c.Provider.Timeout})
	}
	if c.Provider.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "provider.rateLimit", Message: "must not be negative", Value: c.Provider.RateLimit})
	}

	if c.Session.RefreshThreshold <= 0 {
		errs = append(errs, ValidationError{Field: "session.refreshThreshold", Message: "must be positive", Value: c.Session.RefreshThreshold})
	}

	if _, err := guard.NewRoutePolicy(c.Routes.PolicyConfig); err != nil {
		errs = append(errs, ValidationError{Field: "routes", Message: err.Error()})
	}

	if c.Server.Upstream != "" {
		if err := validateHTTPURL(c.Server.Upstream); err != nil {
			errs = append(errs, ValidationError{Field: "server.upstream", Message: err.Error(), Value: c.Server.Upstream})
		}
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		errs = append(errs, ValidationError{Field: "server.metricsPath", Message: "must start with /", Value: c.Server.MetricsPath})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "error", "none":
	default:
		errs = append(errs, ValidationError{Field: "log.level", Message: "must be debug, info, error or none", Value: c.Log.Level})
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "log.format", Message: "must be text or json", Value: c.Log.Format})
	}

	if len(errs) > 0 {
		return autherrors.NewConfigError("invalid configuration", errs)
	}
	return nil
}

// Warnings reports settings that are valid but risky.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.IsProduction() && c.Bypass.Enabled {
		warnings = append(warnings, "ENABLE_AUTH_BYPASS is set in production; bypass tokens are accepted unless the binary was built with the production tag")
	}
	if c.Provider.JWTSecret == "" {
		warnings = append(warnings, "SUPABASE_JWT_SECRET is not set; access tokens are checked by the provider only")
	}
	if c.IsProduction() && !c.SecureCookies() {
		warnings = append(warnings, "session cookies are not marked Secure in production")
	}
	return warnings
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
