// Package security applies response security headers and answers CORS
// preflight requests for the session endpoints.
package security

import (
	"net/http"
	"strconv"
	"strings"
)

// HeadersConfig configures security and CORS headers
type HeadersConfig struct {
	// HSTS settings
	StrictTransportSecurityMaxAge     int // seconds
	StrictTransportSecuritySubdomains bool

	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string

	// CORS settings. AllowedOrigins entries may use "https://*.example.com"
	// or "http://localhost:*" wildcards; a lone "*" allows any origin.
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
	CORSMaxAge           int // seconds

	DisablePoweredByHeader bool
}

// DefaultHeadersConfig returns the defaults for the session endpoints.
func DefaultHeadersConfig() *HeadersConfig {
	return &HeadersConfig{
		StrictTransportSecurityMaxAge:     31536000, // 1 year
		StrictTransportSecuritySubdomains: true,

		FrameOptions:       "DENY",
		ContentTypeOptions: "nosniff",
		ReferrerPolicy:     "strict-origin-when-cross-origin",

		CORSAllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:   []string{"Authorization", "Content-Type", "X-Requested-With"},
		CORSAllowCredentials: true,
		CORSMaxAge:           86400,

		DisablePoweredByHeader: true,
	}
}

// ParseOrigins splits a comma separated CORS_ORIGIN value.
func ParseOrigins(value string) []string {
	var origins []string
	for _, o := range strings.Split(value, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Headers applies security headers to HTTP responses
type Headers struct {
	config *HeadersConfig
}

// NewHeaders creates a header applier. A nil config selects the defaults.
func NewHeaders(config *HeadersConfig) *Headers {
	if config == nil {
		config = DefaultHeadersConfig()
	}
	return &Headers{config: config}
}

// Apply sets security and CORS headers on the response.
func (h *Headers) Apply(rw http.ResponseWriter, req *http.Request) {
	headers := rw.Header()

	// HSTS only over HTTPS
	if req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https" {
		if hsts := h.buildHSTSHeader(); hsts != "" {
			headers.Set("Strict-Transport-Security", hsts)
		}
	}
	if h.config.FrameOptions != "" {
		headers.Set("X-Frame-Options", h.config.FrameOptions)
	}
	if h.config.ContentTypeOptions != "" {
		headers.Set("X-Content-Type-Options", h.config.ContentTypeOptions)
	}
	if h.config.ReferrerPolicy != "" {
		headers.Set("Referrer-Policy", h.config.ReferrerPolicy)
	}
	if h.config.DisablePoweredByHeader {
		headers.Del("X-Powered-By")
	}

	h.applyCORSHeaders(rw, req)
}

// Preflight answers an OPTIONS request with 204 and the CORS headers. It
// returns false for other methods.
func (h *Headers) Preflight(rw http.ResponseWriter, req *http.Request) bool {
	if req.Method != http.MethodOptions {
		return false
	}
	h.Apply(rw, req)
	if len(h.config.CORSAllowedMethods) > 0 {
		rw.Header().Set("Access-Control-Allow-Methods", strings.Join(h.config.CORSAllowedMethods, ", "))
	}
	if len(h.config.CORSAllowedHeaders) > 0 {
		rw.Header().Set("Access-Control-Allow-Headers", strings.Join(h.config.CORSAllowedHeaders, ", "))
	}
	if h.config.CORSMaxAge > 0 {
		rw.Header().Set("Access-Control-Max-Age", strconv.Itoa(h.config.CORSMaxAge))
	}
	rw.WriteHeader(http.StatusNoContent)
	return true
}

// Wrap applies headers and short-circuits preflight requests.
func (h *Headers) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if h.Preflight(rw, req) {
			return
		}
		h.Apply(rw, req)
		next.ServeHTTP(rw, req)
	})
}

func (h *Headers) buildHSTSHeader() string {
	if h.config.StrictTransportSecurityMaxAge <= 0 {
		return ""
	}
	value := "max-age=" + strconv.Itoa(h.config.StrictTransportSecurityMaxAge)
	if h.config.StrictTransportSecuritySubdomains {
		value += "; includeSubDomains"
	}
	return value
}

func (h *Headers) applyCORSHeaders(rw http.ResponseWriter, req *http.Request) {
	allowed := h.config.CORSAllowedOrigins
	if len(allowed) == 0 {
		return
	}
	headers := rw.Header()
	origin := req.Header.Get("Origin")

	switch {
	case len(allowed) == 1 && allowed[0] == "*":
		if h.config.CORSAllowCredentials && origin != "" {
			// browsers reject "*" on credentialed requests
			headers.Set("Access-Control-Allow-Origin", origin)
			headers.Add("Vary", "Origin")
		} else {
			headers.Set("Access-Control-Allow-Origin", "*")
		}
	case origin != "" && h.isOriginAllowed(origin):
		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Add("Vary", "Origin")
	case len(allowed) == 1 && !strings.Contains(allowed[0], "*"):
		headers.Set("Access-Control-Allow-Origin", allowed[0])
	default:
		return
	}

	if h.config.CORSAllowCredentials {
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
}

func (h *Headers) isOriginAllowed(origin string) bool {
	for _, allowed := range h.config.CORSAllowedOrigins {
		if matchOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin checks if an origin matches an allowed pattern
func matchOrigin(origin, pattern string) bool {
	if origin == pattern {
		return true
	}

	// Wildcard subdomain match (e.g., "https://*.example.com")
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(pattern, scheme+"*.") {
			domain := strings.TrimPrefix(pattern, scheme+"*.")
			if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, "."+domain) {
				return true
			}
		}
	}

	// Port wildcard match (e.g., "http://localhost:*")
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, ":*")
		if rest, ok := strings.CutPrefix(origin, prefix+":"); ok && rest != "" {
			_, err := strconv.Atoi(rest)
			return err == nil
		}
	}

	return false
}
