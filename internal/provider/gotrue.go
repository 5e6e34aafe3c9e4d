// Package provider implements the managed-auth provider client (Supabase
// GoTrue REST API) used to validate, refresh and revoke sessions.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

const (
	opGetUser = "get_user"
	opRefresh = "refresh"
	opSignOut = "sign_out"

	// maxResponseBody caps provider responses read into memory.
	maxResponseBody = 1 << 20
)

// Observer receives per-call outcomes for metrics.
type Observer interface {
	ProviderCall(operation, outcome string)
}

// Config configures the GoTrue client.
type Config struct {
	// BaseURL is the project URL, e.g. https://xyz.supabase.co
	BaseURL string
	// AnonKey is sent as the apikey header on every request.
	AnonKey string
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
	// RateLimit is the sustained provider calls per second; 0 disables limiting.
	RateLimit float64
	// RateBurst is the limiter burst size.
	RateBurst int
	// BreakerFailures consecutive transport failures open the circuit.
	BreakerFailures uint32
	// BreakerOpenTimeout is how long the circuit stays open.
	BreakerOpenTimeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	Observer   Observer
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Rejected reports whether the provider refused the credential, as opposed
// to failing on its side.
func (e *StatusError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// Client talks to the GoTrue REST API.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	observer   Observer
}

var _ token.Provider = (*Client)(nil)

// NewClient creates a provider client. It is meant to be constructed once per
// process and shared.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, autherrors.NewConfigError("provider base URL is required", nil)
	}
	if cfg.AnonKey == "" {
		return nil, autherrors.NewConfigError("provider anon key is required", nil)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := cfg.RateBurst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gotrue",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Credential rejections are the provider working correctly.
		IsSuccessful: func(err error) bool {
			return err == nil || token.IsRejection(err)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    breaker,
		tracer:     otel.Tracer("github.com/lukaszraczylo/sessionbridge/internal/provider"),
		observer:   cfg.Observer,
	}, nil
}

// GetUser fetches the user that owns accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*token.ProviderUser, error) {
	var user token.ProviderUser
	err := c.do(ctx, opGetUser, http.MethodGet, "/auth/v1/user", accessToken, nil, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*token.TokenResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp token.TokenResponse
	err := c.do(ctx, opRefresh, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("provider refresh returned no access token")
	}
	return &resp, nil
}

// SignOut invalidates the provider session that owns accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, opSignOut, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, in, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "gotrue."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("gotrue.operation", op),
		))
	defer span.End()

	if !c.limiter.Allow() {
		c.observe(op, "rate_limited")
		span.SetStatus(codes.Error, "rate limited")
		return autherrors.NewRateLimited()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, bearer, in, out, span)
	})

	switch {
	case err == nil:
		c.observe(op, "success")
		return nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		c.observe(op, "circuit_open")
	case token.IsRejection(err):
		c.observe(op, "rejected")
	default:
		c.observe(op, "error")
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, bearer string, in, out interface{}, span trace.Span) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read provider %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse provider %s response: %w", op, err)
	}
	return nil
}

func (c *Client) observe(op, outcome string) {
	if c.observer != nil {
		c.observer.ProviderCall(op, outcome)
	}
}

// BreakerState returns the circuit state name for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
