package token

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetUser(ctx context.Context, accessToken string) (*ProviderUser, error) {
	args := m.Called(ctx, accessToken)
	if u := args.Get(0); u != nil {
		return u.(*ProviderUser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) RefreshSession(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	args := m.Called(ctx, refreshToken)
	if r := args.Get(0); r != nil {
		return r.(*TokenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context, accessToken string) error {
	return m.Called(ctx, accessToken).Error(0)
}

// MockRevocations is a testify mock of RevocationChecker
type MockRevocations struct {
	mock.Mock
}

func (m *MockRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

// stubBypass accepts tokens listed in identities.
type stubBypass struct {
	enabled    bool
	identities map[string]Identity
	expiresAt  time.Time
}

func (s *stubBypass) IsEnabled() bool { return s.enabled }

func (s *stubBypass) IsBypassToken(token string) bool {
	_, ok := s.identities[token]
	return ok
}

func (s *stubBypass) VerifyToken(token string) (*Identity, time.Time, error) {
	id, ok := s.identities[token]
	if !ok {
		return nil, time.Time{}, errRejected
	}
	return &id, s.expiresAt, nil
}

// countingMetrics records metric outcomes.
type countingMetrics struct {
	mu       sync.Mutex
	refresh  map[string]int
	bypasses map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{refresh: map[string]int{}, bypasses: map[string]int{}}
}

func (c *countingMetrics) Refresh(outcome string) {
	c.mu.Lock()
	c.refresh[outcome]++
	c.mu.Unlock()
}

func (c *countingMetrics) BypassToken(outcome string) {
	c.mu.Lock()
	c.bypasses[outcome]++
	c.mu.Unlock()
}

func (c *countingMetrics) refreshCount(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh[outcome]
}

// statusError mimics the provider client's rejection errors.
type statusError struct {
	status int
}

func (e *statusError) Error() string { return "provider status error" }

func (e *statusError) Rejected() bool {
	return e.status >= 400 && e.status < 500 && e.status != 429
}

var errRejected = &statusError{status: 401}
