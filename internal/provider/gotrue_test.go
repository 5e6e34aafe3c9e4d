package provider

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/testutil/servers"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

type recordingObserver struct {
	calls []string
}

func (o *recordingObserver) ProviderCall(operation, outcome string) {
	o.calls = append(o.calls, operation+":"+outcome)
}

func newTestClient(t *testing.T, s *servers.GoTrueServer, mutate func(*Config)) (*Client, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	cfg := Config{
		BaseURL:  s.URL,
		AnonKey:  s.Config.AnonKey,
		Timeout:  2 * time.Second,
		Observer: obs,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, obs
}

func TestNewClient_RequiresURLAndKey(t *testing.T) {
	_, err := NewClient(Config{AnonKey: "k"})
	assert.True(t, autherrors.Is(err, autherrors.ErrConfigInvalid))

	_, err = NewClient(Config{BaseURL: "http://localhost"})
	assert.True(t, autherrors.Is(err, autherrors.ErrConfigInvalid))
}

func TestClient_GetUser(t *testing.T) {
	s := servers.NewGoTrueServer(nil)
	defer s.Close()
	c, obs := newTestClient(t, s, nil)

	session, err := s.IssueSession(servers.User{
		Email:        "company@example.com",
		UserMetadata: map[string]interface{}{"user_type": "company_user"},
	}, time.Hour)
	require.NoError(t, err)

	user, err := c.GetUser(context.Background(), session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)
	assert.Equal(t, "company_user", user.UserMetadata["user_type"])
	assert.Equal(t, []string{"get_user:success"}, obs.calls)
}

func TestClient_GetUserRejected(t *testing.T) {
	s := servers.NewGoTrueServer(nil)
	defer s.Close()
	c, obs := newTestClient(t, s, nil)

	_, err := c.GetUser(context.Background(), "unknown-token")
	require.Error(t, err)
	assert.True(t, token.IsRejection(err))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, []string{"get_user:rejected"}, obs.calls)
}

func TestClient_RefreshSession(t *testing.T) {
	s := servers.NewGoTrueServer(&servers.GoTrueServerConfig{AccessTTL: 2 * time.Hour})
	defer s.Close()
	c, _ := newTestClient(t, s, nil)

	session, err := s.IssueSession(servers.User{Email: "a@example.com"}, time.Minute)
	require.NoError(t, err)

	resp, err := c.RefreshSession(context.Background(), session.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEqual(t, session.RefreshToken, resp.RefreshToken)
	assert.InDelta(t, time.Now().Add(2*time.Hour).Unix(), resp.ExpiresAt, 5)

	_, err = c.RefreshSession(context.Background(), session.RefreshToken)
	assert.True(t, token.IsRejection(err))
}

func TestClient_SignOut(t *testing.T) {
	s := servers.NewGoTrueServer(nil)
	defer s.Close()
	c, _ := newTestClient(t, s, nil)

	session, err := s.IssueSession(servers.User{Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.SignOut(context.Background(), session.AccessToken))
	assert.Equal(t, 1, s.RequestsTo("/auth/v1/logout"))
}

func TestClient_ServerErrorIsNotRejection(t *testing.T) {
	s := servers.NewGoTrueServer(&servers.GoTrueServerConfig{FailWithStatus: http.StatusBadGateway})
	defer s.Close()
	c, obs := newTestClient(t, s, nil)

	_, err := c.GetUser(context.Background(), "whatever")
	require.Error(t, err)
	assert.False(t, token.IsRejection(err))
	assert.Equal(t, []string{"get_user:error"}, obs.calls)
}

func TestClient_BreakerOpensOnTransportFailures(t *testing.T) {
	s := servers.NewGoTrueServer(&servers.GoTrueServerConfig{FailWithStatus: http.StatusInternalServerError})
	defer s.Close()
	c, obs := newTestClient(t, s, func(cfg *Config) {
		cfg.BreakerFailures = 2
		cfg.BreakerOpenTimeout = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, err := c.GetUser(context.Background(), "t")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen.String(), c.BreakerState())

	_, err := c.GetUser(context.Background(), "t")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, s.GetRequestCount())
	assert.Equal(t, "get_user:circuit_open", obs.calls[len(obs.calls)-1])
}

func TestClient_RejectionsDoNotOpenBreaker(t *testing.T) {
	s := servers.NewGoTrueServer(nil)
	defer s.Close()
	c, _ := newTestClient(t, s, func(cfg *Config) { cfg.BreakerFailures = 1 })

	for i := 0; i < 3; i++ {
		_, err := c.GetUser(context.Background(), "bad")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed.String(), c.BreakerState())
}

func TestClient_RateLimited(t *testing.T) {
	s := servers.NewGoTrueServer(nil)
	defer s.Close()
	c, _ := newTestClient(t, s, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})

	_, _ = c.GetUser(context.Background(), "a")
	_, err := c.GetUser(context.Background(), "b")
	assert.True(t, autherrors.Is(err, autherrors.ErrRateLimited))
	assert.Equal(t, 1, s.GetRequestCount())
}

func TestClient_ContextCancellation(t *testing.T) {
	s := servers.NewGoTrueServer(&servers.GoTrueServerConfig{Delay: time.Second})
	defer s.Close()
	c, _ := newTestClient(t, s, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetUser(ctx, "t")
	require.Error(t, err)
	assert.False(t, token.IsRejection(err))
}
