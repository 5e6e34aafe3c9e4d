package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/sessionbridge/internal/bypass"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/profile"
	"github.com/lukaszraczylo/sessionbridge/internal/provider"
	"github.com/lukaszraczylo/sessionbridge/internal/revocation"
	"github.com/lukaszraczylo/sessionbridge/internal/testutil/servers"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

type countingMetrics struct {
	refreshes map[string]int
	bypasses  map[string]int
	signOuts  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{refreshes: map[string]int{}, bypasses: map[string]int{}, signOuts: map[string]int{}}
}

func (m *countingMetrics) Refresh(outcome string)     { m.refreshes[outcome]++ }
func (m *countingMetrics) BypassToken(outcome string) { m.bypasses[outcome]++ }
func (m *countingMetrics) SignOut(outcome string)     { m.signOuts[outcome]++ }

type fixture struct {
	server      *servers.GoTrueServer
	service     *Service
	revocations *revocation.MemoryStore
	profiles    *profile.MemoryDirectory
	metrics     *countingMetrics
}

func newFixture(t *testing.T, cfg *servers.GoTrueServerConfig) *fixture {
	t.Helper()

	server := servers.NewGoTrueServer(cfg)
	t.Cleanup(server.Close)

	client, err := provider.NewClient(provider.Config{
		BaseURL:         server.URL,
		AnonKey:         servers.DefaultAnonKey,
		Timeout:         2 * time.Second,
		BreakerFailures: 100,
	})
	require.NoError(t, err)

	f := &fixture{
		server:      server,
		revocations: revocation.NewMemoryStore(0),
		profiles:    profile.NewMemoryDirectory(),
		metrics:     newCountingMetrics(),
	}
	f.service, err = New(Config{
		Provider:         client,
		Revocations:      f.revocations,
		Bypass:           bypass.New(bypass.Config{Environment: "test"}),
		Profiles:         f.profiles,
		RefreshThreshold: 72 * time.Hour,
		Metrics:          f.metrics,
	})
	require.NoError(t, err)
	return f
}

func candidate() servers.User {
	return servers.User{
		Email:        "cand@example.com",
		UserMetadata: map[string]interface{}{"user_type": "candidate", "first_name": "Ada", "last_name": "Lovelace"},
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Revocations: revocation.NewMemoryStore(0)})
	assert.True(t, autherrors.Is(err, autherrors.ErrConfigInvalid))

	client, err := provider.NewClient(provider.Config{BaseURL: "http://localhost", AnonKey: "k"})
	require.NoError(t, err)
	_, err = New(Config{Provider: client})
	assert.True(t, autherrors.Is(err, autherrors.ErrConfigInvalid))
}

func TestService_ValidateAndNeedsRefresh(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.server.IssueSession(candidate(), 48*time.Hour)
	require.NoError(t, err)

	result, err := f.service.Validate(context.Background(), issued.AccessToken)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, token.RoleCandidate, result.User.Role)
	assert.WithinDuration(t, issued.ExpiresAt, result.Session.ExpiresAt, time.Second)

	// two days left, three day threshold
	assert.True(t, f.service.NeedsRefresh(result.Session.ExpiresAt))
	assert.False(t, f.service.NeedsRefresh(time.Now().Add(96*time.Hour)))
	assert.Equal(t, 72*time.Hour, f.service.RefreshThreshold())
}

func TestService_Refresh(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.server.IssueSession(candidate(), time.Hour)
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(context.Background(), issued.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, issued.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, issued.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, 1, f.metrics.refreshes["success"])

	// the old refresh token was rotated away
	_, err = f.service.Refresh(context.Background(), issued.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, autherrors.MsgRefreshFailed, autherrors.PublicMessage(err))
}

func TestService_SignOutIsNotRepeatable(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.server.IssueSession(candidate(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, f.service.SignOut(ctx, issued.AccessToken))
	assert.Equal(t, 1, f.revocations.Count())

	// the provider still honours the JWT; the local revocation does not
	_, err = f.service.Validate(ctx, issued.AccessToken)
	assert.True(t, autherrors.Is(err, autherrors.ErrInvalidToken))

	err = f.service.SignOut(ctx, issued.AccessToken)
	assert.Equal(t, 401, autherrors.HTTPStatus(err))
	assert.Equal(t, 1, f.server.RequestsTo("/auth/v1/logout"))

	// the refresh token died with the provider session
	_, err = f.service.Refresh(ctx, issued.RefreshToken)
	assert.True(t, autherrors.Is(err, autherrors.ErrRefreshFailed))

	assert.Equal(t, 1, f.metrics.signOuts["success"])
	assert.Equal(t, 1, f.metrics.signOuts["rejected"])
}

func TestService_SignOutFailures(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.service.SignOut(context.Background(), "")
		assert.True(t, autherrors.Is(err, autherrors.ErrMissingToken))
	})

	t.Run("malformed token never reaches the provider", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.service.SignOut(context.Background(), "not.a.jwt")
		assert.True(t, autherrors.Is(err, autherrors.ErrInvalidToken))
		assert.Equal(t, 0, f.server.GetRequestCount())
	})

	t.Run("provider failure is a 500 and nothing is revoked", func(t *testing.T) {
		f := newFixture(t, &servers.GoTrueServerConfig{SignOutStatus: 503})
		issued, err := f.server.IssueSession(candidate(), time.Hour)
		require.NoError(t, err)

		err = f.service.SignOut(context.Background(), issued.AccessToken)
		assert.True(t, autherrors.Is(err, autherrors.ErrProviderUnavailable))
		assert.Equal(t, 500, autherrors.HTTPStatus(err))
		assert.Equal(t, 0, f.revocations.Count())
		assert.Equal(t, 1, f.metrics.signOuts["failure"])
	})

	t.Run("provider rejection is a 401", func(t *testing.T) {
		f := newFixture(t, nil)
		other := servers.NewGoTrueServer(nil)
		defer other.Close()
		// signed with the shared fixture secret but unknown to f.server
		issued, err := other.IssueSession(candidate(), time.Hour)
		require.NoError(t, err)

		err = f.service.SignOut(context.Background(), issued.AccessToken)
		assert.Equal(t, 401, autherrors.HTTPStatus(err))
		assert.True(t, autherrors.Is(err, autherrors.ErrInvalidToken))
		assert.Equal(t, 1, f.metrics.signOuts["rejected"])
		assert.Equal(t, 0, f.revocations.Count())
	})
}

func TestService_BypassSignOut(t *testing.T) {
	f := newFixture(t, nil)
	svc := f.service.Bypass()
	require.NotNil(t, svc)
	if !svc.IsEnabled() {
		t.Skip("bypass compiled out")
	}

	identity, err := svc.CreateBypassUser(token.RoleAdmin, bypass.Overrides{})
	require.NoError(t, err)
	raw, _, err := svc.GenerateToken(identity)
	require.NoError(t, err)

	ctx := context.Background()
	result, err := f.service.Validate(ctx, raw)
	require.NoError(t, err)
	assert.True(t, result.User.Bypass)

	require.NoError(t, f.service.SignOut(ctx, raw))
	_, err = f.service.Validate(ctx, raw)
	assert.True(t, autherrors.Is(err, autherrors.ErrInvalidToken))
	assert.Equal(t, 0, f.server.GetRequestCount())
}

func TestService_DisplayName(t *testing.T) {
	f := newFixture(t, nil)
	identity := token.Identity{
		ID:       "u1",
		Email:    "cand@example.com",
		Role:     token.RoleCandidate,
		Metadata: map[string]interface{}{"first_name": "Ada", "last_name": "Lovelace"},
	}

	assert.Equal(t, "Ada Lovelace", f.service.DisplayName(context.Background(), identity))

	f.profiles.Set("cand@example.com", "Ada King")
	assert.Equal(t, "Ada King", f.service.DisplayName(context.Background(), identity))
}
