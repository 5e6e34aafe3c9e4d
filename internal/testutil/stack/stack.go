// Package stack assembles a complete session stack against the fake GoTrue
// server for HTTP-level tests.
package stack

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/sessionbridge/internal/bypass"
	"github.com/lukaszraczylo/sessionbridge/internal/cookie"
	"github.com/lukaszraczylo/sessionbridge/internal/guard"
	"github.com/lukaszraczylo/sessionbridge/internal/profile"
	"github.com/lukaszraczylo/sessionbridge/internal/provider"
	"github.com/lukaszraczylo/sessionbridge/internal/revocation"
	"github.com/lukaszraczylo/sessionbridge/internal/testutil/servers"
	"github.com/lukaszraczylo/sessionbridge/session"
)

// Options tweaks the assembled stack.
type Options struct {
	Server *servers.GoTrueServerConfig
	// Environment feeds the bypass service (default "test").
	Environment      string
	RefreshThreshold time.Duration
}

// Stack is a wired session stack.
type Stack struct {
	Server      *servers.GoTrueServer
	Service     *session.Service
	Codec       *cookie.Codec
	Guard       *guard.Guard
	Revocations *revocation.MemoryStore
	Profiles    *profile.MemoryDirectory
	Bypass      *bypass.Service
}

// New builds a stack and registers cleanup on t.
func New(t *testing.T, opts Options) *Stack {
	t.Helper()

	if opts.Environment == "" {
		opts.Environment = "test"
	}
	if opts.RefreshThreshold == 0 {
		opts.RefreshThreshold = 72 * time.Hour
	}

	server := servers.NewGoTrueServer(opts.Server)
	t.Cleanup(server.Close)

	client, err := provider.NewClient(provider.Config{
		BaseURL:         server.URL,
		AnonKey:         server.Config.AnonKey,
		Timeout:         2 * time.Second,
		BreakerFailures: 100,
	})
	require.NoError(t, err)

	policy, err := guard.NewRoutePolicy(guard.DefaultPolicyConfig())
	require.NoError(t, err)

	s := &Stack{
		Server:      server,
		Codec:       cookie.NewCodec(cookie.Config{AccessTokenReadable: true}),
		Guard:       guard.New(policy, nil),
		Revocations: revocation.NewMemoryStore(0),
		Profiles:    profile.NewMemoryDirectory(),
		Bypass:      bypass.New(bypass.Config{Environment: opts.Environment}),
	}

	s.Service, err = session.New(session.Config{
		Provider:         client,
		Revocations:      s.Revocations,
		Bypass:           s.Bypass,
		Profiles:         s.Profiles,
		RefreshThreshold: opts.RefreshThreshold,
	})
	require.NoError(t, err)
	return s
}

// Issue mints a provider session for a user of role expiring after ttl.
func (s *Stack) Issue(t *testing.T, email, role string, ttl time.Duration) servers.Session {
	t.Helper()
	issued, err := s.Server.IssueSession(servers.User{
		Email:       email,
		AppMetadata: map[string]interface{}{"user_type": role},
	}, ttl)
	require.NoError(t, err)
	return issued
}

// SessionCookies returns the auth cookies of issued as request cookies.
func SessionCookies(issued servers.Session) []*http.Cookie {
	return []*http.Cookie{
		{Name: cookie.AccessTokenCookie, Value: issued.AccessToken},
		{Name: cookie.RefreshTokenCookie, Value: issued.RefreshToken},
	}
}

// FindCookie returns the Set-Cookie entry named name, or nil.
func FindCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
