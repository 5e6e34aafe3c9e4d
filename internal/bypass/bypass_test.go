//go:build !production

package bypass

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

func TestService_IsEnabled(t *testing.T) {
	tests := []struct {
		env      string
		optIn    bool
		expected bool
	}{
		{"development", false, true},
		{"test", false, true},
		{"TEST", false, true},
		{"production", false, false},
		{"production", true, true},
		{"", false, false},
		{"staging", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			s := New(Config{Environment: tt.env, ExplicitOptIn: tt.optIn})
			assert.Equal(t, tt.expected, s.IsEnabled())
		})
	}
}

func TestService_ProductionBuildDisablesBypass(t *testing.T) {
	defer func(v bool) { compiledIn = v }(compiledIn)
	compiledIn = false

	s := New(Config{Environment: "development", ExplicitOptIn: true})
	assert.False(t, s.IsEnabled())

	_, _, err := s.GenerateToken(&token.Identity{ID: "x", Role: token.RoleAdmin})
	assert.True(t, autherrors.Is(err, autherrors.ErrBypassDisabled))
}

func TestService_RoundTrip(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	s := New(Config{Environment: "test", Clock: func() time.Time { return now }})

	for _, role := range token.Roles {
		t.Run(string(role), func(t *testing.T) {
			user, err := s.CreateBypassUser(role, Overrides{Email: "qa@example.com"})
			require.NoError(t, err)

			raw, expiresAt, err := s.GenerateToken(user)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(raw, token.BypassTokenPrefix))
			assert.Equal(t, now.Add(24*time.Hour), expiresAt.UTC())

			got, gotExpiry, err := s.VerifyToken(raw)
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
			assert.Equal(t, "qa@example.com", got.Email)
			assert.Equal(t, role, got.Role)
			assert.True(t, got.Bypass)
			assert.Equal(t, expiresAt, gotExpiry)
		})
	}
}

func TestService_CreateBypassUser(t *testing.T) {
	s := New(Config{Environment: "test"})

	candidate, err := s.CreateBypassUser(token.RoleCandidate, Overrides{Name: "Hana Sato"})
	require.NoError(t, err)
	assert.Equal(t, "Hana", candidate.Metadata["first_name"])
	assert.Equal(t, "Sato", candidate.Metadata["last_name"])
	assert.NotEmpty(t, candidate.Metadata["desired_position"])
	assert.Equal(t, "test-candidate@example.com", candidate.Email)
	assert.True(t, strings.HasPrefix(candidate.ID, "bypass-"))

	company, err := s.CreateBypassUser(token.RoleCompanyUser, Overrides{Metadata: map[string]interface{}{"company_name": "Acme"}})
	require.NoError(t, err)
	assert.Equal(t, "Acme", company.Metadata["company_name"])
	assert.Equal(t, "company_user", company.Metadata["user_type"])

	admin, err := s.CreateBypassUser(token.RoleAdmin, Overrides{})
	require.NoError(t, err)
	assert.NotEmpty(t, admin.Metadata["permissions"])

	_, err = s.CreateBypassUser("guest", Overrides{})
	assert.Error(t, err)
}

func encodePayload(t *testing.T, p payload) string {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return token.BypassTokenPrefix + base64.RawURLEncoding.EncodeToString(data)
}

func TestService_VerifyFailsClosed(t *testing.T) {
	now := time.Now()
	s := New(Config{Environment: "test"})
	valid := payload{Bypass: true, UserID: "u1", UserType: "candidate", Email: "a@example.com", Exp: now.Add(time.Hour).Unix()}

	notBypass := valid
	notBypass.Bypass = false
	expired := valid
	expired.Exp = now.Add(-time.Minute).Unix()
	badRole := valid
	badRole.UserType = "superuser"
	noUser := valid
	noUser.UserID = ""

	tests := []struct {
		name string
		raw  string
	}{
		{"missing prefix", strings.TrimPrefix(encodePayload(t, valid), token.BypassTokenPrefix)},
		{"not base64", token.BypassTokenPrefix + "!!!"},
		{"not json", token.BypassTokenPrefix + base64.RawURLEncoding.EncodeToString([]byte("nope"))},
		{"bypass false", encodePayload(t, notBypass)},
		{"expired", encodePayload(t, expired)},
		{"unknown role", encodePayload(t, badRole)},
		{"no user", encodePayload(t, noUser)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.VerifyToken(tt.raw)
			assert.Error(t, err)
		})
	}

	_, _, err := New(Config{Environment: "production"}).VerifyToken(encodePayload(t, valid))
	assert.True(t, autherrors.Is(err, autherrors.ErrBypassDisabled))
}

func TestService_AcceptsStandardBase64(t *testing.T) {
	s := New(Config{Environment: "development"})
	data, err := json.Marshal(payload{Bypass: true, UserID: "u1", UserType: "admin", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	identity, _, err := s.VerifyToken(token.BypassTokenPrefix + base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, token.RoleAdmin, identity.Role)
}
