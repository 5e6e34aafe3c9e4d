// Package token validates provider access tokens, decides when sessions need
// refreshing and exchanges refresh tokens for new sessions.
package token

import (
	"context"
	"fmt"
	"time"
)

// Role is the marketplace user type carried in provider metadata.
type Role string

const (
	RoleCandidate   Role = "candidate"
	RoleCompanyUser Role = "company_user"
	RoleAdmin       Role = "admin"
)

// Roles lists every recognised role.
var Roles = []Role{RoleCandidate, RoleCompanyUser, RoleAdmin}

// ParseRole returns the Role for s or an error when s is not a known role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCandidate, RoleCompanyUser, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string {
	return string(r)
}

// Identity is the authenticated user as projected from the provider session.
type Identity struct {
	ID             string                 `json:"id"`
	Email          string                 `json:"email"`
	Role           Role                   `json:"userType"`
	EmailConfirmed bool                   `json:"emailConfirmed"`
	LastSignIn     *time.Time             `json:"lastSignIn,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	// Bypass marks identities fabricated by the test bypass service.
	Bypass bool `json:"-"`
}

// Session is the read-only projection of a provider session for one request.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         Identity
}

// Result mirrors the {success, user, session, error} shape handed to callers.
type Result struct {
	Success bool
	User    *Identity
	Session *Session
	Error   string
}

// ProviderUser is the subset of the provider's user record the bridge reads.
type ProviderUser struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	Role             string                 `json:"role"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time             `json:"confirmed_at"`
	LastSignInAt     *time.Time             `json:"last_sign_in_at"`
	AppMetadata      map[string]interface{} `json:"app_metadata"`
	UserMetadata     map[string]interface{} `json:"user_metadata"`
}

// TokenResponse represents the provider's answer to a refresh grant.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         ProviderUser `json:"user"`
}

// Provider is the managed-auth provider surface the bridge depends on.
type Provider interface {
	GetUser(ctx context.Context, accessToken string) (*ProviderUser, error)
	RefreshSession(ctx context.Context, refreshToken string) (*TokenResponse, error)
	SignOut(ctx context.Context, accessToken string) error
}

// RevocationChecker reports access tokens that were signed out locally.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// BypassVerifier resolves test bypass tokens to identities.
type BypassVerifier interface {
	IsEnabled() bool
	IsBypassToken(token string) bool
	VerifyToken(token string) (*Identity, time.Time, error)
}

// Logger is the logging surface used by this package.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// MetricsRecorder is the metrics surface used by this package.
type MetricsRecorder interface {
	Refresh(outcome string)
	BypassToken(outcome string)
}

// IdentityFromProvider maps a provider user record to an Identity. The role is
// read from app_metadata.user_type, then app_metadata.role, then
// user_metadata.user_type. app_metadata is writable only with the service
// role; user_metadata is writable by the user, so it never yields admin.
func IdentityFromProvider(u *ProviderUser) (Identity, error) {
	if u == nil || u.ID == "" {
		return Identity{}, fmt.Errorf("provider returned no user")
	}

	role, err := roleFromMetadata(u)
	if err != nil {
		return Identity{}, err
	}

	confirmedAt := u.EmailConfirmedAt
	if confirmedAt == nil {
		confirmedAt = u.ConfirmedAt
	}

	metadata := make(map[string]interface{}, len(u.UserMetadata))
	for k, v := range u.UserMetadata {
		metadata[k] = v
	}

	return Identity{
		ID:             u.ID,
		Email:          u.Email,
		Role:           role,
		EmailConfirmed: confirmedAt != nil,
		LastSignIn:     u.LastSignInAt,
		Metadata:       metadata,
	}, nil
}

func roleFromMetadata(u *ProviderUser) (Role, error) {
	for _, c := range []interface{}{u.AppMetadata["user_type"], u.AppMetadata["role"]} {
		if role, ok := roleFromValue(c); ok {
			return role, nil
		}
	}
	if role, ok := roleFromValue(u.UserMetadata["user_type"]); ok && role != RoleAdmin {
		return role, nil
	}
	return "", fmt.Errorf("user %s has no recognised role", u.ID)
}

func roleFromValue(v interface{}) (Role, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	role, err := ParseRole(s)
	return role, err == nil
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time
