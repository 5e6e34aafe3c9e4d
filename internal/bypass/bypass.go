// Package bypass issues and verifies test-only login tokens that stand in
// for provider sessions in development and automated tests.
package bypass

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// DefaultLifetime is the validity of a bypass token.
const DefaultLifetime = 24 * time.Hour

// Config controls when bypass tokens are accepted.
type Config struct {
	// Environment is the NODE_ENV value.
	Environment string
	// ExplicitOptIn mirrors ENABLE_AUTH_BYPASS=true.
	ExplicitOptIn bool
	Lifetime      time.Duration
	Clock         token.Clock
}

// Overrides replace the fabricated defaults of a bypass user.
type Overrides struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]interface{}
}

type payload struct {
	Bypass   bool   `json:"bypass"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	Email    string `json:"email"`
	Exp      int64  `json:"exp"`
}

// Service creates and verifies bypass tokens.
type Service struct {
	cfg Config
	now token.Clock
}

var _ token.BypassVerifier = (*Service)(nil)

// New creates a bypass service.
func New(cfg Config) *Service {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{cfg: cfg, now: now}
}

// IsEnabled reports whether bypass tokens are accepted: the binary must be
// built without the production tag and either the environment is
// development or test, or the explicit opt-in is set.
func (s *Service) IsEnabled() bool {
	if !compiledIn {
		return false
	}
	switch strings.ToLower(s.cfg.Environment) {
	case "development", "test":
		return true
	}
	return s.cfg.ExplicitOptIn
}

// IsBypassToken reports whether raw carries the bypass prefix.
func (s *Service) IsBypassToken(raw string) bool {
	return strings.HasPrefix(raw, token.BypassTokenPrefix)
}

// CreateBypassUser fabricates an identity for role with role-appropriate
// profile metadata.
func (s *Service) CreateBypassUser(role token.Role, overrides Overrides) (*token.Identity, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	id := overrides.ID
	if id == "" {
		id = "bypass-" + uuid.NewString()
	}
	email := overrides.Email
	if email == "" {
		email = fmt.Sprintf("test-%s@example.com", strings.ReplaceAll(string(role), "_", "-"))
	}

	metadata := defaultMetadata(role)
	if overrides.Name != "" {
		applyName(metadata, role, overrides.Name)
	}
	for k, v := range overrides.Metadata {
		metadata[k] = v
	}
	metadata["user_type"] = string(role)

	now := s.now()
	return &token.Identity{
		ID:             id,
		Email:          email,
		Role:           role,
		EmailConfirmed: true,
		LastSignIn:     &now,
		Metadata:       metadata,
		Bypass:         true,
	}, nil
}

// GenerateToken encodes identity into a bypass token expiring after the
// configured lifetime.
func (s *Service) GenerateToken(identity *token.Identity) (string, time.Time, error) {
	if !s.IsEnabled() {
		return "", time.Time{}, autherrors.NewBypassDisabled()
	}
	if identity == nil || identity.ID == "" || !identity.Role.Valid() {
		return "", time.Time{}, errors.New("bypass identity requires an id and a known role")
	}

	expiresAt := time.Unix(s.now().Add(s.cfg.Lifetime).Unix(), 0)
	data, err := json.Marshal(payload{
		Bypass:   true,
		UserID:   identity.ID,
		UserType: string(identity.Role),
		Email:    identity.Email,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to encode bypass token: %w", err)
	}
	return token.BypassTokenPrefix + base64.RawURLEncoding.EncodeToString(data), expiresAt, nil
}

// VerifyToken decodes raw and returns the identity it names together with its
// expiry. It fails closed when bypass is disabled.
func (s *Service) VerifyToken(raw string) (*token.Identity, time.Time, error) {
	if !s.IsEnabled() {
		return nil, time.Time{}, autherrors.NewBypassDisabled()
	}
	if !s.IsBypassToken(raw) {
		return nil, time.Time{}, errors.New("missing bypass prefix")
	}

	data, err := decode(strings.TrimPrefix(raw, token.BypassTokenPrefix))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("malformed bypass token: %w", err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, time.Time{}, fmt.Errorf("malformed bypass payload: %w", err)
	}
	if !p.Bypass {
		return nil, time.Time{}, errors.New("not a bypass payload")
	}
	if p.UserID == "" {
		return nil, time.Time{}, errors.New("bypass payload has no user id")
	}

	expiresAt := time.Unix(p.Exp, 0)
	if !expiresAt.After(s.now()) {
		return nil, time.Time{}, errors.New("bypass token expired")
	}

	identity, err := s.CreateBypassUser(token.Role(p.UserType), Overrides{ID: p.UserID, Email: p.Email})
	if err != nil {
		return nil, time.Time{}, err
	}
	return identity, expiresAt, nil
}

func decode(s string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func defaultMetadata(role token.Role) map[string]interface{} {
	switch role {
	case token.RoleCandidate:
		return map[string]interface{}{
			"first_name":       "Test",
			"last_name":        "Candidate",
			"desired_position": "Software Engineer",
		}
	case token.RoleCompanyUser:
		return map[string]interface{}{
			"company_name": "Test Company",
			"full_name":    "Test Recruiter",
			"position":     "Recruiter",
		}
	default:
		return map[string]interface{}{
			"full_name":   "Test Admin",
			"permissions": []interface{}{"users:manage", "jobs:moderate", "companies:verify"},
		}
	}
}

func applyName(metadata map[string]interface{}, role token.Role, name string) {
	if role != token.RoleCandidate {
		metadata["full_name"] = name
		return
	}
	first, last, _ := strings.Cut(name, " ")
	metadata["first_name"] = first
	metadata["last_name"] = last
}
