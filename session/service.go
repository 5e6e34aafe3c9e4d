// Package session exposes the single session service injected into the edge
// middleware, the session endpoints and server-side callers. It composes
// token validation, refresh, sign-out, the refresh policy, the bypass service
// and the profile directory.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lukaszraczylo/sessionbridge/internal/bypass"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/logger"
	"github.com/lukaszraczylo/sessionbridge/internal/profile"
	"github.com/lukaszraczylo/sessionbridge/internal/revocation"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// fallbackRevocationTTL bounds the revocation of tokens whose expiry cannot
// be read.
const fallbackRevocationTTL = time.Hour

// Metrics is the metrics surface used by the service.
type Metrics interface {
	token.MetricsRecorder
	SignOut(outcome string)
}

// Config wires the service dependencies.
type Config struct {
	Provider    token.Provider
	Revocations revocation.Store
	Bypass      *bypass.Service
	Profiles    profile.Directory
	// JWTSecret enables local HS256 verification before provider calls.
	JWTSecret        string
	RefreshThreshold time.Duration
	Clock            token.Clock
	Logger           logger.Logger
	Metrics          Metrics
}

// Service is the session facade. It is safe for concurrent use and is meant
// to be constructed once per process.
type Service struct {
	validator   *token.Validator
	refresher   *token.Refresher
	policy      *token.RefreshPolicy
	provider    token.Provider
	revocations revocation.Store
	bypass      *bypass.Service
	profiles    profile.Directory
	now         token.Clock
	logger      logger.Logger
	metrics     Metrics
}

// New creates the session service.
func New(cfg Config) (*Service, error) {
	if cfg.Provider == nil {
		return nil, autherrors.NewConfigError("session service requires a provider", nil)
	}
	if cfg.Revocations == nil {
		return nil, autherrors.NewConfigError("session service requires a revocation store", nil)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NoOp()
	}

	var bypassVerifier token.BypassVerifier
	if cfg.Bypass != nil {
		bypassVerifier = cfg.Bypass
	}

	var tokenMetrics token.MetricsRecorder
	if cfg.Metrics != nil {
		tokenMetrics = cfg.Metrics
	}

	return &Service{
		validator: token.NewValidator(token.ValidatorConfig{
			Provider:    cfg.Provider,
			Revocations: cfg.Revocations,
			Bypass:      bypassVerifier,
			JWTSecret:   cfg.JWTSecret,
			Clock:       now,
			Logger:      logger.Component(log, "validator"),
			Metrics:     tokenMetrics,
		}),
		refresher: token.NewRefresher(token.RefresherConfig{
			Provider: cfg.Provider,
			Clock:    now,
			Logger:   logger.Component(log, "refresher"),
			Metrics:  tokenMetrics,
		}),
		policy:      token.NewRefreshPolicy(cfg.RefreshThreshold, now),
		provider:    cfg.Provider,
		revocations: cfg.Revocations,
		bypass:      cfg.Bypass,
		profiles:    cfg.Profiles,
		now:         now,
		logger:      logger.Component(log, "session"),
		metrics:     cfg.Metrics,
	}, nil
}

// Validate resolves accessToken to a session. See token.Validator.
func (s *Service) Validate(ctx context.Context, accessToken string) (*token.Result, error) {
	return s.validator.Validate(ctx, accessToken)
}

// Refresh exchanges refreshToken for a new session. Concurrent calls with the
// same refresh token share one provider call.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Session, error) {
	return s.refresher.Refresh(ctx, refreshToken)
}

// NeedsRefresh reports whether a session expiring at expiresAt is inside the
// refresh threshold.
func (s *Service) NeedsRefresh(expiresAt time.Time) bool {
	return s.policy.NeedsRefresh(expiresAt)
}

// RefreshThreshold returns the configured threshold.
func (s *Service) RefreshThreshold() time.Duration {
	return s.policy.Threshold()
}

// SignOut ends the session owning accessToken at the provider and revokes the
// access token locally until it expires, so a replayed token is rejected even
// though the provider keeps honouring its JWT until exp.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		s.recordSignOut("rejected")
		return autherrors.NewMissingToken()
	}

	if strings.HasPrefix(accessToken, token.BypassTokenPrefix) {
		return s.signOutBypass(ctx, accessToken)
	}

	revoked, err := s.revocations.IsRevoked(ctx, accessToken)
	if err != nil {
		s.recordSignOut("failure")
		return autherrors.NewProviderUnavailable(fmt.Errorf("revocation lookup: %w", err))
	}
	if revoked {
		s.recordSignOut("rejected")
		return autherrors.NewInvalidToken(errors.New("token already signed out"))
	}

	expiresAt, err := token.ExpiryFromClaims(accessToken)
	if err != nil {
		s.recordSignOut("rejected")
		return autherrors.NewInvalidToken(err)
	}
	if !expiresAt.After(s.now()) {
		s.recordSignOut("rejected")
		return autherrors.NewInvalidToken(errors.New("token expired"))
	}

	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		s.logger.Errorf("Provider sign-out failed: %v", err)
		authErr := token.ClassifyProviderError(err, autherrors.NewInvalidToken)
		if authErr.IsAuthenticationError() {
			s.recordSignOut("rejected")
		} else {
			s.recordSignOut("failure")
		}
		return authErr
	}

	if err := s.revokeUntil(ctx, accessToken, expiresAt); err != nil {
		s.recordSignOut("failure")
		return err
	}

	s.recordSignOut("success")
	return nil
}

func (s *Service) signOutBypass(ctx context.Context, accessToken string) error {
	if s.bypass == nil || !s.bypass.IsEnabled() {
		s.recordSignOut("rejected")
		return autherrors.NewInvalidToken(errors.New("bypass disabled"))
	}
	_, expiresAt, err := s.bypass.VerifyToken(accessToken)
	if err != nil {
		s.recordSignOut("rejected")
		return autherrors.NewInvalidToken(err)
	}
	if err := s.revokeUntil(ctx, accessToken, expiresAt); err != nil {
		s.recordSignOut("failure")
		return err
	}
	s.recordSignOut("success")
	return nil
}

func (s *Service) revokeUntil(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(fallbackRevocationTTL)
	}
	if err := s.revocations.Revoke(ctx, accessToken, expiresAt); err != nil {
		s.logger.Errorf("Failed to record revocation: %v", err)
		return autherrors.NewProviderUnavailable(fmt.Errorf("revoke: %w", err))
	}
	return nil
}

// DisplayName returns the profile name of identity. Directory failures are
// logged and answered with the metadata-derived name.
func (s *Service) DisplayName(ctx context.Context, identity token.Identity) string {
	if s.profiles == nil {
		return profile.FallbackName(identity)
	}
	name, err := s.profiles.DisplayName(ctx, identity)
	if err != nil {
		s.logger.Errorf("Profile lookup failed for user %s: %v", identity.ID, err)
		return profile.FallbackName(identity)
	}
	return name
}

// Bypass returns the bypass service, or nil when none is configured.
func (s *Service) Bypass() *bypass.Service {
	return s.bypass
}

func (s *Service) recordSignOut(outcome string) {
	if s.metrics != nil {
		s.metrics.SignOut(outcome)
	}
}
