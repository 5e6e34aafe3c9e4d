package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
)

// BypassTokenPrefix marks test bypass tokens. Such tokens never reach the provider.
const BypassTokenPrefix = "bypass_"

// ValidatorConfig holds the collaborators of a Validator.
type ValidatorConfig struct {
	Provider    Provider
	Revocations RevocationChecker
	Bypass      BypassVerifier
	// JWTSecret enables local HS256 verification before the provider call.
	JWTSecret string
	Clock     Clock
	Logger    Logger
	Metrics   MetricsRecorder
}

// Validator handles token validation operations
type Validator struct {
	provider    Provider
	revocations RevocationChecker
	bypass      BypassVerifier
	secret      []byte
	now         Clock
	logger      Logger
	metrics     MetricsRecorder
}

// NewValidator creates a new token validator
func NewValidator(config ValidatorConfig) *Validator {
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	v := &Validator{
		provider:    config.Provider,
		revocations: config.Revocations,
		bypass:      config.Bypass,
		now:         now,
		logger:      config.Logger,
		metrics:     config.Metrics,
	}
	if config.JWTSecret != "" {
		v.secret = []byte(config.JWTSecret)
	}
	if v.logger == nil {
		v.logger = nopLogger{}
	}
	return v
}

// Validate checks accessToken and resolves it to a session. On failure the
// returned Result carries only the public error message and the error is an
// *errors.AuthError.
func (v *Validator) Validate(ctx context.Context, accessToken string) (*Result, error) {
	if accessToken == "" {
		return failure(autherrors.NewMissingToken())
	}

	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, accessToken)
		if err != nil {
			v.logger.Errorf("Revocation lookup failed: %v", err)
			return failure(autherrors.NewProviderUnavailable(fmt.Errorf("revocation lookup: %w", err)))
		}
		if revoked {
			v.logger.Debugf("Rejected revoked access token")
			return failure(autherrors.NewInvalidToken(errors.New("token revoked")))
		}
	}

	if strings.HasPrefix(accessToken, BypassTokenPrefix) {
		return v.validateBypass(accessToken)
	}

	expiresAt, err := v.expiry(accessToken)
	if err != nil {
		v.logger.Debugf("Local token check failed: %v", err)
		return failure(autherrors.NewInvalidToken(err))
	}

	if v.provider == nil {
		return failure(autherrors.NewProviderUnavailable(errors.New("no provider configured")))
	}

	user, err := v.provider.GetUser(ctx, accessToken)
	if err != nil {
		return failure(ClassifyProviderError(err, autherrors.NewInvalidToken))
	}

	identity, err := IdentityFromProvider(user)
	if err != nil {
		v.logger.Infof("Provider user rejected: %v", err)
		return failure(autherrors.NewInvalidToken(err))
	}

	return &Result{
		Success: true,
		User:    &identity,
		Session: &Session{
			AccessToken: accessToken,
			ExpiresAt:   expiresAt,
			User:        identity,
		},
	}, nil
}

func (v *Validator) validateBypass(raw string) (*Result, error) {
	if v.bypass == nil || !v.bypass.IsEnabled() {
		v.logger.Infof("Bypass token presented while bypass is disabled")
		v.recordBypass("rejected")
		return failure(autherrors.NewInvalidToken(errors.New("bypass disabled")))
	}

	identity, expiresAt, err := v.bypass.VerifyToken(raw)
	if err != nil {
		v.logger.Debugf("Bypass token rejected: %v", err)
		v.recordBypass("rejected")
		return failure(autherrors.NewInvalidToken(err))
	}

	v.recordBypass("accepted")
	return &Result{
		Success: true,
		User:    identity,
		Session: &Session{
			AccessToken: raw,
			ExpiresAt:   expiresAt,
			User:        *identity,
		},
	}, nil
}

// expiry returns the exp claim of raw. With a secret configured the
// signature is verified too; otherwise the claim is read unverified and the
// provider stays the authority.
func (v *Validator) expiry(raw string) (time.Time, error) {
	if v.secret == nil {
		expiresAt, err := ExpiryFromClaims(raw)
		if err != nil {
			return time.Time{}, err
		}
		if !expiresAt.After(v.now()) {
			return time.Time{}, fmt.Errorf("token expired at %s", expiresAt.Format(time.RFC3339))
		}
		return expiresAt, nil
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("token verification failed: %w", err)
	}
	return claims.ExpiresAt.Time, nil
}

func (v *Validator) recordBypass(outcome string) {
	if v.metrics != nil {
		v.metrics.BypassToken(outcome)
	}
}

// ExpiryFromClaims reads the exp claim without verifying the signature.
func ExpiryFromClaims(raw string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("malformed token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// Rejection is implemented by provider errors that distinguish a refused
// credential from a provider-side failure.
type Rejection interface {
	Rejected() bool
}

// IsRejection reports whether err, or an error it wraps, is a credential
// the provider refused.
func IsRejection(err error) bool {
	var r Rejection
	return errors.As(err, &r) && r.Rejected()
}

// ClassifyProviderError maps provider failures onto the error taxonomy.
// Credential rejections become onReject; local AuthErrors such as rate
// limiting pass through; everything else is an unavailable provider.
func ClassifyProviderError(err error, onReject func(error) *autherrors.AuthError) *autherrors.AuthError {
	if authErr, ok := autherrors.As(err); ok {
		return authErr
	}
	if IsRejection(err) {
		return onReject(err)
	}
	return autherrors.NewProviderUnavailable(err)
}

func failure(err error) (*Result, error) {
	return &Result{Error: autherrors.PublicMessage(err)}, err
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
