package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
)

// RefresherConfig holds the collaborators of a Refresher.
type RefresherConfig struct {
	Provider Provider
	Clock    Clock
	Logger   Logger
	Metrics  MetricsRecorder
}

// Refresher exchanges refresh tokens for new sessions. Concurrent refreshes of
// the same refresh token within the process share one provider call.
type Refresher struct {
	provider Provider
	now      Clock
	logger   Logger
	metrics  MetricsRecorder
	inFlight singleflight.Group
}

// NewRefresher creates a new token refresher
func NewRefresher(config RefresherConfig) *Refresher {
	r := &Refresher{
		provider: config.Provider,
		now:      config.Clock,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = nopLogger{}
	}
	return r
}

// Refresh exchanges refreshToken for a new session. Every provider rejection
// yields the same RefreshFailed error.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		r.record("failure")
		return nil, autherrors.NewRefreshFailed(errors.New("no refresh token"))
	}

	// The shared call must outlive any single caller's cancellation; the
	// provider client's timeout still bounds it.
	sharedCtx := context.WithoutCancel(ctx)
	ch := r.inFlight.DoChan(refreshKey(refreshToken), func() (interface{}, error) {
		return r.refresh(sharedCtx, refreshToken)
	})

	select {
	case <-ctx.Done():
		return nil, autherrors.NewProviderUnavailable(ctx.Err())
	case res := <-ch:
		if res.Shared {
			r.record("coalesced")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		session := *res.Val.(*Session)
		return &session, nil
	}
}

func (r *Refresher) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if r.provider == nil {
		return nil, autherrors.NewProviderUnavailable(errors.New("no provider configured"))
	}

	resp, err := r.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		r.logger.Infof("Session refresh failed: %v", err)
		r.record("failure")
		return nil, ClassifyProviderError(err, autherrors.NewRefreshFailed)
	}

	identity, err := IdentityFromProvider(&resp.User)
	if err != nil {
		r.record("failure")
		return nil, autherrors.NewRefreshFailed(err)
	}

	expiresAt, err := r.expiresAt(resp)
	if err != nil {
		r.record("failure")
		return nil, autherrors.NewRefreshFailed(err)
	}

	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	r.record("success")
	r.logger.Debugf("Session refreshed for user %s, expires at %s", identity.ID, expiresAt.Format(time.RFC3339))
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt,
		User:         identity,
	}, nil
}

// expiresAt prefers expires_at, then expires_in, then the access token's exp claim.
func (r *Refresher) expiresAt(resp *TokenResponse) (time.Time, error) {
	switch {
	case resp.ExpiresAt > 0:
		return time.Unix(resp.ExpiresAt, 0), nil
	case resp.ExpiresIn > 0:
		return r.now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
	default:
		exp, err := ExpiryFromClaims(resp.AccessToken)
		if err != nil {
			return time.Time{}, fmt.Errorf("refreshed session has no expiry: %w", err)
		}
		return exp, nil
	}
}

func (r *Refresher) record(outcome string) {
	if r.metrics != nil {
		r.metrics.Refresh(outcome)
	}
}

func refreshKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
