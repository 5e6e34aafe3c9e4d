package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
)

func refreshResponse(expiresAt time.Time) *TokenResponse {
	return &TokenResponse{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		TokenType:    "bearer",
		ExpiresAt:    expiresAt.Unix(),
		User:         *candidateUser("user-1"),
	}
}

func TestRefresher_Success(t *testing.T) {
	expiresAt := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Second)
	provider := &MockProvider{}
	provider.On("RefreshSession", mock.Anything, "old-refresh").Return(refreshResponse(expiresAt), nil)
	metrics := newCountingMetrics()

	r := NewRefresher(RefresherConfig{Provider: provider, Metrics: metrics})
	session, err := r.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "new-access", session.AccessToken)
	assert.Equal(t, "new-refresh", session.RefreshToken)
	assert.True(t, expiresAt.Equal(session.ExpiresAt))
	assert.Equal(t, RoleCandidate, session.User.Role)
	assert.Equal(t, 1, metrics.refreshCount("success"))
}

func TestRefresher_ExpiresInFallback(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resp := refreshResponse(time.Time{})
	resp.ExpiresAt = 0
	resp.ExpiresIn = 3600
	resp.RefreshToken = ""

	provider := &MockProvider{}
	provider.On("RefreshSession", mock.Anything, "rt").Return(resp, nil)

	r := NewRefresher(RefresherConfig{Provider: provider, Clock: func() time.Time { return now }})
	session, err := r.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, "rt", session.RefreshToken)
}

func TestRefresher_UniformFailureMessage(t *testing.T) {
	rejections := []error{
		&statusError{status: 400},
		&statusError{status: 401},
		&statusError{status: 403},
		&statusError{status: 422},
	}

	var messages []string
	for _, rejection := range rejections {
		provider := &MockProvider{}
		provider.On("RefreshSession", mock.Anything, "rt").Return(nil, rejection)

		_, err := NewRefresher(RefresherConfig{Provider: provider}).Refresh(context.Background(), "rt")
		require.Error(t, err)
		assert.True(t, autherrors.Is(err, autherrors.ErrRefreshFailed))
		messages = append(messages, autherrors.PublicMessage(err))
	}

	_, err := NewRefresher(RefresherConfig{Provider: &MockProvider{}}).Refresh(context.Background(), "")
	messages = append(messages, autherrors.PublicMessage(err))

	for _, msg := range messages {
		assert.Equal(t, "Failed to refresh session", msg)
	}
}

func TestRefresher_TransportFailure(t *testing.T) {
	provider := &MockProvider{}
	provider.On("RefreshSession", mock.Anything, "rt").Return(nil, errors.New("dial tcp: i/o timeout"))

	_, err := NewRefresher(RefresherConfig{Provider: provider}).Refresh(context.Background(), "rt")
	assert.True(t, autherrors.Is(err, autherrors.ErrProviderUnavailable))
}

func TestRefresher_CoalescesConcurrentCalls(t *testing.T) {
	release := make(chan time.Time)
	provider := &MockProvider{}
	provider.On("RefreshSession", mock.Anything, "shared").
		WaitUntil(release).
		Return(refreshResponse(time.Now().Add(time.Hour)), nil).
		Once()
	metrics := newCountingMetrics()

	r := NewRefresher(RefresherConfig{Provider: provider, Metrics: metrics})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Refresh(context.Background(), "shared")
		}(i)
	}

	// give every caller time to join the in-flight call
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-access", results[i].AccessToken)
	}
	provider.AssertNumberOfCalls(t, "RefreshSession", 1)
	assert.Equal(t, 1, metrics.refreshCount("success"))
	assert.Equal(t, callers, metrics.refreshCount("coalesced"))

	// callers get independent copies
	results[0].AccessToken = "mutated"
	assert.Equal(t, "new-access", results[1].AccessToken)
}

func TestRefresher_CallerCancellation(t *testing.T) {
	release := make(chan time.Time)
	defer close(release)
	provider := &MockProvider{}
	provider.On("RefreshSession", mock.Anything, "slow").
		WaitUntil(release).
		Return(refreshResponse(time.Now().Add(time.Hour)), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRefresher(RefresherConfig{Provider: provider}).Refresh(ctx, "slow")
	assert.True(t, autherrors.Is(err, autherrors.ErrProviderUnavailable))
}
