package token

import "time"

// DefaultRefreshThreshold is the remaining lifetime below which a session is
// refreshed proactively.
const DefaultRefreshThreshold = 72 * time.Hour

// RefreshPolicy decides whether a session is close enough to expiry to be
// refreshed. It holds the single configured threshold for every call site.
type RefreshPolicy struct {
	threshold time.Duration
	now       Clock
}

// NewRefreshPolicy creates a policy. A non-positive threshold selects
// DefaultRefreshThreshold; a nil clock selects time.Now.
func NewRefreshPolicy(threshold time.Duration, clock Clock) *RefreshPolicy {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	if clock == nil {
		clock = time.Now
	}
	return &RefreshPolicy{threshold: threshold, now: clock}
}

// NeedsRefresh reports whether the time left before expiresAt is below the threshold.
func (p *RefreshPolicy) NeedsRefresh(expiresAt time.Time) bool {
	return p.TimeUntilExpiry(expiresAt) < p.threshold
}

// TimeUntilExpiry returns the time left before expiresAt, negative once passed.
func (p *RefreshPolicy) TimeUntilExpiry(expiresAt time.Time) time.Duration {
	return expiresAt.Sub(p.now())
}

// Threshold returns the configured threshold.
func (p *RefreshPolicy) Threshold() time.Duration {
	return p.threshold
}
