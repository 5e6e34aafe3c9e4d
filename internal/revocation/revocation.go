// Package revocation records access tokens that were signed out locally so
// they are refused until they would have expired anyway.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store records revoked access tokens.
type Store interface {
	// Revoke refuses token until the given time.
	Revoke(ctx context.Context, token string, until time.Time) error
	// IsRevoked reports whether token was revoked and has not yet expired.
	IsRevoked(ctx context.Context, token string) (bool, error)
	Close() error
}

// fingerprint keys stores by token hash so raw tokens are never persisted.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
