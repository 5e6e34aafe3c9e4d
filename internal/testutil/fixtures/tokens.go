// Package fixtures mints provider-shaped access tokens for tests.
package fixtures

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSecret is the HS256 secret used when a fixture is created without one.
const DefaultSecret = "test-jwt-secret-with-enough-entropy-000"

// TokenFixture provides HS256 JWT generation shaped like provider access tokens
type TokenFixture struct {
	Secret   []byte
	Issuer   string
	Audience string
	Now      func() time.Time
}

// NewTokenFixture creates a token fixture signing with secret.
func NewTokenFixture(secret string) *TokenFixture {
	if secret == "" {
		secret = DefaultSecret
	}
	return &TokenFixture{
		Secret:   []byte(secret),
		Issuer:   "http://localhost/auth/v1",
		Audience: "authenticated",
		Now:      time.Now,
	}
}

// Claims returns the standard claims for a user expiring after ttl.
func (f *TokenFixture) Claims(userID, email string, ttl time.Duration) jwt.MapClaims {
	now := f.Now()
	return jwt.MapClaims{
		"iss":        f.Issuer,
		"aud":        f.Audience,
		"sub":        userID,
		"email":      email,
		"role":       "authenticated",
		"session_id": uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}
}

// ValidToken signs a token for userID that expires after ttl.
func (f *TokenFixture) ValidToken(userID, email string, ttl time.Duration) (string, error) {
	return f.Sign(f.Claims(userID, email, ttl))
}

// ExpiredToken signs a token that expired an hour ago.
func (f *TokenFixture) ExpiredToken(userID, email string) (string, error) {
	return f.Sign(f.Claims(userID, email, -time.Hour))
}

// TokenWithWrongSignature signs valid claims with a different secret.
func (f *TokenFixture) TokenWithWrongSignature(userID, email string, ttl time.Duration) (string, error) {
	other := &TokenFixture{Secret: []byte("wrong-" + string(f.Secret)), Issuer: f.Issuer, Audience: f.Audience, Now: f.Now}
	return other.Sign(f.Claims(userID, email, ttl))
}

// MalformedToken returns a string that is not a JWT.
func (f *TokenFixture) MalformedToken() string {
	return "not.a.jwt"
}

// Sign signs claims with HS256.
func (f *TokenFixture) Sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.Secret)
}

// Parse verifies raw with the fixture secret and returns its claims.
func (f *TokenFixture) Parse(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return f.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(f.Now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
