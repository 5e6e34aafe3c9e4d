// Package cookie reads and writes the session cookies shared with the web
// application.
package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"

	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

const (
	// AccessTokenCookie holds the provider access token.
	AccessTokenCookie = "supabase-auth-token"
	// RefreshTokenCookie holds the provider refresh token.
	RefreshTokenCookie = "supabase-refresh-token"
)

// Source tells where a credential was found.
type Source string

const (
	SourceNone   Source = ""
	SourceCookie Source = "cookie"
	SourceBearer Source = "bearer"
)

// Config configures cookie attributes.
type Config struct {
	// Domain is optional; empty scopes cookies to the request host.
	Domain string
	// Secure is set in production.
	Secure bool
	// AccessTokenReadable leaves the access cookie readable by client
	// scripts. The refresh cookie is always HttpOnly.
	AccessTokenReadable bool
}

// Codec builds and parses session cookies.
type Codec struct {
	cfg Config
	now func() time.Time
}

// NewCodec creates a cookie codec.
func NewCodec(cfg Config) *Codec {
	return &Codec{cfg: cfg, now: time.Now}
}

// Options returns the cookie options for session: HttpOnly, SameSite=Lax,
// path "/", Secure per configuration and a lifetime ending at the session expiry.
func (c *Codec) Options(session *token.Session) *sessions.Options {
	opts := &sessions.Options{
		Path:     "/",
		Domain:   c.cfg.Domain,
		Secure:   c.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
	if session != nil {
		if remaining := session.ExpiresAt.Sub(c.now()); remaining > 0 {
			opts.MaxAge = int(remaining.Seconds())
			if opts.MaxAge == 0 {
				opts.MaxAge = 1
			}
		}
	}
	return opts
}

// Cookies builds the access and refresh cookies for session. The refresh
// cookie is omitted when the session has no refresh token.
func (c *Codec) Cookies(session *token.Session) []*http.Cookie {
	opts := c.Options(session)

	accessOpts := *opts
	accessOpts.HttpOnly = !c.cfg.AccessTokenReadable
	access := c.newCookie(AccessTokenCookie, session.AccessToken, &accessOpts, session.ExpiresAt)

	cookies := []*http.Cookie{access}
	if session.RefreshToken != "" {
		cookies = append(cookies, c.newCookie(RefreshTokenCookie, session.RefreshToken, opts, session.ExpiresAt))
	}
	return cookies
}

// Write sets the session cookies on rw.
func (c *Codec) Write(rw http.ResponseWriter, session *token.Session) {
	for _, ck := range c.Cookies(session) {
		http.SetCookie(rw, ck)
	}
}

// Clear expires both session cookies.
func (c *Codec) Clear(rw http.ResponseWriter) {
	opts := c.Options(nil)
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(rw, sessions.NewCookie(name, "", opts))
	}
}

// Extract returns the access token from the auth cookie, falling back to an
// Authorization bearer header.
func (c *Codec) Extract(req *http.Request) (string, Source) {
	if ck, err := req.Cookie(AccessTokenCookie); err == nil && ck.Value != "" {
		return ck.Value, SourceCookie
	}
	if bearer := BearerToken(req); bearer != "" {
		return bearer, SourceBearer
	}
	return "", SourceNone
}

// RefreshToken returns the refresh cookie value, if any.
func (c *Codec) RefreshToken(req *http.Request) string {
	if ck, err := req.Cookie(RefreshTokenCookie); err == nil {
		return ck.Value
	}
	return ""
}

// HasSessionCookies reports whether req carries either session cookie.
func (c *Codec) HasSessionCookies(req *http.Request) bool {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		if _, err := req.Cookie(name); err == nil {
			return true
		}
	}
	return false
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func (c *Codec) newCookie(name, value string, opts *sessions.Options, expiresAt time.Time) *http.Cookie {
	ck := sessions.NewCookie(name, value, opts)
	if opts.MaxAge > 0 {
		// expire exactly with the session rather than at now+MaxAge
		ck.Expires = expiresAt.UTC()
	}
	return ck
}
