// Package middleware provides the edge authentication middleware that
// validates the session on every request, applies the role guard and
// forwards the identity to the application.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/lukaszraczylo/sessionbridge/internal/cookie"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/guard"
	"github.com/lukaszraczylo/sessionbridge/internal/httputil"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// Identity headers set on the forwarded request and on the response.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserType  = "X-User-Type"
)

var identityHeaders = []string{HeaderUserID, HeaderUserEmail, HeaderUserType}

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
}

// SessionService is the session surface the middleware needs.
type SessionService interface {
	Validate(ctx context.Context, accessToken string) (*token.Result, error)
	Refresh(ctx context.Context, refreshToken string) (*token.Session, error)
	NeedsRefresh(expiresAt time.Time) bool
}

// AuthMiddleware handles authentication and role routing for every request
type AuthMiddleware struct {
	logger   Logger
	next     http.Handler
	sessions SessionService
	guard    *guard.Guard
	cookies  *cookie.Codec
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(logger Logger, next http.Handler, sessions SessionService, g *guard.Guard, cookies *cookie.Codec) *AuthMiddleware {
	return &AuthMiddleware{
		logger:   logger,
		next:     next,
		sessions: sessions,
		guard:    g,
		cookies:  cookies,
	}
}

// ServeHTTP validates the request's session and either forwards it, redirects
// it or answers it with JSON.
func (m *AuthMiddleware) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	// identity headers are only ever set by this middleware
	for _, h := range identityHeaders {
		req.Header.Del(h)
	}

	path := req.URL.Path
	if canonical := guard.CanonicalPath(path); canonical != path {
		m.redirectCanonical(rw, req, canonical)
		return
	}

	if !m.guard.RequiresIdentity(path) {
		m.guard.Decide(path, nil, nil)
		m.next.ServeHTTP(rw, req)
		return
	}

	session, authErr := m.authenticate(rw, req)

	var identity *token.Identity
	if session != nil {
		identity = &session.User
	}

	d := m.guard.Decide(path, identity, authErr)
	if d.Allowed() {
		setIdentityHeaders(req.Header, identity)
		setIdentityHeaders(rw.Header(), identity)
		m.next.ServeHTTP(rw, req)
		return
	}

	switch d.State {
	case guard.StateError:
		m.logger.Errorf("Cannot establish identity for %s: %v", path, d.Err)
		writeDecisionError(rw, d)

	case guard.StateUnauthenticated:
		if d.ClearCookies {
			m.cookies.Clear(rw)
		}
		m.logger.Debugf("Unauthenticated request to %s: %v", path, d.Err)
		m.deny(rw, req, d)

	case guard.StateWrongRole:
		m.logger.Infof("User %s with role %s denied access to %s", identity.ID, identity.Role, path)
		m.deny(rw, req, d)
	}
}

// redirectCanonical sends requests for non-canonical paths to the path the
// route table was matched against, the way http.ServeMux does. Methods other
// than GET and HEAD get 308 so the body is replayed.
func (m *AuthMiddleware) redirectCanonical(rw http.ResponseWriter, req *http.Request, canonical string) {
	target := canonical
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}
	status := http.StatusMovedPermanently
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		status = http.StatusPermanentRedirect
	}
	m.logger.Debugf("Redirecting non-canonical path %q to %q", req.URL.Path, canonical)
	rw.Header().Set("Location", target)
	rw.WriteHeader(status)
}

// authenticate validates the presented token. A cookie session that failed
// validation is recovered with the refresh cookie when one is present, and a
// valid session inside the refresh threshold is refreshed proactively.
func (m *AuthMiddleware) authenticate(rw http.ResponseWriter, req *http.Request) (*token.Session, error) {
	raw, source := m.cookies.Extract(req)
	if raw == "" {
		return nil, autherrors.NewMissingToken()
	}

	result, err := m.sessions.Validate(req.Context(), raw)
	refreshToken := ""
	if source == cookie.SourceCookie {
		refreshToken = m.cookies.RefreshToken(req)
	}

	if err != nil {
		if refreshToken == "" || !autherrors.Is(err, autherrors.ErrInvalidToken) {
			return nil, err
		}
		m.logger.Debug("Access token rejected but refresh token found, attempting refresh")
		refreshed, refreshErr := m.sessions.Refresh(req.Context(), refreshToken)
		if refreshErr != nil {
			m.logger.Debugf("Session recovery failed: %v", refreshErr)
			return nil, err
		}
		m.adopt(rw, req, refreshed)
		return refreshed, nil
	}

	session := result.Session
	if refreshToken != "" && !session.User.Bypass && m.sessions.NeedsRefresh(session.ExpiresAt) {
		m.logger.Debug("Session token needs proactive refresh, attempting refresh")
		refreshed, refreshErr := m.sessions.Refresh(req.Context(), refreshToken)
		if refreshErr != nil {
			// the current token is still valid; keep it
			m.logger.Infof("Proactive refresh failed: %v", refreshErr)
			return session, nil
		}
		m.adopt(rw, req, refreshed)
		return refreshed, nil
	}
	return session, nil
}

// adopt writes the refreshed session cookies to the client and swaps them
// into the forwarded request.
func (m *AuthMiddleware) adopt(rw http.ResponseWriter, req *http.Request, session *token.Session) {
	m.cookies.Write(rw, session)

	kept := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range kept {
		switch c.Name {
		case cookie.AccessTokenCookie:
			c.Value = session.AccessToken
		case cookie.RefreshTokenCookie:
			c.Value = session.RefreshToken
		}
		req.AddCookie(c)
	}
}

func (m *AuthMiddleware) deny(rw http.ResponseWriter, req *http.Request, d guard.Decision) {
	if d.API || httputil.WantsJSON(req) || d.RedirectTo == "" {
		writeDecisionError(rw, d)
		return
	}
	http.Redirect(rw, req, d.RedirectTo, http.StatusFound)
}

func writeDecisionError(rw http.ResponseWriter, d guard.Decision) {
	httputil.WriteJSON(rw, d.Status, httputil.ErrorBody{Error: autherrors.PublicMessage(d.Err)})
}

func setIdentityHeaders(h http.Header, identity *token.Identity) {
	if identity == nil {
		return
	}
	h.Set(HeaderUserID, identity.ID)
	h.Set(HeaderUserEmail, identity.Email)
	h.Set(HeaderUserType, identity.Role.String())
}
