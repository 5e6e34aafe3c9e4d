// Package handlers provides the session endpoints: session inspection,
// client-initiated refresh, sign-out and the test bypass login.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lukaszraczylo/sessionbridge/internal/cookie"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/httputil"
	"github.com/lukaszraczylo/sessionbridge/internal/security"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// maxBodyBytes caps request bodies of the session endpoints.
const maxBodyBytes = 16 << 10

// Logger interface for dependency injection
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// SessionService is the session surface used by the endpoints.
type SessionService interface {
	Validate(ctx context.Context, accessToken string) (*token.Result, error)
	Refresh(ctx context.Context, refreshToken string) (*token.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	NeedsRefresh(expiresAt time.Time) bool
	DisplayName(ctx context.Context, identity token.Identity) string
}

// UserBody is the user projection returned by the session endpoints.
type UserBody struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	UserType       token.Role `json:"userType"`
	Name           string     `json:"name"`
	EmailConfirmed bool       `json:"emailConfirmed"`
	LastSignIn     *time.Time `json:"lastSignIn"`
}

// SessionBody describes the session state. ExpiresAt is Unix seconds.
type SessionBody struct {
	AccessToken  string `json:"accessToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"`
	NeedsRefresh bool   `json:"needsRefresh"`
}

// SessionResponse is the success body of GET and POST /api/auth/session.
type SessionResponse struct {
	Success bool        `json:"success"`
	User    UserBody    `json:"user"`
	Session SessionBody `json:"session"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SessionHandler serves /api/auth/session
type SessionHandler struct {
	logger   Logger
	sessions SessionService
	cookies  *cookie.Codec
	headers  *security.Headers
}

// NewSessionHandler creates the session endpoint handler
func NewSessionHandler(logger Logger, sessions SessionService, cookies *cookie.Codec, headers *security.Headers) *SessionHandler {
	if headers == nil {
		headers = security.NewHeaders(nil)
	}
	return &SessionHandler{
		logger:   logger,
		sessions: sessions,
		cookies:  cookies,
		headers:  headers,
	}
}

// ServeHTTP dispatches on the request method.
func (h *SessionHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if h.headers.Preflight(rw, req) {
		return
	}
	h.headers.Apply(rw, req)

	switch req.Method {
	case http.MethodGet:
		h.Get(rw, req)
	case http.MethodPost:
		h.Post(rw, req)
	case http.MethodDelete:
		h.Delete(rw, req)
	default:
		rw.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		httputil.WriteJSON(rw, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "Method not allowed"})
	}
}

// Get reports the current session.
func (h *SessionHandler) Get(rw http.ResponseWriter, req *http.Request) {
	raw, _ := h.cookies.Extract(req)
	result, err := h.sessions.Validate(req.Context(), raw)
	if err != nil {
		h.fail(rw, "session lookup", err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, SessionResponse{
		Success: true,
		User:    h.userBody(req.Context(), *result.User),
		Session: SessionBody{
			ExpiresAt:    result.Session.ExpiresAt.Unix(),
			NeedsRefresh: h.sessions.NeedsRefresh(result.Session.ExpiresAt),
		},
	})
}

// Post exchanges the refresh token in the body for a new session and sets
// both cookies to expire with it.
func (h *SessionHandler) Post(rw http.ResponseWriter, req *http.Request) {
	var body refreshRequest
	if err := decodeJSON(req, &body); err != nil {
		h.fail(rw, "refresh", autherrors.NewBadRequest("Invalid request body"))
		return
	}
	if body.RefreshToken == "" {
		h.fail(rw, "refresh", autherrors.NewBadRequest("refreshToken is required"))
		return
	}

	session, err := h.sessions.Refresh(req.Context(), body.RefreshToken)
	if err != nil {
		h.fail(rw, "refresh", err)
		return
	}

	h.cookies.Write(rw, session)
	httputil.WriteJSON(rw, http.StatusOK, SessionResponse{
		Success: true,
		User:    h.userBody(req.Context(), session.User),
		Session: SessionBody{
			AccessToken:  session.AccessToken,
			ExpiresAt:    session.ExpiresAt.Unix(),
			NeedsRefresh: h.sessions.NeedsRefresh(session.ExpiresAt),
		},
	})
}

// Delete signs the session out at the provider and clears both cookies.
// Provider failures leave the cookies in place.
func (h *SessionHandler) Delete(rw http.ResponseWriter, req *http.Request) {
	raw, _ := h.cookies.Extract(req)
	if err := h.sessions.SignOut(req.Context(), raw); err != nil {
		if authErr, ok := autherrors.As(err); ok && authErr.IsAuthenticationError() && h.cookies.HasSessionCookies(req) {
			h.cookies.Clear(rw)
		}
		h.fail(rw, "sign-out", err)
		return
	}

	h.cookies.Clear(rw)
	httputil.WriteJSON(rw, http.StatusOK, map[string]bool{"success": true})
}

func (h *SessionHandler) userBody(ctx context.Context, identity token.Identity) UserBody {
	return UserBody{
		ID:             identity.ID,
		Email:          identity.Email,
		UserType:       identity.Role,
		Name:           h.sessions.DisplayName(ctx, identity),
		EmailConfirmed: identity.EmailConfirmed,
		LastSignIn:     identity.LastSignIn,
	}
}

func (h *SessionHandler) fail(rw http.ResponseWriter, op string, err error) {
	if autherrors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Errorf("Session %s failed: %v", op, err)
	} else {
		h.logger.Debugf("Session %s rejected: %v", op, err)
	}
	httputil.WriteError(rw, err)
}

func decodeJSON(req *http.Request, v interface{}) error {
	if req.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	return dec.Decode(v)
}
