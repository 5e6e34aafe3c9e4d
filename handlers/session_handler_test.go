package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/sessionbridge/internal/cookie"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/logger"
	"github.com/lukaszraczylo/sessionbridge/internal/security"
	"github.com/lukaszraczylo/sessionbridge/internal/testutil/servers"
	"github.com/lukaszraczylo/sessionbridge/internal/testutil/stack"
)

func newSessionHandler(t *testing.T, opts stack.Options) (*SessionHandler, *stack.Stack) {
	t.Helper()
	s := stack.New(t, opts)
	headers := security.NewHeaders(&security.HeadersConfig{
		CORSAllowedOrigins:   []string{"https://app.example.com"},
		CORSAllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:   []string{"Content-Type", "Authorization"},
		CORSAllowCredentials: true,
	})
	return NewSessionHandler(logger.NoOp(), s.Service, s.Codec, headers), s
}

func do(h http.Handler, method, body string, cookies ...*http.Cookie) *http.Response {
	req := httptest.NewRequest(method, "/api/auth/session", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSessionHandler_Get(t *testing.T) {
	h, s := newSessionHandler(t, stack.Options{})
	issued, err := s.Server.IssueSession(servers.User{
		Email:        "cand@example.com",
		UserMetadata: map[string]interface{}{"user_type": "candidate", "first_name": "Ada", "last_name": "Lovelace"},
	}, 48*time.Hour)
	require.NoError(t, err)

	resp := do(h, http.MethodGet, "", stack.SessionCookies(issued)...)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body SessionResponse
	decode(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, issued.User.ID, body.User.ID)
	assert.Equal(t, "candidate", string(body.User.UserType))
	assert.Equal(t, "Ada Lovelace", body.User.Name)
	assert.Equal(t, issued.ExpiresAt.Unix(), body.Session.ExpiresAt)
	// two days left with a three day threshold
	assert.True(t, body.Session.NeedsRefresh)
	assert.Empty(t, body.Session.AccessToken)
}

func TestSessionHandler_GetWithoutSession(t *testing.T) {
	h, _ := newSessionHandler(t, stack.Options{})

	resp := do(h, http.MethodGet, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decode(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, autherrors.MsgNoSession, body.Error)
}

func TestSessionHandler_PostRefresh(t *testing.T) {
	h, s := newSessionHandler(t, stack.Options{})
	issued := s.Issue(t, "cand@example.com", "candidate", 48*time.Hour)

	resp := do(h, http.MethodPost, `{"refreshToken":"`+issued.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body SessionResponse
	decode(t, resp, &body)
	require.True(t, body.Success)
	assert.NotEmpty(t, body.Session.AccessToken)
	assert.NotEqual(t, issued.AccessToken, body.Session.AccessToken)

	newExpiry := time.Unix(body.Session.ExpiresAt, 0).UTC()
	access := stack.FindCookie(resp, cookie.AccessTokenCookie)
	refresh := stack.FindCookie(resp, cookie.RefreshTokenCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.Equal(t, body.Session.AccessToken, access.Value)
	assert.True(t, access.Expires.Equal(newExpiry), "access cookie expires %s, session %s", access.Expires, newExpiry)
	assert.True(t, refresh.Expires.Equal(newExpiry), "refresh cookie expires %s, session %s", refresh.Expires, newExpiry)
	assert.True(t, refresh.HttpOnly)
	assert.False(t, access.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
}

func TestSessionHandler_PostErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"missing refresh token", `{}`, http.StatusBadRequest, "refreshToken is required"},
		{"empty body", ``, http.StatusBadRequest, "Invalid request body"},
		{"not json", `refreshToken=abc`, http.StatusBadRequest, "Invalid request body"},
		{"unknown refresh token", `{"refreshToken":"rt-unknown"}`, http.StatusUnauthorized, autherrors.MsgRefreshFailed},
		{"malformed refresh token", `{"refreshToken":"%%%"}`, http.StatusUnauthorized, autherrors.MsgRefreshFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newSessionHandler(t, stack.Options{})
			resp := do(h, http.MethodPost, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body struct {
				Error string `json:"error"`
			}
			decode(t, resp, &body)
			assert.Equal(t, tt.message, body.Error)
			assert.Empty(t, resp.Cookies())
		})
	}
}

func TestSessionHandler_DeleteTwice(t *testing.T) {
	h, s := newSessionHandler(t, stack.Options{})
	issued := s.Issue(t, "cand@example.com", "candidate", 96*time.Hour)

	resp := do(h, http.MethodDelete, "", stack.SessionCookies(issued)...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, name := range []string{cookie.AccessTokenCookie, cookie.RefreshTokenCookie} {
		c := stack.FindCookie(resp, name)
		require.NotNil(t, c, name)
		assert.Less(t, c.MaxAge, 0)
	}

	// a client that ignored the cleared cookies replays the same token
	resp = do(h, http.MethodDelete, "", stack.SessionCookies(issued)...)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// a client that honoured them has nothing left to send
	resp = do(h, http.MethodDelete, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Cookies())

	assert.Equal(t, 1, s.Server.RequestsTo("/auth/v1/logout"))
}

func TestSessionHandler_DeleteProviderFailureKeepsCookies(t *testing.T) {
	h, s := newSessionHandler(t, stack.Options{Server: &servers.GoTrueServerConfig{SignOutStatus: http.StatusBadGateway}})
	issued := s.Issue(t, "cand@example.com", "candidate", 96*time.Hour)

	resp := do(h, http.MethodDelete, "", stack.SessionCookies(issued)...)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
	assert.Equal(t, 0, s.Revocations.Count())
}

func TestSessionHandler_Options(t *testing.T) {
	h, _ := newSessionHandler(t, stack.Options{})

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newSessionHandler(t, stack.Options{})
	resp := do(h, http.MethodPut, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), "DELETE")
}
