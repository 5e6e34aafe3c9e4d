// Package servers provides httptest-backed fakes of the managed auth provider.
package servers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lukaszraczylo/sessionbridge/internal/testutil/fixtures"
)

// DefaultAnonKey is the apikey the fake server expects unless configured otherwise.
const DefaultAnonKey = "test-anon-key"

// GoTrueServerConfig configures the fake GoTrue server behavior
type GoTrueServerConfig struct {
	AnonKey string

	// Token fixture for signing access tokens
	TokenFixture *fixtures.TokenFixture

	// AccessTTL is the lifetime of sessions minted by the refresh grant.
	AccessTTL time.Duration

	// Simulation flags
	Delay          time.Duration
	FailAfterN     int
	FailWithStatus int
	SignOutStatus  int
}

// User is the provider's user record as returned by /auth/v1/user.
type User struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	Role             string                 `json:"role"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time             `json:"last_sign_in_at,omitempty"`
	AppMetadata      map[string]interface{} `json:"app_metadata"`
	UserMetadata     map[string]interface{} `json:"user_metadata"`
}

// Session is a session minted by the fake server.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

type gotrueError struct {
	Code        int    `json:"code,omitempty"`
	Message     string `json:"msg,omitempty"`
	Error       string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// GoTrueServer is a configurable fake of the GoTrue REST API. Access tokens
// stay valid after logout, as they do against the real provider; only the
// refresh tokens of the user are revoked.
type GoTrueServer struct {
	*httptest.Server
	Config       *GoTrueServerConfig
	RequestCount int32

	mu            sync.Mutex
	paths         []string
	accessTokens  map[string]User
	refreshTokens map[string]User
}

// NewGoTrueServer creates a new fake GoTrue server
func NewGoTrueServer(config *GoTrueServerConfig) *GoTrueServer {
	if config == nil {
		config = &GoTrueServerConfig{}
	}
	if config.AnonKey == "" {
		config.AnonKey = DefaultAnonKey
	}
	if config.TokenFixture == nil {
		config.TokenFixture = fixtures.NewTokenFixture("")
	}
	if config.AccessTTL == 0 {
		config.AccessTTL = time.Hour
	}

	server := &GoTrueServer{
		Config:        config,
		accessTokens:  make(map[string]User),
		refreshTokens: make(map[string]User),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", server.handleUser)
	mux.HandleFunc("/auth/v1/token", server.handleToken)
	mux.HandleFunc("/auth/v1/logout", server.handleLogout)

	server.Server = httptest.NewServer(mux)
	return server
}

// IssueSession mints a session for user whose access token expires after ttl.
func (s *GoTrueServer) IssueSession(user User, ttl time.Duration) (Session, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "authenticated"
	}

	accessToken, err := s.Config.TokenFixture.ValidToken(user.ID, user.Email, ttl)
	if err != nil {
		return Session{}, err
	}
	refreshToken := "rt-" + uuid.NewString()

	s.mu.Lock()
	s.accessTokens[accessToken] = user
	s.refreshTokens[refreshToken] = user
	s.mu.Unlock()

	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Unix(s.Config.TokenFixture.Now().Add(ttl).Unix(), 0),
		User:         user,
	}, nil
}

// GetRequestCount returns the number of requests received
func (s *GoTrueServer) GetRequestCount() int {
	return int(atomic.LoadInt32(&s.RequestCount))
}

// RequestsTo returns how many requests hit path.
func (s *GoTrueServer) RequestsTo(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.paths {
		if p == path {
			n++
		}
	}
	return n
}

// Reset clears request tracking
func (s *GoTrueServer) Reset() {
	atomic.StoreInt32(&s.RequestCount, 0)
	s.mu.Lock()
	s.paths = nil
	s.mu.Unlock()
}

func (s *GoTrueServer) recordRequest(r *http.Request) {
	atomic.AddInt32(&s.RequestCount, 1)
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.mu.Unlock()
}

// intercept applies the simulation flags and the apikey check. It returns
// true when a response was already written.
func (s *GoTrueServer) intercept(w http.ResponseWriter, r *http.Request) bool {
	s.recordRequest(r)

	if s.Config.Delay > 0 {
		select {
		case <-time.After(s.Config.Delay):
		case <-r.Context().Done():
			return true
		}
	}

	count := int(atomic.LoadInt32(&s.RequestCount))
	if s.Config.FailWithStatus > 0 && count > s.Config.FailAfterN {
		writeJSON(w, s.Config.FailWithStatus, gotrueError{Code: s.Config.FailWithStatus, Message: "simulated failure"})
		return true
	}

	if r.Header.Get("apikey") != s.Config.AnonKey {
		writeJSON(w, http.StatusUnauthorized, gotrueError{Message: "Invalid API key"})
		return true
	}
	return false
}

func (s *GoTrueServer) handleUser(w http.ResponseWriter, r *http.Request) {
	if s.intercept(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user, ok := s.userForBearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, gotrueError{Code: http.StatusUnauthorized, Message: "invalid JWT: unable to parse or verify signature"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *GoTrueServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.intercept(w, r) {
		return
	}
	if r.Method != http.MethodPost || r.URL.Query().Get("grant_type") != "refresh_token" {
		writeJSON(w, http.StatusBadRequest, gotrueError{Error: "unsupported_grant_type"})
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, gotrueError{Error: "invalid_request", Description: "refresh_token required"})
		return
	}

	s.mu.Lock()
	user, ok := s.refreshTokens[body.RefreshToken]
	if ok {
		delete(s.refreshTokens, body.RefreshToken)
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, gotrueError{Error: "invalid_grant", Description: "Invalid Refresh Token: Refresh Token Not Found"})
		return
	}

	session, err := s.IssueSession(user, s.Config.AccessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, gotrueError{Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  session.AccessToken,
		"refresh_token": session.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int64(s.Config.AccessTTL / time.Second),
		"expires_at":    session.ExpiresAt.Unix(),
		"user":          session.User,
	})
}

func (s *GoTrueServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.intercept(w, r) {
		return
	}
	if s.Config.SignOutStatus > 0 {
		writeJSON(w, s.Config.SignOutStatus, gotrueError{Code: s.Config.SignOutStatus, Message: "logout failed"})
		return
	}

	user, ok := s.userForBearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, gotrueError{Code: http.StatusUnauthorized, Message: "invalid JWT"})
		return
	}

	s.mu.Lock()
	for rt, u := range s.refreshTokens {
		if u.ID == user.ID {
			delete(s.refreshTokens, rt)
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoTrueServer) userForBearer(r *http.Request) (User, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return User{}, false
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	s.mu.Lock()
	user, ok := s.accessTokens[raw]
	s.mu.Unlock()
	if !ok {
		return User{}, false
	}

	claims, err := s.Config.TokenFixture.Parse(raw)
	if err != nil || claims["sub"] != user.ID {
		return User{}, false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) // #nosec G104 - test server
}
