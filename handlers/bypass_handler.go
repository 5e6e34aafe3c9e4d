package handlers

import (
	"net/http"

	"github.com/lukaszraczylo/sessionbridge/internal/bypass"
	"github.com/lukaszraczylo/sessionbridge/internal/cookie"
	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/httputil"
	"github.com/lukaszraczylo/sessionbridge/internal/profile"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

type bypassRequest struct {
	UserType string `json:"userType"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// BypassResponse is the success body of POST /api/auth/bypass.
type BypassResponse struct {
	Success   bool     `json:"success"`
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expiresAt"`
	User      UserBody `json:"user"`
}

// BypassHandler serves POST /api/auth/bypass for automated tests. It answers
// 404 whenever bypass is disabled.
type BypassHandler struct {
	logger  Logger
	bypass  *bypass.Service
	cookies *cookie.Codec
}

// NewBypassHandler creates the bypass login handler. service may be nil.
func NewBypassHandler(logger Logger, service *bypass.Service, cookies *cookie.Codec) *BypassHandler {
	return &BypassHandler{logger: logger, bypass: service, cookies: cookies}
}

// ServeHTTP issues a bypass token and sets it as the auth cookie.
func (h *BypassHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if h.bypass == nil || !h.bypass.IsEnabled() {
		httputil.WriteError(rw, autherrors.NewBypassDisabled())
		return
	}
	if req.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		httputil.WriteJSON(rw, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "Method not allowed"})
		return
	}

	var body bypassRequest
	if err := decodeJSON(req, &body); err != nil {
		httputil.WriteError(rw, autherrors.NewBadRequest("Invalid request body"))
		return
	}
	role, err := token.ParseRole(body.UserType)
	if err != nil {
		httputil.WriteError(rw, autherrors.NewBadRequest("userType must be candidate, company_user or admin"))
		return
	}

	identity, err := h.bypass.CreateBypassUser(role, bypass.Overrides{Email: body.Email, Name: body.Name})
	if err != nil {
		httputil.WriteError(rw, autherrors.NewBadRequest(err.Error()))
		return
	}
	raw, expiresAt, err := h.bypass.GenerateToken(identity)
	if err != nil {
		h.logger.Errorf("Bypass token generation failed: %v", err)
		httputil.WriteError(rw, err)
		return
	}

	h.cookies.Write(rw, &token.Session{AccessToken: raw, ExpiresAt: expiresAt, User: *identity})
	h.logger.Infof("Issued bypass session for %s (%s)", identity.ID, role)

	httputil.WriteJSON(rw, http.StatusOK, BypassResponse{
		Success:   true,
		Token:     raw,
		ExpiresAt: expiresAt.Unix(),
		User: UserBody{
			ID:             identity.ID,
			Email:          identity.Email,
			UserType:       identity.Role,
			Name:           profile.FallbackName(*identity),
			EmailConfirmed: identity.EmailConfirmed,
			LastSignIn:     identity.LastSignIn,
		},
	})
}
