package guard

import (
	"net/http"
	"net/url"
	"strings"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// State is the outcome of a guard decision.
type State string

const (
	StatePublic          State = "PUBLIC"
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateWrongRole       State = "AUTHENTICATED_WRONG_ROLE"
	StateOK              State = "AUTHENTICATED_OK"
	// StateError means the identity could not be established for reasons
	// other than the credential, e.g. the provider is down.
	StateError State = "ERROR"
)

// Decision tells the caller how to answer a request.
type Decision struct {
	State          State
	Classification Classification
	// RedirectTo is set for page requests that must be redirected.
	RedirectTo string
	// Status is the HTTP status for JSON answers; zero when the request proceeds.
	Status int
	// Err is the error to report for JSON answers.
	Err error
	// ClearCookies asks the caller to drop stale session cookies.
	ClearCookies bool
	// API is true for API paths, which always answer with JSON.
	API bool
}

// Allowed reports whether the request may proceed to the application.
func (d Decision) Allowed() bool {
	return d.State == StatePublic || d.State == StateOK
}

// Recorder receives guard decisions for metrics.
type Recorder interface {
	GuardDecision(state string)
}

// Guard turns a classification and an identity into a Decision.
type Guard struct {
	policy   *RoutePolicy
	recorder Recorder
}

// New creates a Guard. recorder may be nil.
func New(policy *RoutePolicy, recorder Recorder) *Guard {
	return &Guard{policy: policy, recorder: recorder}
}

// RequiresIdentity reports whether path needs a validated identity.
// Unclassified paths fail closed and require one.
func (g *Guard) RequiresIdentity(path string) bool {
	return g.policy.Classify(path).Class != ClassPublic
}

// Decide classifies path and applies identity. identity is nil when the
// request carried no valid credential, in which case authErr explains why.
func (g *Guard) Decide(path string, identity *token.Identity, authErr error) Decision {
	d := g.decide(path, identity, authErr)
	if g.recorder != nil {
		g.recorder.GuardDecision(strings.ToLower(string(d.State)))
	}
	return d
}

func (g *Guard) decide(path string, identity *token.Identity, authErr error) Decision {
	class := g.policy.Classify(path)
	d := Decision{Classification: class, API: IsAPI(path)}

	if class.Class == ClassPublic {
		d.State = StatePublic
		return d
	}

	if identity == nil {
		if authErr == nil {
			authErr = autherrors.NewMissingToken()
		}
		if ae, ok := autherrors.As(authErr); !ok || (!ae.IsAuthenticationError() && ae.Code != autherrors.ErrCodeBypassDisabled) {
			d.State = StateError
			d.Status = autherrors.HTTPStatus(authErr)
			d.Err = authErr
			return d
		}

		d.State = StateUnauthenticated
		d.Status = http.StatusUnauthorized
		d.Err = authErr
		d.ClearCookies = !autherrors.Is(authErr, autherrors.ErrMissingToken)
		d.RedirectTo = withRedirectTo(g.policy.LoginPage(class.Role), path)
		return d
	}

	if class.Class == ClassProtected && identity.Role != class.Role {
		d.State = StateWrongRole
		d.Status = http.StatusForbidden
		d.Err = autherrors.NewRoleMismatch(identity.Role.String(), class.Role.String())
		d.RedirectTo = g.policy.Dashboard(identity.Role)
		return d
	}

	d.State = StateOK
	return d
}

func withRedirectTo(loginPage, original string) string {
	return loginPage + "?redirectTo=" + url.QueryEscape(original)
}
