// Package guard classifies request paths and decides, per role, whether a
// request may proceed, must be redirected or must be rejected.
package guard

import (
	"fmt"
	pathpkg "path"
	"sort"
	"strings"

	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// MatchKind selects how a public rule matches a path.
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
)

// PublicRule exempts a path or path prefix from authentication.
type PublicRule struct {
	Path  string    `yaml:"path" json:"path"`
	Match MatchKind `yaml:"match" json:"match"`
}

// ProtectedRule requires exactly one role for a path prefix.
type ProtectedRule struct {
	Prefix string     `yaml:"prefix" json:"prefix"`
	Role   token.Role `yaml:"role" json:"role"`
}

// PolicyConfig is the declarative route table.
type PolicyConfig struct {
	Public    []PublicRule          `yaml:"public" json:"public"`
	Protected []ProtectedRule       `yaml:"protected" json:"protected"`
	Login     map[token.Role]string `yaml:"login" json:"login"`
	Dashboard map[token.Role]string `yaml:"dashboard" json:"dashboard"`
	// DefaultLogin receives unauthenticated requests to unclassified paths.
	DefaultLogin string `yaml:"defaultLogin" json:"defaultLogin"`
}

// DefaultPolicyConfig returns the marketplace route table.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Public: []PublicRule{
			{Path: "/", Match: MatchExact},
			{Path: "/auth", Match: MatchPrefix},
			{Path: "/api/auth", Match: MatchPrefix},
			{Path: "/jobs", Match: MatchPrefix},
			{Path: "/api/jobs", Match: MatchPrefix},
			{Path: "/_next", Match: MatchPrefix},
			{Path: "/favicon.ico", Match: MatchExact},
			{Path: "/admin/login", Match: MatchExact},
			{Path: "/healthz", Match: MatchExact},
		},
		Protected: []ProtectedRule{
			{Prefix: "/candidate", Role: token.RoleCandidate},
			{Prefix: "/company", Role: token.RoleCompanyUser},
			{Prefix: "/admin", Role: token.RoleAdmin},
			{Prefix: "/api/candidate", Role: token.RoleCandidate},
			{Prefix: "/api/company", Role: token.RoleCompanyUser},
			{Prefix: "/api/admin", Role: token.RoleAdmin},
		},
		Login: map[token.Role]string{
			token.RoleCandidate:   "/auth/login",
			token.RoleCompanyUser: "/auth/company/login",
			token.RoleAdmin:       "/admin/login",
		},
		Dashboard: map[token.Role]string{
			token.RoleCandidate:   "/candidate/dashboard",
			token.RoleCompanyUser: "/company/dashboard",
			token.RoleAdmin:       "/admin/dashboard",
		},
		DefaultLogin: "/auth/login",
	}
}

// Class is the access classification of a path.
type Class int

const (
	ClassUnclassified Class = iota
	ClassPublic
	ClassProtected
)

func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassProtected:
		return "protected"
	default:
		return "unclassified"
	}
}

// Classification is the result of matching a path against the route table.
type Classification struct {
	Class Class
	// Role is set for protected paths.
	Role token.Role
	// Rule is the matching pattern, empty when unclassified.
	Rule string
}

// RoutePolicy is an immutable, validated route table. Prefix rules match on
// path segment boundaries: "/admin" matches "/admin" and "/admin/users" but
// not "/administrator".
type RoutePolicy struct {
	public       []PublicRule
	protected    []ProtectedRule
	login        map[token.Role]string
	dashboard    map[token.Role]string
	defaultLogin string
}

// NewRoutePolicy validates cfg and builds a RoutePolicy.
func NewRoutePolicy(cfg PolicyConfig) (*RoutePolicy, error) {
	publicSet := make(map[string]bool, len(cfg.Public))
	for _, rule := range cfg.Public {
		if err := validPath(rule.Path); err != nil {
			return nil, fmt.Errorf("public rule: %w", err)
		}
		if rule.Match != MatchExact && rule.Match != MatchPrefix {
			return nil, fmt.Errorf("public rule %q: unknown match kind %q", rule.Path, rule.Match)
		}
		publicSet[rule.Path] = true
	}

	roles := make(map[string]token.Role, len(cfg.Protected))
	for _, rule := range cfg.Protected {
		if err := validPath(rule.Prefix); err != nil {
			return nil, fmt.Errorf("protected rule: %w", err)
		}
		if !rule.Role.Valid() {
			return nil, fmt.Errorf("protected rule %q: unknown role %q", rule.Prefix, rule.Role)
		}
		if existing, ok := roles[rule.Prefix]; ok && existing != rule.Role {
			return nil, fmt.Errorf("protected prefix %q maps to both %s and %s", rule.Prefix, existing, rule.Role)
		}
		if publicSet[rule.Prefix] {
			return nil, fmt.Errorf("path %q is both public and protected", rule.Prefix)
		}
		roles[rule.Prefix] = rule.Role
		if cfg.Login[rule.Role] == "" {
			return nil, fmt.Errorf("no login page configured for role %s", rule.Role)
		}
		if cfg.Dashboard[rule.Role] == "" {
			return nil, fmt.Errorf("no dashboard configured for role %s", rule.Role)
		}
	}

	if err := validPath(cfg.DefaultLogin); err != nil {
		return nil, fmt.Errorf("default login: %w", err)
	}

	protected := make([]ProtectedRule, 0, len(roles))
	for prefix, role := range roles {
		protected = append(protected, ProtectedRule{Prefix: prefix, Role: role})
	}
	// longest prefix wins
	sort.Slice(protected, func(i, j int) bool {
		if len(protected[i].Prefix) != len(protected[j].Prefix) {
			return len(protected[i].Prefix) > len(protected[j].Prefix)
		}
		return protected[i].Prefix < protected[j].Prefix
	})

	p := &RoutePolicy{
		public:       append([]PublicRule(nil), cfg.Public...),
		protected:    protected,
		login:        copyRoleMap(cfg.Login),
		dashboard:    copyRoleMap(cfg.Dashboard),
		defaultLogin: cfg.DefaultLogin,
	}

	for role, page := range p.login {
		if c := p.Classify(page); c.Class != ClassPublic {
			return nil, fmt.Errorf("login page %q for role %s must be public", page, role)
		}
	}
	if c := p.Classify(p.defaultLogin); c.Class != ClassPublic {
		return nil, fmt.Errorf("default login page %q must be public", p.defaultLogin)
	}

	return p, nil
}

// Classify matches path against public rules first, then protected rules.
// path is canonicalised first so dot segments and repeated slashes cannot
// move a request into another rule.
func (p *RoutePolicy) Classify(path string) Classification {
	path = CanonicalPath(path)
	for _, rule := range p.public {
		if rule.Match == MatchExact && path == rule.Path {
			return Classification{Class: ClassPublic, Rule: rule.Path}
		}
		if rule.Match == MatchPrefix && hasPathPrefix(path, rule.Path) {
			return Classification{Class: ClassPublic, Rule: rule.Path}
		}
	}
	for _, rule := range p.protected {
		if hasPathPrefix(path, rule.Prefix) {
			return Classification{Class: ClassProtected, Role: rule.Role, Rule: rule.Prefix}
		}
	}
	return Classification{Class: ClassUnclassified}
}

// Verify returns every route in routes that has no explicit classification,
// sorted and deduplicated. An empty result means the table is exhaustive.
func (p *RoutePolicy) Verify(routes []string) []string {
	seen := make(map[string]bool)
	var unclassified []string
	for _, route := range routes {
		if seen[route] {
			continue
		}
		seen[route] = true
		if p.Classify(route).Class == ClassUnclassified {
			unclassified = append(unclassified, route)
		}
	}
	sort.Strings(unclassified)
	return unclassified
}

// LoginPage returns the login page for role, or the default login page.
func (p *RoutePolicy) LoginPage(role token.Role) string {
	if page, ok := p.login[role]; ok {
		return page
	}
	return p.defaultLogin
}

// Dashboard returns the landing page for role, or "/" when none is configured.
func (p *RoutePolicy) Dashboard(role token.Role) string {
	if page, ok := p.dashboard[role]; ok {
		return page
	}
	return "/"
}

// IsAPI reports whether path is an API route that answers with JSON rather
// than redirects.
func IsAPI(path string) bool {
	return hasPathPrefix(CanonicalPath(path), "/api")
}

// CanonicalPath resolves "." and ".." segments and repeated slashes, keeping
// a trailing slash. It is the path the route table is matched against.
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := pathpkg.Clean(p)
	if p[len(p)-1] == '/' && np != "/" {
		np += "/"
	}
	return np
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}

func validPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q must start with /", path)
	}
	return nil
}

func copyRoleMap(in map[token.Role]string) map[token.Role]string {
	out := make(map[token.Role]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
