// Package profile resolves display names for authenticated identities from
// the marketplace profile tables.
//
// Profiles are joined to identities by email, not by user id. An email change
// at the provider therefore orphans the profile row until the row is updated
// too; callers fall back to metadata-derived names in that case.
package profile

import (
	"context"
	"strings"
	"sync"

	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

// Directory resolves display names.
type Directory interface {
	DisplayName(ctx context.Context, identity token.Identity) (string, error)
}

// FallbackName derives a display name from identity metadata, then from the
// local part of the email address.
func FallbackName(identity token.Identity) string {
	md := identity.Metadata
	for _, key := range []string{"full_name", "name", "display_name"} {
		if s, ok := md[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	first, _ := md["first_name"].(string)
	last, _ := md["last_name"].(string)
	if full := strings.TrimSpace(first + " " + last); full != "" {
		return full
	}

	if local, _, ok := strings.Cut(identity.Email, "@"); ok && local != "" {
		return local
	}
	return identity.Email
}

// MemoryDirectory is a map-backed Directory keyed by lowercase email.
type MemoryDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{names: make(map[string]string)}
}

// Set records name for email.
func (m *MemoryDirectory) Set(email, name string) {
	m.mu.Lock()
	m.names[strings.ToLower(email)] = name
	m.mu.Unlock()
}

// DisplayName returns the stored name or the metadata fallback.
func (m *MemoryDirectory) DisplayName(_ context.Context, identity token.Identity) (string, error) {
	m.mu.RLock()
	name, ok := m.names[strings.ToLower(identity.Email)]
	m.mu.RUnlock()
	if ok && name != "" {
		return name, nil
	}
	return FallbackName(identity), nil
}
