// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext and scope/organization checks

package auth

import (
	"context"
	"slices"
)

// API scopes.
const (
	ScopePrompt = "prompt" // run conversation turns
	ScopeRead   = "read"   // read exchanges
	ScopeAdmin  = "admin"  // everything, including conversation resets
)

// AllScopes lists every scope a token can carry.
var AllScopes = []string{ScopePrompt, ScopeRead, ScopeAdmin}

// Identity is the verified caller of an API request.
type Identity struct {
	Subject        string
	OrganizationID string // empty means all organizations
	Scopes         []string
}

// Can reports whether the identity holds scope. Admin holds every scope.
func (i *Identity) Can(scope string) bool {
	return slices.Contains(i.Scopes, scope) || slices.Contains(i.Scopes, ScopeAdmin)
}

// CanAccessOrganization reports whether the identity may act on organizationID's data.
func (i *Identity) CanAccessOrganization(organizationID string) bool {
	return i.OrganizationID == "" || i.OrganizationID == organizationID
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the request's Identity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
