package auth

import (
	"context"
	"strings"
)

// Role constants used when checking authorisation boundaries.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity captures the authenticated customer or operator behind a Firebase ID token.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Roles         []string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// OwnsEmail reports whether email belongs to the identity, ignoring case and padding.
func (i *Identity) OwnsEmail(email string) bool {
	if i == nil {
		return false
	}
	mine := strings.TrimSpace(i.Email)
	return mine != "" && strings.EqualFold(mine, strings.TrimSpace(email))
}

// ServiceIdentity captures the caller of an internal route authenticated by a Google OIDC token.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience []string
}

type contextKey int

const (
	identityKey contextKey = iota
	serviceIdentityKey
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// WithServiceIdentity stores the authenticated service caller in context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityKey, identity)
}

// ServiceIdentityFromContext retrieves the service caller from context.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
