package auth

import (
	"context"
	"net/http"
	"strings"
)

// Roles recognised in the "role" custom claim.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the authenticated shopper or operator behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsOperator reports whether the identity may act on other users' orders.
func (i *Identity) IsOperator() bool {
	return i.HasRole(RoleStaff) || i.HasRole(RoleAdmin)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// IdentityRecorder is implemented by response writers that want to learn the
// authenticated user once the middleware has resolved it.
type IdentityRecorder interface {
	SetUserID(uid string)
}

func recordIdentity(w http.ResponseWriter, uid string) {
	for w != nil {
		if rec, ok := w.(IdentityRecorder); ok {
			rec.SetUserID(uid)
			return
		}
		unwrapper, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = unwrapper.Unwrap()
	}
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
