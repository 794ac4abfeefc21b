package auth

import (
	"context"

	"github.com/folio-press/apiserver/types"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	ID          string
	Email       string
	Role        types.Role
	Username    string
	DisplayName string
}

// IdentityFromAccount copies the identity fields of a live account.
func IdentityFromAccount(a types.Account) Identity {
	return Identity{
		ID:          a.ID,
		Email:       a.Email,
		Role:        a.Role,
		Username:    a.Username,
		DisplayName: a.DisplayName,
	}
}

// HasRole reports whether the identity holds one of roles.
func (i Identity) HasRole(roles ...types.Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity set by WithIdentity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
