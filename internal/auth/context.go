package auth

import "context"

// Principal is the authenticated identity attached to a request after the
// session check passes. It carries everything downstream authorization needs
// so handlers never re-validate the token.
type Principal struct {
	UserID      string
	Email       string
	Username    string
	Roles       []string // role names from effective assignments
	MFAVerified bool
	SessionHash string
}

// HasRole reports whether the principal holds the named role.
func (p *Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

type principalKey struct{}

// ContextWithPrincipal attaches the principal to the context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal, if present.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
