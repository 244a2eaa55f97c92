// Package identity defines the caller-identity contract and its JWT-backed
// implementation for the HTTP surface.
package identity

import "context"

// User is the opaque caller identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Provider resolves the current caller, if any.
type Provider interface {
	CurrentUser(ctx context.Context) (User, bool)
}

type ctxKey struct{}

// WithUser attaches the caller to the context.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext reads the caller from the context.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// ContextProvider resolves callers placed on the context by the auth
// middleware.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (User, bool) {
	return FromContext(ctx)
}

// StaticProvider always resolves the same user. Used by tests and one-shot
// tooling that runs on behalf of a fixed account.
type StaticProvider struct {
	User User
}

func (p StaticProvider) CurrentUser(context.Context) (User, bool) {
	if p.User.ID == "" {
		return User{}, false
	}
	return p.User, true
}
