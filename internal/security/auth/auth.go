// Package auth defines the identity types produced by an Authenticator and
// carried through the request guard.
package auth

import (
	"context"
	"net/http"
	"time"
)

// User is the authenticated principal as asserted by the credential.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	// Role is the role claimed by the credential. Profile.Role, when a profile
	// is loaded, takes precedence.
	Role string `json:"role,omitempty"`
}

// Profile is the application-side record for a user.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	Role        string    `json:"role"`
	CompanyName string    `json:"company_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Identity is what an Authenticator returns.
type Identity struct {
	User    *User
	Profile *Profile
}

// EffectiveRole is the role used for authorization decisions: the profile's
// role when a profile exists, otherwise the credential's.
func (i *Identity) EffectiveRole() string {
	if i == nil {
		return ""
	}
	if i.Profile != nil && i.Profile.Role != "" {
		return i.Profile.Role
	}
	if i.User != nil {
		return i.User.Role
	}
	return ""
}

// Authenticator resolves request credentials to an Identity. Implementations
// return an Unauthorized AppError for bad credentials and their own error
// codes for infrastructure failures.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (*Identity, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	return f(ctx, r)
}

// ProfileLoader fetches the profile for a user id.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, userID string) (*Profile, error)
}

// RequestContext is created once per request by the guard. User and Profile
// are nil until authentication succeeds.
type RequestContext struct {
	RequestID string
	User      *User
	Profile   *Profile
	StartedAt time.Time
}

// Role returns the effective role of the authenticated caller.
func (rc *RequestContext) Role() string {
	if rc == nil {
		return ""
	}
	return (&Identity{User: rc.User, Profile: rc.Profile}).EffectiveRole()
}

// UserID returns the caller's id, or "" before authentication.
func (rc *RequestContext) UserID() string {
	if rc == nil || rc.User == nil {
		return ""
	}
	return rc.User.ID
}

type requestContextKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the RequestContext stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
