// Package jwt authenticates HS256 bearer tokens and mints them for local
// development.
package jwt

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

var (
	ErrShortSecret       = errors.New(errors.ErrCodeValidation, "jwt secret must be at least 32 characters")
	ErrMissingAuthHeader = errors.Unauthorized("Authentication required")
	ErrInvalidAuthFormat = errors.Unauthorized("Invalid authorization header")
	ErrInvalidToken      = errors.Unauthorized("Invalid token")
	ErrTokenExpired      = errors.Unauthorized("Token expired")
	ErrProfileNotFound   = errors.Unauthorized("User profile not found")
	ErrInactiveAccount   = errors.Unauthorized("Account is disabled")
)

// Claims is the token payload.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	gojwt.RegisteredClaims
}

// Authenticator implements auth.Authenticator.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	profiles auth.ProfileLoader
	logger   logging.Logger
	now      func() time.Time
}

var _ auth.Authenticator = (*Authenticator)(nil)

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithProfileLoader makes every authentication load the caller's profile.
func WithProfileLoader(p auth.ProfileLoader) Option {
	return func(a *Authenticator) { a.profiles = p }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator validates cfg and builds an Authenticator.
func NewAuthenticator(cfg config.AuthConfig, log logging.Logger, opts ...Option) (*Authenticator, error) {
	if len(cfg.JWTSecret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	a := &Authenticator{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		logger:   log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate implements auth.Authenticator. Credential problems yield
// Unauthorized; profile store failures keep their own codes.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, err
	}

	claims, err := a.Parse(raw)
	if err != nil {
		a.logger.Debug("token rejected", logging.String("path", r.URL.Path), logging.Err(err))
		return nil, err
	}

	id := &auth.Identity{User: &auth.User{ID: claims.Subject, Email: claims.Email, Role: claims.Role}}
	if a.profiles == nil {
		return id, nil
	}

	profile, err := a.profiles.LoadProfile(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	if !profile.IsActive {
		return nil, ErrInactiveAccount
	}
	id.Profile = profile
	return id, nil
}

// Parse verifies signature, issuer, audience and expiry of raw.
func (a *Authenticator) Parse(raw string) (*Claims, error) {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, gojwt.WithAudience(a.audience))
	}

	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(raw, claims, func(*gojwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if stderrors.Is(err, gojwt.ErrTokenExpired) {
			return nil, ErrTokenExpired.WithCause(err)
		}
		return nil, ErrInvalidToken.WithCause(err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken.WithDetail("missing subject")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingAuthHeader
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidAuthFormat
	}
	return strings.TrimSpace(token), nil
}

// Issuer mints tokens the Authenticator accepts.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg config.AuthConfig) (*Issuer, error) {
	if len(cfg.JWTSecret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultTokenTTL
	}
	return &Issuer{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue signs a token for user and returns it with its expiry.
func (i *Issuer) Issue(user auth.User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, errors.New(errors.ErrCodeValidation, "user id required")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(exp),
		},
	}
	if i.audience != "" {
		claims.Audience = gojwt.ClaimStrings{i.audience}
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.ErrCodeInternal, "sign token")
	}
	return signed, exp, nil
}
