package jwt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() config.AuthConfig {
	return config.AuthConfig{JWTSecret: testSecret, Issuer: "constructops", TokenTTL: time.Hour}
}

func mint(t *testing.T, cfg config.AuthConfig, user auth.User, at time.Time) string {
	t.Helper()
	iss, err := NewIssuer(cfg)
	require.NoError(t, err)
	iss.now = func() time.Time { return at }
	tok, _, err := iss.Issue(user)
	require.NoError(t, err)
	return tok
}

func request(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

type profileLoaderFunc func(ctx context.Context, id string) (*auth.Profile, error)

func (f profileLoaderFunc) LoadProfile(ctx context.Context, id string) (*auth.Profile, error) {
	return f(ctx, id)
}

func TestNewAuthenticator_ShortSecret(t *testing.T) {
	_, err := NewAuthenticator(config.AuthConfig{JWTSecret: "short"}, nil)
	assert.Equal(t, ErrShortSecret, err)

	_, err = NewIssuer(config.AuthConfig{JWTSecret: "short"})
	assert.Equal(t, ErrShortSecret, err)
}

func TestAuthenticate_ValidToken(t *testing.T) {
	a, err := NewAuthenticator(testConfig(), nil, WithClock(func() time.Time { return t0.Add(time.Minute) }))
	require.NoError(t, err)
	tok := mint(t, testConfig(), auth.User{ID: "u-1", Email: "pm@example.com", Role: "project_manager"}, t0)

	id, err := a.Authenticate(context.Background(), request(tok))
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.User.ID)
	assert.Equal(t, "pm@example.com", id.User.Email)
	assert.Equal(t, "project_manager", id.EffectiveRole())
	assert.Nil(t, id.Profile)
}

func TestAuthenticate_Rejections(t *testing.T) {
	cfg := testConfig()
	clock := WithClock(func() time.Time { return t0.Add(time.Minute) })
	a, err := NewAuthenticator(cfg, nil, clock)
	require.NoError(t, err)
	user := auth.User{ID: "u-1", Role: "engineer"}

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	otherSecret := cfg
	otherSecret.JWTSecret = "ffffffffffffffffffffffffffffffff"

	none := gojwt.NewWithClaims(gojwt.SigningMethodNone, Claims{RegisteredClaims: gojwt.RegisteredClaims{
		Subject: "u-1", Issuer: "constructops", ExpiresAt: gojwt.NewNumericDate(t0.Add(time.Hour)),
	}})
	unsigned, err := none.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]struct {
		req  *http.Request
		want *errors.AppError
	}{
		"missing header": {request(""), ErrMissingAuthHeader},
		"expired":        {request(mint(t, cfg, user, t0.Add(-2*time.Hour))), ErrTokenExpired},
		"wrong issuer":   {request(mint(t, otherIssuer, user, t0)), ErrInvalidToken},
		"wrong secret":   {request(mint(t, otherSecret, user, t0)), ErrInvalidToken},
		"alg none":       {request(unsigned), ErrInvalidToken},
		"garbage":        {request("not.a.token"), ErrInvalidToken},
		"basic auth": {func() *http.Request {
			r := request("")
			r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			return r
		}(), ErrInvalidAuthFormat},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			id, err := a.Authenticate(context.Background(), tc.req)
			assert.Nil(t, id)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))
			ae, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.want.Message, ae.Message)
			assert.Equal(t, http.StatusUnauthorized, ae.HTTPStatus())
		})
	}
}

func TestAuthenticate_Audience(t *testing.T) {
	cfg := testConfig()
	cfg.Audience = "constructops-api"
	a, err := NewAuthenticator(cfg, nil, WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), request(mint(t, cfg, auth.User{ID: "u"}, t0)))
	assert.NoError(t, err)

	_, err = a.Authenticate(context.Background(), request(mint(t, testConfig(), auth.User{ID: "u"}, t0)))
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))
}

func TestAuthenticate_LoadsProfile(t *testing.T) {
	profiles := profileLoaderFunc(func(_ context.Context, id string) (*auth.Profile, error) {
		switch id {
		case "u-1":
			return &auth.Profile{ID: "u-1", Role: "management", IsActive: true}, nil
		case "u-off":
			return &auth.Profile{ID: "u-off", Role: "engineer", IsActive: false}, nil
		case "u-err":
			return nil, errors.New(errors.ErrCodeStorageFailure, "Operation failed")
		}
		return nil, nil
	})
	a, err := NewAuthenticator(testConfig(), nil, WithProfileLoader(profiles), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	ctx := context.Background()

	id, err := a.Authenticate(ctx, request(mint(t, testConfig(), auth.User{ID: "u-1", Role: "engineer"}, t0)))
	require.NoError(t, err)
	assert.Equal(t, "management", id.EffectiveRole(), "profile role wins over the claim")

	_, err = a.Authenticate(ctx, request(mint(t, testConfig(), auth.User{ID: "u-off"}, t0)))
	assert.Equal(t, ErrInactiveAccount, err)

	_, err = a.Authenticate(ctx, request(mint(t, testConfig(), auth.User{ID: "u-missing"}, t0)))
	assert.Equal(t, ErrProfileNotFound, err)

	_, err = a.Authenticate(ctx, request(mint(t, testConfig(), auth.User{ID: "u-err"}, t0)))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageFailure), "store failures keep their code")
}

func TestIssuer_Issue(t *testing.T) {
	iss, err := NewIssuer(testConfig())
	require.NoError(t, err)
	iss.now = func() time.Time { return t0 }

	tok, exp, err := iss.Issue(auth.User{ID: "u-1", Role: "client"})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), exp)

	a, err := NewAuthenticator(testConfig(), nil, WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	claims, err := a.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "constructops", claims.Issuer)
	assert.Equal(t, "client", claims.Role)

	_, _, err = iss.Issue(auth.User{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
