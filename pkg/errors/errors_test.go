package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"invalid column", errors.ErrCodeInvalidColumn, "Invalid column"},
		{"rate limit", errors.CodeRateLimit, "Rate limit exceeded"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
		})
	}
}

func TestError_Format(t *testing.T) {
	ae := errors.New(errors.ErrCodeInvalidColumn, "Invalid column")
	assert.Equal(t, "[QUERY_002] Invalid column", ae.Error())

	withDetail := ae.WithDetail("tasks.secret")
	assert.Equal(t, "[QUERY_002] Invalid column: tasks.secret", withDetail.Error())
	assert.Empty(t, ae.Detail, "WithDetail must not mutate the receiver")
}

func TestWithDetail_NilReceiver(t *testing.T) {
	var ae *errors.AppError
	assert.Nil(t, ae.WithDetail("x"))
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	ae := errors.Wrap(cause, errors.ErrCodeStorageFailure, "Operation failed")

	require.NotNil(t, ae)
	assert.Equal(t, errors.ErrCodeStorageFailure, ae.Code)
	assert.True(t, stderrors.Is(ae, cause))
	assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "x"))
}

func TestWrap_PreservesCodeWhenUnknown(t *testing.T) {
	inner := errors.New(errors.ErrCodeStorageConflict, "Data conflict")
	outer := errors.Wrap(inner, errors.CodeUnknown, "while inserting")
	assert.Equal(t, errors.ErrCodeStorageConflict, outer.Code)
}

func TestIsCode_TraversesChain(t *testing.T) {
	inner := errors.New(errors.ErrCodeStorageNotFound, "Resource not found")
	wrapped := fmt.Errorf("load project: %w", inner)

	assert.True(t, errors.IsCode(wrapped, errors.ErrCodeStorageNotFound))
	assert.False(t, errors.IsCode(wrapped, errors.ErrCodeInternal))
	assert.True(t, errors.IsNotFound(wrapped))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeInternal))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeSuspiciousRequest, errors.GetCode(errors.New(errors.ErrCodeSuspiciousRequest, "Forbidden")))
}

func TestAs(t *testing.T) {
	ae, ok := errors.As(fmt.Errorf("x: %w", errors.Forbidden("Missing permission: projects:write")))
	require.True(t, ok)
	assert.Equal(t, 403, ae.HTTPStatus())

	_, ok = errors.As(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestFactories(t *testing.T) {
	cases := []struct {
		ae     *errors.AppError
		code   errors.ErrorCode
		status int
	}{
		{errors.Validation("Validation failed"), errors.ErrCodeValidation, 400},
		{errors.Unauthorized("Authentication required"), errors.ErrCodeUnauthorized, 401},
		{errors.Forbidden("Forbidden"), errors.ErrCodeForbidden, 403},
		{errors.RateLimit("Rate limit exceeded"), errors.ErrCodeTooManyRequests, 429},
		{errors.NotFound("Resource not found"), errors.ErrCodeNotFound, 404},
		{errors.Conflict("Resource conflict"), errors.ErrCodeConflict, 409},
		{errors.Internal("Internal server error"), errors.ErrCodeInternal, 500},
		{errors.InvalidParam("Bad request"), errors.ErrCodeBadRequest, 400},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.ae.Code)
		assert.Equal(t, tc.status, tc.ae.HTTPStatus())
	}
}
