package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		kind   error
		status int
		code   string
	}{
		{"not found", NotFound("case", "abc"), ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", Unauthorized("login"), ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forbidden", Forbidden("no"), ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"bad request", BadRequest("bad"), ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST"},
		{"validation", Validation("invalid", map[string]string{"email": "required"}), ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", Conflict("taken"), ErrConflict, http.StatusConflict, "CONFLICT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.True(t, Is(tt.err, tt.kind))
		})
	}

	assert.Equal(t, map[string]string{"resource": "case", "id": "abc"}, NotFound("case", "abc").Details)
}

func TestWithCodeAndMessageCopy(t *testing.T) {
	base := BadRequest("bad")
	coded := base.WithCode("MISSING_FIELDS").WithMessage("必須項目が不足しています")

	assert.Equal(t, "BAD_REQUEST", base.Code)
	assert.Equal(t, "bad", base.Message)
	assert.Equal(t, "MISSING_FIELDS", coded.Code)
	assert.Equal(t, "必須項目が不足しています", coded.Message)
	assert.True(t, Is(coded, ErrBadRequest))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ignored"))

	notFound := NotFound("message", "m1")
	assert.Same(t, notFound, Wrap(notFound, "load message"))

	cause := errors.New("connection reset")
	wrapped := Wrap(cause, "load case")
	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)
	assert.Equal(t, "internal server error", appErr.Message)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "load case")
}

func TestAsThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("repository: %w", Conflict("duplicate"))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
