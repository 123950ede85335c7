package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/services/auth"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: bad fee", model.ErrValidation), http.StatusBadRequest, CodeValidation},
		{"forbidden", fmt.Errorf("%w: not creator", model.ErrForbidden), http.StatusForbidden, CodeForbidden},
		{"user not found", model.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
		{"room not found", model.ErrRoomNotFound, http.StatusNotFound, CodeRoomNotFound},
		{"invalid state", fmt.Errorf("%w: completed", model.ErrInvalidState), http.StatusConflict, CodeInvalidState},
		{"conflict", model.ErrConflict, http.StatusConflict, CodeConflict},
		{"email taken", model.ErrEmailTaken, http.StatusConflict, CodeEmailTaken},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
		{"bad session", auth.ErrInvalidSession, http.StatusUnauthorized, CodeUnauthorized},
		{"rate limited", NewRateLimitedError(), http.StatusTooManyRequests, CodeRateLimited},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestDomainErrorsKeepPreconditionMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("%w: round already resolved", model.ErrInvalidState))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error.Message, "round already resolved")
}

func TestInternalErrorsHideDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("redis: connection refused"))

	assert.NotContains(t, rec.Body.String(), "redis")
}
