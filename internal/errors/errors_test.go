package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "simple error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "add acquisition", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] add acquisition: disk full",
		},
		{
			name:     "not found error",
			appError: NotFound("session", "abc"),
			want:     "[NOT_FOUND] session not found: abc",
		},
		{
			name:     "remote rejection",
			appError: RemoteRejection(500, "boom"),
			want:     "[REMOTE_REJECTION] sync failed (500): boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

// TestAppError_Unwrap verifies unwrapping of underlying error.
func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")

	err := Network("post session", underlying)
	assert.Same(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))

	assert.Nil(t, New(ErrInternal, "failed").Unwrap())
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlying := errors.New("underlying")

	err := Wrap(ErrStorage, "query failed", underlying)
	require.NotNil(t, err)
	assert.Equal(t, ErrStorage, err.Code)
	assert.Equal(t, "query failed", err.Message)
	assert.Equal(t, underlying, err.Err)

	assert.Nil(t, Wrap(ErrInternal, "test", nil).Err)
}

// TestIs verifies error code checking, including through fmt wrapping.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", NotFound("session", "1"), ErrNotFound, true},
		{"non-matching AppError", NotFound("session", "1"), ErrInternal, false},
		{"wrapped AppError", fmt.Errorf("outer: %w", Configuration("no url")), ErrConfiguration, true},
		{"non-AppError", errors.New("standard error"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Is(tt.err, tt.code))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrValidation, CodeOf(Validation("bad query")))
	assert.Equal(t, ErrNetwork, CodeOf(fmt.Errorf("x: %w", Network("down", nil))))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
}

func TestRemoteRejection_carriesStatus(t *testing.T) {
	err := RemoteRejection(409, "conflict")
	assert.Equal(t, 409, err.StatusCode)
	assert.True(t, Is(err, ErrRemoteRejection))
}

// TestErrorCodes_areUnique verifies all error codes are unique and upper case.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid,
		ErrStorage, ErrNotFound, ErrMigration,
		ErrConfiguration, ErrNetwork, ErrRemoteRejection,
		ErrValidation, ErrExportFailed,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		assert.False(t, seen[code], "ErrorCode %q is duplicated", code)
		seen[code] = true
		assert.Equal(t, strings.ToUpper(string(code)), string(code))
	}
}

func TestMessage_stripsCode(t *testing.T) {
	assert.Equal(t, "sync failed (500): down", Message(RemoteRejection(500, "down")))
	assert.Equal(t, "post document: refused", Message(fmt.Errorf("wrap: %w", Network("post document", errors.New("refused")))))
	assert.Equal(t, "plain", Message(errors.New("plain")))
	assert.Equal(t, "", Message(nil))
}
