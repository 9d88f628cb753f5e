// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "put action", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] put action: disk full",
		},
		{
			name:     "offline error",
			appError: &AppError{Code: ErrOffline, Message: "no connectivity"},
			want:     "[OFFLINE] no connectivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")

	err := Wrap(ErrStorage, "failed", underlying)
	assert.Same(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))

	assert.Nil(t, New(ErrInternal, "failed").Unwrap())
}

func TestNewf(t *testing.T) {
	err := Newf(ErrInvalid, "unknown action type %q", "teleport")
	assert.Equal(t, ErrInvalid, err.Code)
	assert.Equal(t, `unknown action type "teleport"`, err.Message)
	assert.Nil(t, err.Err)
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", New(ErrNotFound, "not found"), ErrNotFound, true},
		{"non-matching AppError", New(ErrNotFound, "not found"), ErrInternal, false},
		{"non-AppError", errors.New("standard error"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
		{"fmt wrapped", fmt.Errorf("enqueue: %w", New(ErrStorage, "put")), ErrStorage, true},
		{"nested AppError", Wrap(ErrInvalid, "outer", New(ErrStorageQuota, "inner")), ErrStorageQuota, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Is(tt.err, tt.code))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrOffline, CodeOf(New(ErrOffline, "x")))
	assert.Equal(t, ErrStorage, CodeOf(fmt.Errorf("wrap: %w", New(ErrStorage, "x"))))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
}

func TestIsStorage(t *testing.T) {
	assert.True(t, IsStorage(New(ErrStorage, "x")))
	assert.True(t, IsStorage(New(ErrStorageQuota, "x")))
	assert.True(t, IsStorage(New(ErrStorageClosed, "x")))
	assert.False(t, IsStorage(New(ErrOffline, "x")))
	assert.False(t, IsStorage(nil))
}

func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrConfig,
		ErrStorage, ErrStorageQuota, ErrMigration, ErrStorageClosed,
		ErrOffline, ErrSyncInProgress, ErrSyncFailed, ErrRemoteRejected,
		ErrRemoteUnavailable, ErrCircuitOpen,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		require.NotEmpty(t, code)
		require.False(t, seen[code], "ErrorCode %q is duplicated", code)
		seen[code] = true
	}
}
