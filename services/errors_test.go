package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", ErrUserBudgetExceeded)

	assert.True(t, errors.Is(wrapped, ErrUserBudgetExceeded))
	assert.True(t, IsBudgetError(wrapped))
	assert.False(t, IsValidationError(wrapped))
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewDomainError(ErrorTypeExternal, "provider call failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "provider call failed")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	detailed := ErrUserBudgetExceeded.WithDetail("scope", "user")

	require.NotSame(t, ErrUserBudgetExceeded, detailed)
	assert.Empty(t, ErrUserBudgetExceeded.Details, "sentinel stays clean")
	assert.Equal(t, "user", detailed.Details["scope"])
	assert.True(t, IsBudgetError(detailed))
}

func TestWithDetailChaining(t *testing.T) {
	err := ErrInvalidInput.
		WithDetail("field", "max_tokens").
		WithDetail("reason", "must be positive")

	assert.Equal(t, "max_tokens", err.Details["field"])
	assert.Equal(t, "must be positive", err.Details["reason"])
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{ErrEmptyPrompt, IsValidationError},
		{ErrDailyBudgetExceeded, IsBudgetError},
		{ErrUserNotFound, IsNotFoundError},
		{ErrDatabaseError, IsInternalError},
		{ErrProviderUnavailable, IsExternalError},
		{ErrAllProvidersFailed, IsDegradedError},
	}

	for _, tt := range tests {
		assert.True(t, tt.check(tt.err), "%v", tt.err)
	}

	assert.False(t, IsBudgetError(errors.New("plain")))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
	assert.Equal(t, ErrorTypeBudget, GetErrorType(ErrUserBudgetExceeded))
}

func TestWrapInternal(t *testing.T) {
	cause := errors.New("boom")

	assert.True(t, IsInternalError(WrapInternal("db write", cause)))
	assert.True(t, errors.Is(WrapInternal("db write", cause), cause))
}
