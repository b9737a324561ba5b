package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(TypeNoEligibleReps, "no reps available")
	assert.Equal(t, "no_eligible_reps: no reps available", err.Error())
	assert.Empty(t, err.Details)
	assert.Nil(t, err.Cause)
}

func TestWithDetails(t *testing.T) {
	err := New(TypeTimeout, "global ceiling reached").WithDetails("30m elapsed")
	assert.Equal(t, "timeout: global ceiling reached (30m elapsed)", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := Wrap(cause, TypeWriteFailed, "write_proposals failed")
	require.Equal(t, cause, wrapped.Cause)
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, cause))
}

func TestWrapfFormatsMessage(t *testing.T) {
	cause := errors.New("statement_canceled")
	wrapped := Wrapf(cause, TypeWriteFailed, "batch %d failed after %d retries", 3, 5)
	assert.Equal(t, "batch 3 failed after 5 retries", wrapped.Message)
}

func TestIsComparesByType(t *testing.T) {
	err := New(TypeCancelled, "run cancelled")
	assert.True(t, errors.Is(err, New(TypeCancelled, "")))
	assert.False(t, errors.Is(err, New(TypeTimeout, "")))
}

func TestExitCodeMapping(t *testing.T) {
	cases := map[Type]int{
		TypeNoEligibleReps:     2,
		TypeTimeout:            3,
		TypeCancelled:          4,
		TypeWriteFailed:        5,
		TypeInvariantViolation: 1,
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.ExitCode())
	}
}

func TestConstructorHelpers(t *testing.T) {
	assert.Equal(t, TypeNoEligibleReps, NoEligibleReps("x").Type)
	assert.Equal(t, TypeTimeout, Timeout("x").Type)
	assert.Equal(t, TypeCancelled, Cancelled("x").Type)
	assert.Equal(t, TypeWriteFailed, WriteFailed("x").Type)
	assert.Equal(t, TypeInvariantViolation, InvariantViolation("x").Type)
}
