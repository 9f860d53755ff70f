package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesClassification(t *testing.T) {
	err := New(CodeIndexCorrupt, "boom", nil)
	assert.Equal(t, CategoryIO, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.False(t, err.Retryable)

	err = New(CodeTransientIO, "retry me", nil)
	assert.Equal(t, CategoryTransient, err.Category)
	assert.True(t, err.Retryable)
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap(CodeInternal, nil))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeCircuitOpen, "open", nil)
	wrapped := Wrap(CodeCircuitOpen, sentinel)
	assert.True(t, errors.Is(wrapped, sentinel))

	other := New(CodeInternal, "different", nil)
	assert.False(t, errors.Is(wrapped, other))
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("root cause")
	err := New(CodeInternal, "wrapping", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeInvalidInput, "bad", nil).WithDetail("field", "query")
	assert.Equal(t, "query", err.Details["field"])
}

func TestIsRetryableIsFatal(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeTransientIO, "x", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsFatal(New(CodeIndexCorrupt, "x", nil)))
	assert.False(t, IsFatal(New(CodeInvalidInput, "x", nil)))
}

func TestLifecycleLoopRiskAndCorruption(t *testing.T) {
	lr := LifecycleLoopRisk("self change")
	assert.Equal(t, CodeLifecycleLoopGuard, lr.Code)

	c := Corruption("bad meta", nil)
	assert.True(t, IsFatal(c))
}
