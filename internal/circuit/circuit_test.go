package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anortham/codesearch-engine/internal/engineerr"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test-op", Options{MaxFailures: 3, ResetTimeout: 50 * time.Millisecond})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return boom })
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, engineerr.CodeCircuitOpen, engineerr.Code(err))
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	b := New("test-op-2", Options{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})

	require.Error(t, b.Execute(func() error { return errors.New("fail") }))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestExecuteWithFallback(t *testing.T) {
	b := New("test-op-3", Options{MaxFailures: 1, ResetTimeout: time.Minute})
	require.Error(t, b.Execute(func() error { return errors.New("fail") }))

	result, err := ExecuteWithFallback(b, func() (string, error) {
		return "primary", nil
	}, func() (string, error) {
		return "fallback", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)
}

func TestOnStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("test-op-4", Options{
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	_ = b.Execute(func() error { return errors.New("fail") })
	require.NotEmpty(t, transitions)
	assert.Contains(t, transitions[0], "closed->open")
}
