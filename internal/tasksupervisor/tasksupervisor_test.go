package tasksupervisor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicateName(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register(Job{Name: "a", Schedule: "@every 1h", Run: func() error { return nil }}))
	err := s.Register(Job{Name: "a", Schedule: "@every 1h", Run: func() error { return nil }})
	require.Error(t, err)
}

func TestRegisterRejectsInvalidSchedule(t *testing.T) {
	s := New(nil)
	err := s.Register(Job{Name: "bad", Schedule: "not a schedule", Run: func() error { return nil }})
	require.Error(t, err)
}

func TestTriggerRunsJobImmediately(t *testing.T) {
	s := New(nil)
	var ran atomic.Bool
	require.NoError(t, s.Register(Job{Name: "once", Schedule: "@every 1h", Run: func() error {
		ran.Store(true)
		return nil
	}}))

	require.NoError(t, s.Trigger("once"))
	require.Eventually(t, ran.Load, time.Second, 10*time.Millisecond)
}

func TestTriggerUnknownJobErrors(t *testing.T) {
	s := New(nil)
	require.Error(t, s.Trigger("missing"))
}

func TestStatusReflectsLastError(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register(Job{Name: "failing", Schedule: "@every 1h", Run: func() error {
		return errors.New("boom")
	}}))
	require.NoError(t, s.Trigger("failing"))

	require.Eventually(t, func() bool {
		for _, st := range s.Status() {
			if st.Name == "failing" && st.LastError == "boom" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register(Job{Name: "panics", Schedule: "@every 1h", Run: func() error {
		panic("kaboom")
	}}))
	require.NoError(t, s.Trigger("panics"))

	require.Eventually(t, func() bool {
		for _, st := range s.Status() {
			if st.Name == "panics" && st.LastError != "" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var runCount atomic.Int32
	require.NoError(t, s.Register(Job{Name: "slow", Schedule: "@every 1h", Run: func() error {
		runCount.Add(1)
		close(started)
		<-release
		return nil
	}}))

	require.NoError(t, s.Trigger("slow"))
	<-started
	// A second trigger while the first is still running should be a no-op
	// rather than queuing — tasksupervisor skips overlapping runs, it does
	// not serialize them.
	require.NoError(t, s.Trigger("slow"))
	close(release)

	require.Eventually(t, func() bool { return runCount.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStartStopIsIdempotent(t *testing.T) {
	s := New(nil)
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
