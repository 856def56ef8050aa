package tasks

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestScheduleRunsOnce(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Schedule("login:gemini", 50*time.Millisecond, func() { runs.Add(1) }))
	assert.True(t, s.Pending("login:gemini"))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.Pending("login:gemini"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduleImmediate(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan struct{})

	require.NoError(t, s.Schedule("now", 0, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestCancelPreventsRun(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Schedule("login:chatgpt", 100*time.Millisecond, func() { runs.Add(1) }))
	assert.True(t, s.Cancel("login:chatgpt"))
	assert.False(t, s.Cancel("login:chatgpt"))

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestRescheduleReplacesPending(t *testing.T) {
	s := newTestScheduler(t)
	var first, second atomic.Int32

	require.NoError(t, s.Schedule("login:claude", 100*time.Millisecond, func() { first.Add(1) }))
	require.NoError(t, s.Schedule("login:claude", 50*time.Millisecond, func() { second.Add(1) }))

	assert.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, first.Load())
}
