package loop

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_PostRunsInOrder(t *testing.T) {
	l := NewManual(clockwork.NewFakeClock())

	var got []int
	for i := range 3 {
		l.Post(func() { got = append(got, i) })
	}

	assert.Equal(t, 3, l.RunDue())
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestLoop_TimerFiresOnlyWhenDue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewManual(clock)

	fired := 0
	l.AfterFunc(time.Second, func() { fired++ })

	l.RunDue()
	assert.Equal(t, 0, fired)

	clock.Advance(999 * time.Millisecond)
	l.RunDue()
	assert.Equal(t, 0, fired)

	clock.Advance(time.Millisecond)
	l.RunDue()
	assert.Equal(t, 1, fired)

	clock.Advance(time.Hour)
	l.RunDue()
	assert.Equal(t, 1, fired, "timers fire once")
}

func TestLoop_TimersFireInDeadlineOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewManual(clock)

	var got []string
	l.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	l.AfterFunc(1*time.Second, func() { got = append(got, "a") })
	l.AfterFunc(2*time.Second, func() { got = append(got, "b") })

	clock.Advance(5 * time.Second)
	l.RunDue()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestLoop_StopCancelsTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewManual(clock)

	fired := false
	timer := l.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop is a no-op")

	clock.Advance(2 * time.Second)
	l.RunDue()
	assert.False(t, fired)

	var nilTimer *Timer
	assert.False(t, nilTimer.Stop())
}

func TestLoop_StopAfterFireReturnsFalse(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewManual(clock)

	timer := l.AfterFunc(time.Second, func() {})
	clock.Advance(time.Second)
	l.RunDue()
	assert.False(t, timer.Stop())
}

func TestLoop_GoPostsContinuation(t *testing.T) {
	l := NewManual(clockwork.NewFakeClock())

	var steps []string
	l.Go(func() func() {
		steps = append(steps, "work")
		return func() { steps = append(steps, "continuation") }
	})
	assert.Equal(t, []string{"work"}, steps, "continuation waits for the loop")

	l.RunDue()
	assert.Equal(t, []string{"work", "continuation"}, steps)
}

func TestLoop_DeferredSpawner(t *testing.T) {
	l := NewManual(clockwork.NewFakeClock())
	var deferred []func()
	l.SetSpawner(func(f func()) { deferred = append(deferred, f) })

	var got []int
	for i := range 2 {
		l.Go(func() func() { return func() { got = append(got, i) } })
	}
	require.Len(t, deferred, 2)

	// Complete out of order.
	deferred[1]()
	deferred[0]()
	l.RunDue()
	assert.Equal(t, []int{1, 0}, got)
}

func TestLoop_RunAndCall(t *testing.T) {
	l := New(clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	value := 0
	require.NoError(t, l.Call(ctx, func() { value = 42 }))
	assert.Equal(t, 42, value)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestLoop_CallHonoursContext(t *testing.T) {
	l := New(clockwork.NewRealClock()) // never run
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Call(ctx, func() {}), context.Canceled)
}

func TestLoop_Pending(t *testing.T) {
	l := NewManual(clockwork.NewFakeClock())
	l.Post(func() {})
	l.AfterFunc(time.Minute, func() {})

	queued, timers := l.Pending()
	assert.Equal(t, 1, queued)
	assert.Equal(t, 1, timers)
}
