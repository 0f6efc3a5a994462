// Package loop provides the single-threaded event loop that owns all
// synchronization state. Closures posted to a Loop run one at a time in
// submission order; timers post their callback to the same queue when due.
// Components driven by a Loop therefore never need locks.
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Loop is a cooperative event loop with timers driven by a clockwork.Clock.
type Loop struct {
	clock clockwork.Clock

	mu     sync.Mutex
	queue  []func()
	timers timerHeap
	nextID uint64
	spawn  func(func())

	wake chan struct{}
}

// New creates a Loop whose off-loop work runs on new goroutines.
func New(clock clockwork.Clock) *Loop {
	return &Loop{
		clock: clock,
		spawn: func(f func()) { go f() },
		wake:  make(chan struct{}, 1),
	}
}

// NewManual creates a Loop that runs off-loop work inline. Combined with a
// fake clock and RunDue it makes event ordering fully deterministic in tests.
func NewManual(clock clockwork.Clock) *Loop {
	l := New(clock)
	l.spawn = func(f func()) { f() }
	return l
}

// SetSpawner replaces the function used by Go to run off-loop work.
func (l *Loop) SetSpawner(spawn func(func())) {
	l.mu.Lock()
	l.spawn = spawn
	l.mu.Unlock()
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Post enqueues f to run on the loop. Safe from any goroutine.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	l.notify()
}

// Go runs work off the loop and posts its returned continuation back onto
// the loop. A nil continuation is ignored.
func (l *Loop) Go(work func() func()) {
	l.mu.Lock()
	spawn := l.spawn
	l.mu.Unlock()
	spawn(func() {
		if next := work(); next != nil {
			l.Post(next)
		}
	})
}

// Call posts f and waits for it to finish on the loop.
func (l *Loop) Call(ctx context.Context, f func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules f to run on the loop once d has elapsed on the clock.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	l.mu.Lock()
	l.nextID++
	t := &Timer{loop: l, id: l.nextID, at: l.clock.Now().Add(d), fn: f, index: -1}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.notify()
	return t
}

// RunDue runs every due timer callback and queued closure, including any
// that they schedule, until nothing runnable remains. It returns the number
// of closures executed. Call it only from the goroutine that owns the loop.
func (l *Loop) RunDue() int {
	n := 0
	for {
		f := l.next()
		if f == nil {
			return n
		}
		f()
		n++
	}
}

// next pops the earliest due timer or, failing that, the oldest queued closure.
func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if len(l.timers) > 0 && !l.timers[0].at.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		t.fired = true
		return t.fn
	}
	if len(l.queue) > 0 {
		f := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		return f
	}
	return nil
}

// untilNext returns the wait until the earliest timer, and false if none are pending.
func (l *Loop) untilNext() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	return l.timers[0].at.Sub(l.clock.Now()), true
}

// Pending returns the number of queued closures and armed timers.
func (l *Loop) Pending() (queued, timers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue), len(l.timers)
}

// Run processes events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunDue()

		var timerC <-chan time.Time
		var timer clockwork.Timer
		if wait, ok := l.untilNext(); ok {
			timer = l.clock.NewTimer(max(wait, 0))
			timerC = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Timer is a pending loop callback.
type Timer struct {
	loop  *Loop
	id    uint64
	at    time.Time
	fn    func()
	index int
	fired bool
}

// Stop cancels the timer. It returns false if the timer already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&l.timers, t.index)
	return true
}

// Deadline returns when the timer is due.
func (t *Timer) Deadline() time.Time { return t.at }

// timerHeap orders timers by deadline, then by creation order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
