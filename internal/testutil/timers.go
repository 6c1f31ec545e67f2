package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/slicestore/internal/engine"
)

// ManualTimers is a virtual-time timer source for engine.Loop.
//
// Time only moves when the test calls Advance or AdvanceTo. Due timers fire
// in deadline order (ties in creation order) on the calling goroutine.
//
//	timers := testutil.NewManualTimers()
//	loop := engine.NewLoop(engine.WithTimerFunc(timers.TimerFunc()))
//	...
//	timers.Advance(time.Second)
//	loop.RunPending(ctx)
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualTimers struct {
	mu     sync.Mutex
	now    time.Duration
	nextID uint64
	timers []*manualTimer
}

type manualTimer struct {
	owner    *ManualTimers
	id       uint64
	deadline time.Duration
	f        func()
	done     bool // fired or stopped
}

// NewManualTimers creates a timer source at virtual time 0.
func NewManualTimers() *ManualTimers {
	return &ManualTimers{}
}

// TimerFunc returns the engine.TimerFunc backed by this source.
func (m *ManualTimers) TimerFunc() engine.TimerFunc {
	return func(d time.Duration, f func()) engine.Timer {
		m.mu.Lock()
		defer m.mu.Unlock()

		if d < 0 {
			d = 0
		}
		m.nextID++
		t := &manualTimer{owner: m, id: m.nextID, deadline: m.now + d, f: f}
		m.timers = append(m.timers, t)
		return t
	}
}

// Stop implements engine.Timer.
func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.owner.prune()
	return true
}

// Now returns the current virtual time.
func (m *ManualTimers) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (m *ManualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDeadline returns the virtual time of the earliest pending timer.
func (m *ManualTimers) NextDeadline() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.timers) == 0 {
		return 0, false
	}
	next := m.timers[0].deadline
	for _, t := range m.timers[1:] {
		if t.deadline < next {
			next = t.deadline
		}
	}
	return next, true
}

// Advance moves virtual time forward by d and fires every timer now due.
func (m *ManualTimers) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	return m.AdvanceTo(target)
}

// AdvanceTo moves virtual time to t (never backwards) and fires every timer
// now due. Returns the number of timers fired.
//
// Callbacks run after the lock is released, so a callback may create new
// timers; those fire on a later Advance even if already due.
func (m *ManualTimers) AdvanceTo(t time.Duration) int {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}

	var due []*manualTimer
	for _, timer := range m.timers {
		if timer.deadline <= m.now {
			timer.done = true
			due = append(due, timer)
		}
	}
	m.prune()
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].id < due[j].id
	})
	for _, timer := range due {
		timer.f()
	}
	return len(due)
}

// prune drops finished timers. Caller holds mu.
func (m *ManualTimers) prune() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(m.timers); i++ {
		m.timers[i] = nil
	}
	m.timers = live
}
