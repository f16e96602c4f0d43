// Package timer implements the kernel's timer subsystem: a running-timer
// list ordered by next-trigger time, a single armed host alarm for the
// earliest one, and posting of a preset message (with optional periodic
// rearm) when it fires (spec.md §3 "Timer", §4.2).
package timer

import (
	"sync"
	"time"

	"github.com/hle-ios/kernel/internal/mqueue"
)

// Timer is a single kernel timer. Fields mirror spec.md §3 "Timer";
// next/TriggerAt implement the intrusive sorted running-list membership
// instead of the spec's doubly-linked index pair, consistent with how
// internal/kthread.Queue models the thread wait lists.
type Timer struct {
	UID    uint32
	ProcID int32

	TriggerAt int64 // ns since boot; valid only while in the running list
	PeriodNs  int64 // 0 = one-shot

	Queue *mqueue.Queue
	Msg   mqueue.Message

	running bool
	next    *Timer
}

// Running reports whether the timer is currently in the armed running
// list (spec.md §3 state ∈ {Free, Stopped, Ready, Running}; Manager only
// models the Running/not-Running distinction, since Free/Stopped/Ready
// are bookkeeping the owning resource — thread or process table — does).
func (t *Timer) Running() bool { return t.running }

// Manager owns the global running-timer list and the single host alarm
// armed for its head.
type Manager struct {
	mu    sync.Mutex
	head  *Timer
	alarm *time.Timer
	boot  time.Time
}

// NewManager creates a timer manager whose clock reads nanoseconds since
// boot, the monotonic epoch spec.md §3 "Timer" measures trigger times
// against.
func NewManager(boot time.Time) *Manager {
	return &Manager{boot: boot}
}

// Now returns nanoseconds elapsed since boot.
func (m *Manager) Now() int64 {
	return time.Since(m.boot).Nanoseconds()
}

// Create builds a timer and, if delayNs or periodNs is non-zero, inserts
// it into the running list and arms/rearms the host alarm. A timer with
// both zero is left Free — not inserted — per spec.md §8's edge case
// ("create call returns OK with no trigger scheduled").
func (m *Manager) Create(uid uint32, procID int32, delayNs, periodNs int64, q *mqueue.Queue, msg mqueue.Message) *Timer {
	t := &Timer{UID: uid, ProcID: procID, PeriodNs: periodNs, Queue: q, Msg: msg}
	if delayNs == 0 && periodNs == 0 {
		return t
	}
	t.TriggerAt = m.Now() + delayNs
	m.arm(t)
	return t
}

// Restart re-arms t for now+delayNs with a new period, implementing
// restart-timer. If t was already running it is first removed.
func (m *Manager) Restart(t *Timer, delayNs, periodNs int64) {
	m.mu.Lock()
	m.removeLocked(t)
	m.mu.Unlock()

	t.PeriodNs = periodNs
	if delayNs == 0 && periodNs == 0 {
		return
	}
	t.TriggerAt = m.Now() + delayNs
	m.arm(t)
}

// Stop removes t from the running list without discarding it, implementing
// stop-timer. A timer already stopped is a no-op.
func (m *Manager) Stop(t *Timer) {
	m.mu.Lock()
	wasHead := m.head == t
	removed := m.removeLocked(t)
	next := m.head
	m.mu.Unlock()

	if removed && wasHead {
		m.rearmOrDisarm(next)
	}
}

// Destroy removes t from the running list; equivalent to Stop but named
// for the destroy-timer call site, which never reuses t afterward.
func (m *Manager) Destroy(t *Timer) {
	m.Stop(t)
}

// arm inserts t into the running list and, if it became the new head,
// (re)arms the host alarm for its trigger time.
func (m *Manager) arm(t *Timer) {
	m.mu.Lock()
	m.insertLocked(t)
	becameHead := m.head == t
	trigger := t.TriggerAt
	m.mu.Unlock()

	if becameHead {
		m.rearmAt(trigger)
	}
}

func (m *Manager) insertLocked(t *Timer) {
	t.running = true
	if m.head == nil || m.head.TriggerAt > t.TriggerAt {
		t.next = m.head
		m.head = t
		return
	}
	prev := m.head
	for prev.next != nil && prev.next.TriggerAt <= t.TriggerAt {
		prev = prev.next
	}
	t.next = prev.next
	prev.next = t
}

// removeLocked unlinks t from the running list if present. Must be
// called with m.mu held.
func (m *Manager) removeLocked(t *Timer) bool {
	if !t.running {
		return false
	}
	if m.head == t {
		m.head = t.next
		t.next = nil
		t.running = false
		return true
	}
	prev := m.head
	for prev != nil && prev.next != t {
		prev = prev.next
	}
	if prev == nil {
		return false
	}
	prev.next = t.next
	t.next = nil
	t.running = false
	return true
}

func (m *Manager) rearmOrDisarm(newHead *Timer) {
	if newHead == nil {
		m.disarm()
		return
	}
	m.rearmAt(newHead.TriggerAt)
}

func (m *Manager) rearmAt(triggerAt int64) {
	delay := time.Duration(triggerAt - m.Now())
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	if m.alarm != nil {
		m.alarm.Stop()
	}
	m.alarm = time.AfterFunc(delay, m.fire)
	m.mu.Unlock()
}

func (m *Manager) disarm() {
	m.mu.Lock()
	if m.alarm != nil {
		m.alarm.Stop()
		m.alarm = nil
	}
	m.mu.Unlock()
}

// fire pops every timer whose trigger has passed, posts each's message
// (drop-if-full, no blocking — spec.md §4.2), reinserts periodic timers
// at now+period (the time this fire ran, not the missed trigger time),
// and rearms the alarm for whatever is now the head.
func (m *Manager) fire() {
	now := m.Now()

	m.mu.Lock()
	var due []*Timer
	for m.head != nil && m.head.TriggerAt <= now {
		t := m.head
		m.head = t.next
		t.next = nil
		t.running = false
		due = append(due, t)
	}
	m.mu.Unlock()

	for _, t := range due {
		if t.Queue != nil {
			t.Queue.Offer(t.Msg)
		}
		if t.PeriodNs > 0 {
			t.TriggerAt = now + t.PeriodNs
			m.mu.Lock()
			m.insertLocked(t)
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	next := m.head
	m.mu.Unlock()
	m.rearmOrDisarm(next)
}
