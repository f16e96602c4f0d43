// Package mqueue implements the kernel message queue: a bounded ring of
// pointer-sized messages with two priority-ordered wait lists, one for
// receivers blocked on empty and one for senders blocked on full
// (spec.md §3 "Message queue", §4.2).
package mqueue

import (
	"github.com/hle-ios/kernel/internal/interfaces"
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/sched"
)

// Message is the pointer-sized value a queue carries — typically a
// physical address (an IPC block, a buffer) or a small integer tag a
// timer or interrupt handler posts as a wakeup sentinel.
type Message uint32

// Queue is a single kernel message queue.
type Queue struct {
	UID    uint32
	ProcID int32 // owning process; -1 for a kernel-owned queue

	sched *sched.Scheduler
	obs   interfaces.Observer

	ring      []Message
	head      int // index of the oldest message
	count     int
	destroyed bool

	receivers kthread.Queue // threads blocked on Receive (queue empty)
	senders   kthread.Queue // threads blocked on Send/Jam (queue full)

	// HasEventHandler records whether this queue is registered as an
	// event-handler slot (spec.md §3 "Message queue": "if the queue is
	// registered as an event handler slot the handler registration is
	// cleared" on destroy). internal/interrupt sets it in RegisterEvent and
	// clears it in UnregisterQueue.
	HasEventHandler bool
}

// New creates a queue of the given capacity, owned by procID (-1 for
// kernel-owned). capacity must be > 0.
func New(s *sched.Scheduler, obs interfaces.Observer, uid uint32, procID int32, capacity int) *Queue {
	return &Queue{
		UID:    uid,
		ProcID: procID,
		sched:  s,
		obs:    obs,
		ring:   make([]Message, capacity),
	}
}

func (q *Queue) capacity() int { return len(q.ring) }
func (q *Queue) full() bool    { return q.count == q.capacity() }
func (q *Queue) empty() bool   { return q.count == 0 }

// Len reports how many messages currently sit in the ring. Diagnostics
// only; the count is read under the scheduler lock, but the value may be
// stale the instant the lock is released.
func (q *Queue) Len() int {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.count
}

func (q *Queue) observe(op string, blocked bool) {
	if q.obs != nil {
		q.obs.ObserveMessageQueueOp(op, blocked)
	}
}

// Send enqueues msg at the tail. If the queue is full and blocking is
// false, it fails with CodeMax. If blocking, the calling thread sleeps on
// the sender wait list until space frees or the queue is destroyed.
// On success, wakes at most one receiver.
func (q *Queue) Send(t *kthread.Thread, msg Message, blocking bool) error {
	return q.enqueue(t, msg, blocking, false)
}

// Jam is Send but inserts at the head instead of the tail — used for
// high-priority messages that must be drained first (spec.md §3
// "Message queue": "Jam: same as send but insert at head").
func (q *Queue) Jam(t *kthread.Thread, msg Message, blocking bool) error {
	return q.enqueue(t, msg, blocking, true)
}

func (q *Queue) enqueue(t *kthread.Thread, msg Message, blocking, atHead bool) error {
	q.sched.Lock()
	for q.destroyed || q.full() {
		if q.destroyed {
			q.sched.Unlock()
			return kerr.NewObject("SEND", t.ProcID, q.UID, kerr.CodeIntr, "queue destroyed")
		}
		if !blocking {
			q.sched.Unlock()
			q.observe("send_full", false)
			return kerr.NewObject("SEND", t.ProcID, q.UID, kerr.CodeMax, "queue full")
		}
		q.observe("send", true)
		q.sched.SleepLocked(t, &q.senders)
		if t.WaitResult != nil {
			err := t.WaitResult
			q.sched.Unlock()
			return err
		}
	}

	if atHead {
		q.head = (q.head - 1 + q.capacity()) % q.capacity()
		q.ring[q.head] = msg
	} else {
		q.ring[(q.head+q.count)%q.capacity()] = msg
	}
	q.count++

	q.sched.WakeOneLocked(&q.receivers, nil)
	q.sched.Unlock()

	q.observe("send", false)
	q.sched.RescheduleSelf(t, false)
	return nil
}

// Receive removes and returns the message at the head. If the queue is
// empty and blocking is false, it fails with CodeMax. If blocking, the
// calling thread sleeps on the receiver wait list until a message
// arrives or the queue is destroyed. On success, wakes at most one
// blocked sender.
func (q *Queue) Receive(t *kthread.Thread, blocking bool) (Message, error) {
	q.sched.Lock()
	for q.empty() {
		if q.destroyed {
			q.sched.Unlock()
			return 0, kerr.NewObject("RECEIVE", t.ProcID, q.UID, kerr.CodeIntr, "queue destroyed")
		}
		if !blocking {
			q.sched.Unlock()
			q.observe("receive", false)
			return 0, kerr.NewObject("RECEIVE", t.ProcID, q.UID, kerr.CodeMax, "queue empty")
		}
		q.observe("receive", true)
		q.sched.SleepLocked(t, &q.receivers)
		if t.WaitResult != nil {
			err := t.WaitResult
			q.sched.Unlock()
			return 0, err
		}
	}

	msg := q.ring[q.head]
	q.head = (q.head + 1) % q.capacity()
	q.count--

	q.sched.WakeOneLocked(&q.senders, nil)
	q.sched.Unlock()

	q.observe("receive", false)
	q.sched.RescheduleSelf(t, false)
	return msg, nil
}

// Offer is the non-blocking send used from timer/interrupt context, where
// there is no calling kernel thread to fail or reschedule. On a full or
// destroyed queue the message is silently dropped rather than returning
// CodeMax (spec.md §4.2: a timer expiry posting a message "obeys the same
// invariants as send except the drop-if-full policy is used — no
// blocking from interrupt context"). On success every core's reschedule
// flag is set (sched.RescheduleOthers), since no particular calling
// thread exists to reschedule-self.
func (q *Queue) Offer(msg Message) {
	q.sched.Lock()
	if q.destroyed || q.full() {
		q.sched.Unlock()
		q.observe("send", false)
		return
	}
	q.ring[(q.head+q.count)%q.capacity()] = msg
	q.count++
	q.sched.WakeOneLocked(&q.receivers, nil)
	q.sched.Unlock()

	q.observe("send", false)
	q.sched.RescheduleOthers(-1)
}

// Destroy wakes every waiter on both wait lists with CodeIntr and marks
// the queue so any thread still racing toward Send/Receive sees it as
// destroyed rather than re-blocking. The caller is responsible for
// clearing any event-handler-slot registration pointing at this queue
// (internal/interrupt owns that table).
func (q *Queue) Destroy() int {
	q.sched.Lock()
	q.destroyed = true
	n := q.sched.WakeAllLocked(&q.receivers, kerr.New("DESTROY", kerr.CodeIntr, "queue destroyed"))
	n += q.sched.WakeAllLocked(&q.senders, kerr.New("DESTROY", kerr.CodeIntr, "queue destroyed"))
	q.sched.Unlock()
	return n
}
