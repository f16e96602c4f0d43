package timer

import (
	"testing"
	"time"

	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/mqueue"
	"github.com/hle-ios/kernel/internal/sched"
)

func newTestScheduler(t *testing.T, cores int) *sched.Scheduler {
	t.Helper()
	s := sched.New(cores, nil, nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

// receiveN spawns a kernel thread that blocking-receives n messages from
// q and reports each one on the returned channel, in order.
func receiveN(s *sched.Scheduler, q *mqueue.Queue, n int) <-chan mqueue.Message {
	out := make(chan mqueue.Message, n)
	th := kthread.New(1, -1, 64, func(th *kthread.Thread) {
		for i := 0; i < n; i++ {
			msg, err := q.Receive(th, true)
			if err != nil {
				return
			}
			out <- msg
		}
	}, nil)
	s.AddThread(th, func(th *kthread.Thread) { th.State = kthread.StateDead })
	return out
}

func TestOneShotTimerPostsOnce(t *testing.T) {
	s := newTestScheduler(t, 1)
	q := mqueue.New(s, nil, 1, -1, 4)
	m := NewManager(time.Now())

	tm := m.Create(1, -1, (20 * time.Millisecond).Nanoseconds(), 0, q, 42)
	if !tm.Running() {
		t.Fatal("expected timer to be inserted into the running list")
	}

	received := receiveN(s, q, 1)
	select {
	case msg := <-received:
		if msg != 42 {
			t.Fatalf("expected message 42, got %d", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer to fire")
	}

	time.Sleep(30 * time.Millisecond)
	if tm.Running() {
		t.Fatal("expected one-shot timer to leave the running list after firing")
	}
}

func TestPeriodicTimerRearms(t *testing.T) {
	s := newTestScheduler(t, 1)
	q := mqueue.New(s, nil, 1, -1, 8)
	m := NewManager(time.Now())

	delay := 15 * time.Millisecond
	period := 15 * time.Millisecond
	tm := m.Create(1, -1, delay.Nanoseconds(), period.Nanoseconds(), q, 7)
	defer m.Destroy(tm)

	received := receiveN(s, q, 3)
	for i := 0; i < 3; i++ {
		select {
		case msg := <-received:
			if msg != 7 {
				t.Fatalf("expected message 7, got %d", msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for periodic fire %d", i)
		}
	}
}

func TestZeroDelayAndPeriodNotInserted(t *testing.T) {
	m := NewManager(time.Now())
	tm := m.Create(1, -1, 0, 0, nil, 0)
	if tm.Running() {
		t.Fatal("expected timer with zero delay and period to not be inserted")
	}
}

func TestDestroyStopsFurtherMessages(t *testing.T) {
	s := newTestScheduler(t, 1)
	q := mqueue.New(s, nil, 1, -1, 8)
	m := NewManager(time.Now())

	tm := m.Create(1, -1, (10 * time.Millisecond).Nanoseconds(), (10 * time.Millisecond).Nanoseconds(), q, 9)

	received := receiveN(s, q, 1)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first fire")
	}

	m.Destroy(tm)
	if tm.Running() {
		t.Fatal("expected timer to leave running list after destroy")
	}

	time.Sleep(40 * time.Millisecond)
	if n := q.Len(); n != 0 {
		t.Fatalf("expected no further messages after destroy, queue has %d", n)
	}
}

func TestStopThenRestart(t *testing.T) {
	s := newTestScheduler(t, 1)
	q := mqueue.New(s, nil, 1, -1, 8)
	m := NewManager(time.Now())

	tm := m.Create(1, -1, (10 * time.Millisecond).Nanoseconds(), 0, q, 5)
	m.Stop(tm)
	if tm.Running() {
		t.Fatal("expected timer to be stopped")
	}

	time.Sleep(30 * time.Millisecond)
	if n := q.Len(); n != 0 {
		t.Fatalf("expected no message while stopped, queue has %d", n)
	}

	m.Restart(tm, (10 * time.Millisecond).Nanoseconds(), 0)
	received := receiveN(s, q, 1)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for restarted timer to fire")
	}
}
