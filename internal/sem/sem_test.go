package sem

import (
	"testing"
	"time"

	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/sched"
)

func newTestScheduler(t *testing.T, cores int) *sched.Scheduler {
	t.Helper()
	s := sched.New(cores, nil, nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestTryWaitSucceedsThenFails(t *testing.T) {
	s := newTestScheduler(t, 1)
	sm := New(s, 1, -1, 1, 1)
	th := kthread.New(1, 5, 64, nil, nil)

	if err := sm.TryWait(th); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := sm.TryWait(th); !kerr.IsCode(err, kerr.CodeSemUnavailable) {
		t.Fatalf("expected CodeSemUnavailable, got %v", err)
	}
}

func TestWaitBlocksUntilSignal(t *testing.T) {
	s := newTestScheduler(t, 1)
	sm := New(s, 1, -1, 0, 1)

	done := make(chan error, 1)
	th := kthread.New(1, 0, 64, func(th *kthread.Thread) {
		done <- sm.Wait(th)
	}, nil)
	s.AddThread(th, func(th *kthread.Thread) { th.State = kthread.StateDead })

	time.Sleep(50 * time.Millisecond)

	signaller := kthread.New(2, 0, 64, nil, nil)
	added, woken := sm.Signal(signaller, 1)
	if added != 1 || woken != 1 {
		t.Fatalf("expected added=1 woken=1, got added=%d woken=%d", added, woken)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal to unblock waiter")
	}
	if got := sm.Count(); got != 0 {
		t.Fatalf("expected count 0 after wait consumed the signal, got %d", got)
	}
}

func TestSignalClampsToMax(t *testing.T) {
	s := newTestScheduler(t, 1)
	sm := New(s, 1, -1, 0, 2)
	th := kthread.New(1, 5, 64, nil, nil)

	added, woken := sm.Signal(th, 5)
	if added != 2 {
		t.Fatalf("expected added clamped to 2, got %d", added)
	}
	if woken != 0 {
		t.Fatalf("expected no waiters woken, got %d", woken)
	}
	if got := sm.Count(); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
}

func TestDestroyWakesWaitersWithIntr(t *testing.T) {
	s := newTestScheduler(t, 2)
	sm := New(s, 1, -1, 0, 1)

	const n = 3
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		th := kthread.New(uint32(i+1), 0, 64, func(th *kthread.Thread) {
			results <- sm.Wait(th)
		}, nil)
		s.AddThread(th, func(th *kthread.Thread) { th.State = kthread.StateDead })
	}

	time.Sleep(50 * time.Millisecond)

	woken := sm.Destroy()
	if woken != n {
		t.Fatalf("expected to wake %d waiters, woke %d", n, woken)
	}
	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if !kerr.IsCode(err, kerr.CodeIntr) {
				t.Fatalf("expected CodeIntr, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}
