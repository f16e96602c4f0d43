package boot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/memmap"
	"github.com/hle-ios/kernel/internal/resource"
	"github.com/hle-ios/kernel/internal/sched"
	"github.com/hle-ios/kernel/internal/timer"
)

func newTestSubsystems(t *testing.T) Subsystems {
	t.Helper()
	s := sched.New(1, nil, nil)
	s.Start()
	t.Cleanup(s.Stop)
	return Subsystems{
		Scheduler: s,
		Allocator: memmap.NewAllocator(constants.TotalPhysicalMemory),
		Resources: resource.New(nil, nil),
		Timers:    timer.NewManager(time.Now()),
	}
}

func okRPC(ctx context.Context, m ManagerEntry) error { return nil }

func TestResumeSequencerAdvancesToResumed(t *testing.T) {
	seq := NewResumeSequencer(time.Second)
	state := seq.Resume(ManagerEntry{DevicePath: "/dev/test"}, okRPC, okRPC)
	if state != Resumed {
		t.Fatalf("expected Resumed, got %v", state)
	}
}

func TestResumeSequencerFatalOnRPCFailure(t *testing.T) {
	seq := NewResumeSequencer(time.Second)
	failRPC := func(ctx context.Context, m ManagerEntry) error { return errors.New("boom") }

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on RPC failure")
		}
		if _, ok := r.(*kerr.Fault); !ok {
			t.Fatalf("expected *kerr.Fault panic, got %T", r)
		}
	}()
	seq.Resume(ManagerEntry{DevicePath: "/dev/test"}, failRPC, okRPC)
}

func TestResumeSequencerFatalOnTimeout(t *testing.T) {
	seq := NewResumeSequencer(10 * time.Millisecond)
	hangRPC := func(ctx context.Context, m ManagerEntry) error {
		<-ctx.Done()
		return ctx.Err()
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on timeout")
		}
	}()
	seq.Resume(ManagerEntry{DevicePath: "/dev/test"}, hangRPC, okRPC)
}

func TestSequenceForksProcessesAndAssignsCapabilities(t *testing.T) {
	ss := newTestSubsystems(t)

	processes := []ProcessEntry{
		{ProcID: 1, Name: "privileged", Priority: 32, Privileged: true},
		{ProcID: 2, Name: "normal", Priority: 64},
	}

	result, err := Sequence(ss, processes, nil, okRPC, okRPC)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}

	if result.SharedHeap.ID != constants.SharedHeapID {
		t.Fatalf("expected shared heap id %d, got %d", constants.SharedHeapID, result.SharedHeap.ID)
	}
	if result.CrossProcessHeap.ID != constants.CrossProcessHeapID {
		t.Fatalf("expected cross-process heap id %d, got %d", constants.CrossProcessHeapID, result.CrossProcessHeap.ID)
	}
	if len(result.Processes) != 2 {
		t.Fatalf("expected 2 forked processes, got %d", len(result.Processes))
	}

	priv := result.Processes[1]
	if priv.Thread.Name != "privileged" {
		t.Fatalf("unexpected thread name: %s", priv.Thread.Name)
	}
	if !priv.Capability.HasPermission(constants.AllFeaturesID, 1) {
		t.Fatal("privileged process should hold the all-capability")
	}

	normal := result.Processes[2]
	if normal.Capability.HasPermission(constants.AllFeaturesID, 1) {
		t.Fatal("non-privileged process should not hold the all-capability")
	}
	if !normal.Capability.HasPermission(constants.DefaultFeatureID, 1) {
		t.Fatal("non-privileged process should hold the default capability")
	}
}

func TestSequenceWalksManagerTable(t *testing.T) {
	ss := newTestSubsystems(t)
	var resumed []string
	resumeRPC := func(ctx context.Context, m ManagerEntry) error {
		resumed = append(resumed, m.DevicePath)
		return nil
	}

	managers := []ManagerEntry{
		{DevicePath: "/dev/fs", ProcID: 1},
		{DevicePath: "/dev/es", ProcID: 2},
	}

	if _, err := Sequence(ss, nil, managers, okRPC, resumeRPC); err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(resumed) != 2 || resumed[0] != "/dev/fs" || resumed[1] != "/dev/es" {
		t.Fatalf("expected both managers resumed in order, got %v", resumed)
	}
}
