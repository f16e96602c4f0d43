package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/hle-ios/kernel/internal/kerr"
)

// ResumeState is a resource manager's boot-time resume state (spec.md
// §4.6 step 5: "NotRegistered → Registered → Pending → Resumed").
type ResumeState int

const (
	NotRegistered ResumeState = iota
	Registered
	Pending
	Resumed
)

func (s ResumeState) String() string {
	switch s {
	case NotRegistered:
		return "NotRegistered"
	case Registered:
		return "Registered"
	case Pending:
		return "Pending"
	case Resumed:
		return "Resumed"
	default:
		return "Unknown"
	}
}

// AsyncRPC is the shape of the two RPCs the resume sequencer drives —
// async open and async resume (spec.md §4.6 step 5). It must respect
// ctx's deadline; a call that neither completes nor returns before the
// deadline is treated the same as one that returns a non-nil error.
type AsyncRPC func(ctx context.Context, m ManagerEntry) error

// ResumeSequencer drives one registered resource manager through
// Pending and Resumed using a fixed per-step timeout. The table and
// state machine are a faithful reproduction of the firmware's
// behaviour (spec.md §4.6): a timeout at any stage is fatal.
type ResumeSequencer struct {
	stepTimeout time.Duration
}

// NewResumeSequencer creates a sequencer with the given per-step timeout
// (spec.md §4.6: "a 10-second per-step timeout").
func NewResumeSequencer(stepTimeout time.Duration) *ResumeSequencer {
	return &ResumeSequencer{stepTimeout: stepTimeout}
}

// Resume drives m from Registered through Pending to Resumed by
// invoking asyncOpen then asyncResume under stepTimeout. Panics with a
// *kerr.Fault if either RPC fails or times out.
func (s *ResumeSequencer) Resume(m ManagerEntry, asyncOpen, asyncResume AsyncRPC) ResumeState {
	state := Registered
	state = s.runStep(state, Pending, m, asyncOpen)
	state = s.runStep(state, Resumed, m, asyncResume)
	return state
}

func (s *ResumeSequencer) runStep(from, to ResumeState, m ManagerEntry, rpc AsyncRPC) ResumeState {
	ctx, cancel := context.WithTimeout(context.Background(), s.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rpc(ctx, m) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	kerr.Assert("RESUME", err == nil,
		fmt.Sprintf("manager %q failed %s -> %s: %v", m.DevicePath, from, to, err))
	return to
}
