// Package interrupt implements the kernel's event/interrupt plane: a
// fixed-size event-handler slot table indexed by device id, two 32-bit
// status words mirroring hardware interrupt pending/mask semantics, and
// the raise/drain cycle that turns a raised bit into a posted message
// (spec.md §3 "Event handler table", §4.3).
package interrupt

import (
	"sync"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/mqueue"
	"github.com/hle-ios/kernel/internal/sched"
)

// Slot is one device id's event-handler binding.
type Slot struct {
	Queue      *mqueue.Queue
	Msg        mqueue.Message
	ProcID     int32
	registered bool
}

// Plane owns the slot table and the AHBALL (pending)/AHBLT (mask) status
// words. Its own mutex guards all three; it never needs to hold the
// scheduler's global lock, since delivery goes through
// mqueue.Queue.Offer, which is independently atomic.
type Plane struct {
	mu     sync.Mutex
	slots  [constants.MaxEventDevices]Slot
	ahball uint32 // pending-interrupt status bits
	ahblt  uint32 // enabled (mask) bits

	sched *sched.Scheduler
}

// NewPlane creates an event plane with every device id unregistered.
func NewPlane(s *sched.Scheduler) *Plane {
	return &Plane{sched: s}
}

func validDevice(deviceID int) bool {
	return deviceID >= 0 && deviceID < constants.MaxEventDevices
}

// RegisterEvent stores (queue, message) in device id's slot and marks the
// queue as registered for event delivery (HasEventHandler), so that
// Kernel.DestroyQueue logs a warning and clears the slot rather than
// letting the queue silently vanish (spec.md §4.3).
func (p *Plane) RegisterEvent(deviceID int, procID int32, q *mqueue.Queue, msg mqueue.Message) error {
	if !validDevice(deviceID) {
		return kerr.NewProcess("REGISTER_EVENT", procID, kerr.CodeInvalid, "device id out of range")
	}
	p.mu.Lock()
	p.slots[deviceID] = Slot{Queue: q, Msg: msg, ProcID: procID, registered: true}
	p.mu.Unlock()
	if q != nil {
		q.HasEventHandler = true
	}
	return nil
}

// ClearAndEnable clears device id's pending-status bit and sets its mask
// bit. Per spec.md §4.3 the clear may conservatively be skipped — this
// implementation does clear it, so an interrupt raised for this device
// before the call and not yet drained is discarded rather than delivered
// as an extra wakeup.
func (p *Plane) ClearAndEnable(deviceID int) error {
	if !validDevice(deviceID) {
		return kerr.New("CLEAR_AND_ENABLE", kerr.CodeInvalid, "device id out of range")
	}
	bit := uint32(1) << uint(deviceID)
	p.mu.Lock()
	p.ahball &^= bit
	p.ahblt |= bit
	p.mu.Unlock()
	return nil
}

// RaiseInterrupt ORs mask into the pending status word and wakes any core
// loop idling on the scheduler's condition variable, standing in for
// "notifies the core loop" on real hardware (spec.md §4.3).
func (p *Plane) RaiseInterrupt(mask uint32) {
	p.mu.Lock()
	p.ahball |= mask
	p.mu.Unlock()
	p.sched.Broadcast()
}

// Drain walks every bit set in (pending & mask), posts the slot's preset
// message without blocking (dropping it if the queue is full), and
// clears-and-disables that bit. Afterward it reschedules the calling
// thread, matching spec.md §4.3's "Then it reschedules self." t must be
// the thread draining from its own goroutine (the root/interrupt thread).
func (p *Plane) Drain(t *kthread.Thread) {
	p.mu.Lock()
	due := p.ahball & p.ahblt
	var fired []Slot
	for bit := 0; bit < constants.MaxEventDevices; bit++ {
		mask := uint32(1) << uint(bit)
		if due&mask == 0 {
			continue
		}
		p.ahball &^= mask
		p.ahblt &^= mask
		fired = append(fired, p.slots[bit])
	}
	p.mu.Unlock()

	for _, slot := range fired {
		if slot.registered && slot.Queue != nil {
			slot.Queue.Offer(slot.Msg)
		}
	}

	p.sched.RescheduleSelf(t, false)
}

// UnregisterQueue clears any slot whose handler registration points at
// q, matching spec.md §3 "Message queue" Destroy's "if the queue is
// registered as an event handler slot the handler registration is
// cleared."
func (p *Plane) UnregisterQueue(q *mqueue.Queue) {
	if q == nil {
		return
	}
	p.mu.Lock()
	for i := range p.slots {
		if p.slots[i].registered && p.slots[i].Queue == q {
			p.slots[i] = Slot{}
		}
	}
	p.mu.Unlock()
	q.HasEventHandler = false
}

// Status returns the current (pending, mask) status words. Diagnostics
// only.
func (p *Plane) Status() (ahball, ahblt uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ahball, p.ahblt
}
