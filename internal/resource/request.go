package resource

import (
	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/mqueue"
)

// Command identifies the guest call a Request represents (spec.md §3
// "IPC block": "command (enum: open/close/read/write/seek/ioctl/ioctlv/
// reply)").
type Command int

const (
	CmdOpen Command = iota
	CmdClose
	CmdRead
	CmdWrite
	CmdSeek
	CmdIoctl
	CmdIoctlv
	CmdReply
)

// ReplyTarget is the subset of the guest IPC block the reply path needs:
// write the outcome back and hand over the physical address the guest
// IPC driver submits (spec.md §4.4 "Reply"). internal/ipc's Block
// satisfies this.
type ReplyTarget interface {
	SetReply(result int32, deviceHandle int32)
	PhysAddr() uint32
}

// Request is a pooled object representing one in-flight guest call to a
// device (spec.md §3 "Resource request").
type Request struct {
	Command Command

	Path           string
	Mode           int32
	IoctlCmd       int32
	InBuf, OutBuf  uint32
	InLen, OutLen  uint32
	NumIn, NumOut  int32
	VecPtr         uint32
	Offset, Origin int32
	Ptr, Len       uint32

	CoreID  int
	ProcID  int32
	GroupID int32
	TitleID int64

	HandleID uint32

	// Reply routing: if IPCBlock is non-nil the reply writes into the
	// guest IPC block and invokes the IPC driver; otherwise ReplyQueue
	// receives ReplyMsg via non-blocking send (spec.md §4.4 "Reply").
	IPCBlock   ReplyTarget
	ReplyQueue *mqueue.Queue
	ReplyMsg   mqueue.Message

	manager *Manager
	next    *Request
	inUse   bool
	index   int
}

// Manager returns the manager this request was dispatched to.
func (req *Request) Manager() *Manager { return req.manager }

// Index is this request's stable slot index in the global pool — the
// value posted as the mqueue.Message so a manager's handler fiber can
// recover the *Request from the queue message it received.
func (req *Request) Index() int { return req.index }

// RequestByIndex recovers the *Request a manager's handler fiber just
// received as a queue message (spec.md §4.4: the manager's queue carries
// a reference to the posted request, not the payload itself).
func (r *Registry) RequestByIndex(idx int) (*Request, error) {
	if idx < 0 || idx >= len(r.requests) {
		return nil, kerr.New("REQUEST_BY_INDEX", kerr.CodeInvalidHandle, "request index out of range")
	}
	req := &r.requests[idx]
	r.mu.Lock()
	inUse := req.inUse
	r.mu.Unlock()
	if !inUse {
		return nil, kerr.New("REQUEST_BY_INDEX", kerr.CodeInvalidHandle, "request slot is free")
	}
	return req, nil
}

// allocRequest pops a free request, attaches it to m's pending list, and
// does quota/peak bookkeeping (spec.md §4.4 "Quota & accounting").
func (r *Registry) allocRequest(procID int32, m *Manager) (*Request, error) {
	r.mu.Lock()
	if r.perProcCount[procID] >= constants.MaxResourceRequestsPerProcess {
		r.mu.Unlock()
		return nil, kerr.NewProcess("ALLOC_REQUEST", procID, kerr.CodeClientTxnLimit, "per-process request quota exceeded")
	}
	if len(r.freeRequests) == 0 {
		r.mu.Unlock()
		return nil, kerr.NewProcess("ALLOC_REQUEST", procID, kerr.CodeFailAlloc, "request pool exhausted")
	}
	req := r.freeRequests[len(r.freeRequests)-1]
	r.freeRequests = r.freeRequests[:len(r.freeRequests)-1]

	r.globalCount++
	if r.globalCount > r.mostGlobal {
		r.mostGlobal = r.globalCount
	}
	r.perProcCount[procID]++
	if r.perProcCount[procID] > r.mostPerProc[procID] {
		r.mostPerProc[procID] = r.perProcCount[procID]
	}
	r.mu.Unlock()

	idx := req.index
	*req = Request{ProcID: procID, manager: m, inUse: true, index: idx}
	m.pushRequest(req)
	return req, nil
}

// freeRequest detaches req from its manager's pending list, returns it to
// the free pool, and decrements quota counters symmetrically.
func (r *Registry) freeRequest(req *Request) {
	if req.manager != nil {
		req.manager.removeRequest(req)
	}

	r.mu.Lock()
	req.inUse = false
	procID := req.ProcID
	r.globalCount--
	if r.perProcCount[procID] > 0 {
		r.perProcCount[procID]--
	}
	r.freeRequests = append(r.freeRequests, req)
	r.mu.Unlock()
}

// GlobalRequestCount and PerProcessRequestCount report live pool
// occupancy. Diagnostics and the invariant checks in spec.md §8 item 3.
func (r *Registry) GlobalRequestCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalCount
}

func (r *Registry) PerProcessRequestCount(procID int32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perProcCount[procID]
}
