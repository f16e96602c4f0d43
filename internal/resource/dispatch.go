package resource

import (
	"github.com/hle-ios/kernel/internal/kerr"
	"github.com/hle-ios/kernel/internal/kthread"
	"github.com/hle-ios/kernel/internal/mqueue"
)

// DispatchArgs is one guest IPC block's worth of decoded request fields,
// plus where its reply should land, handed to Dispatch by the IPC thread
// (spec.md §4.4 "Dispatch of a guest IPC request").
type DispatchArgs struct {
	Command Command
	ProcID  int32
	CoreID  int
	GroupID int32
	TitleID int64

	HandleID uint32 // close/read/write/seek/ioctl/ioctlv
	Path     string // open
	Mode     int32

	IoctlCmd      int32
	InBuf, OutBuf uint32
	InLen, OutLen uint32
	NumIn, NumOut int32
	VecPtr        uint32

	Offset, Origin int32
	Ptr, Len       uint32

	// Reply routing: set exactly one. IPCBlock routes the reply back
	// through the guest IPC driver; ReplyQueue/ReplyMsg posts a reply
	// message to a kernel-client queue instead.
	IPCBlock   ReplyTarget
	ReplyQueue *mqueue.Queue
	ReplyMsg   mqueue.Message
}

// Dispatch translates one guest IPC command into a pooled Request and
// posts it to the owning manager's queue (spec.md §4.4). On any
// allocation failure it unwinds cleanly (frees any handle/request
// already taken) and returns the error as the caller's reply.
func (r *Registry) Dispatch(t *kthread.Thread, args DispatchArgs) (*Request, error) {
	switch args.Command {
	case CmdOpen:
		return r.dispatchOpen(t, args)
	case CmdClose:
		return r.dispatchClose(t, args)
	case CmdRead, CmdWrite, CmdSeek, CmdIoctl, CmdIoctlv:
		return r.dispatchBound(t, args)
	default:
		return nil, kerr.NewProcess("DISPATCH", args.ProcID, kerr.CodeInvalid, "unrecognized command")
	}
}

func (r *Registry) dispatchOpen(t *kthread.Thread, args DispatchArgs) (*Request, error) {
	m, err := r.Lookup(args.Path)
	if err != nil {
		return nil, err
	}

	req, err := r.allocRequest(args.ProcID, m)
	if err != nil {
		return nil, err
	}

	handleID, err := r.AllocHandle(args.ProcID, m)
	if err != nil {
		r.freeRequest(req)
		return nil, err
	}

	req.Command = CmdOpen
	req.Path = args.Path
	req.Mode = args.Mode
	req.CoreID = args.CoreID
	req.GroupID = args.GroupID
	req.TitleID = args.TitleID
	req.HandleID = handleID
	req.IPCBlock = args.IPCBlock
	req.ReplyQueue = args.ReplyQueue
	req.ReplyMsg = args.ReplyMsg

	if err := m.Queue.Send(t, mqueue.Message(req.index), true); err != nil {
		_ = r.ReleaseHandle(args.ProcID, handleID)
		r.freeRequest(req)
		return nil, err
	}
	return req, nil
}

func (r *Registry) dispatchClose(t *kthread.Thread, args DispatchArgs) (*Request, error) {
	h, err := r.BeginClose(args.ProcID, args.HandleID)
	if err != nil {
		return nil, err
	}
	m := h.Manager

	req, err := r.allocRequest(args.ProcID, m)
	if err != nil {
		r.ReopenAsOpen(args.ProcID, args.HandleID)
		return nil, err
	}

	req.Command = CmdClose
	req.HandleID = args.HandleID
	req.CoreID = args.CoreID
	req.GroupID = args.GroupID
	req.TitleID = args.TitleID
	req.IPCBlock = args.IPCBlock
	req.ReplyQueue = args.ReplyQueue
	req.ReplyMsg = args.ReplyMsg

	if err := m.Queue.Send(t, mqueue.Message(req.index), true); err != nil {
		r.ReopenAsOpen(args.ProcID, args.HandleID)
		r.freeRequest(req)
		return nil, err
	}
	return req, nil
}

func (r *Registry) dispatchBound(t *kthread.Thread, args DispatchArgs) (*Request, error) {
	h, err := r.FetchHandle(args.ProcID, args.HandleID)
	if err != nil {
		return nil, err
	}
	if h.State != HandleOpen {
		return nil, kerr.NewProcess("DISPATCH", args.ProcID, kerr.CodeInvalid, "handle is not Open")
	}
	m := h.Manager

	req, err := r.allocRequest(args.ProcID, m)
	if err != nil {
		return nil, err
	}

	req.Command = args.Command
	req.HandleID = args.HandleID
	req.CoreID = args.CoreID
	req.GroupID = args.GroupID
	req.TitleID = args.TitleID
	req.IoctlCmd = args.IoctlCmd
	req.InBuf, req.OutBuf = args.InBuf, args.OutBuf
	req.InLen, req.OutLen = args.InLen, args.OutLen
	req.NumIn, req.NumOut = args.NumIn, args.NumOut
	req.VecPtr = args.VecPtr
	req.Offset, req.Origin = args.Offset, args.Origin
	req.Ptr, req.Len = args.Ptr, args.Len
	req.IPCBlock = args.IPCBlock
	req.ReplyQueue = args.ReplyQueue
	req.ReplyMsg = args.ReplyMsg

	if err := m.Queue.Send(t, mqueue.Message(req.index), true); err != nil {
		r.freeRequest(req)
		return nil, err
	}
	return req, nil
}

// Reply implements spec.md §4.4 "Reply": the device handler's fiber calls
// this after handling a dequeued request. result is the empty Code on
// success. deviceHandle is only consulted for CmdOpen — the opaque
// handle the device's open implementation returned, stored into the
// resource-handle slot. Only the process that registered req's target
// manager may deliver its reply (spec.md §4.4 "the calling process must
// own the target resource-manager").
func (r *Registry) Reply(t *kthread.Thread, req *Request, result kerr.Code, deviceHandle int32) error {
	if m := req.Manager(); m != nil && t != nil && t.ProcID != m.ProcID {
		return kerr.NewProcess("REPLY", t.ProcID, kerr.CodeAccess, "caller does not own the target resource-manager")
	}

	success := result == ""
	var guestHandle int32

	switch req.Command {
	case CmdOpen:
		if success {
			_ = r.CompleteOpen(req.ProcID, req.HandleID, deviceHandle)
			guestHandle = int32(req.HandleID)
		} else {
			_ = r.ReleaseHandle(req.ProcID, req.HandleID)
		}
	case CmdClose:
		_ = r.ReleaseHandle(req.ProcID, req.HandleID)
	}

	guestResult := ToGuestCode(result)

	if req.IPCBlock != nil {
		req.IPCBlock.SetReply(guestResult, guestHandle)
		if r.ipc != nil {
			_ = r.ipc.SubmitReply(req.CoreID, req.IPCBlock.PhysAddr())
		}
	} else if req.ReplyQueue != nil {
		_ = req.ReplyQueue.Send(t, req.ReplyMsg, false)
	}

	if r.obs != nil {
		r.obs.ObserveResourceDispatch(commandName(req.Command), success, 0)
	}

	r.freeRequest(req)
	return nil
}

func commandName(c Command) string {
	switch c {
	case CmdOpen:
		return "open"
	case CmdClose:
		return "close"
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdSeek:
		return "seek"
	case CmdIoctl:
		return "ioctl"
	case CmdIoctlv:
		return "ioctlv"
	case CmdReply:
		return "reply"
	default:
		return "unknown"
	}
}
