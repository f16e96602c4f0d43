// Package ipc implements the guest-facing wire formats: the fixed-layout
// IPC block exchanged between the guest's IPC driver and the kernel
// (spec.md §3 "IPC block", §6), the ioctl-vec entry used by ioctl/ioctlv
// calls, and the client-side managed-buffer marshaller that splits a
// buffer at cacheline boundaries before it is exposed to a device
// (spec.md §4.5).
//
// The IPC block and ioctl-vec entry are guest-native: this console's
// guest is big-endian, unlike the little-endian host structs internal/uapi
// marshals for its ublk backend, so every field here goes through
// binary.BigEndian rather than LittleEndian.
package ipc

import (
	"encoding/binary"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
)

// Block size assertion: the on-wire layout below must total exactly
// constants.IPCBlockSize (0x80) bytes, matching spec.md §6 "Fixed-layout
// big-endian struct... Any implementation must preserve field offsets."
const (
	offCommand     = 0
	offReply       = 4
	offHandle      = 8
	offCoreID      = 12
	offProcID      = 16
	offTitleID     = 20
	offArgs        = 28
	offPrevCommand = 48
	offPrevHandle  = 52
	offScratch0    = 56
	offScratch1    = 60
	offPath        = 64
	offReserved    = 64 + constants.OpenPathBufferSize
	blockWireSize  = offReserved + 32
)

var _ = [constants.IPCBlockSize - blockWireSize]byte{}

const numArgs = 5

// Block is the kernel's decoded view of one guest IPC block: a
// command, its reply slot, and the command's argument words (spec.md §3
// "IPC block"). PhysAddr is the block's physical address in guest
// memory, carried alongside rather than encoded in the wire bytes, since
// Go's Block is a host-side decode of guest bytes reached through a
// MemoryTranslator, not the guest bytes themselves.
type Block struct {
	PhysAddr_ uint32

	Command int32
	Reply   int32
	Handle  int32
	CoreID  uint32
	ProcID  uint32
	TitleID uint64

	Args [numArgs]uint32

	PrevCommand int32
	PrevHandle  int32

	Scratch0 uint32
	Scratch1 uint32

	Path string // NUL-padded to constants.OpenPathBufferSize on the wire
}

// NewBlock returns a zeroed Block anchored at physAddr.
func NewBlock(physAddr uint32) *Block {
	return &Block{PhysAddr_: physAddr}
}

// PhysAddr and SetReply satisfy internal/resource.ReplyTarget: the
// dispatch/reply pipeline writes a device handler's outcome through this
// without knowing it is talking to an IPC block rather than a posted
// reply message.
func (b *Block) PhysAddr() uint32 { return b.PhysAddr_ }

func (b *Block) SetReply(result int32, deviceHandle int32) {
	b.Reply = result
	b.Handle = deviceHandle
}

// Marshal encodes b into its constants.IPCBlockSize-byte big-endian wire
// form.
func (b *Block) Marshal() []byte {
	buf := make([]byte, blockWireSize)
	binary.BigEndian.PutUint32(buf[offCommand:], uint32(b.Command))
	binary.BigEndian.PutUint32(buf[offReply:], uint32(b.Reply))
	binary.BigEndian.PutUint32(buf[offHandle:], uint32(b.Handle))
	binary.BigEndian.PutUint32(buf[offCoreID:], b.CoreID)
	binary.BigEndian.PutUint32(buf[offProcID:], b.ProcID)
	binary.BigEndian.PutUint64(buf[offTitleID:], b.TitleID)
	for i, a := range b.Args {
		binary.BigEndian.PutUint32(buf[offArgs+i*4:], a)
	}
	binary.BigEndian.PutUint32(buf[offPrevCommand:], uint32(b.PrevCommand))
	binary.BigEndian.PutUint32(buf[offPrevHandle:], uint32(b.PrevHandle))
	binary.BigEndian.PutUint32(buf[offScratch0:], b.Scratch0)
	binary.BigEndian.PutUint32(buf[offScratch1:], b.Scratch1)

	path := []byte(b.Path)
	if len(path) > constants.OpenPathBufferSize {
		path = path[:constants.OpenPathBufferSize]
	}
	copy(buf[offPath:offPath+constants.OpenPathBufferSize], path)

	return buf
}

// Unmarshal decodes a constants.IPCBlockSize-byte big-endian wire buffer
// into b.
func (b *Block) Unmarshal(buf []byte) error {
	if len(buf) < blockWireSize {
		return kerr.New("IPC_BLOCK_UNMARSHAL", kerr.CodeInvalid, "short IPC block buffer")
	}
	b.Command = int32(binary.BigEndian.Uint32(buf[offCommand:]))
	b.Reply = int32(binary.BigEndian.Uint32(buf[offReply:]))
	b.Handle = int32(binary.BigEndian.Uint32(buf[offHandle:]))
	b.CoreID = binary.BigEndian.Uint32(buf[offCoreID:])
	b.ProcID = binary.BigEndian.Uint32(buf[offProcID:])
	b.TitleID = binary.BigEndian.Uint64(buf[offTitleID:])
	for i := range b.Args {
		b.Args[i] = binary.BigEndian.Uint32(buf[offArgs+i*4:])
	}
	b.PrevCommand = int32(binary.BigEndian.Uint32(buf[offPrevCommand:]))
	b.PrevHandle = int32(binary.BigEndian.Uint32(buf[offPrevHandle:]))
	b.Scratch0 = binary.BigEndian.Uint32(buf[offScratch0:])
	b.Scratch1 = binary.BigEndian.Uint32(buf[offScratch1:])

	pathBytes := buf[offPath : offPath+constants.OpenPathBufferSize]
	n := 0
	for n < len(pathBytes) && pathBytes[n] != 0 {
		n++
	}
	b.Path = string(pathBytes[:n])

	return nil
}
