package ipc

import (
	"encoding/binary"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
)

// IoctlVecEntry is one entry of an ioctlv call's vec array (spec.md §6):
// a guest virtual address, a length, and the physical address the
// kernel resolved it to.
type IoctlVecEntry struct {
	VirtAddr uint32
	Length   uint32
	PhysAddr uint32
}

var _ = [constants.IoctlVecEntrySize - 12]byte{}

// Marshal encodes e into its 12-byte big-endian wire form.
func (e IoctlVecEntry) Marshal() []byte {
	buf := make([]byte, constants.IoctlVecEntrySize)
	binary.BigEndian.PutUint32(buf[0:], e.VirtAddr)
	binary.BigEndian.PutUint32(buf[4:], e.Length)
	binary.BigEndian.PutUint32(buf[8:], e.PhysAddr)
	return buf
}

// UnmarshalIoctlVecEntry decodes a 12-byte big-endian wire buffer.
func UnmarshalIoctlVecEntry(buf []byte) (IoctlVecEntry, error) {
	if len(buf) < constants.IoctlVecEntrySize {
		return IoctlVecEntry{}, kerr.New("VEC_ENTRY_UNMARSHAL", kerr.CodeInvalid, "short ioctl-vec entry buffer")
	}
	return IoctlVecEntry{
		VirtAddr: binary.BigEndian.Uint32(buf[0:]),
		Length:   binary.BigEndian.Uint32(buf[4:]),
		PhysAddr: binary.BigEndian.Uint32(buf[8:]),
	}, nil
}

// MarshalIoctlVec encodes a full vec array back to back.
func MarshalIoctlVec(entries []IoctlVecEntry) []byte {
	buf := make([]byte, 0, len(entries)*constants.IoctlVecEntrySize)
	for _, e := range entries {
		buf = append(buf, e.Marshal()...)
	}
	return buf
}
