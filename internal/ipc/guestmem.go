package ipc

import (
	"unsafe"

	"github.com/hle-ios/kernel/internal/interfaces"
	"github.com/hle-ios/kernel/internal/kerr"
)

// TranslateBytes resolves a guest (virtualAddress, length) pair to a host
// []byte through mem, for device handlers that need to read or write a
// guest buffer directly (spec.md §6 "Guest memory translator"). length
// zero returns a nil, non-error slice.
func TranslateBytes(mem interfaces.MemoryTranslator, virtualAddress, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if mem == nil {
		return nil, kerr.New("TRANSLATE_BYTES", kerr.CodeInvalid, "no memory translator configured")
	}
	ptr, err := mem.Translate(virtualAddress)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length), nil
}
