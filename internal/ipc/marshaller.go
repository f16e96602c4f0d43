package ipc

import (
	"encoding/binary"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
)

// ManagedBuffer describes one user buffer the client wants a device to
// read or write (spec.md §4.5).
type ManagedBuffer struct {
	UserAddr uint32
	Size     uint32
}

// SplitLayout is a ManagedBuffer split at constants.CachelineSize
// boundaries: an aligned middle region the device can touch directly,
// and unaligned head/tail regions (each bounded by
// constants.MaxUnalignedRegion) that must be shuttled through scratch.
type SplitLayout struct {
	AlignedStart, AlignedEnd uint32
	HeadSize, TailSize       uint32
}

func alignUp(v, a uint32) uint32   { return (v + a - 1) &^ (a - 1) }
func alignDown(v, a uint32) uint32 { return v &^ (a - 1) }

// ComputeSplit applies spec.md §4.5's alignment rule to buf.
func ComputeSplit(buf ManagedBuffer) SplitLayout {
	start := buf.UserAddr
	end := buf.UserAddr + buf.Size

	alignedStart := alignUp(start, constants.CachelineSize)
	alignedEnd := alignDown(end, constants.CachelineSize)
	if alignedEnd < alignedStart {
		// No cacheline boundary falls inside the buffer: the whole
		// buffer is one unaligned head region.
		return SplitLayout{AlignedStart: end, AlignedEnd: end, HeadSize: buf.Size}
	}

	return SplitLayout{
		AlignedStart: alignedStart,
		AlignedEnd:   alignedEnd,
		HeadSize:     alignedStart - start,
		TailSize:     end - alignedEnd,
	}
}

// ScratchAllocator is the client-side per-request allocator backing the
// per-buffer unaligned scratch regions. The header buffers and the vec
// array that BuildVecs returns are not allocated from it.
// It is a deterministic bump allocator over a fixed arena sized for one
// request's lifetime — not a sync.Pool, since nothing here is reused
// across requests.
type ScratchAllocator struct {
	arena []byte
	used  uint32
}

// NewScratchAllocator allocates an arena of size bytes, rounded up to
// constants.ScratchGranularity.
func NewScratchAllocator(size uint32) *ScratchAllocator {
	size = alignUp(size, constants.ScratchGranularity)
	return &ScratchAllocator{arena: make([]byte, size)}
}

// Alloc reserves size bytes (rounded up to constants.ScratchGranularity)
// and returns the backing slice and its offset into the arena.
func (a *ScratchAllocator) Alloc(size uint32) ([]byte, uint32, error) {
	size = alignUp(size, constants.ScratchGranularity)
	if a.used+size > uint32(len(a.arena)) {
		return nil, 0, kerr.New("SCRATCH_ALLOC", kerr.CodeFailAlloc, "scratch arena exhausted")
	}
	off := a.used
	a.used += size
	return a.arena[off : off+size : off+size], off, nil
}

// Destroy returns every allocation this arena has made. The arena itself
// is kept (not reallocated) so the Marshaller it backs can be reused for
// another request by calling Destroy then re-adding buffers.
func (a *ScratchAllocator) Destroy() {
	a.used = 0
	for i := range a.arena {
		a.arena[i] = 0
	}
}

// BufferDescriptor records one managed buffer's split and where its two
// vec entries land in the final assembled vec array (spec.md §4.5: "its
// descriptor inside the request payload records: aligned-size,
// unaligned-before-size, unaligned-after-size, aligned-vec-index,
// unaligned-vec-index").
type BufferDescriptor struct {
	UserAddr uint32
	Size     uint32

	AlignedSize         uint32
	UnalignedBeforeSize uint32
	UnalignedAfterSize  uint32

	AlignedVecIndex   int
	UnalignedVecIndex int // -1 if the buffer is fully aligned

	scratchOffset uint32
}

// Marshaller lays out one ioctlv call's vec array: a response header
// buffer, the output (device-writes) buffers, a request header buffer,
// then the input (device-reads) buffers — spec.md §4.5's literal vec
// ordering.
type Marshaller struct {
	scratch *ScratchAllocator

	outputVecs  []IoctlVecEntry
	inputVecs   []IoctlVecEntry
	outputDescs []BufferDescriptor
	inputDescs  []BufferDescriptor
}

// NewMarshaller builds a Marshaller backed by scratch.
func NewMarshaller(scratch *ScratchAllocator) *Marshaller {
	return &Marshaller{scratch: scratch}
}

// AddOutputBuffer registers a buffer the device writes into.
func (m *Marshaller) AddOutputBuffer(buf ManagedBuffer) (*BufferDescriptor, error) {
	return m.addBuffer(buf, &m.outputVecs, &m.outputDescs)
}

// AddInputBuffer registers a buffer the device reads from.
func (m *Marshaller) AddInputBuffer(buf ManagedBuffer) (*BufferDescriptor, error) {
	return m.addBuffer(buf, &m.inputVecs, &m.inputDescs)
}

func (m *Marshaller) addBuffer(buf ManagedBuffer, vecs *[]IoctlVecEntry, descs *[]BufferDescriptor) (*BufferDescriptor, error) {
	layout := ComputeSplit(buf)
	if layout.HeadSize > constants.MaxUnalignedRegion || layout.TailSize > constants.MaxUnalignedRegion {
		return nil, kerr.New("MARSHAL_BUFFER", kerr.CodeInvalid, "unaligned region exceeds scratch bound")
	}

	desc := BufferDescriptor{
		UserAddr:            buf.UserAddr,
		Size:                buf.Size,
		AlignedSize:         layout.AlignedEnd - layout.AlignedStart,
		UnalignedBeforeSize: layout.HeadSize,
		UnalignedAfterSize:  layout.TailSize,
	}

	desc.AlignedVecIndex = len(*vecs)
	*vecs = append(*vecs, IoctlVecEntry{VirtAddr: layout.AlignedStart, Length: desc.AlignedSize})

	if layout.HeadSize+layout.TailSize > 0 {
		_, offset, err := m.scratch.Alloc(constants.UnalignedScratchSize)
		if err != nil {
			return nil, err
		}
		// Head and tail sit contiguously around a 64-byte pivot: head
		// ends at the pivot, tail begins at it (spec.md §4.5).
		pivot := offset + constants.CachelineSize
		desc.scratchOffset = pivot - layout.HeadSize
		desc.UnalignedVecIndex = len(*vecs)
		*vecs = append(*vecs, IoctlVecEntry{
			VirtAddr: desc.scratchOffset,
			Length:   layout.HeadSize + layout.TailSize,
		})
	} else {
		desc.UnalignedVecIndex = -1
	}

	*descs = append(*descs, desc)
	return &(*descs)[len(*descs)-1], nil
}

// CopyHeadTailIn stages the unaligned head/tail bytes of a managed
// buffer (already read by the caller from guest memory) into its
// scratch region ahead of submitting the call.
func (m *Marshaller) CopyHeadTailIn(desc *BufferDescriptor, head, tail []byte) {
	if len(head) > 0 {
		copy(m.scratch.arena[desc.scratchOffset:], head)
	}
	if len(tail) > 0 {
		copy(m.scratch.arena[desc.scratchOffset+desc.UnalignedBeforeSize:], tail)
	}
}

// CopyHeadTailOut returns the head/tail bytes after a reply, for the
// caller to write back into the user buffer — the aligned region was
// written in place by the device (spec.md §4.5 "On reply").
func (m *Marshaller) CopyHeadTailOut(desc *BufferDescriptor) (head, tail []byte) {
	head = append([]byte(nil), m.scratch.arena[desc.scratchOffset:desc.scratchOffset+desc.UnalignedBeforeSize]...)
	tailStart := desc.scratchOffset + desc.UnalignedBeforeSize
	tail = append([]byte(nil), m.scratch.arena[tailStart:tailStart+desc.UnalignedAfterSize]...)
	return head, tail
}

// BuildVecs assembles the final vec array in spec.md §4.5's order and
// returns the output/input descriptors with their vec indices adjusted
// to be absolute into that array.
func (m *Marshaller) BuildVecs() (vecs []IoctlVecEntry, outputDescs, inputDescs []BufferDescriptor) {
	outBase := 1
	inBase := 1 + len(m.outputVecs) + 1

	outputDescs = append([]BufferDescriptor(nil), m.outputDescs...)
	for i := range outputDescs {
		outputDescs[i].AlignedVecIndex += outBase
		if outputDescs[i].UnalignedVecIndex >= 0 {
			outputDescs[i].UnalignedVecIndex += outBase
		}
	}
	inputDescs = append([]BufferDescriptor(nil), m.inputDescs...)
	for i := range inputDescs {
		inputDescs[i].AlignedVecIndex += inBase
		if inputDescs[i].UnalignedVecIndex >= 0 {
			inputDescs[i].UnalignedVecIndex += inBase
		}
	}

	vecs = make([]IoctlVecEntry, 0, inBase+len(m.inputVecs))
	vecs = append(vecs, IoctlVecEntry{Length: constants.IPCHeaderSize}) // response header, vec[0]
	vecs = append(vecs, m.outputVecs...)
	vecs = append(vecs, IoctlVecEntry{Length: constants.IPCHeaderSize}) // request header
	vecs = append(vecs, m.inputVecs...)
	return vecs, outputDescs, inputDescs
}

// Destroy releases every allocation this marshaller's scratch made.
func (m *Marshaller) Destroy() {
	m.scratch.Destroy()
	m.outputVecs, m.inputVecs = nil, nil
	m.outputDescs, m.inputDescs = nil, nil
}

// RequestHeader is the fixed header buffer carried in every ioctlv call
// (spec.md §4.5: "the request header carries (service-id, command-id,
// two scratch words)").
type RequestHeader struct {
	ServiceID uint32
	CommandID uint32
	Scratch0  uint32
	Scratch1  uint32
}

// MarshalRequestHeader encodes h into a constants.IPCHeaderSize-byte
// big-endian buffer.
func MarshalRequestHeader(h RequestHeader) []byte {
	buf := make([]byte, constants.IPCHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.ServiceID)
	binary.BigEndian.PutUint32(buf[4:8], h.CommandID)
	binary.BigEndian.PutUint32(buf[8:12], h.Scratch0)
	binary.BigEndian.PutUint32(buf[12:16], h.Scratch1)
	return buf
}

// UnmarshalRequestHeader decodes a constants.IPCHeaderSize-byte
// big-endian buffer.
func UnmarshalRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) < 16 {
		return RequestHeader{}, kerr.New("HEADER_UNMARSHAL", kerr.CodeInvalid, "short request header buffer")
	}
	return RequestHeader{
		ServiceID: binary.BigEndian.Uint32(buf[0:4]),
		CommandID: binary.BigEndian.Uint32(buf[4:8]),
		Scratch0:  binary.BigEndian.Uint32(buf[8:12]),
		Scratch1:  binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}
