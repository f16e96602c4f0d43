package ipc

import (
	"testing"

	"github.com/hle-ios/kernel/internal/constants"
)

func TestBlockMarshalUnmarshalRoundTrip(t *testing.T) {
	b := &Block{
		PhysAddr_:   0x1000,
		Command:     3,
		Reply:       -5,
		Handle:      7,
		CoreID:      2,
		ProcID:      9,
		TitleID:     0x1122334455667788,
		Args:        [numArgs]uint32{1, 2, 3, 4, 5},
		PrevCommand: 1,
		PrevHandle:  6,
		Scratch0:    0xAAAA,
		Scratch1:    0xBBBB,
		Path:        "/dev/test",
	}

	wire := b.Marshal()
	if len(wire) != constants.IPCBlockSize {
		t.Fatalf("expected %d byte block, got %d", constants.IPCBlockSize, len(wire))
	}

	var got Block
	if err := got.Unmarshal(wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got.PhysAddr_ = b.PhysAddr_

	if got != *b {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, *b)
	}
}

func TestBlockSetReplySatisfiesReplyTarget(t *testing.T) {
	b := NewBlock(0x2000)
	b.SetReply(-42, 99)
	if b.Reply != -42 || b.Handle != 99 {
		t.Fatalf("unexpected reply state: %+v", b)
	}
	if b.PhysAddr() != 0x2000 {
		t.Fatalf("unexpected phys addr: %x", b.PhysAddr())
	}
}

func TestBlockUnmarshalRejectsShortBuffer(t *testing.T) {
	var b Block
	if err := b.Unmarshal(make([]byte, 4)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestIoctlVecEntryMarshalUnmarshalRoundTrip(t *testing.T) {
	e := IoctlVecEntry{VirtAddr: 0x1000, Length: 256, PhysAddr: 0x80001000}
	wire := e.Marshal()
	if len(wire) != constants.IoctlVecEntrySize {
		t.Fatalf("expected %d bytes, got %d", constants.IoctlVecEntrySize, len(wire))
	}
	got, err := UnmarshalIoctlVecEntry(wire)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != e {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestComputeSplitFullyAligned(t *testing.T) {
	layout := ComputeSplit(ManagedBuffer{UserAddr: 0x1000, Size: 256})
	if layout.HeadSize != 0 || layout.TailSize != 0 {
		t.Fatalf("expected no unaligned region, got %+v", layout)
	}
	if layout.AlignedStart != 0x1000 || layout.AlignedEnd != 0x1100 {
		t.Fatalf("unexpected aligned bounds: %+v", layout)
	}
}

func TestComputeSplitUnalignedHeadAndTail(t *testing.T) {
	layout := ComputeSplit(ManagedBuffer{UserAddr: 0x1003, Size: 128})
	if layout.HeadSize != 61 {
		t.Fatalf("expected head size 61, got %d", layout.HeadSize)
	}
	if layout.AlignedStart%constants.CachelineSize != 0 {
		t.Fatalf("aligned start not cacheline-aligned: %x", layout.AlignedStart)
	}
	if layout.AlignedEnd%constants.CachelineSize != 0 {
		t.Fatalf("aligned end not cacheline-aligned: %x", layout.AlignedEnd)
	}
}

func TestComputeSplitBufferSmallerThanCacheline(t *testing.T) {
	layout := ComputeSplit(ManagedBuffer{UserAddr: 0x1001, Size: 8})
	if layout.AlignedEnd != layout.AlignedStart {
		t.Fatalf("expected fully unaligned buffer, got %+v", layout)
	}
	if layout.HeadSize+layout.TailSize != 8 {
		t.Fatalf("expected unaligned regions to cover entire buffer, got %+v", layout)
	}
}

func TestMarshallerBuildVecsOrderingAndIndices(t *testing.T) {
	scratch := NewScratchAllocator(4 * constants.UnalignedScratchSize)
	m := NewMarshaller(scratch)

	outDesc, err := m.AddOutputBuffer(ManagedBuffer{UserAddr: 0x1000, Size: 256})
	if err != nil {
		t.Fatalf("add output: %v", err)
	}
	inDesc, err := m.AddInputBuffer(ManagedBuffer{UserAddr: 0x2003, Size: 128})
	if err != nil {
		t.Fatalf("add input: %v", err)
	}

	vecs, outDescs, inDescs := m.BuildVecs()

	if len(vecs) != 5 { // resp-hdr, out-aligned, req-hdr, in-aligned, in-unaligned
		t.Fatalf("expected 5 vecs, got %d: %+v", len(vecs), vecs)
	}
	if vecs[0].Length != constants.IPCHeaderSize || vecs[2].Length != constants.IPCHeaderSize {
		t.Fatalf("expected header vecs sized %d, got %+v", constants.IPCHeaderSize, vecs)
	}
	if outDescs[0].AlignedVecIndex != 1 {
		t.Fatalf("expected output aligned vec at index 1, got %d", outDescs[0].AlignedVecIndex)
	}
	if outDescs[0].UnalignedVecIndex != -1 {
		t.Fatalf("expected fully aligned output buffer, got unaligned index %d", outDescs[0].UnalignedVecIndex)
	}
	if inDescs[0].AlignedVecIndex != 3 {
		t.Fatalf("expected input aligned vec at index 3, got %d", inDescs[0].AlignedVecIndex)
	}
	if inDescs[0].UnalignedVecIndex != 4 {
		t.Fatalf("expected input unaligned vec at index 4, got %d", inDescs[0].UnalignedVecIndex)
	}
	_ = outDesc
	_ = inDesc
}

func TestMarshallerCopyHeadTailRoundTrip(t *testing.T) {
	scratch := NewScratchAllocator(constants.UnalignedScratchSize)
	m := NewMarshaller(scratch)

	desc, err := m.AddInputBuffer(ManagedBuffer{UserAddr: 0x1003, Size: 10})
	if err != nil {
		t.Fatalf("add input: %v", err)
	}

	head := make([]byte, desc.UnalignedBeforeSize)
	for i := range head {
		head[i] = byte(i + 1)
	}
	tail := make([]byte, desc.UnalignedAfterSize)
	for i := range tail {
		tail[i] = byte(0x80 + i)
	}
	m.CopyHeadTailIn(desc, head, tail)

	gotHead, gotTail := m.CopyHeadTailOut(desc)
	if string(gotHead) != string(head) {
		t.Fatalf("head mismatch: got %v want %v", gotHead, head)
	}
	if string(gotTail) != string(tail) {
		t.Fatalf("tail mismatch: got %v want %v", gotTail, tail)
	}
}

func TestComputeSplitUnalignedRegionsNeverExceedBound(t *testing.T) {
	for addr := uint32(0); addr < constants.CachelineSize*2; addr++ {
		layout := ComputeSplit(ManagedBuffer{UserAddr: addr, Size: 200})
		if layout.HeadSize > constants.MaxUnalignedRegion {
			t.Fatalf("head size %d exceeds bound at addr %d", layout.HeadSize, addr)
		}
		if layout.TailSize > constants.MaxUnalignedRegion {
			t.Fatalf("tail size %d exceeds bound at addr %d", layout.TailSize, addr)
		}
	}
}

func TestScratchAllocatorExhaustion(t *testing.T) {
	scratch := NewScratchAllocator(constants.UnalignedScratchSize)
	if _, _, err := scratch.Alloc(constants.UnalignedScratchSize); err != nil {
		t.Fatalf("first alloc should fit: %v", err)
	}
	if _, _, err := scratch.Alloc(constants.ScratchGranularity); err == nil {
		t.Fatal("expected exhaustion error")
	}
}

func TestScratchAllocatorDestroyResetsAndZeroes(t *testing.T) {
	scratch := NewScratchAllocator(constants.UnalignedScratchSize)
	buf, _, err := scratch.Alloc(constants.ScratchGranularity)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	buf[0] = 0xFF
	scratch.Destroy()
	if _, _, err := scratch.Alloc(constants.UnalignedScratchSize); err != nil {
		t.Fatalf("expected full arena available after destroy: %v", err)
	}
}

func TestRequestHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	h := RequestHeader{ServiceID: 7, CommandID: 42, Scratch0: 0xDEAD, Scratch1: 0xBEEF}
	wire := MarshalRequestHeader(h)
	if len(wire) != constants.IPCHeaderSize {
		t.Fatalf("expected %d bytes, got %d", constants.IPCHeaderSize, len(wire))
	}
	got, err := UnmarshalRequestHeader(wire)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}
