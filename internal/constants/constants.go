// Package constants holds the fixed capacities and timing values that the
// IOS kernel's subsystems are sized against.
package constants

import "time"

// Process table limits.
const (
	// MaxProcesses is the size of the closed process-id space (kernel,
	// master control, and the fixed set of device/service groups).
	MaxProcesses = 14

	// MaxCapabilityEntries is the per-process client-capability table size.
	MaxCapabilityEntries = 16

	// AllFeaturesID is the feature-id granted the "all" permission mask.
	AllFeaturesID = 0x7fffffff

	// DefaultFeatureID is the narrow default feature-id non-privileged
	// processes start with.
	DefaultFeatureID = 1

	// DefaultFeatureMask is the narrow default permission mask.
	DefaultFeatureMask = 0xf

	// AllPermissionMask grants every permission bit.
	AllPermissionMask = ^uint64(0)
)

// Resource-manager and request pool limits.
const (
	// MaxResourceManagers bounds the number of simultaneously registered
	// device paths.
	MaxResourceManagers = 96

	// MaxResourceHandlesPerProcess bounds a process's open-handle table.
	MaxResourceHandlesPerProcess = 96

	// MaxResourceRequestsGlobal bounds the global request pool.
	MaxResourceRequestsGlobal = 480

	// MaxResourceRequestsPerProcess bounds the per-process request quota.
	MaxResourceRequestsPerProcess = 256

	// HandleIndexBits is the width of the index field in a resource-handle
	// encoding; the remaining high bits hold the generation counter.
	HandleIndexBits = 12

	// HandleIndexMask masks out the index portion of an encoded handle.
	HandleIndexMask = (1 << HandleIndexBits) - 1

	// DevicePathMaxLen bounds a resource manager's registered path.
	DevicePathMaxLen = 32
)

// Event/interrupt plane limits.
const (
	// MaxEventDevices is the size of the event-handler slot table, indexed
	// by device id.
	MaxEventDevices = 48
)

// Client IPC marshalling constants (spec.md §4.5).
const (
	// CachelineSize is the alignment boundary managed buffers are split on.
	CachelineSize = 64

	// MaxUnalignedRegion bounds the unaligned head/tail copied into scratch.
	MaxUnalignedRegion = 63

	// UnalignedScratchSize is the fixed scratch allocation for a single
	// managed buffer's unaligned head+tail pair.
	UnalignedScratchSize = 256

	// IPCHeaderSize is the size of the request/response header buffer used
	// as vec[0] / vec[numVecOut].
	IPCHeaderSize = 128

	// ScratchGranularity is the allocation unit of the client-side scratch
	// allocator.
	ScratchGranularity = 128
)

// IPC block wire layout (spec.md §3 "IPC block", §6).
const (
	// IPCBlockSize is the fixed wire size of the IPC request/reply block.
	IPCBlockSize = 0x80

	// IoctlVecEntrySize is the wire size of a single ioctl-vec entry.
	IoctlVecEntrySize = 12

	// OpenPathBufferSize is the size of the embedded open-path buffer.
	OpenPathBufferSize = 32
)

// Boot sequencing timeouts (spec.md §4.6).
const (
	// ResumeStepTimeout is the per-step timeout for the process-manager
	// resume state machine (async open, async resume).
	ResumeStepTimeout = 10 * time.Second

	// RootThreadPriority is the priority assigned to the root kernel
	// thread created at boot (numerically lowest priority).
	RootThreadPriority = 127

	// SharedHeapID is the identifier the boot sequence asserts for the
	// first-created shared heap; downstream code depends on this value.
	SharedHeapID = 1

	// CrossProcessHeapID identifies the second heap carved at boot,
	// concurrently allocated from under an internal lock by any process
	// (spec.md §5 "Shared resources").
	CrossProcessHeapID = 2

	// TotalPhysicalMemory is the size of the address space
	// internal/memmap.Allocator carves process arenas and heaps from.
	TotalPhysicalMemory = 64 << 20 // 64MiB

	// SharedHeapSize and CrossProcessHeapSize are the two heap regions
	// carved at boot (spec.md §4.6 step 3).
	SharedHeapSize       = 16 << 20
	CrossProcessHeapSize = 8 << 20

	// DefaultArenaSize is the per-process static-arena size used by the
	// default process table when a ProcessEntry doesn't specify one.
	DefaultArenaSize = 1 << 20
)

// Thread priority bounds (spec.md §3 "Thread": 0..127, smaller = higher).
const (
	MinPriority = 0
	MaxPriority = 127
)

// Core count for the emulated machine (spec.md §5).
const NumCores = 3