// Package boot implements the kernel's boot sequence: subsystem
// initialisation order, the root kernel thread, the fixed process table,
// and the per-manager resume state machine that brings every registered
// resource manager up before the core loop starts serving the guest
// (spec.md §4.6 "Boot sequencing & process-manager 'resume'").
package boot

import (
	"github.com/hle-ios/kernel/internal/kthread"
)

// ProcessEntry is one row of the fixed process table forked at boot
// (spec.md §4.6 step 4: "a fixed table of (process-id, entry-fn,
// priority, stack-size, memory-permissions)").
type ProcessEntry struct {
	ProcID          int32
	Name            string
	Entry           kthread.EntryFunc
	Priority        int
	StackSize       uint32
	MemoryPerms     uint32
	Privileged      bool // granted the "all" capability instead of the narrow default
	ArenaSize       uint32
}

// ManagerEntry is one row of the firmware-pinned resource-manager
// registration table walked per process at boot (spec.md §4.6 step 5):
// "(device-path, system-mode-flags, owning-process, unknown-fourth-
// field)". Extra is carried through unexamined, matching the firmware
// table's unexplained fourth column.
type ManagerEntry struct {
	DevicePath string
	ModeFlags  uint32
	ProcID     int32
	Extra      uint32
}

// Named process ids for the owning-process column of DefaultManagerTable
// (spec.md §3 "Process identity": "the kernel and a 'master control'
// process occupy reserved ids; others correspond to device/service
// groups (FS, NET, CRYPTO, USB, PAD, …)"). Values are this
// reimplementation's own assignment — the firmware's internal numbering
// is not part of the spec's data model.
const (
	ProcKernel int32 = iota
	ProcMCP
	ProcFS
	ProcNET
	ProcCRYPTO
	ProcUSB
	ProcPAD
	ProcAUXIL
	ProcACP
	ProcFPD
	ProcNIM
	ProcTEST
)

// DefaultManagerTable is the firmware-version-pinned resource-manager
// registration table (ios_mcp_pm_thread.cpp's
// initialiseStaticPmThreadData, "taken from firmware 5.5.1"): for each
// row, (device-path, system-mode-flags, owning-process, a fourth field
// the original never explains). The original table is a fixed 86-slot
// array where most slots are unused placeholders reserving an index;
// since this reimplementation drives the resume walk from a plain slice
// rather than an index-addressed array, only the rows that were actually
// populated are reproduced here — the placeholder slots carry no
// observable behaviour to preserve. Entries the firmware itself ships
// commented out are kept as comments, including the three genuinely odd
// ones the original author flagged and never fixed.
func DefaultManagerTable() []ManagerEntry {
	return []ManagerEntry{
		{"/dev/ahcimgr", 0x1E8000, ProcFS, 0},
		// { "/dev/usbproc1", 0x1C0000, ProcUSB, 0 },
		// { "/dev/usb_cdc", 0x1C0000, ProcUSB, 0 },
		// { "/dev/testproc1", 0x1C0000, ProcTEST, 0 },
		// { "/dev/usb_syslog", 0x1E8000, ProcMCP, 0 },
		{"/dev/mmc", 0x1E8000, ProcFS, 0},
		// { "/dev/odm", 0x1E8000, ProcFS, 0 },
		{"/dev/shdd", 0x1E8000, ProcFS, 0},
		{"/dev/fla", 0x1E8000, ProcFS, 0},
		// { "/dev/dk", 0x1E8000, ProcFS, 0 },
		// { "/dev/ramdisk_svc", 0x1E8000, ProcFS, 0 },
		// { "/dev/dk_syslog", 0x1E8000, ProcMCP, 0 },
		{"/dev/df", 0x1E8000, ProcFS, 0},
		{"/dev/atfs", 0x1E8000, ProcFS, 0},
		{"/dev/isfs", 0x1E8000, ProcFS, 0},
		{"/dev/wfs", 0x1E8000, ProcFS, 0},
		{"/dev/fat", 0x1E8000, ProcFS, 0},
		{"/dev/rbfs", 0x1E8000, ProcFS, 0},
		{"/dev/scfm", 0x1E8000, ProcFS, 0},
		{"/dev/md", 0x1E8000, ProcFS, 0},
		{"/dev/pcfs", 0x1E8000, ProcFS, 0},
		{"/dev/mcp", 0x1A8000, ProcMCP, 0},
		// { "/dev/mcp_recovery", 0x40000, ProcMCP, 0 },
		// { "/dev/usbproc2", 0x1C0000, ProcUSB, 0 },
		{"/dev/usr_cfg", 0x180000, ProcAUXIL, 0},
		// { "/dev/usb_hid", 0x100000, ProcUSB, 0 },
		// { "/dev/usb_uac", 0x100000, ProcUSB, 0 },
		// { "/dev/usb_midi", 0x100000, ProcUSB, 0 },
		// { "/dev/ppc_kernel", 0x180000, ProcMCP, 0 },
		// { "/dev/ccr_io", 0x1C8000, ProcPAD, 0 },
		// { "/dev/usb/early_btrm", 0x1C0000, ProcPAD, 3 },
		// { "/dev/testproc2", 0x1C0000, ProcTEST, 0 },
		{"/dev/ums", 0x1C0000, ProcUSB, 0}, //  WTF?? Should be FS surely?
		// { "/dev/wifi24", 0x188000, ProcPAD, 0 }, // WTF?? Should be NET surely?
		{"/dev/auxilproc", 0x100000, ProcAUXIL, 1},
		{"/dev/network", 0x180000, ProcNET, 0},
		// { "/dev/nsec", 0x180000, ProcNET, 0 },
		// { "/dev/usb/btrm", 0x1C0000, ProcPAD, 1 },
		// { "/dev/acpproc", 0x188000, ProcACP, 0 },
		// { "/dev/ifuds", 0x100000, ProcPAD, 0 }, // WTF?? Should be NET surely?
		// { "/dev/udscntrl", 0x100000, ProcPAD, 0 }, // WTF?? Should be NET surely?
		// { "/dev/nnsm", 0x180000, ProcACP, 0 },
		// { "/dev/dlp", 0x100000, ProcNET, 0 },
		// { "/dev/ac_main", 0x180000, ProcNET, 1 },
		{"/dev/tcp_pcfs", 0x1E8000, ProcFS, 0},
		// { "/dev/act", 0x180000, ProcFPD, 1 },
		// { "/dev/fpd", 0x180000, ProcFPD, 1 },
		// { "/dev/acp_main", 0x180000, ProcACP, 1 },
		// { "/dev/pdm", 0x180000, ProcACP, 1 },
		// { "/dev/boss", 0x180000, ProcNIM, 1 },
		// { "/dev/nim", 0x180000, ProcNIM, 1 },
		// { "/dev/ndm", 0x180000, ProcNET, 1 },
		// { "/dev/emd", 0x180000, ProcACP, 1 },
		// { "/dev/ppc_app", 0x180000, ProcMCP, 2 },
	}
}
