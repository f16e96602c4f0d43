package ios

import "github.com/hle-ios/kernel/internal/constants"

// Re-exported for the public API; see internal/constants for derivations.
const (
	MaxProcesses          = constants.MaxProcesses
	MaxCapabilityEntries  = constants.MaxCapabilityEntries
	AllFeaturesID         = constants.AllFeaturesID
	DefaultFeatureID      = constants.DefaultFeatureID
	DefaultFeatureMask    = constants.DefaultFeatureMask
	AllPermissionMask     = constants.AllPermissionMask

	MaxResourceManagers           = constants.MaxResourceManagers
	MaxResourceHandlesPerProcess  = constants.MaxResourceHandlesPerProcess
	MaxResourceRequestsGlobal     = constants.MaxResourceRequestsGlobal
	MaxResourceRequestsPerProcess = constants.MaxResourceRequestsPerProcess
	DevicePathMaxLen              = constants.DevicePathMaxLen

	MaxEventDevices = constants.MaxEventDevices

	IPCBlockSize      = constants.IPCBlockSize
	IoctlVecEntrySize = constants.IoctlVecEntrySize

	ResumeStepTimeout  = constants.ResumeStepTimeout
	RootThreadPriority = constants.RootThreadPriority

	MinPriority = constants.MinPriority
	MaxPriority = constants.MaxPriority

	NumCores = constants.NumCores
)
