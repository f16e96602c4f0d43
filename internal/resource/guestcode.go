package resource

import "github.com/hle-ios/kernel/internal/kerr"

// guestCodes enumerates the kernel's error taxonomy as the small negative
// integers the guest sees in the IPC block's reply field (spec.md §7
// "User-visible failure": "Errors surface to the guest as signed
// negative values in the IPC block's reply field"). The spec leaves the
// exact numeric assignment unconstrained ("a fixed enum of ≈40 negative
// integers"); this assigns them in taxonomy declaration order, stable
// for the lifetime of a running kernel.
var guestCodes = []kerr.Code{
	kerr.CodeInvalid,
	kerr.CodeAccess,
	kerr.CodeExists,
	kerr.CodeNoExists,
	kerr.CodeIntr,
	kerr.CodeMax,
	kerr.CodeFailAlloc,
	kerr.CodeSemUnavailable,
	kerr.CodeStaleHandle,
	kerr.CodeInvalidHandle,
	kerr.CodeClientTxnLimit,
	kerr.CodeTimeout,
	kerr.CodeUnsupportedCmd,
	kerr.CodeBusy,
	kerr.CodeAlignment,
	kerr.CodeNoResource,
	kerr.CodeNotReady,
}

var guestCodeIndex = func() map[kerr.Code]int32 {
	m := make(map[kerr.Code]int32, len(guestCodes))
	for i, c := range guestCodes {
		m[c] = -int32(i + 1)
	}
	return m
}()

// ToGuestCode maps an internal error code to its guest-visible negative
// wire value. The empty Code maps to 0 (success).
func ToGuestCode(code kerr.Code) int32 {
	if code == "" {
		return 0
	}
	if v, ok := guestCodeIndex[code]; ok {
		return v
	}
	return guestCodeIndex[kerr.CodeInvalid]
}
