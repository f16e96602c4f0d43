// Package capability implements the per-process client-capability table:
// a small fixed array mapping a 32-bit feature id to a 64-bit permission
// mask, consulted by the resource-manager dispatch path on request
// admission (spec.md §3 "Process identity", §2 "Per-process capability
// table").
package capability

import (
	"sync"

	"github.com/hle-ios/kernel/internal/constants"
	"github.com/hle-ios/kernel/internal/kerr"
)

// Entry is a single feature-id/permission-mask binding. FeatureID == -1
// marks an empty slot.
type Entry struct {
	FeatureID int32
	Mask      uint64
}

const emptyFeatureID int32 = -1

// Table is one process's client-capability table
// (constants.MaxCapabilityEntries entries, per spec.md §3).
type Table struct {
	mu      sync.RWMutex
	entries [constants.MaxCapabilityEntries]Entry
}

// New creates an empty capability table.
func New() *Table {
	t := &Table{}
	for i := range t.entries {
		t.entries[i].FeatureID = emptyFeatureID
	}
	return t
}

// NewDefault creates a table pre-populated with the narrow default every
// non-privileged process starts with (spec.md §4.6 step 2: feature-id 1,
// mask 0xf).
func NewDefault() *Table {
	t := New()
	_ = t.Grant(constants.DefaultFeatureID, constants.DefaultFeatureMask)
	return t
}

// NewAll creates a table pre-populated with the "all" capability granted
// to the root thread and privileged system processes at boot (spec.md
// §4.6 step 2: feature-id 0x7fffffff, mask = -1).
func NewAll() *Table {
	t := New()
	_ = t.Grant(constants.AllFeaturesID, constants.AllPermissionMask)
	return t
}

// Grant sets (or replaces) the mask for featureID. Fails with CodeMax if
// the table is full and featureID is not already present.
func (t *Table) Grant(featureID int32, mask uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].FeatureID == featureID {
			t.entries[i].Mask = mask
			return nil
		}
	}
	for i := range t.entries {
		if t.entries[i].FeatureID == emptyFeatureID {
			t.entries[i] = Entry{FeatureID: featureID, Mask: mask}
			return nil
		}
	}
	return kerr.New("GRANT_CAPABILITY", kerr.CodeMax, "capability table full")
}

// Revoke clears the entry for featureID, if present.
func (t *Table) Revoke(featureID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].FeatureID == featureID {
			t.entries[i] = Entry{FeatureID: emptyFeatureID}
			return
		}
	}
}

// HasPermission reports whether featureID has an entry whose mask
// contains every bit of required.
func (t *Table) HasPermission(featureID int32, required uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.FeatureID == featureID {
			return e.Mask&required == required
		}
	}
	return false
}

// Entries returns a snapshot of every occupied entry. Diagnostics only.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.FeatureID != emptyFeatureID {
			out = append(out, e)
		}
	}
	return out
}
