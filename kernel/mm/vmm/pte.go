// Package vmm implements the virtual memory manager: a multi-level
// page-table walker and mapper whose tables live inside the simulated
// physical memory, a software translation cache, and the page-fault handler.
package vmm

import (
	"kore/kernel/arch"
	"kore/kernel/mem"
)

// EntryFlag describes a flag that can be applied to a page table entry.
type EntryFlag uint64

const (
	// FlagPresent is set when the entry references a frame that is
	// resident in memory.
	FlagPresent EntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this
	// page. If not set only kernel code can access it.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when the page is modified.
	FlagDirty

	// FlagHugePage is set when the entry maps a large page directly
	// instead of pointing at a next-level table.
	FlagHugePage

	// FlagNoExecute marks a page as non-executable. The flag occupies the
	// top entry bit and is silently dropped on the 32-bit variant whose
	// entries are too narrow to encode it.
	FlagNoExecute = EntryFlag(1) << 63
)

// Entry describes a page table entry: a physical frame address plus a set of
// flags. The bit layout is a hardware ABI contract which is why Entry is an
// opaque integer reached only through the accessors below.
type Entry uint64

// HasFlags returns true if the entry has all the input flags set.
func (pte Entry) HasFlags(flags EntryFlag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

// HasAnyFlag returns true if the entry has at least one of the input flags set.
func (pte Entry) HasAnyFlag(flags EntryFlag) bool {
	return uint64(pte)&uint64(flags) != 0
}

// SetFlags sets the input list of flags on the page table entry.
func (pte *Entry) SetFlags(flags EntryFlag) {
	*pte = Entry(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *Entry) ClearFlags(flags EntryFlag) {
	*pte = Entry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical frame that this entry points to under the given
// translation geometry.
func (pte Entry) Frame(layout arch.Layout) mem.Frame {
	return mem.Frame((uint64(pte) & layout.PhysMask) >> mem.PageShift)
}

// SetFrame updates the entry to point to the given physical frame.
func (pte *Entry) SetFrame(layout arch.Layout, frame mem.Frame) {
	*pte = Entry((uint64(*pte) &^ layout.PhysMask) | frame.Address())
}
