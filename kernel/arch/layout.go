// Package arch describes the CPU-visible contracts of the simulated machine:
// the paging geometry for each supported architecture variant and the
// register snapshot that is captured whenever a trap occurs.
package arch

// Layout parameterizes the address-translation geometry of an architecture
// variant. Rather than duplicating the paging code per pointer width, the
// memory-management subsystems receive a Layout and derive table indices,
// entry sizes and physical masks from it.
type Layout struct {
	// Name identifies the variant (used by config and diagnostics).
	Name string

	// PageLevels is the number of page-table levels.
	PageLevels int

	// LevelBits holds the number of virtual-address bits consumed by the
	// table index at each level, starting from the top-most table.
	LevelBits []uint8

	// LevelShifts holds the right-shift required to extract each level's
	// table index from a virtual address, starting from the top-most table.
	LevelShifts []uint8

	// EntrySize is the size of a page-table entry in bytes.
	EntrySize int

	// PhysMask extracts the physical frame address from a table entry.
	PhysMask uint64
}

// TableEntries returns the number of entries in a single page table.
func (l Layout) TableEntries(level int) int {
	return 1 << l.LevelBits[level]
}

// IndexForLevel extracts the page-table index that corresponds to the given
// virtual address at the given level.
func (l Layout) IndexForLevel(virtAddr uint64, level int) uint64 {
	return (virtAddr >> l.LevelShifts[level]) & ((1 << l.LevelBits[level]) - 1)
}

var (
	// AMD64 describes the long-mode 4-level paging geometry: four levels
	// of 512 8-byte entries each, with bits 12-51 of an entry encoding
	// the physical frame address.
	AMD64 = Layout{
		Name:        "amd64",
		PageLevels:  4,
		LevelBits:   []uint8{9, 9, 9, 9},
		LevelShifts: []uint8{39, 30, 21, 12},
		EntrySize:   8,
		PhysMask:    0x000ffffffffff000,
	}

	// X86 describes the legacy 32-bit two-level geometry: a page directory
	// and page tables of 1024 4-byte entries each.
	X86 = Layout{
		Name:        "x86",
		PageLevels:  2,
		LevelBits:   []uint8{10, 10},
		LevelShifts: []uint8{22, 12},
		EntrySize:   4,
		PhysMask:    0xfffff000,
	}
)

// LayoutByName returns the layout preset registered under the given name or
// false if the name does not match a supported variant.
func LayoutByName(name string) (Layout, bool) {
	switch name {
	case AMD64.Name:
		return AMD64, true
	case X86.Name:
		return X86, true
	}
	return Layout{}, false
}
