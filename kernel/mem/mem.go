// Package mem defines the physical and virtual memory units shared by the
// memory-management subsystems together with the simulated RAM slab they
// operate on.
package mem

import "math"

const (
	// PageSize is the size of a page or frame in bytes. Both supported
	// architecture variants use 4K pages.
	PageSize = 4096

	// PageShift is the number of address bits covered by a page.
	PageShift = 12
)

// Frame describes a physical memory page index.
type Frame uint64

// InvalidFrame is returned by frame allocators when they fail to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address where this frame begins.
func (f Frame) Address() uint64 {
	return uint64(f) << PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uint64) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint64

// Address returns the virtual memory address where this page begins.
func (p Page) Address() uint64 {
	return uint64(p) << PageShift
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them.
func PageFromAddress(virtAddr uint64) Page {
	return Page(virtAddr >> PageShift)
}

// PageOffset returns the offset within the page that contains virtAddr.
func PageOffset(virtAddr uint64) uint64 {
	return virtAddr & (PageSize - 1)
}
