// Package pmm implements the physical frame allocator. Frame reservations
// are tracked by a single flat bitmap covering the machine's addressable
// span; the bitmap itself is self-hosted inside the largest available region
// so that the allocator has no bootstrap dependency on another allocator.
package pmm

import (
	"math"

	"kore/kernel"
	"kore/kernel/mem"
)

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of physical memory"}
	errFrameNotManaged = &kernel.Error{Module: "pmm", Message: "frame not managed by this allocator"}
	errNoUsableRegion  = &kernel.Error{Module: "pmm", Message: "no available region can host the allocator bitmap"}
)

type markAs bool

const (
	markReserved markAs = true
	markFree     markAs = false
)

// BitmapAllocator tracks frame reservations using one bit per frame. A set
// bit indicates a reserved frame. Within each 64-bit block, bit indices are
// assigned MSB-first so that frame numbers increase left to right when a
// block is printed in binary.
type BitmapAllocator struct {
	ram *mem.RAM

	// bitmap aliases the backing bytes inside the RAM slab.
	bitmap []uint64

	// bitmapBase and bitmapBytes describe the physical range that hosts
	// the bitmap.
	bitmapBase  uint64
	bitmapBytes uint64

	// totalFrames tracks the number of frames covered by the bitmap.
	totalFrames uint64

	// usedFrames tracks the number of reserved frames. It is always equal
	// to the number of set bits in the bitmap.
	usedFrames uint64
}

// Init consumes the normalized memory map supplied by the boot collaborator
// and sets up the allocator. The addressable span is the maximum of
// base+length over all map entries. Every frame starts out reserved; frames
// covered by available regions are then released and the pages backing the
// bitmap itself are re-reserved.
func (alloc *BitmapAllocator) Init(ram *mem.RAM, memoryMap []mem.Region) *kernel.Error {
	var span uint64
	for _, region := range memoryMap {
		if end := region.End(); end > span {
			span = end
		}
	}

	alloc.ram = ram
	alloc.totalFrames = (span + mem.PageSize - 1) >> mem.PageShift

	// Round the bitmap bit count up to a multiple of 64 so it can be
	// stored as a []uint64. The padding bits at the tail never correspond
	// to a managed frame and remain permanently set.
	words := (alloc.totalFrames + 63) >> 6
	alloc.bitmapBytes = words << 3

	// Host the bitmap inside the largest available region.
	var host mem.Region
	for _, region := range memoryMap {
		if region.Type == mem.RegionAvailable && region.Length > host.Length {
			host = region
		}
	}
	if host.Length == 0 || host.Length < alloc.bitmapBytes || host.End() > ram.Size() {
		return errNoUsableRegion
	}

	alloc.bitmapBase = host.Base
	bitmap, err := ram.BitmapSlice(alloc.bitmapBase, int(words))
	if err != nil {
		return err
	}
	alloc.bitmap = bitmap

	// Reserve everything, release the available regions and finally
	// re-reserve the bitmap's own backing pages.
	for i := range alloc.bitmap {
		alloc.bitmap[i] = math.MaxUint64
	}
	alloc.usedFrames = alloc.totalFrames

	for _, region := range memoryMap {
		if region.Type == mem.RegionAvailable {
			alloc.MarkRegionFree(region.Base, region.Length)
		}
	}
	alloc.MarkRegionUsed(alloc.bitmapBase, alloc.bitmapBytes)

	return nil
}

// AllocFrame reserves and returns the first free frame. It returns
// mem.InvalidFrame together with an out-of-memory error when every managed
// frame is reserved.
func (alloc *BitmapAllocator) AllocFrame() (mem.Frame, *kernel.Error) {
	if alloc.usedFrames == alloc.totalFrames {
		return mem.InvalidFrame, errOutOfMemory
	}

	for blockIndex, block := range alloc.bitmap {
		// Fully reserved blocks are skipped without scanning their bits.
		if block == math.MaxUint64 {
			continue
		}

		for bitIndex := 0; bitIndex < 64; bitIndex++ {
			mask := uint64(1) << (63 - bitIndex)
			if block&mask != 0 {
				continue
			}

			frame := mem.Frame(uint64(blockIndex)<<6 + uint64(bitIndex))
			alloc.bitmap[blockIndex] |= mask
			alloc.usedFrames++
			return frame, nil
		}
	}

	return mem.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a previously reserved frame. Releasing a frame that is
// already free is a no-op: the double free is a caller bug, not an allocator
// fault, and must not disturb the used-frame counter.
func (alloc *BitmapAllocator) FreeFrame(frame mem.Frame) *kernel.Error {
	if uint64(frame) >= alloc.totalFrames {
		return errFrameNotManaged
	}

	alloc.markFrame(frame, markFree)
	return nil
}

// MarkRegionUsed reserves every frame covering [base, base+size). The size is
// rounded up to a whole number of frames.
func (alloc *BitmapAllocator) MarkRegionUsed(base, size uint64) {
	alloc.markRegion(base, size, markReserved)
}

// MarkRegionFree releases every frame covering [base, base+size). The size is
// rounded up to a whole number of frames.
func (alloc *BitmapAllocator) MarkRegionFree(base, size uint64) {
	alloc.markRegion(base, size, markFree)
}

func (alloc *BitmapAllocator) markRegion(base, size uint64, as markAs) {
	firstFrame := mem.FrameFromAddress(base)
	lastFrame := mem.FrameFromAddress(base + size + mem.PageSize - 1)
	for frame := firstFrame; frame < lastFrame; frame++ {
		if uint64(frame) >= alloc.totalFrames {
			return
		}
		alloc.markFrame(frame, as)
	}
}

// markFrame flips the bitmap bit for frame, updating the used-frame counter
// only when the bit actually changes so the counter always matches the number
// of set bits.
func (alloc *BitmapAllocator) markFrame(frame mem.Frame, as markAs) {
	block := uint64(frame) >> 6
	mask := uint64(1) << (63 - (uint64(frame) & 63))

	isSet := alloc.bitmap[block]&mask != 0
	switch {
	case as == markReserved && !isSet:
		alloc.bitmap[block] |= mask
		alloc.usedFrames++
	case as == markFree && isSet:
		alloc.bitmap[block] &^= mask
		alloc.usedFrames--
	}
}

// TotalFrames returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint64 { return alloc.totalFrames }

// UsedFrames returns the number of currently reserved frames.
func (alloc *BitmapAllocator) UsedFrames() uint64 { return alloc.usedFrames }

// BitmapRegion reports the physical range that hosts the allocator bitmap so
// the virtual memory manager can keep it identity-mapped.
func (alloc *BitmapAllocator) BitmapRegion() (base, size uint64) {
	return alloc.bitmapBase, alloc.bitmapBytes
}

// SetBits counts the set bits across the bitmap. It exists so tests and
// debug commands can verify the used-frame counter invariant directly.
func (alloc *BitmapAllocator) SetBits() uint64 {
	var count uint64
	for _, block := range alloc.bitmap {
		for ; block != 0; block &= block - 1 {
			count++
		}
	}
	// Padding bits past the last managed frame do not count.
	return count - (alloc.bitmapBytes<<3 - alloc.totalFrames)
}
