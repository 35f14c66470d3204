package mem

import (
	"encoding/binary"
	"unsafe"

	"kore/kernel"
)

var (
	// ErrOutOfRange is returned for accesses past the end of the RAM slab.
	ErrOutOfRange = &kernel.Error{Module: "mem", Message: "physical address out of range"}
)

// RAM models the machine's physical memory as a single byte slab. The frame
// allocator bitmap and all page tables live inside this slab, mirroring how
// they occupy real physical memory.
type RAM struct {
	data []byte
}

// NewRAM allocates a simulated physical memory of the given size rounded up
// to a whole number of pages.
func NewRAM(size uint64) *RAM {
	size = (size + PageSize - 1) &^ uint64(PageSize-1)
	return &RAM{data: make([]byte, size)}
}

// Size returns the size of the physical memory in bytes.
func (r *RAM) Size() uint64 {
	return uint64(len(r.data))
}

// Slice returns the backing bytes for the physical range [addr, addr+length).
func (r *RAM) Slice(addr, length uint64) ([]byte, *kernel.Error) {
	if addr+length > uint64(len(r.data)) || addr+length < addr {
		return nil, ErrOutOfRange
	}
	return r.data[addr : addr+length], nil
}

// Word reads a page-table-entry-sized little-endian word at addr. entrySize
// must be 4 or 8 (see arch.Layout.EntrySize).
func (r *RAM) Word(addr uint64, entrySize int) (uint64, *kernel.Error) {
	b, err := r.Slice(addr, uint64(entrySize))
	if err != nil {
		return 0, err
	}
	if entrySize == 4 {
		return uint64(binary.LittleEndian.Uint32(b)), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

// SetWord writes a page-table-entry-sized little-endian word at addr.
func (r *RAM) SetWord(addr uint64, v uint64, entrySize int) *kernel.Error {
	b, err := r.Slice(addr, uint64(entrySize))
	if err != nil {
		return err
	}
	if entrySize == 4 {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return nil
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// Memset fills the physical range [addr, addr+count) with val.
func (r *RAM) Memset(addr uint64, val byte, count uint64) *kernel.Error {
	b, err := r.Slice(addr, count)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = val
	}
	return nil
}

// BitmapSlice aliases the physical range starting at addr as a []uint64 of
// the given length. The range must be 8-byte aligned; it is used by the frame
// allocator to self-host its bitmap inside the managed memory.
func (r *RAM) BitmapSlice(addr uint64, words int) ([]uint64, *kernel.Error) {
	if words <= 0 || addr&7 != 0 {
		return nil, ErrOutOfRange
	}
	b, err := r.Slice(addr, uint64(words)*8)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), words), nil
}
