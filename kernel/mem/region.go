package mem

// RegionType describes how firmware classified a physical memory region.
type RegionType uint32

const (
	// RegionReserved marks memory the kernel must never allocate from.
	RegionReserved RegionType = iota

	// RegionAvailable marks general-purpose memory.
	RegionAvailable
)

// String implements fmt.Stringer for RegionType.
func (t RegionType) String() string {
	switch t {
	case RegionAvailable:
		return "available"
	case RegionReserved:
		return "reserved"
	}
	return "unknown"
}

// Region describes one entry of the normalized memory map handed to the
// kernel by the boot collaborator. The kernel never parses a bootloader
// specific structure itself.
type Region struct {
	Base   uint64
	Length uint64
	Type   RegionType
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Length
}
