package vmm

import (
	"kore/kernel"
	"kore/kernel/arch"
	"kore/kernel/mem"
	"kore/kernel/mm/pmm"
)

var (
	// ErrInvalidMapping is returned when looking up a virtual address that
	// is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport  = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page fault is not recoverable"}
	errAddressSpaceInUse  = &kernel.Error{Module: "vmm", Message: "cannot destroy the kernel or active address space"}
)

// kernelMapping records an identity-mapped physical range that must be
// visible in every address space.
type kernelMapping struct {
	base  uint64
	size  uint64
	flags EntryFlag
}

// demandRegion records a virtual range whose pages are backed on first
// access instead of at reservation time.
type demandRegion struct {
	start uint64
	size  uint64
	flags EntryFlag
}

// Manager owns the paging state of the machine: the kernel's top-level
// table, the currently active table, the translation cache and the set of
// on-demand regions. All page tables are stored inside the RAM slab and
// walked through it.
type Manager struct {
	ram    *mem.RAM
	frames *pmm.BitmapAllocator
	layout arch.Layout

	tlb tlb

	kernelRoot mem.Frame
	activeRoot mem.Frame
	enabled    bool

	// kernelRegions is replayed into every address space created after
	// Init so that kernel code keeps executing across directory switches.
	kernelRegions []kernelMapping

	// demand tracks the registered on-demand regions per top-level table.
	demand map[mem.Frame][]demandRegion
}

// Init builds the initial top-level table, identity-maps the ranges the
// kernel needs to keep executing once translation is active (the kernel image
// and the frame allocator bitmap), and activates address translation.
func (m *Manager) Init(ram *mem.RAM, frames *pmm.BitmapAllocator, layout arch.Layout, kernelStart, kernelEnd uint64) *kernel.Error {
	m.ram = ram
	m.frames = frames
	m.layout = layout
	m.demand = make(map[mem.Frame][]demandRegion)

	root, err := m.allocTable()
	if err != nil {
		return err
	}
	m.kernelRoot = root
	m.activeRoot = root

	bitmapBase, bitmapSize := frames.BitmapRegion()
	m.kernelRegions = []kernelMapping{
		{base: kernelStart, size: kernelEnd - kernelStart, flags: FlagPresent | FlagRW},
		{base: bitmapBase, size: bitmapSize, flags: FlagPresent | FlagRW | FlagNoExecute},
	}
	for _, region := range m.kernelRegions {
		if err := m.identityMapIn(root, region); err != nil {
			return err
		}
	}

	m.enabled = true
	m.tlb.flush()
	return nil
}

// CreateAddressSpace allocates a fresh top-level table carrying the kernel
// identity mappings and returns the frame that identifies it.
func (m *Manager) CreateAddressSpace() (mem.Frame, *kernel.Error) {
	root, err := m.allocTable()
	if err != nil {
		return mem.InvalidFrame, err
	}

	for _, region := range m.kernelRegions {
		if err := m.identityMapIn(root, region); err != nil {
			m.DestroyAddressSpace(root)
			return mem.InvalidFrame, err
		}
	}

	return root, nil
}

// DestroyAddressSpace releases every page-table frame of the address space
// identified by root, including the root itself. Frames referenced by leaf
// entries are left alone; their ownership stays with whoever mapped them.
// The kernel's own address space and the active one cannot be destroyed.
func (m *Manager) DestroyAddressSpace(root mem.Frame) *kernel.Error {
	if root == m.kernelRoot || root == m.activeRoot {
		return errAddressSpaceInUse
	}

	delete(m.demand, root)
	return m.freeTables(root, 0)
}

// freeTables releases a page table and, on non-leaf levels, every table
// reachable through its present entries.
func (m *Manager) freeTables(table mem.Frame, level int) *kernel.Error {
	if level < m.layout.PageLevels-1 {
		base := table.Address()
		for i := 0; i < m.layout.TableEntries(level); i++ {
			word, err := m.ram.Word(base+uint64(i*m.layout.EntrySize), m.layout.EntrySize)
			if err != nil {
				return err
			}

			pte := Entry(word)
			if pte.HasFlags(FlagPresent) && !pte.HasFlags(FlagHugePage) {
				if err := m.freeTables(pte.Frame(m.layout), level+1); err != nil {
					return err
				}
			}
		}
	}
	return m.frames.FreeFrame(table)
}

// SwitchDirectory swaps the active top-level table, a whole-address-space
// change performed on every process context switch, and flushes the
// translation cache.
func (m *Manager) SwitchDirectory(root mem.Frame) {
	if root == m.activeRoot {
		return
	}
	m.activeRoot = root
	m.tlb.flush()
}

// ActiveRoot returns the frame of the currently active top-level table.
func (m *Manager) ActiveRoot() mem.Frame { return m.activeRoot }

// KernelRoot returns the frame of the kernel's own top-level table.
func (m *Manager) KernelRoot() mem.Frame { return m.kernelRoot }

// ReserveOnDemand registers [start, start+size) as an on-demand region of the
// active address space. No frames are reserved up front; the page-fault
// handler backs each page with a fresh zeroed frame on first access.
func (m *Manager) ReserveOnDemand(start, size uint64, flags EntryFlag) {
	m.demand[m.activeRoot] = append(m.demand[m.activeRoot], demandRegion{
		start: start,
		size:  size,
		flags: flags,
	})
}

// identityMapIn maps region.base..region.base+region.size to the identical
// physical range inside the address space identified by root.
func (m *Manager) identityMapIn(root mem.Frame, region kernelMapping) *kernel.Error {
	firstPage := mem.PageFromAddress(region.base)
	lastPage := mem.PageFromAddress(region.base + region.size - 1)
	for page := firstPage; page <= lastPage; page++ {
		if err := m.MapIn(root, page, mem.Frame(page), region.flags); err != nil {
			return err
		}
	}
	return nil
}

// allocTable reserves a frame for a page table and clears it.
func (m *Manager) allocTable() (mem.Frame, *kernel.Error) {
	frame, err := m.frames.AllocFrame()
	if err != nil {
		return mem.InvalidFrame, err
	}
	if err := m.ram.Memset(frame.Address(), 0, mem.PageSize); err != nil {
		return mem.InvalidFrame, err
	}
	return frame, nil
}
