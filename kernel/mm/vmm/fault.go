package vmm

import (
	"kore/kernel"
	"kore/kernel/arch"
	"kore/kernel/kfmt"
	"kore/kernel/mem"
)

// Page-fault error code bits as pushed by the CPU.
const (
	faultPresent     = 1 << 0
	faultWrite       = 1 << 1
	faultUser        = 1 << 2
	faultReservedBit = 1 << 3
	faultInstrFetch  = 1 << 4
)

var (
	// panicFn is overridden by tests that exercise the fatal path.
	panicFn = kfmt.Panic
)

// HandlePageFault is invoked by the interrupt subsystem with the register
// snapshot of a page-fault trap. Faults on a not-yet-backed page of a
// registered on-demand region are resolved by mapping a fresh zeroed frame
// and resuming; every other fault is fatal.
func (m *Manager) HandlePageFault(regs *arch.Registers) {
	faultAddr := regs.FaultAddress()
	errorCode := regs.ErrorCode()

	// Protection violations are never recoverable: only non-present
	// faults can belong to an on-demand page.
	if errorCode&faultPresent == 0 {
		if region, ok := m.demandRegionFor(faultAddr); ok {
			if err := m.mapDemandPage(faultAddr, region); err != nil {
				m.fatalPageFault(faultAddr, errorCode, regs, err)
			}
			return
		}
	}

	m.fatalPageFault(faultAddr, errorCode, regs, errUnrecoverableFault)
}

// demandRegionFor looks up the on-demand region of the active address space
// that contains faultAddr.
func (m *Manager) demandRegionFor(faultAddr uint64) (demandRegion, bool) {
	for _, region := range m.demand[m.activeRoot] {
		if faultAddr >= region.start && faultAddr < region.start+region.size {
			return region, true
		}
	}
	return demandRegion{}, false
}

// mapDemandPage backs the faulting page with a fresh zeroed frame so the
// trapped instruction can be retried.
func (m *Manager) mapDemandPage(faultAddr uint64, region demandRegion) *kernel.Error {
	frame, err := m.frames.AllocFrame()
	if err != nil {
		return err
	}
	if err := m.ram.Memset(frame.Address(), 0, mem.PageSize); err != nil {
		return err
	}
	return m.Map(mem.PageFromAddress(faultAddr), frame, region.flags)
}

func (m *Manager) fatalPageFault(faultAddr, errorCode uint64, regs *arch.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%016x\nReason: %s\n", faultAddr, faultReason(errorCode))
	panicFn(err, regs)
}

// faultReason decodes the hardware error code of a page fault.
func faultReason(errorCode uint64) string {
	switch {
	case errorCode&faultReservedBit != 0:
		return "page table has reserved bit set"
	case errorCode&faultInstrFetch != 0:
		return "instruction fetch"
	case errorCode&faultUser != 0 && errorCode&faultPresent == 0:
		return "page fault in user-mode (non-present page)"
	case errorCode&faultUser != 0:
		return "page fault in user-mode (protection violation)"
	case errorCode&(faultWrite|faultPresent) == faultWrite|faultPresent:
		return "page protection violation (write)"
	case errorCode&faultWrite != 0:
		return "write to non-present page"
	case errorCode&faultPresent != 0:
		return "page protection violation (read)"
	default:
		return "read from non-present page"
	}
}
