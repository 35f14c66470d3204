// Package irq implements the interrupt subsystem: a fixed vector table that
// routes every trap (CPU exception, hardware IRQ or syscall trap) through a
// single dispatch point.
package irq

import (
	"kore/kernel"
	"kore/kernel/arch"
	"kore/kernel/kfmt"
)

const (
	// MaxVectors is the architecture's vector space size.
	MaxVectors = 256

	// ExceptionVectors is the number of vectors reserved for CPU
	// exceptions at the bottom of the vector space.
	ExceptionVectors = 32

	// IRQBase is the vector that hardware IRQ line 0 is remapped to.
	// The legacy controller default overlaps the CPU exception range and
	// must be moved out of the way before interrupts are unmasked.
	IRQBase = 32

	// IRQLines is the number of IRQ lines behind the cascaded controller
	// pair.
	IRQLines = 16

	// TimerVector receives IRQ line 0, the source of preemption ticks.
	TimerVector = IRQBase + 0

	// KeyboardVector receives IRQ line 1.
	KeyboardVector = IRQBase + 1

	// SyscallVector is the software trap vector used by the syscall
	// dispatcher.
	SyscallVector = 0x80
)

var errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled CPU exception"}

// Handler is a function invoked to service a trap. The register snapshot is
// passed by reference; mutations alter the state execution resumes with.
type Handler func(*arch.Registers)

// Controller abstracts the interrupt controller collaborator (a cascaded
// pair on x86-class machines).
type Controller interface {
	// Remap moves the IRQ line range to start at the given vector.
	Remap(offset uint8)

	// EnableLine unmasks an IRQ line.
	EnableLine(line uint8)

	// DisableLine masks an IRQ line.
	DisableLine(line uint8)

	// Acknowledge signals end-of-interrupt for a line. For lines routed
	// through the secondary controller both controllers are signalled.
	Acknowledge(line uint8)
}

// Table owns the interrupt vector table. It is populated once during
// single-threaded initialization; later registrations overwrite in place.
type Table struct {
	handlers   [MaxVectors]Handler
	controller Controller

	// panicFn is overridden by tests exercising the fatal path.
	panicFn func(interface{}, *arch.Registers)
}

// Init wires the vector table to the interrupt controller collaborator:
// the IRQ lines are remapped above the CPU exception range and the timer and
// keyboard lines are unmasked. Handlers are installed afterwards via
// HandleInterrupt.
func (t *Table) Init(controller Controller) {
	t.controller = controller
	t.panicFn = kfmt.Panic

	controller.Remap(IRQBase)
	for line := uint8(0); line < IRQLines; line++ {
		controller.DisableLine(line)
	}
	controller.EnableLine(0)
	controller.EnableLine(1)
}

// HandleInterrupt registers a handler for the given vector. The last
// registration for a vector wins. Registration occurs only during the
// single-threaded initialization phase before interrupts are unmasked.
func (t *Table) HandleInterrupt(vector uint8, handler Handler) {
	t.handlers[vector] = handler
}

// Dispatch routes a trap to the handler registered for its vector. An
// unhandled CPU exception is fatal; an unrecognized IRQ is acknowledged and
// ignored so a misbehaving device cannot crash the kernel. IRQ-path handlers
// have end-of-interrupt signalled on their behalf after they return.
func (t *Table) Dispatch(regs *arch.Registers) {
	vector := regs.Vector()
	handler := t.handlers[vector]

	if handler == nil {
		if vector < ExceptionVectors {
			kfmt.Printf("\nunhandled exception: %s (vector %d)\n", ExceptionName(vector), vector)
			t.panicFn(errUnhandledException, regs)
			return
		}
		if line, ok := t.irqLine(vector); ok {
			t.controller.Acknowledge(line)
		}
		return
	}

	handler(regs)

	// Without end-of-interrupt no further interrupt is ever delivered on
	// the line.
	if line, ok := t.irqLine(vector); ok {
		t.controller.Acknowledge(line)
	}
}

// irqLine maps a vector back to the IRQ line it was remapped from.
func (t *Table) irqLine(vector uint8) (uint8, bool) {
	if vector >= IRQBase && vector < IRQBase+IRQLines {
		return vector - IRQBase, true
	}
	return 0, false
}
