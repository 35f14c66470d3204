package irq

import (
	"testing"

	"kore/kernel/arch"
)

// mockController records the calls made by the interrupt table.
type mockController struct {
	remapOffset  uint8
	enabled      []uint8
	disabled     []uint8
	acknowledged []uint8
}

func (c *mockController) Remap(offset uint8)     { c.remapOffset = offset }
func (c *mockController) EnableLine(line uint8)  { c.enabled = append(c.enabled, line) }
func (c *mockController) DisableLine(line uint8) { c.disabled = append(c.disabled, line) }
func (c *mockController) Acknowledge(line uint8) { c.acknowledged = append(c.acknowledged, line) }

func newTestTable() (*Table, *mockController) {
	var (
		table      Table
		controller mockController
	)
	table.Init(&controller)
	return &table, &controller
}

func TestInitRemapsAndUnmasksLines(t *testing.T) {
	_, controller := newTestTable()

	if exp, got := uint8(IRQBase), controller.remapOffset; got != exp {
		t.Fatalf("expected controller remap to %d; got %d", exp, got)
	}
	if exp, got := 2, len(controller.enabled); got != exp {
		t.Fatalf("expected %d unmasked lines; got %d", exp, got)
	}
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	table, _ := newTestTable()

	var seen *arch.Registers
	table.HandleInterrupt(SyscallVector, func(regs *arch.Registers) {
		seen = regs
		regs.SetReturn(42)
	})

	regs := &arch.Registers{}
	regs.SetVector(SyscallVector)
	table.Dispatch(regs)

	if seen != regs {
		t.Fatal("expected handler to receive the snapshot by reference")
	}
	// Handler mutations must be visible in the resumed state.
	if exp, got := uint64(42), regs.Return(); got != exp {
		t.Fatalf("expected return register %d; got %d", exp, got)
	}
}

func TestRegistrationOverwritesInPlace(t *testing.T) {
	table, _ := newTestTable()

	table.HandleInterrupt(TimerVector, func(*arch.Registers) { t.Fatal("stale handler invoked") })

	invoked := false
	table.HandleInterrupt(TimerVector, func(*arch.Registers) { invoked = true })

	regs := &arch.Registers{}
	regs.SetVector(TimerVector)
	table.Dispatch(regs)

	if !invoked {
		t.Fatal("expected the last registered handler to win")
	}
}

func TestUnhandledExceptionIsFatal(t *testing.T) {
	table, _ := newTestTable()

	var panicked bool
	table.panicFn = func(e interface{}, regs *arch.Registers) {
		panicked = true
		panic("halt")
	}

	regs := &arch.Registers{}
	regs.SetVector(GPFException)

	func() {
		defer func() { _ = recover() }()
		table.Dispatch(regs)
	}()

	if !panicked {
		t.Fatal("expected dispatch of an unhandled exception to panic")
	}
}

func TestUnknownIRQAcknowledgedAndIgnored(t *testing.T) {
	table, controller := newTestTable()

	regs := &arch.Registers{}
	regs.SetVector(IRQBase + 7)
	table.Dispatch(regs)

	if exp, got := []uint8{7}, controller.acknowledged; len(got) != 1 || got[0] != exp[0] {
		t.Fatalf("expected lone acknowledge of line 7; got %v", got)
	}
}

func TestIRQHandlerAcknowledgedAfterReturn(t *testing.T) {
	table, controller := newTestTable()

	table.HandleInterrupt(TimerVector, func(regs *arch.Registers) {
		if len(controller.acknowledged) != 0 {
			t.Fatal("end-of-interrupt signalled before the handler returned")
		}
	})

	regs := &arch.Registers{}
	regs.SetVector(TimerVector)
	table.Dispatch(regs)

	if exp, got := 1, len(controller.acknowledged); got != exp {
		t.Fatalf("expected %d acknowledge; got %d", exp, got)
	}
	if exp, got := uint8(0), controller.acknowledged[0]; got != exp {
		t.Fatalf("expected acknowledge of line %d; got %d", exp, got)
	}
}

func TestUnregisteredSoftwareVectorIgnored(t *testing.T) {
	table, controller := newTestTable()

	// A software vector outside both the exception and IRQ ranges has no
	// controller to acknowledge and must be silently ignored.
	regs := &arch.Registers{}
	regs.SetVector(0x90)
	table.Dispatch(regs)

	if len(controller.acknowledged) != 0 {
		t.Fatalf("expected no acknowledge; got %v", controller.acknowledged)
	}
}
