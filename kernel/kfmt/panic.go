package kfmt

import (
	"kore/kernel"
	"kore/kernel/arch"
)

var (
	// maskInterruptsFn and cpuHaltFn are wired up by the machine layer and
	// overridden by tests. The default halt action unwinds through a Go
	// panic so that a missing machine hook can never resume execution
	// after a kernel panic.
	maskInterruptsFn = func() {}
	cpuHaltFn        = func() { panic("kfmt: halted") }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicHooks registers the interrupt-mask and halt actions invoked on the
// fatal path. Passing a nil function leaves the corresponding hook unchanged.
func SetPanicHooks(maskFn, haltFn func()) {
	if maskFn != nil {
		maskInterruptsFn = maskFn
	}
	if haltFn != nil {
		cpuHaltFn = haltFn
	}
}

// Panic is the kernel's single fatal path: it masks interrupts, emits the
// supplied diagnostic context and the register snapshot (when one is
// available) to the console sink, and halts the core. Calls to Panic never
// return.
func Panic(e interface{}, regs *arch.Registers) {
	maskInterruptsFn()

	var err *kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	if regs != nil {
		Printf("vector = %d error code = %x\n\n", regs.Vector(), regs.ErrorCode())
		regs.DumpTo(GetOutputSink())
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()

	// The halt hook must not return; guard against a broken machine hook.
	panic("kfmt: halt hook returned")
}
