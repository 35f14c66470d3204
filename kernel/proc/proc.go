// Package proc implements the process control block table and the
// round-robin scheduler. PCBs live in a fixed slab indexed by slot number and
// the ready queue is an explicit FIFO of slot indices, keeping queue state
// directly inspectable.
package proc

import (
	"kore/kernel"
	"kore/kernel/arch"
	"kore/kernel/mem"
)

// PID identifies a process. PIDs are unique and assigned monotonically; pid 0
// is the built-in idle process.
type PID uint32

// State describes the lifecycle state of a PCB.
type State uint8

const (
	// StateNew marks a PCB that is being constructed.
	StateNew State = iota

	// StateReady marks a PCB that is linked into the ready queue.
	StateReady

	// StateRunning marks the PCB that owns the CPU. At most one PCB is
	// Running at any instant.
	StateRunning

	// StateBlocked marks a PCB waiting for input or a sleep deadline.
	StateBlocked

	// StateZombie is terminal: the PCB never re-enters scheduling.
	StateZombie
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	}
	return "invalid"
}

const (
	// MaxProcs bounds the PCB slab.
	MaxProcs = 64

	// KernelStackPages is the number of pages backing each kernel stack.
	KernelStackPages = 2

	// stackRegionBase is the virtual base of the kernel stack area. Each
	// slot's stack is followed by an unmapped guard page.
	stackRegionBase = uint64(0x10000000)

	// UserDataBase is the virtual address of the per-process data page
	// mapped into every address space at creation time. Processes use it
	// for syscall buffers.
	UserDataBase = uint64(0x20000000)
)

var (
	errTooManyProcesses = &kernel.Error{Module: "proc", Message: "process table is full"}
)

// PCB is the per-process state record.
type PCB struct {
	Pid   PID
	Name  string
	State State

	// Context holds the saved CPU state restored when the process is
	// scheduled back in.
	Context arch.Registers

	// Root identifies the process address space by the physical frame of
	// its top-level page table.
	Root mem.Frame

	// StackTop is the initial stack pointer; the stack grows down from it.
	StackTop uint64

	Priority  uint8
	SliceLeft uint32

	// ExitStatus is valid once State is StateZombie.
	ExitStatus uint64

	slot int
}

// stackBase returns the virtual base address of the kernel stack for a slot.
func stackBase(slot int) uint64 {
	return stackRegionBase + uint64(slot)*uint64(KernelStackPages+1)*mem.PageSize
}
