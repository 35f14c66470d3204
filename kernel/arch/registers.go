package arch

import (
	"fmt"
	"io"
)

const (
	// RFlagsIF is the interrupt-enable bit of the flags register.
	RFlagsIF = uint64(1) << 9

	// RFlagsDefault is the flags value synthesized into the initial
	// context of a new process: reserved bit 1 plus interrupts enabled.
	RFlagsDefault = uint64(0x202)
)

// Registers contains a snapshot of all register values captured when an
// exception, hardware interrupt or syscall trap occurs. The snapshot is
// passed by reference through the dispatch chain; handlers may mutate it to
// alter the state that execution resumes with (e.g. to write back a syscall
// return value).
//
// The record is sized for the widest supported variant; the 32-bit variant
// stores its state in the low halves of each field. Consumers should reach
// the snapshot through the accessor methods below rather than assuming a
// particular field layout.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the trap vector number for all traps. For CPU
	// exceptions that supply one, Code contains the hardware error code.
	Info uint64
	Code uint64

	// CR2 mirrors the control register that latches the faulting address
	// on a page fault.
	CR2 uint64

	// The return frame restored when the trap handler completes.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Vector returns the trap vector number recorded in the snapshot.
func (r *Registers) Vector() uint8 { return uint8(r.Info) }

// SetVector records the trap vector number in the snapshot.
func (r *Registers) SetVector(v uint8) { r.Info = uint64(v) }

// ErrorCode returns the hardware-supplied error code, if any.
func (r *Registers) ErrorCode() uint64 { return r.Code }

// FaultAddress returns the faulting virtual address latched on a page fault.
func (r *Registers) FaultAddress() uint64 { return r.CR2 }

// SyscallNum returns the syscall number placed in the designated register by
// the trapping process.
func (r *Registers) SyscallNum() uint64 { return r.RAX }

// Arg returns the n-th syscall argument per the kernel calling convention
// (up to three arguments in RDI, RSI, RDX).
func (r *Registers) Arg(n int) uint64 {
	switch n {
	case 0:
		return r.RDI
	case 1:
		return r.RSI
	case 2:
		return r.RDX
	}
	return 0
}

// SetReturn writes a syscall return value into the designated register so it
// becomes the resumed process's observed result.
func (r *Registers) SetReturn(v uint64) { r.RAX = v }

// Return reads back the syscall return register.
func (r *Registers) Return() uint64 { return r.RAX }

// InstructionPointer returns the address execution resumes at.
func (r *Registers) InstructionPointer() uint64 { return r.RIP }

// SetInstructionPointer rewrites the resume address.
func (r *Registers) SetInstructionPointer(ip uint64) { r.RIP = ip }

// StackPointer returns the stack pointer at trap time.
func (r *Registers) StackPointer() uint64 { return r.RSP }

// SetStackPointer rewrites the restored stack pointer.
func (r *Registers) SetStackPointer(sp uint64) { r.RSP = sp }

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %016x RBX = %016x\n", r.RAX, r.RBX)
	fmt.Fprintf(w, "RCX = %016x RDX = %016x\n", r.RCX, r.RDX)
	fmt.Fprintf(w, "RSI = %016x RDI = %016x\n", r.RSI, r.RDI)
	fmt.Fprintf(w, "RBP = %016x\n", r.RBP)
	fmt.Fprintf(w, "R8  = %016x R9  = %016x\n", r.R8, r.R9)
	fmt.Fprintf(w, "R10 = %016x R11 = %016x\n", r.R10, r.R11)
	fmt.Fprintf(w, "R12 = %016x R13 = %016x\n", r.R12, r.R13)
	fmt.Fprintf(w, "R14 = %016x R15 = %016x\n", r.R14, r.R15)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "RIP = %016x CS  = %016x\n", r.RIP, r.CS)
	fmt.Fprintf(w, "RSP = %016x SS  = %016x\n", r.RSP, r.SS)
	fmt.Fprintf(w, "RFL = %016x\n", r.RFlags)
}
