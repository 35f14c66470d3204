// Package sys implements the syscall dispatcher: a fixed table of numbered
// handlers reached through a software trap vector. The calling convention
// places the syscall number in RAX and up to three arguments in RDI, RSI and
// RDX; the handler's result is written back into RAX of the register snapshot
// so it becomes the resumed process's observed return value.
package sys

import (
	"kore/kernel"
	"kore/kernel/arch"
	"kore/kernel/irq"
	"kore/kernel/mem"
	"kore/kernel/mm/vmm"
	"kore/kernel/proc"
)

const (
	// MaxSyscalls bounds the dispatch table.
	MaxSyscalls = 64

	// FailureSentinel is written to the return-value register for
	// out-of-range or unregistered syscall numbers and for handler
	// failures.
	FailureSentinel = ^uint64(0)
)

// Syscall numbers.
const (
	SysExit = iota + 1
	SysWrite
	SysRead
	SysGetPid
	SysYield
	SysSleep
)

// File descriptors understood by write and read.
const (
	FdStdin  = 0
	FdStdout = 1
	FdStderr = 2
)

// ConsoleSink is the single put_char capability write delivers to.
type ConsoleSink interface {
	PutChar(c byte)
}

// InputSource is the try_get_char capability read pulls from. It never
// blocks; absence of input is reported through ok=false.
type InputSource interface {
	TryGetChar() (byte, bool)
}

// Handler implements one syscall. It mutates the register snapshot to set
// the return value and may block or terminate the calling process through
// the process manager.
type Handler func(regs *arch.Registers)

// pendingRead tracks a process blocked in read: the destination buffer in
// its own address space and the bytes copied so far.
type pendingRead struct {
	pid   proc.PID
	root  mem.Frame
	buf   uint64
	count uint64
	got   uint64
}

// Dispatcher owns the syscall table. It is registered on the software trap
// vector at Init and consulted for every syscall trap thereafter.
type Dispatcher struct {
	handlers [MaxSyscalls]Handler

	procs   *proc.Manager
	vm      *vmm.Manager
	ram     *mem.RAM
	console ConsoleSink
	input   InputSource

	// readWaiters is the FIFO of processes blocked in read, satisfied in
	// arrival order as input becomes available.
	readWaiters []*pendingRead
}

// Init populates the table with the built-in syscalls and hooks the
// dispatcher into the interrupt subsystem: the syscall trap vector routes to
// Dispatch, and the keyboard IRQ vector routes to OnInputReady so blocked
// readers get woken when characters arrive.
func (d *Dispatcher) Init(table *irq.Table, procs *proc.Manager, vm *vmm.Manager, ram *mem.RAM, console ConsoleSink, input InputSource) {
	d.procs = procs
	d.vm = vm
	d.ram = ram
	d.console = console
	d.input = input

	d.handlers[SysExit] = d.exit
	d.handlers[SysWrite] = d.write
	d.handlers[SysRead] = d.read
	d.handlers[SysGetPid] = d.getPid
	d.handlers[SysYield] = d.yield
	d.handlers[SysSleep] = d.sleep

	table.HandleInterrupt(irq.SyscallVector, d.Dispatch)
	table.HandleInterrupt(irq.KeyboardVector, func(_ *arch.Registers) { d.OnInputReady() })
}

// HandleSyscall overwrites the table entry for num. Out-of-range numbers are
// ignored; the table never grows.
func (d *Dispatcher) HandleSyscall(num uint64, handler Handler) {
	if num >= MaxSyscalls {
		return
	}
	d.handlers[num] = handler
}

// Dispatch routes a syscall trap. An out-of-range or unregistered number
// writes the failure sentinel into the return-value register and has no
// other side effects.
func (d *Dispatcher) Dispatch(regs *arch.Registers) {
	num := regs.SyscallNum()
	if num >= MaxSyscalls || d.handlers[num] == nil {
		regs.SetReturn(FailureSentinel)
		return
	}

	d.handlers[num](regs)
}

// exit(status): terminates the calling process. Never returns control to the
// caller's subsequent instruction; the snapshot already holds the next
// process's context when the handler returns.
func (d *Dispatcher) exit(regs *arch.Registers) {
	d.procs.Exit(regs, regs.Arg(0))
}

// write(fd, buf, count): copies count bytes from the caller's buffer to the
// console sink. Only stdout and stderr are writable; each byte is resolved
// through the caller's page tables.
func (d *Dispatcher) write(regs *arch.Registers) {
	fd := regs.Arg(0)
	buf := regs.Arg(1)
	count := regs.Arg(2)

	if fd != FdStdout && fd != FdStderr {
		regs.SetReturn(FailureSentinel)
		return
	}

	for off := uint64(0); off < count; off++ {
		phys, err := d.vm.Translate(buf + off)
		if err != nil {
			regs.SetReturn(FailureSentinel)
			return
		}
		b, memErr := d.ram.Slice(phys, 1)
		if memErr != nil {
			regs.SetReturn(FailureSentinel)
			return
		}
		d.console.PutChar(b[0])
	}

	regs.SetReturn(count)
}

// read(fd, buf, count): pulls characters from the input source into the
// caller's buffer until count bytes are read or a newline is seen. If the
// source runs dry first, the caller blocks and is resumed from the keyboard
// IRQ path once enough input has arrived.
func (d *Dispatcher) read(regs *arch.Registers) {
	fd := regs.Arg(0)
	if fd != FdStdin {
		regs.SetReturn(FailureSentinel)
		return
	}

	cur := d.procs.Current()
	waiter := &pendingRead{
		pid:   cur.Pid,
		root:  cur.Root,
		buf:   regs.Arg(1),
		count: regs.Arg(2),
	}

	done, err := d.fill(waiter)
	if err != nil {
		regs.SetReturn(FailureSentinel)
		return
	}
	if done {
		regs.SetReturn(waiter.got)
		return
	}

	// Park the caller. The return value is patched into its saved
	// context when the read completes.
	d.readWaiters = append(d.readWaiters, waiter)
	d.procs.Block(regs)
}

// getpid: returns the calling process's pid.
func (d *Dispatcher) getPid(regs *arch.Registers) {
	regs.SetReturn(uint64(d.procs.Current().Pid))
}

// yield: voluntarily gives up the remainder of the time slice.
func (d *Dispatcher) yield(regs *arch.Registers) {
	regs.SetReturn(0)
	d.procs.Yield(regs)
}

// sleep(ms): blocks the caller until at least ms tick-equivalent
// milliseconds have elapsed.
func (d *Dispatcher) sleep(regs *arch.Registers) {
	regs.SetReturn(0)
	d.procs.Sleep(regs, regs.Arg(0))
}

// OnInputReady drains newly arrived input into the head read waiter(s),
// waking each one whose read is satisfied. Waiters are served strictly in
// FIFO order.
func (d *Dispatcher) OnInputReady() {
	for len(d.readWaiters) > 0 {
		waiter := d.readWaiters[0]

		done, err := d.fill(waiter)
		if err != nil {
			d.complete(waiter, FailureSentinel)
			d.readWaiters = d.readWaiters[1:]
			continue
		}
		if !done {
			return
		}

		d.complete(waiter, waiter.got)
		d.readWaiters = d.readWaiters[1:]
	}
}

// fill copies available input into the waiter's buffer. It reports true once
// the read is satisfied: count bytes copied or a newline consumed.
func (d *Dispatcher) fill(waiter *pendingRead) (bool, *kernel.Error) {
	for waiter.got < waiter.count {
		c, ok := d.input.TryGetChar()
		if !ok {
			return false, nil
		}

		phys, err := d.vm.TranslateIn(waiter.root, waiter.buf+waiter.got)
		if err != nil {
			return false, err
		}
		dst, memErr := d.ram.Slice(phys, 1)
		if memErr != nil {
			return false, memErr
		}
		dst[0] = c
		waiter.got++

		if c == '\n' {
			return true, nil
		}
	}
	return true, nil
}

// complete patches the return value into the blocked process's saved context
// and readies it.
func (d *Dispatcher) complete(waiter *pendingRead, ret uint64) {
	if pcb := d.procs.Lookup(waiter.pid); pcb != nil {
		pcb.Context.SetReturn(ret)
	}
	d.procs.Wake(waiter.pid)
}
