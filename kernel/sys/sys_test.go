package sys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kore/kernel/arch"
	"kore/kernel/irq"
	"kore/kernel/mem"
	"kore/kernel/mm/pmm"
	"kore/kernel/mm/vmm"
	"kore/kernel/proc"
)

type recordingConsole struct {
	out []byte
}

func (c *recordingConsole) PutChar(b byte) { c.out = append(c.out, b) }

type scriptedInput struct {
	pending []byte
}

func (s *scriptedInput) feed(data string) { s.pending = append(s.pending, data...) }

func (s *scriptedInput) TryGetChar() (byte, bool) {
	if len(s.pending) == 0 {
		return 0, false
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, true
}

type nopController struct{}

func (nopController) Remap(uint8)       {}
func (nopController) EnableLine(uint8)  {}
func (nopController) DisableLine(uint8) {}
func (nopController) Acknowledge(uint8) {}

type testKernel struct {
	ram     *mem.RAM
	frames  *pmm.BitmapAllocator
	vm      *vmm.Manager
	procs   *proc.Manager
	table   *irq.Table
	disp    *Dispatcher
	console *recordingConsole
	input   *scriptedInput
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()

	ram := mem.NewRAM(16 << 20)
	memoryMap := []mem.Region{
		{Base: 0, Length: 0x100000, Type: mem.RegionReserved},
		{Base: 0x100000, Length: 15 << 20, Type: mem.RegionAvailable},
	}

	frames := &pmm.BitmapAllocator{}
	require.Nil(t, frames.Init(ram, memoryMap))

	vm := &vmm.Manager{}
	require.Nil(t, vm.Init(ram, frames, arch.AMD64, 0x1000, 0x9000))

	procs := &proc.Manager{}
	procs.Init(vm, frames, 4, 10, 0x1000)

	table := &irq.Table{}
	table.Init(nopController{})

	k := &testKernel{
		ram:     ram,
		frames:  frames,
		vm:      vm,
		procs:   procs,
		table:   table,
		disp:    &Dispatcher{},
		console: &recordingConsole{},
		input:   &scriptedInput{},
	}
	k.disp.Init(table, procs, vm, ram, k.console, k.input)
	return k
}

// spawn creates a process and schedules it in so its address space is active.
func (k *testKernel) spawn(t *testing.T, name string, regs *arch.Registers) proc.PID {
	t.Helper()

	pid, err := k.procs.Create(name, 0x2000)
	require.Nil(t, err)
	k.procs.Tick(regs)
	return pid
}

// pokeUserData writes data into the running process's user data page.
func (k *testKernel) pokeUserData(t *testing.T, data string) {
	t.Helper()

	phys, err := k.vm.Translate(proc.UserDataBase)
	require.Nil(t, err)
	dst, memErr := k.ram.Slice(phys, uint64(len(data)))
	require.Nil(t, memErr)
	copy(dst, data)
}

func syscallRegs(num, a0, a1, a2 uint64) *arch.Registers {
	regs := &arch.Registers{RAX: num, RDI: a0, RSI: a1, RDX: a2}
	regs.SetVector(irq.SyscallVector)
	return regs
}

func TestDispatchUnknownNumberSetsSentinel(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	pid := k.spawn(t, "a", regs)

	for _, num := range []uint64{7, MaxSyscalls, MaxSyscalls + 100, ^uint64(0)} {
		trap := syscallRegs(num, 1, 2, 3)
		k.table.Dispatch(trap)

		require.Equal(t, FailureSentinel, trap.Return())
		require.Equal(t, pid, k.procs.Current().Pid, "failed dispatch must not reschedule")
		require.Empty(t, k.console.out, "failed dispatch must not touch the console")
	}
}

func TestWriteDeliversBytesInOrder(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)
	k.pokeUserData(t, "hello\n")

	trap := syscallRegs(SysWrite, FdStdout, proc.UserDataBase, 6)
	k.table.Dispatch(trap)

	require.Equal(t, uint64(6), trap.Return())
	require.Equal(t, "hello\n", string(k.console.out))
}

func TestWriteRejectsBadDescriptor(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)
	k.pokeUserData(t, "x")

	for _, fd := range []uint64{FdStdin, 3, 99} {
		trap := syscallRegs(SysWrite, fd, proc.UserDataBase, 1)
		k.table.Dispatch(trap)

		require.Equal(t, FailureSentinel, trap.Return())
	}
	require.Empty(t, k.console.out)
}

func TestWriteUnmappedBufferFails(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)

	trap := syscallRegs(SysWrite, FdStdout, 0x7000_0000, 4)
	k.table.Dispatch(trap)

	require.Equal(t, FailureSentinel, trap.Return())
}

func TestExitNeverReturnsToCaller(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	pidA := k.spawn(t, "a", regs)
	pidB, err := k.procs.Create("b", 0x3000)
	require.Nil(t, err)

	trap := syscallRegs(SysExit, 3, 0, 0)
	k.table.Dispatch(trap)

	// The snapshot now carries the next process, not the caller.
	require.Equal(t, pidB, k.procs.Current().Pid)
	require.Equal(t, uint64(0x3000), trap.InstructionPointer())

	pcb := k.procs.Lookup(pidA)
	require.Equal(t, proc.StateZombie, pcb.State)
	require.Equal(t, uint64(3), pcb.ExitStatus)
}

func TestGetPid(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	pid := k.spawn(t, "a", regs)

	trap := syscallRegs(SysGetPid, 0, 0, 0)
	k.table.Dispatch(trap)

	require.Equal(t, uint64(pid), trap.Return())
}

func TestYieldRotatesReadyQueue(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	pidA := k.spawn(t, "a", regs)
	pidB, err := k.procs.Create("b", 0x3000)
	require.Nil(t, err)

	trap := syscallRegs(SysYield, 0, 0, 0)
	k.table.Dispatch(trap)
	require.Equal(t, pidB, k.procs.Current().Pid)

	// The yielded process went to the tail and comes back around.
	trap.SetVector(irq.SyscallVector)
	trap.RAX = SysYield
	k.table.Dispatch(trap)
	require.Equal(t, pidA, k.procs.Current().Pid)
	require.Equal(t, uint64(0), trap.Return(), "yield resumes with a zero return value")
}

func TestSleepBlocksCaller(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	pid := k.spawn(t, "a", regs)

	trap := syscallRegs(SysSleep, 20, 0, 0)
	k.table.Dispatch(trap)

	require.Equal(t, proc.StateBlocked, k.procs.Lookup(pid).State)
	require.NotEqual(t, pid, k.procs.Current().Pid)
}

func TestReadSatisfiedImmediately(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)
	k.input.feed("hi\nrest")

	trap := syscallRegs(SysRead, FdStdin, proc.UserDataBase, 16)
	k.table.Dispatch(trap)

	// Stops at the newline, leaving the rest in the source.
	require.Equal(t, uint64(3), trap.Return())

	phys, err := k.vm.Translate(proc.UserDataBase)
	require.Nil(t, err)
	buf, memErr := k.ram.Slice(phys, 3)
	require.Nil(t, memErr)
	require.Equal(t, "hi\n", string(buf))
}

func TestReadStopsAtCount(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)
	k.input.feed("abcdef")

	trap := syscallRegs(SysRead, FdStdin, proc.UserDataBase, 4)
	k.table.Dispatch(trap)

	require.Equal(t, uint64(4), trap.Return())

	phys, err := k.vm.Translate(proc.UserDataBase)
	require.Nil(t, err)
	buf, memErr := k.ram.Slice(phys, 4)
	require.Nil(t, memErr)
	require.Equal(t, "abcd", string(buf))
}

func TestReadBlocksUntilInputArrives(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	pid := k.spawn(t, "a", regs)

	trap := syscallRegs(SysRead, FdStdin, proc.UserDataBase, 16)
	k.table.Dispatch(trap)

	// No input yet: the caller parked and something else runs.
	pcb := k.procs.Lookup(pid)
	require.Equal(t, proc.StateBlocked, pcb.State)
	require.NotEqual(t, pid, k.procs.Current().Pid)

	// Partial input keeps it parked.
	k.input.feed("ok")
	kb := &arch.Registers{}
	kb.SetVector(irq.KeyboardVector)
	k.table.Dispatch(kb)
	require.Equal(t, proc.StateBlocked, pcb.State)

	// The newline completes the read and patches the saved context.
	k.input.feed("\n")
	kb.SetVector(irq.KeyboardVector)
	k.table.Dispatch(kb)
	require.Equal(t, proc.StateReady, pcb.State)
	require.Equal(t, uint64(3), pcb.Context.Return())

	// The bytes landed in the sleeper's own address space.
	phys, err := k.vm.TranslateIn(pcb.Root, proc.UserDataBase)
	require.Nil(t, err)
	buf, memErr := k.ram.Slice(phys, 3)
	require.Nil(t, memErr)
	require.Equal(t, "ok\n", string(buf))
}

func TestReadRejectsBadDescriptor(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)

	trap := syscallRegs(SysRead, FdStdout, proc.UserDataBase, 4)
	k.table.Dispatch(trap)

	require.Equal(t, FailureSentinel, trap.Return())
}

func TestHandleSyscallOverwritesEntry(t *testing.T) {
	k := newTestKernel(t)

	regs := &arch.Registers{}
	k.spawn(t, "a", regs)

	k.disp.HandleSyscall(10, func(r *arch.Registers) { r.SetReturn(1234) })
	k.disp.HandleSyscall(MaxSyscalls+5, func(r *arch.Registers) { r.SetReturn(1) })

	trap := syscallRegs(10, 0, 0, 0)
	k.table.Dispatch(trap)
	require.Equal(t, uint64(1234), trap.Return())
}
