// Package machine assembles the kernel core and the hardware collaborators
// it is specified against: a RAM slab and memory map, a cascaded interrupt
// controller, a console sink, a keyboard input source, and a timer. It then
// drives the whole assembly tick by tick, delivering IRQs and executing one
// step of the running program per tick.
package machine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kore/kernel/arch"
	"kore/kernel/irq"
	"kore/kernel/kfmt"
	"kore/kernel/mem"
	"kore/kernel/mm/pmm"
	"kore/kernel/mm/vmm"
	"kore/kernel/proc"
	"kore/kernel/sys"
)

const (
	// The kernel image occupies a fixed window inside the reserved low
	// megabyte; the VMM identity-maps it at boot.
	kernelImageStart = 0x1000
	kernelImageEnd   = 0x9000

	// idleEntry is the synthetic address of the idle loop.
	idleEntry = 0x1000

	// textBase is where synthetic program entry points are assigned,
	// one page apart.
	textBase = 0x400000
)

// ErrHalted is returned by Run when the kernel's panic path halts the CPU.
var ErrHalted = errors.New("machine: cpu halted")

// haltSignal is the panic payload the halt hook uses to unwind out of the
// dispatch chain.
type haltSignal struct{}

// Machine owns the simulated hardware and the kernel subsystems built on it.
type Machine struct {
	cfg Config
	log *zap.Logger

	layout  arch.Layout
	ram     *mem.RAM
	frames  *pmm.BitmapAllocator
	vm      *vmm.Manager
	table   *irq.Table
	procs   *proc.Manager
	disp    *sys.Dispatcher
	pic     *PIC
	console *Console
	input   *Input

	// cpu is the live register file. IRQ delivery and syscall traps
	// mutate it in place; a context switch swaps its entire contents.
	cpu arch.Registers

	programs map[proc.PID]program
	script   []byte

	maskDepth int
	halted    bool
	lastPid   proc.PID
}

// New boots a machine from its config: physical memory and the region map,
// the frame allocator, address translation, the interrupt table behind the
// PIC, the process manager, the syscall dispatcher, and finally the
// configured programs.
func New(cfg Config, log *zap.Logger) (*Machine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	layout, ok := arch.LayoutByName(cfg.Arch)
	if !ok {
		return nil, fmt.Errorf("machine: unknown arch %q", cfg.Arch)
	}

	m := &Machine{
		cfg:      cfg,
		log:      log,
		layout:   layout,
		console:  &Console{},
		input:    &Input{},
		pic:      NewPIC(),
		programs: make(map[proc.PID]program),
		script:   []byte(cfg.Input),
	}

	ramSize := cfg.MemoryMiB << 20
	m.ram = mem.NewRAM(ramSize)
	memoryMap := []mem.Region{
		{Base: 0, Length: 0x100000, Type: mem.RegionReserved},
		{Base: 0x100000, Length: ramSize - 0x100000, Type: mem.RegionAvailable},
	}

	m.frames = &pmm.BitmapAllocator{}
	if err := m.frames.Init(m.ram, memoryMap); err != nil {
		return nil, fmt.Errorf("machine: frame allocator: %s", err.Error())
	}
	log.Info("frame allocator up",
		zap.Uint64("total_frames", m.frames.TotalFrames()),
		zap.Uint64("used_frames", m.frames.UsedFrames()),
	)

	m.vm = &vmm.Manager{}
	if err := m.vm.Init(m.ram, m.frames, layout, kernelImageStart, kernelImageEnd); err != nil {
		return nil, fmt.Errorf("machine: vmm: %s", err.Error())
	}
	log.Info("address translation enabled", zap.String("layout", layout.Name))

	m.table = &irq.Table{}
	m.table.Init(m.pic)

	m.procs = &proc.Manager{}
	m.procs.Init(m.vm, m.frames, cfg.TimeSlice, cfg.MsPerTick, idleEntry)
	proc.SetInterruptMask(m.maskInterrupts, m.unmaskInterrupts)

	m.disp = &sys.Dispatcher{}
	m.disp.Init(m.table, m.procs, m.vm, m.ram, m.console, m.input)

	m.table.HandleInterrupt(irq.TimerVector, m.procs.Tick)
	m.table.HandleInterrupt(irq.PageFaultException, m.vm.HandlePageFault)

	kfmt.SetOutputSink(m.console)
	kfmt.SetPanicHooks(m.maskInterrupts, m.haltCPU)

	if err := m.loadPrograms(); err != nil {
		return nil, err
	}

	// The CPU starts out running the idle loop with interrupts enabled.
	m.cpu = m.procs.Current().Context
	m.lastPid = m.procs.Current().Pid
	return m, nil
}

// loadPrograms creates one process per configured program and plants its
// message in the process's user data page.
func (m *Machine) loadPrograms() error {
	for i, pc := range m.cfg.Programs {
		entry := uint64(textBase + i*mem.PageSize)
		pid, err := m.procs.Create(pc.Name, entry)
		if err != nil {
			return fmt.Errorf("machine: load %q: %s", pc.Name, err.Error())
		}

		pcb := m.procs.Lookup(pid)
		if err := m.pokeUserData(pcb.Root, pc.Message); err != nil {
			return fmt.Errorf("machine: load %q: %s", pc.Name, err.Error())
		}

		prog, buildErr := buildProgram(pc)
		if buildErr != nil {
			return buildErr
		}
		m.programs[pid] = prog

		m.log.Info("program loaded",
			zap.String("name", pc.Name),
			zap.String("kind", pc.Kind),
			zap.Uint32("pid", uint32(pid)),
			zap.Uint64("entry", entry),
		)
	}
	return nil
}

// pokeUserData copies data into a process's user data page through its own
// page tables.
func (m *Machine) pokeUserData(root mem.Frame, data string) error {
	if uint64(len(data)) > mem.PageSize {
		return fmt.Errorf("machine: message exceeds the user data page")
	}
	phys, err := m.vm.TranslateIn(root, proc.UserDataBase)
	if err != nil {
		return fmt.Errorf("machine: user data page unmapped: %s", err.Error())
	}
	dst, memErr := m.ram.Slice(phys, uint64(len(data)))
	if memErr != nil {
		return fmt.Errorf("machine: user data page out of range: %s", memErr.Error())
	}
	copy(dst, data)
	return nil
}

// Run drives the machine for at most maxTicks timer periods, stopping early
// once every loaded program has exited. Each tick delivers the timer IRQ,
// feeds one scripted keyboard character, then executes one step of the
// running program.
func (m *Machine) Run(maxTicks uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(haltSignal); ok && m.halted {
				err = ErrHalted
				return
			}
			panic(r)
		}
	}()

	for tick := uint64(0); tick < maxTicks; tick++ {
		m.deliverTimer()
		m.deliverInput()
		m.stepCurrent()

		if m.allExited() {
			m.log.Info("all programs exited", zap.Uint64("ticks", m.procs.Ticks()))
			return nil
		}
	}
	return nil
}

// ConsoleOutput returns everything the machine has printed so far.
func (m *Machine) ConsoleOutput() string {
	return m.console.String()
}

// Procs exposes the process manager for inspection.
func (m *Machine) Procs() *proc.Manager {
	return m.procs
}

// interruptsEnabled models the IF flag: hardware IRQs are delivered only
// while no trap is being serviced and the running context has interrupts
// enabled.
func (m *Machine) interruptsEnabled() bool {
	return m.maskDepth == 0 && m.cpu.RFlags&arch.RFlagsIF != 0
}

func (m *Machine) maskInterrupts()   { m.maskDepth++ }
func (m *Machine) unmaskInterrupts() { m.maskDepth-- }

// haltCPU is the kernel panic path's halt hook. The machine stays halted
// permanently; Run translates the unwind into ErrHalted.
func (m *Machine) haltCPU() {
	m.halted = true
	m.log.Error("cpu halted by kernel panic")
	panic(haltSignal{})
}

func (m *Machine) deliverTimer() {
	if !m.interruptsEnabled() || m.pic.LineMasked(0) {
		return
	}
	m.cpu.SetVector(irq.TimerVector)
	m.table.Dispatch(&m.cpu)
}

// deliverInput moves one scripted character onto the keyboard FIFO and
// raises the keyboard IRQ.
func (m *Machine) deliverInput() {
	if len(m.script) == 0 || !m.interruptsEnabled() || m.pic.LineMasked(1) {
		return
	}
	m.input.Push(m.script[0])
	m.script = m.script[1:]

	m.cpu.SetVector(irq.KeyboardVector)
	m.table.Dispatch(&m.cpu)
}

// stepCurrent executes one step of the running program. The idle process has
// no program and simply spins.
func (m *Machine) stepCurrent() {
	cur := m.procs.Current()
	if cur.Pid != m.lastPid {
		m.lastPid = cur.Pid
		if prog, ok := m.programs[cur.Pid]; ok {
			prog.scheduledIn()
		}
	}

	if prog, ok := m.programs[cur.Pid]; ok && cur.State == proc.StateRunning {
		prog.step(m)
	}
}

func (m *Machine) allExited() bool {
	for pid := range m.programs {
		if pcb := m.procs.Lookup(pid); pcb != nil && pcb.State != proc.StateZombie {
			return false
		}
	}
	return true
}

// trap raises the syscall vector with the given number and arguments in the
// live register file, exactly like a user process executing the trap
// instruction. The return value is only meaningful if the caller is still
// the running process afterwards.
func (m *Machine) trap(num, a0, a1, a2 uint64) uint64 {
	m.cpu.RAX = num
	m.cpu.RDI = a0
	m.cpu.RSI = a1
	m.cpu.RDX = a2
	m.cpu.SetVector(irq.SyscallVector)
	m.table.Dispatch(&m.cpu)
	return m.cpu.Return()
}
