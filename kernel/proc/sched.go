package proc

import (
	"github.com/google/btree"

	"kore/kernel"
	"kore/kernel/arch"
	"kore/kernel/mem"
	"kore/kernel/mm/pmm"
	"kore/kernel/mm/vmm"
)

var (
	// maskFn and unmaskFn surround every mutating scheduler entry point.
	// A trap arriving mid-mutation would corrupt the queue or a half
	// saved context, so masking is a hard precondition, not an
	// optimization. The machine layer wires these to the simulated CPU.
	maskFn   = func() {}
	unmaskFn = func() {}
)

// SetInterruptMask registers the interrupt mask/unmask pair used to guard
// scheduler mutations.
func SetInterruptMask(mask, unmask func()) {
	maskFn = mask
	unmaskFn = unmask
}

// sleeper records a process waiting for a wake deadline, ordered by the
// absolute tick it becomes runnable at.
type sleeper struct {
	wakeTick uint64
	pid      PID
}

func sleeperLess(a, b sleeper) bool {
	if a.wakeTick != b.wakeTick {
		return a.wakeTick < b.wakeTick
	}
	return a.pid < b.pid
}

// Manager owns the PCB slab, the ready queue and the preemption policy. It
// cooperates with the virtual memory manager on every context switch and is
// driven by the interrupt subsystem through Tick.
type Manager struct {
	vm     *vmm.Manager
	frames *pmm.BitmapAllocator

	procs     [MaxProcs]PCB
	freeSlots []int
	nextPid   PID

	// readyQueue holds the slot indices of all Ready PCBs in FIFO order.
	// A PCB is queue-linked if and only if its state is StateReady.
	readyQueue []int

	currentSlot int
	idleSlot    int

	timeSlice uint32
	msPerTick uint32

	ticks    uint64
	sleepers *btree.BTreeG[sleeper]
}

// Init sets up the PCB slab and installs the built-in idle process, which is
// what the scheduler falls back to when the ready queue drains. idleEntry is
// the address of the idle loop.
func (m *Manager) Init(vm *vmm.Manager, frames *pmm.BitmapAllocator, timeSlice, msPerTick uint32, idleEntry uint64) {
	m.vm = vm
	m.frames = frames
	m.timeSlice = timeSlice
	m.msPerTick = msPerTick
	m.sleepers = btree.NewG[sleeper](2, sleeperLess)

	m.freeSlots = m.freeSlots[:0]
	for slot := MaxProcs - 1; slot >= 1; slot-- {
		m.freeSlots = append(m.freeSlots, slot)
	}

	// Slot 0 is the idle process. It runs in the kernel address space and
	// is never linked into the ready queue.
	idle := &m.procs[0]
	idle.Pid = m.allocPid()
	idle.Name = "idle"
	idle.State = StateRunning
	idle.Root = vm.KernelRoot()
	idle.Context.SetInstructionPointer(idleEntry)
	idle.Context.RFlags = arch.RFlagsDefault
	idle.SliceLeft = 1
	m.idleSlot = 0
	m.currentSlot = 0
}

// Create builds a PCB for a new process: a fresh address space, a kernel
// stack backed by allocator frames, a user data page, and a synthesized
// context that resumes at entry with the stack pointer at the top of the new
// stack. The process is enqueued Ready.
func (m *Manager) Create(name string, entry uint64) (PID, *kernel.Error) {
	maskFn()
	defer unmaskFn()

	if len(m.freeSlots) == 0 {
		return 0, errTooManyProcesses
	}
	slot := m.freeSlots[len(m.freeSlots)-1]

	root, err := m.vm.CreateAddressSpace()
	if err != nil {
		return 0, err
	}

	// owned collects the frames handed to the new process so far. A failed
	// create releases them together with the address space; otherwise a
	// retry after freeing memory could never succeed.
	var owned []mem.Frame
	fail := func(err *kernel.Error) (PID, *kernel.Error) {
		for _, frame := range owned {
			m.frames.FreeFrame(frame)
		}
		m.vm.DestroyAddressSpace(root)
		return 0, err
	}

	base := stackBase(slot)
	for page := 0; page < KernelStackPages; page++ {
		frame, err := m.frames.AllocFrame()
		if err != nil {
			return fail(err)
		}
		owned = append(owned, frame)

		virt := mem.PageFromAddress(base + uint64(page)*mem.PageSize)
		if err := m.vm.MapIn(root, virt, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return fail(err)
		}
	}

	dataFrame, err := m.frames.AllocFrame()
	if err != nil {
		return fail(err)
	}
	owned = append(owned, dataFrame)

	if err := m.vm.MapIn(root, mem.PageFromAddress(UserDataBase), dataFrame,
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
		return fail(err)
	}

	m.freeSlots = m.freeSlots[:len(m.freeSlots)-1]

	pcb := &m.procs[slot]
	*pcb = PCB{
		Pid:      m.allocPid(),
		Name:     name,
		State:    StateNew,
		Root:     root,
		StackTop: base + KernelStackPages*mem.PageSize,
		slot:     slot,
	}
	pcb.Context.SetInstructionPointer(entry)
	pcb.Context.SetStackPointer(pcb.StackTop)
	pcb.Context.RFlags = arch.RFlagsDefault
	pcb.SliceLeft = m.timeSlice

	pcb.State = StateReady
	m.readyQueue = append(m.readyQueue, slot)

	return pcb.Pid, nil
}

func (m *Manager) allocPid() PID {
	pid := m.nextPid
	m.nextPid++
	return pid
}

// Current returns the PCB that owns the CPU.
func (m *Manager) Current() *PCB {
	return &m.procs[m.currentSlot]
}

// Lookup returns the PCB with the given pid or nil if no such process
// exists. Unused slab slots are still in StateNew and never match.
func (m *Manager) Lookup(pid PID) *PCB {
	for slot := range m.procs {
		if pcb := &m.procs[slot]; pcb.Pid == pid && pcb.State != StateNew {
			return pcb
		}
	}
	return nil
}

// Ticks returns the number of timer ticks observed so far.
func (m *Manager) Ticks() uint64 { return m.ticks }

// next removes and returns the slot at the head of the ready queue, falling
// back to the idle process when the queue is empty.
func (m *Manager) next() int {
	if len(m.readyQueue) == 0 {
		return m.idleSlot
	}
	slot := m.readyQueue[0]
	m.readyQueue = m.readyQueue[1:]
	return slot
}

// Tick is invoked by the timer interrupt handler. It advances the tick
// counter, wakes due sleepers, and decrements the running PCB's remaining
// time slice; when the slice is exhausted the current PCB is re-enqueued at
// the tail and the head of the queue is switched in.
func (m *Manager) Tick(regs *arch.Registers) {
	maskFn()
	defer unmaskFn()

	m.ticks++
	m.wakeSleepers()

	// The idle process gives way as soon as anything becomes runnable.
	if m.currentSlot == m.idleSlot && len(m.readyQueue) > 0 {
		m.preempt(regs)
		return
	}

	cur := &m.procs[m.currentSlot]
	if cur.SliceLeft > 0 {
		cur.SliceLeft--
	}
	if cur.SliceLeft > 0 {
		return
	}

	m.preempt(regs)
}

// Yield behaves like an immediate forced tick regardless of the remaining
// slice.
func (m *Manager) Yield(regs *arch.Registers) {
	maskFn()
	defer unmaskFn()

	m.preempt(regs)
}

// preempt moves the running PCB back to the tail of the ready queue and
// switches to the next head. The idle process is never queue-linked.
func (m *Manager) preempt(regs *arch.Registers) {
	cur := &m.procs[m.currentSlot]
	if cur.State == StateRunning && m.currentSlot != m.idleSlot {
		cur.State = StateReady
		m.readyQueue = append(m.readyQueue, m.currentSlot)
	}
	m.contextSwitch(m.next(), regs)
}

// Exit marks the current PCB as a Zombie, permanently removes it from
// scheduling eligibility and forces an immediate reschedule. The zombie slot
// is not reused; reclamation policy is deliberately left undefined.
func (m *Manager) Exit(regs *arch.Registers, status uint64) {
	maskFn()
	defer unmaskFn()

	cur := &m.procs[m.currentSlot]
	cur.State = StateZombie
	cur.ExitStatus = status

	m.contextSwitch(m.next(), regs)
}

// Sleep blocks the current process until at least ms tick-equivalent
// milliseconds have elapsed, then reschedules.
func (m *Manager) Sleep(regs *arch.Registers, ms uint64) {
	maskFn()
	defer unmaskFn()

	ticks := (ms + uint64(m.msPerTick) - 1) / uint64(m.msPerTick)
	if ticks == 0 {
		ticks = 1
	}

	cur := &m.procs[m.currentSlot]
	cur.State = StateBlocked
	m.sleepers.ReplaceOrInsert(sleeper{wakeTick: m.ticks + ticks, pid: cur.Pid})

	m.contextSwitch(m.next(), regs)
}

// Block marks the current process Blocked and reschedules. The caller is
// responsible for waking the process again via Wake; no generic wait/notify
// protocol is defined beyond sleep deadlines and input arrival.
func (m *Manager) Block(regs *arch.Registers) {
	maskFn()
	defer unmaskFn()

	m.procs[m.currentSlot].State = StateBlocked
	m.contextSwitch(m.next(), regs)
}

// Wake transitions a Blocked process back to Ready and enqueues it.
func (m *Manager) Wake(pid PID) {
	maskFn()
	defer unmaskFn()

	m.wake(pid)
}

func (m *Manager) wake(pid PID) {
	for slot := range m.procs {
		pcb := &m.procs[slot]
		if pcb.Pid == pid && pcb.State == StateBlocked {
			pcb.State = StateReady
			m.readyQueue = append(m.readyQueue, slot)
			return
		}
	}
}

// wakeSleepers readies every sleeper whose deadline has passed.
func (m *Manager) wakeSleepers() {
	for {
		item, ok := m.sleepers.Min()
		if !ok || item.wakeTick > m.ticks {
			return
		}
		m.sleepers.DeleteMin()
		m.wake(item.pid)
	}
}

// contextSwitch performs the handoff: the outgoing PCB's register set is
// saved into its control block, the incoming PCB's register set is restored
// into the live snapshot, and the active page-table root is switched when the
// address spaces differ. Exactly one PCB is Running when the switch
// completes.
func (m *Manager) contextSwitch(nextSlot int, regs *arch.Registers) {
	cur := &m.procs[m.currentSlot]
	cur.Context = *regs

	next := &m.procs[nextSlot]
	next.State = StateRunning
	next.SliceLeft = m.timeSlice
	m.currentSlot = nextSlot

	*regs = next.Context

	if next.Root != m.vm.ActiveRoot() {
		m.vm.SwitchDirectory(next.Root)
	}
}
