package machine

import (
	"fmt"

	"kore/kernel/proc"
	"kore/kernel/sys"
)

// program is one step function executed per tick while its process is
// running. Every step issues at most a couple of syscall traps; a trap that
// blocks or exits switches the CPU away mid-step, so steps must keep their
// own state across reschedules instead of trusting the live register file.
type program interface {
	// scheduledIn is invoked when the process regains the CPU after a
	// context switch.
	scheduledIn()

	// step runs one tick worth of work.
	step(m *Machine)
}

func buildProgram(pc ProgramConfig) (program, error) {
	switch pc.Kind {
	case ProgramWriter:
		return &writerProgram{msgLen: uint64(len(pc.Message)), turnsLeft: pc.Turns}, nil
	case ProgramSleeper:
		return &sleeperProgram{msgLen: uint64(len(pc.Message)), sleepMs: pc.SleepMs, turnsLeft: pc.Turns}, nil
	case ProgramEcho:
		return &echoProgram{readCount: pc.ReadCount, turnsLeft: pc.Turns}, nil
	default:
		return nil, fmt.Errorf("machine: program %q: unknown kind %q", pc.Name, pc.Kind)
	}
}

// writerProgram emits its message once per scheduling turn and spins for the
// rest of its time slice, so three writers with equal slices produce the
// A,B,C,A,B,C round-robin console pattern.
type writerProgram struct {
	msgLen    uint64
	turnsLeft uint64
	wrote     bool
}

func (p *writerProgram) scheduledIn() { p.wrote = false }

func (p *writerProgram) step(m *Machine) {
	if p.wrote {
		return // burn the rest of the slice
	}
	if p.turnsLeft == 0 {
		m.trap(sys.SysExit, 0, 0, 0)
		return
	}
	p.turnsLeft--
	p.wrote = true
	m.trap(sys.SysWrite, sys.FdStdout, proc.UserDataBase, p.msgLen)
}

// sleeperProgram emits its message and immediately sleeps, exercising the
// blocked state and the timer-driven wake path.
type sleeperProgram struct {
	msgLen    uint64
	sleepMs   uint64
	turnsLeft uint64
}

func (p *sleeperProgram) scheduledIn() {}

func (p *sleeperProgram) step(m *Machine) {
	if p.turnsLeft == 0 {
		m.trap(sys.SysExit, 0, 0, 0)
		return
	}
	p.turnsLeft--
	m.trap(sys.SysWrite, sys.FdStdout, proc.UserDataBase, p.msgLen)
	m.trap(sys.SysSleep, p.sleepMs, 0, 0)
}

// echoProgram reads a line from the keyboard into its data page and writes
// it back to the console. A read that cannot be satisfied immediately blocks
// the process; the result is picked up from the restored register file on
// the next step after it wakes.
type echoProgram struct {
	readCount uint64
	turnsLeft uint64
	waiting   bool
}

func (p *echoProgram) scheduledIn() {}

func (p *echoProgram) step(m *Machine) {
	if p.waiting {
		p.waiting = false
		p.finishTurn(m, m.cpu.Return())
		return
	}

	if p.turnsLeft == 0 {
		m.trap(sys.SysExit, 0, 0, 0)
		return
	}

	self := m.procs.Current().Pid
	got := m.trap(sys.SysRead, sys.FdStdin, proc.UserDataBase, p.readCount)
	if m.procs.Current().Pid != self {
		// Blocked in read; the wake path patches the count into the
		// saved context.
		p.waiting = true
		return
	}
	p.finishTurn(m, got)
}

func (p *echoProgram) finishTurn(m *Machine, got uint64) {
	if got != sys.FailureSentinel && got > 0 {
		m.trap(sys.SysWrite, sys.FdStdout, proc.UserDataBase, got)
	}
	p.turnsLeft--
}
