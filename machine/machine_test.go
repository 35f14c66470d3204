package machine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"kore/kernel/proc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRoundRobinWriterScenario(t *testing.T) {
	m, err := New(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Run(200))

	// Three writers, equal slices, two turns each: strict rotation with
	// no starvation.
	require.Equal(t, "ABCABC", m.ConsoleOutput())
}

func TestRunStopsWhenAllProgramsExit(t *testing.T) {
	m, err := New(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Run(10000))

	require.Less(t, m.Procs().Ticks(), uint64(100), "machine must stop as soon as every program exits")
	for pid := range m.programs {
		require.Equal(t, proc.StateZombie, m.Procs().Lookup(pid).State)
	}
}

func TestEchoProgramBlocksOnInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Programs = []ProgramConfig{
		{Name: "sh", Kind: ProgramEcho, Turns: 1, ReadCount: 16},
	}
	cfg.Input = "hi\n"

	m, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Run(100))

	require.Equal(t, "hi\n", m.ConsoleOutput())
}

func TestSleeperProgramWakesOnDeadline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Programs = []ProgramConfig{
		{Name: "z", Kind: ProgramSleeper, Message: "Z", Turns: 2, SleepMs: 20},
	}

	m, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Run(100))

	require.Equal(t, "ZZ", m.ConsoleOutput())
}

func TestWriterAndSleeperInterleave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Programs = []ProgramConfig{
		{Name: "w", Kind: ProgramWriter, Message: "w", Turns: 3},
		{Name: "s", Kind: ProgramSleeper, Message: "s", Turns: 2, SleepMs: 10},
	}

	m, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Run(200))

	out := m.ConsoleOutput()
	require.Equal(t, 3, strings.Count(out, "w"))
	require.Equal(t, 2, strings.Count(out, "s"))
}

func TestX86LayoutBootsAndRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Arch = "x86"

	m, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Run(200))

	require.Equal(t, "ABCABC", m.ConsoleOutput())
}

func TestNewRejectsUnknownArch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Arch = "riscv"

	_, err := New(cfg, nil)
	require.Error(t, err)
}
