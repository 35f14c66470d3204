package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes a simulated machine: how much physical memory it has,
// which architecture preset drives the paging layout, the scheduler timing
// parameters, the programs to load, and the scripted keyboard input.
type Config struct {
	Arch      string `yaml:"arch"`
	MemoryMiB uint64 `yaml:"memory_mib"`
	TimeSlice uint32 `yaml:"time_slice"`
	MsPerTick uint32 `yaml:"ms_per_tick"`

	Programs []ProgramConfig `yaml:"programs"`

	// Input is fed to the keyboard line one character per tick.
	Input string `yaml:"input,omitempty"`
}

// ProgramConfig describes one process loaded at boot.
type ProgramConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Message is what writer and sleeper programs emit each turn. It
	// defaults to the program name.
	Message string `yaml:"message,omitempty"`

	// Turns bounds how many turns the program runs before calling exit.
	Turns uint64 `yaml:"turns,omitempty"`

	// SleepMs is the per-turn sleep duration for sleeper programs.
	SleepMs uint64 `yaml:"sleep_ms,omitempty"`

	// ReadCount is the buffer size echo programs pass to read.
	ReadCount uint64 `yaml:"read_count,omitempty"`
}

// Program kinds.
const (
	// ProgramWriter emits its message once per scheduling turn.
	ProgramWriter = "writer"
	// ProgramEcho reads a line from the keyboard and writes it back.
	ProgramEcho = "echo"
	// ProgramSleeper emits its message, then sleeps between turns.
	ProgramSleeper = "sleeper"
)

// DefaultConfig returns a machine with three equal-priority writers, the
// canonical round-robin fairness workload.
func DefaultConfig() Config {
	cfg := Config{
		Arch:      "amd64",
		MemoryMiB: 16,
		TimeSlice: 4,
		MsPerTick: 10,
		Programs: []ProgramConfig{
			{Name: "A", Kind: ProgramWriter, Turns: 2},
			{Name: "B", Kind: ProgramWriter, Turns: 2},
			{Name: "C", Kind: ProgramWriter, Turns: 2},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and validates a machine description from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("machine: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML machine description and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("machine: parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Arch == "" {
		c.Arch = "amd64"
	}
	if c.MemoryMiB == 0 {
		c.MemoryMiB = 16
	}
	if c.TimeSlice == 0 {
		c.TimeSlice = 4
	}
	if c.MsPerTick == 0 {
		c.MsPerTick = 10
	}

	for i := range c.Programs {
		p := &c.Programs[i]
		if p.Kind == "" {
			p.Kind = ProgramWriter
		}
		if p.Message == "" {
			p.Message = p.Name
		}
		if p.Turns == 0 {
			p.Turns = 1
		}
		if p.SleepMs == 0 {
			p.SleepMs = 20
		}
		if p.ReadCount == 0 {
			p.ReadCount = 64
		}
	}
}

func (c *Config) validate() error {
	switch c.Arch {
	case "amd64", "x86":
	default:
		return fmt.Errorf("machine: unknown arch %q", c.Arch)
	}
	if c.MemoryMiB < 4 {
		return fmt.Errorf("machine: memory_mib %d below the 4 MiB minimum", c.MemoryMiB)
	}
	for _, p := range c.Programs {
		if p.Name == "" {
			return fmt.Errorf("machine: program without a name")
		}
		switch p.Kind {
		case ProgramWriter, ProgramEcho, ProgramSleeper:
		default:
			return fmt.Errorf("machine: program %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}
