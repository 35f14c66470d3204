package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPICStartsFullyMasked(t *testing.T) {
	p := NewPIC()

	for line := uint8(0); line < 16; line++ {
		require.True(t, p.LineMasked(line), "line %d must power on masked", line)
	}
}

func TestPICMaskToggling(t *testing.T) {
	p := NewPIC()

	p.EnableLine(0)
	p.EnableLine(9)
	require.False(t, p.LineMasked(0))
	require.False(t, p.LineMasked(9))
	require.True(t, p.LineMasked(1), "other lines stay masked")

	p.DisableLine(9)
	require.True(t, p.LineMasked(9))
}

func TestPICAcknowledgeReachesBothChipsForSlaveLines(t *testing.T) {
	p := NewPIC()

	p.Acknowledge(3)
	master, slave := p.EOICounts()
	require.Equal(t, uint64(1), master)
	require.Equal(t, uint64(0), slave, "master lines must not EOI the slave")

	p.Acknowledge(12)
	master, slave = p.EOICounts()
	require.Equal(t, uint64(2), master, "slave lines EOI the master too")
	require.Equal(t, uint64(1), slave)
}

func TestPICIgnoresOutOfRangeLines(t *testing.T) {
	p := NewPIC()

	p.EnableLine(16)
	p.DisableLine(200)
	p.Acknowledge(31)

	master, slave := p.EOICounts()
	require.Equal(t, uint64(0), master)
	require.Equal(t, uint64(0), slave)
	require.True(t, p.LineMasked(16))
}

func TestPICRemapOffset(t *testing.T) {
	p := NewPIC()

	p.Remap(0x20)
	require.Equal(t, uint8(0x20), p.Offset())
}
