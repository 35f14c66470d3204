package machine

// PIC models a cascaded pair of 8259 interrupt controllers: sixteen lines,
// eight per chip, with the slave wired through line 2 of the master. Lines
// are identified by their position in the cascade (0-15), not by remapped
// vector number.
type PIC struct {
	offset uint8

	// masks holds one bit per line and chip; a set bit means the line is
	// masked. Both chips power on fully masked.
	masks [2]uint8

	// EOI bookkeeping, one counter per chip. An acknowledge for a slave
	// line must reach both chips.
	masterEOIs uint64
	slaveEOIs  uint64
}

// NewPIC returns a controller with every line masked.
func NewPIC() *PIC {
	return &PIC{masks: [2]uint8{0xff, 0xff}}
}

// Remap programs the vector offset hardware IRQ lines are delivered at.
func (p *PIC) Remap(offset uint8) {
	p.offset = offset
}

// Offset returns the programmed vector offset for line 0.
func (p *PIC) Offset() uint8 {
	return p.offset
}

// EnableLine clears the mask bit for the given line.
func (p *PIC) EnableLine(line uint8) {
	if line >= 16 {
		return
	}
	p.masks[line/8] &^= 1 << (line % 8)
}

// DisableLine sets the mask bit for the given line.
func (p *PIC) DisableLine(line uint8) {
	if line >= 16 {
		return
	}
	p.masks[line/8] |= 1 << (line % 8)
}

// LineMasked reports whether a line is currently masked.
func (p *PIC) LineMasked(line uint8) bool {
	if line >= 16 {
		return true
	}
	return p.masks[line/8]&(1<<(line%8)) != 0
}

// Acknowledge issues the end-of-interrupt for a line. Slave lines (8-15)
// require an EOI to both chips; the master alone would leave the slave's
// in-service register latched.
func (p *PIC) Acknowledge(line uint8) {
	if line >= 16 {
		return
	}
	if line >= 8 {
		p.slaveEOIs++
	}
	p.masterEOIs++
}

// EOICounts returns the number of end-of-interrupt commands each chip has
// received.
func (p *PIC) EOICounts() (master, slave uint64) {
	return p.masterEOIs, p.slaveEOIs
}
