package machine

import "bytes"

// Console is the machine's put_char sink. It also satisfies io.Writer so the
// kernel's formatted output can be attached to it directly.
type Console struct {
	buf bytes.Buffer
}

// PutChar appends a single character to the console.
func (c *Console) PutChar(b byte) {
	c.buf.WriteByte(b)
}

func (c *Console) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

// String returns everything written so far.
func (c *Console) String() string {
	return c.buf.String()
}

// Input is the machine's try_get_char source: a FIFO the keyboard line
// deposits characters into.
type Input struct {
	pending []byte
}

// Push appends one character to the FIFO.
func (i *Input) Push(b byte) {
	i.pending = append(i.pending, b)
}

// TryGetChar pops the oldest pending character, if any.
func (i *Input) TryGetChar() (byte, bool) {
	if len(i.pending) == 0 {
		return 0, false
	}
	b := i.pending[0]
	i.pending = i.pending[1:]
	return b, true
}

// Pending returns the number of characters waiting to be consumed.
func (i *Input) Pending() int {
	return len(i.pending)
}
