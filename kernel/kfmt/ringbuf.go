package kfmt

import "io"

// ringBufferSize defines the size of the early output ring buffer. It is
// large enough to buffer the contents of a standard 80x25 text console and
// must always be a power of 2.
const ringBufferSize = 2048

// ringBuffer buffers kernel output generated before a console sink is
// attached. When the buffer fills up the oldest bytes are overwritten.
type ringBuffer struct {
	data [ringBufferSize]byte
	rIdx int
	wIdx int
}

// Write appends p to the ring buffer, displacing the oldest buffered bytes
// when the buffer is full.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[rb.wIdx] = b
		rb.wIdx = (rb.wIdx + 1) & (ringBufferSize - 1)
		if rb.rIdx == rb.wIdx {
			rb.rIdx = (rb.rIdx + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read copies up to len(p) buffered bytes into p, returning io.EOF when the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIdx == rb.wIdx {
		return 0, io.EOF
	}

	// When the write index has wrapped behind the read index, read up to
	// the end of the backing array; the next call picks up the remainder.
	end := rb.wIdx
	if rb.rIdx > rb.wIdx {
		end = ringBufferSize
	}

	n := copy(p, rb.data[rb.rIdx:end])
	rb.rIdx = (rb.rIdx + n) & (ringBufferSize - 1)
	return n, nil
}
