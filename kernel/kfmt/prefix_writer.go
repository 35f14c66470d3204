package kfmt

import "io"

// PrefixWriter is an io.Writer that inserts a prefix at the beginning of
// every line. Kernel subsystems use it to tag their diagnostic output with
// the subsystem name.
type PrefixWriter struct {
	// Prefix is written out before the first byte of each line.
	Prefix []byte

	// Sink receives the prefixed output.
	Sink io.Writer

	// atLineStart tracks whether the next byte written begins a new line.
	atLineStart bool

	// primed is false until the first write so the very first line is
	// also prefixed.
	primed bool
}

// Write writes p to the underlying sink, emitting the configured prefix
// after every newline. The returned count covers only the bytes of p.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	if !w.primed {
		w.primed = true
		w.atLineStart = true
	}

	var written int
	start := 0
	for i, b := range p {
		if w.atLineStart {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.atLineStart = false
		}

		if b != '\n' {
			continue
		}

		n, err := w.Sink.Write(p[start : i+1])
		written += n
		if err != nil {
			return written, err
		}
		start = i + 1
		w.atLineStart = true
	}

	if start < len(p) {
		n, err := w.Sink.Write(p[start:])
		written += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
