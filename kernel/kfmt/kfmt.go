// Package kfmt provides the kernel's console output path. All kernel text
// output flows through a single registered sink; output emitted before a
// console collaborator is attached is captured by a ring buffer and drained
// into the sink once one appears.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer captures output generated before a sink is set.
	earlyPrintBuffer ringBuffer

	// outputSink is the console sink where output is sent. It remains nil
	// until the machine attaches a console collaborator.
	outputSink io.Writer
)

// SetOutputSink attaches a console sink for kernel output. Any text buffered
// while no sink was attached is drained into w first.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently attached sink or the early-boot ring
// buffer when no sink has been attached yet.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf formats its arguments and writes the result to the active sink.
func Printf(format string, args ...interface{}) {
	Fprintf(GetOutputSink(), format, args...)
}

// Fprintf formats its arguments and writes the result to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
