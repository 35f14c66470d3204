// Package kernel provides the error type shared by all kernel subsystems.
package kernel

// Error describes an error raised by a kernel subsystem. Kernel errors are
// declared as package-level variables that are pointers to the Error
// structure so that failure paths can compare them as sentinels without
// allocating.
type Error struct {
	// The subsystem where the error occurred.
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
