package irq

// CPU exception vectors.
const (
	DivideByZero        = 0
	Debug               = 1
	NMI                 = 2
	Breakpoint          = 3
	Overflow            = 4
	BoundRangeExceeded  = 5
	InvalidOpcode       = 6
	DeviceNotAvailable  = 7
	DoubleFault         = 8
	InvalidTSS          = 10
	SegmentNotPresent   = 11
	StackSegmentFault   = 12
	GPFException        = 13
	PageFaultException  = 14
	FloatingPoint       = 16
	AlignmentCheck      = 17
	MachineCheck        = 18
	SIMDFloatingPoint   = 19
	VirtualizationFault = 20
)

var exceptionNames = map[uint8]string{
	DivideByZero:        "divide by zero",
	Debug:               "debug",
	NMI:                 "non-maskable interrupt",
	Breakpoint:          "breakpoint",
	Overflow:            "overflow",
	BoundRangeExceeded:  "bound range exceeded",
	InvalidOpcode:       "invalid opcode",
	DeviceNotAvailable:  "device not available",
	DoubleFault:         "double fault",
	InvalidTSS:          "invalid TSS",
	SegmentNotPresent:   "segment not present",
	StackSegmentFault:   "stack-segment fault",
	GPFException:        "general protection fault",
	PageFaultException:  "page fault",
	FloatingPoint:       "x87 floating-point exception",
	AlignmentCheck:      "alignment check",
	MachineCheck:        "machine check",
	SIMDFloatingPoint:   "SIMD floating-point exception",
	VirtualizationFault: "virtualization fault",
}

// ExceptionName returns a human-readable name for a CPU exception vector.
func ExceptionName(vector uint8) string {
	if name, ok := exceptionNames[vector]; ok {
		return name
	}
	return "reserved"
}
