package kfmt

import "kestrel/kernel"

var (
	// cpuHaltFn is invoked by Panic after printing its banner. The boot
	// code points it to the machine's halt routine; tests mock it.
	cpuHaltFn = func() { select {} }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFn registers the function that Panic uses to stop the CPU.
func SetHaltFn(fn func()) {
	if fn != nil {
		cpuHaltFn = fn
	}
}

// Panic outputs the supplied error (if not nil) to the output sink and halts
// the CPU. On hardware, calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
