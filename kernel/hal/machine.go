// Package hal contains the hardware abstraction layer: the Machine interface
// implemented by each supported platform and the registry of managed devices
// detected at boot.
package hal

import (
	"kestrel/kernel/cpu"
	"kestrel/kernel/gate"
	"kestrel/kernel/mm"
)

// Machine is implemented by every platform the kernel can run on. It is the
// only layer that performs privileged operations; everything above it works
// on plain data.
type Machine interface {
	cpu.CPU
	mm.PhysicalMemory

	// AttachInterruptEntry registers the common interrupt handler. The
	// per-vector entry stubs save the machine state into a Registers
	// snapshot, invoke entry and restore the machine state from the
	// (possibly modified) snapshot when it returns.
	AttachInterruptEntry(entry func(*gate.Registers))

	// Resume restores the machine state from regs and transfers control
	// to the code it describes. On real hardware Resume does not return.
	Resume(regs *gate.Registers)
}
