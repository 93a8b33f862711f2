// Package cpu defines the privileged operations that the kernel core needs
// from the processor. It is the only layer that touches control registers,
// I/O ports or the interrupt flag; everything above it works on plain data.
package cpu

// CPU is implemented by the hardware abstraction for the current machine.
type CPU interface {
	// EnableInterrupts enables interrupt handling.
	EnableInterrupts()

	// DisableInterrupts disables interrupt handling.
	DisableInterrupts()

	// InterruptsEnabled returns true if the interrupt flag is set.
	InterruptsEnabled() bool

	// Halt stops instruction execution.
	Halt()

	// FlushTLBEntry flushes a TLB entry for a particular virtual address.
	FlushTLBEntry(virtAddr uintptr)

	// SwitchPDT sets the root page table directory to point to the
	// specified physical address. Reloading CR3 flushes the whole TLB.
	SwitchPDT(pdtPhysAddr uintptr)

	// ActivePDT returns the physical address of the currently active page
	// directory.
	ActivePDT() uintptr

	// ReadCR2 returns the value stored in the CR2 register.
	ReadCR2() uintptr

	// PortWriteByte writes a uint8 value to the requested port.
	PortWriteByte(port uint16, val uint8)

	// PortReadByte reads a uint8 value from the requested port.
	PortReadByte(port uint16) uint8

	// LoadGDT loads the supplied segment descriptors into GDTR.
	LoadGDT(entries []uint64)

	// LoadIDT loads the supplied gate descriptors into IDTR.
	LoadIDT(entries []uint64)

	// LoadTaskRegister loads the task register with a TSS selector.
	LoadTaskRegister(selector uint16)
}
