package gate

import (
	"kestrel/kernel/cpu"
)

const (
	// gateTypeInterrupt32 marks a present 32-bit interrupt gate; the CPU
	// clears IF when entering the handler.
	gateTypeInterrupt32 = uint8(0x8e)

	// DefaultStubSize is the distance between consecutive entry stubs.
	DefaultStubSize = uint32(16)
)

// GateDescriptor encodes an IDT entry that transfers control to offset in
// the segment selected by selector. The dpl argument sets the lowest
// privilege level that may raise the vector with an INT instruction.
func GateDescriptor(offset uint32, selector uint16, dpl uint8) uint64 {
	return uint64(offset&0xffff) |
		uint64(selector)<<16 |
		uint64(gateTypeInterrupt32|(dpl&3)<<5)<<40 |
		uint64(offset>>16)<<48
}

// InterruptTable is the interrupt descriptor table. Every vector has an entry
// stub at stubBase+vector*stubSize that saves the machine state, calls the
// common handler and restores the (possibly modified) state. All gates are
// present so that the common handler sees every vector, including those
// without a registered handler.
type InterruptTable struct {
	Entries  [256]uint64
	handlers [256]func(*Registers)

	stubBase uint32
	stubSize uint32
}

// NewInterruptTable creates an empty IDT for stubs starting at stubBase.
func NewInterruptTable(stubBase, stubSize uint32) *InterruptTable {
	idt := &InterruptTable{stubBase: stubBase, stubSize: stubSize}
	for vector := range idt.Entries {
		idt.Entries[vector] = GateDescriptor(idt.StubAddress(InterruptNumber(vector)), KernelCodeSelector, 0)
	}
	return idt
}

// GatePrivilege returns the DPL of the gate installed for a vector.
func (idt *InterruptTable) GatePrivilege(intNumber InterruptNumber) uint8 {
	return uint8(idt.Entries[intNumber]>>45) & 3
}

// StubAddress returns the address of the entry stub for a vector.
func (idt *InterruptTable) StubAddress(intNumber InterruptNumber) uint32 {
	return idt.stubBase + uint32(intNumber)*idt.stubSize
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The dpl argument should be 0 for all
// vectors except those that user code raises directly.
func (idt *InterruptTable) HandleInterrupt(intNumber InterruptNumber, dpl uint8, handler func(*Registers)) {
	idt.handlers[intNumber] = handler
	idt.Entries[intNumber] = GateDescriptor(idt.StubAddress(intNumber), KernelCodeSelector, dpl)
}

// Load installs the table on the CPU.
func (idt *InterruptTable) Load(c cpu.CPU) {
	c.LoadIDT(idt.Entries[:])
}

// Dispatch routes an incoming interrupt to the handler registered for
// regs.Info. It returns false if no handler is installed for that vector.
func (idt *InterruptTable) Dispatch(regs *Registers) bool {
	handler := idt.handlers[InterruptNumber(regs.Info)]
	if handler == nil {
		return false
	}

	handler(regs)
	return true
}
