package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/gate"
	"kestrel/kernel/kfmt"
)

var (
	// panicFn is used by tests to intercept calls to kfmt.Panic.
	panicFn = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/GPF fault"}
)

// InstallFaultHandlers registers the page fault and general protection fault
// handlers. Both faults are fatal: the handlers print a diagnostic and halt
// the machine.
func InstallFaultHandlers(idt *gate.InterruptTable, c cpu.CPU) {
	idt.HandleInterrupt(gate.PageFaultException, 0, func(regs *gate.Registers) {
		pageFaultHandler(c.ReadCR2(), regs)
	})
	idt.HandleInterrupt(gate.GPFException, 0, func(regs *gate.Registers) {
		generalProtectionFaultHandler(c.ReadCR2(), regs)
	})
}

// pageFaultHandler is invoked when a page directory entry is not present or
// when a privilege and/or RW protection check fails.
func pageFaultHandler(faultAddress uintptr, regs *gate.Registers) {
	kfmt.Printf("\nPage fault while accessing address: 0x%8x\nReason: ", faultAddress)
	switch {
	case regs.ErrorCode&8 != 0:
		kfmt.Printf("page directory entry has reserved bit set")
	case regs.ErrorCode&3 == 0:
		kfmt.Printf("read from non-present page")
	case regs.ErrorCode&3 == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.ErrorCode&3 == 2:
		kfmt.Printf("write to non-present page")
	default:
		kfmt.Printf("page protection violation (write)")
	}
	if regs.ErrorCode&4 != 0 {
		kfmt.Printf(" in user-mode")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - raising a software interrupt through a gate with a lower DPL
func generalProtectionFaultHandler(faultAddress uintptr, regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", faultAddress)
	kfmt.Printf("Error code: 0x%x\n", regs.ErrorCode)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}
