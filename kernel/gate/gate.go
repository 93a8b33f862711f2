// Package gate manages the x86 descriptor tables (GDT, TSS and IDT) that
// establish the ring 0 / ring 3 boundary and route interrupts to their
// handlers.
package gate

import (
	"io"
	"kestrel/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. The interrupt entry stubs build it on the
// kernel stack and the common handler restores the machine state from it, so
// a handler that modifies the snapshot changes what the CPU resumes with.
type Registers struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32

	DS uint32
	ES uint32
	FS uint32
	GS uint32

	// Info contains the vector number that caused the handler to run.
	Info uint32

	// ErrorCode is the code pushed by the CPU for exceptions that
	// provide one (e.g. page faults); it is 0 otherwise.
	ErrorCode uint32

	// The return frame used by IRET
	EIP    uint32
	CS     uint32
	EFlags uint32
	ESP    uint32
	SS     uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %8x\n", r.EBP)
	kfmt.Fprintf(w, "DS  = %8x ES  = %8x\n", r.DS, r.ES)
	kfmt.Fprintf(w, "FS  = %8x GS  = %8x\n", r.FS, r.GS)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %8x SS  = %8x\n", r.ESP, r.SS)
	kfmt.Fprintf(w, "EFL = %8x\n", r.EFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory entry is not
	// present or when a privilege and/or RW protection check fails.
	PageFaultException = InterruptNumber(14)

	// ExceptionCount is the number of vectors reserved by the CPU for
	// exceptions. Vectors from this value onwards are free for hardware
	// IRQs and software interrupts.
	ExceptionCount = InterruptNumber(32)

	// IRQBase is the vector that the master PIC is remapped to; IRQ line
	// n is delivered at IRQBase+n.
	IRQBase = InterruptNumber(0x20)

	// IRQCount is the number of lines served by the cascaded PIC pair.
	IRQCount = 16

	// TimerInterrupt is raised by the PIT on IRQ line 0.
	TimerInterrupt = IRQBase

	// KeyboardInterrupt is raised by the PS/2 controller on IRQ line 1.
	KeyboardInterrupt = IRQBase + 1

	// SyscallInterrupt is the software interrupt used by user code to
	// request kernel services.
	SyscallInterrupt = InterruptNumber(0x80)
)

// IsIRQ returns true if the vector is delivered by one of the remapped PIC
// lines.
func (n InterruptNumber) IsIRQ() bool {
	return n >= IRQBase && n < IRQBase+IRQCount
}
