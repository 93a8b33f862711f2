// Package sim implements a simulated single-core 32-bit x86 machine that
// satisfies hal.Machine. It models the pieces of hardware that the kernel
// programs: control registers, a TLB flush log, sparse physical memory, a
// cascaded 8259 PIC pair, PIT channel 0, the CMOS clock and the PS/2 data
// port. Interrupts are delivered by calling the attached entry point with a
// snapshot of the interrupted context, the same way the assembly entry
// stubs do on real hardware.
package sim

import (
	"kestrel/kernel"
	"kestrel/kernel/gate"
	"kestrel/kernel/mm"
	"time"
)

const (
	// flagIF is the interrupt-enable bit of EFLAGS.
	flagIF = uint32(1 << 9)

	// Page directory entry bits understood by the MMU.
	pdePresent  = uint32(1 << 0)
	pdeRW       = uint32(1 << 1)
	pdeUser     = uint32(1 << 2)
	pdePageSize = uint32(1 << 7)

	// Page fault error code bits.
	pfProtection = uint32(1 << 0)
	pfWrite      = uint32(1 << 1)
	pfUser       = uint32(1 << 2)
	pfReserved   = uint32(1 << 3)
)

var (
	// ErrBusError is returned for physical accesses beyond the end of
	// installed memory.
	ErrBusError = &kernel.Error{Module: "sim", Message: "physical address out of range"}

	// ErrPageFault is returned by virtual memory accesses that raised a
	// page fault.
	ErrPageFault = &kernel.Error{Module: "sim", Message: "page fault"}

	// ErrNotDelivered is returned when an interrupt could not be
	// delivered because it is masked or the machine is halted.
	ErrNotDelivered = &kernel.Error{Module: "sim", Message: "interrupt not delivered"}
)

// Machine is a simulated machine. It is not safe for concurrent use; like the
// hardware it models, it executes one thing at a time.
type Machine struct {
	memory sparseMemory

	// CPU state. regs holds the context of the code that is currently
	// "executing"; interrupts snapshot it and write it back on return.
	regs        gate.Registers
	intFlag     bool
	halted      bool
	cr2         uintptr
	cr3         uintptr
	tlbFlushes  []uintptr
	pdtSwitches int

	gdt []uint64
	idt []uint64
	tr  uint16

	entry func(*gate.Registers)

	// Devices
	master, slave pic8259
	pit           pit8254
	cmosIndex     uint8
	now           func() time.Time
	scancodes     []uint8
}

// New creates a machine with memSize bytes of physical memory.
func New(memSize mm.Size) *Machine {
	return &Machine{
		memory: newSparseMemory(uint64(memSize)),
		master: pic8259{imr: 0xff},
		slave:  pic8259{imr: 0xff},
		now:    time.Now,
	}
}

// EnableInterrupts sets the interrupt flag.
func (m *Machine) EnableInterrupts() { m.intFlag = true }

// DisableInterrupts clears the interrupt flag.
func (m *Machine) DisableInterrupts() { m.intFlag = false }

// InterruptsEnabled returns true if the interrupt flag is set.
func (m *Machine) InterruptsEnabled() bool { return m.intFlag }

// Halt stops the machine. A halted machine ignores further interrupts.
func (m *Machine) Halt() { m.halted = true }

// Halted returns true if Halt has been called.
func (m *Machine) Halted() bool { return m.halted }

// FlushTLBEntry records a single-entry TLB invalidation.
func (m *Machine) FlushTLBEntry(virtAddr uintptr) {
	m.tlbFlushes = append(m.tlbFlushes, virtAddr)
}

// TLBFlushes returns the addresses passed to FlushTLBEntry so far.
func (m *Machine) TLBFlushes() []uintptr { return m.tlbFlushes }

// SwitchPDT loads CR3. This implicitly flushes the whole TLB.
func (m *Machine) SwitchPDT(pdtPhysAddr uintptr) {
	m.cr3 = pdtPhysAddr
	m.pdtSwitches++
}

// PDTSwitches returns the number of CR3 reloads.
func (m *Machine) PDTSwitches() int { return m.pdtSwitches }

// ActivePDT returns the value of CR3.
func (m *Machine) ActivePDT() uintptr { return m.cr3 }

// ReadCR2 returns the address of the last page fault.
func (m *Machine) ReadCR2() uintptr { return m.cr2 }

// LoadGDT loads the segment descriptor table.
func (m *Machine) LoadGDT(entries []uint64) {
	m.gdt = append(m.gdt[:0], entries...)
}

// LoadIDT loads the interrupt descriptor table.
func (m *Machine) LoadIDT(entries []uint64) {
	m.idt = append(m.idt[:0], entries...)
}

// LoadTaskRegister loads the task register.
func (m *Machine) LoadTaskRegister(selector uint16) { m.tr = selector }

// TaskRegister returns the selector loaded in the task register.
func (m *Machine) TaskRegister() uint16 { return m.tr }

// GDT returns the loaded segment descriptors.
func (m *Machine) GDT() []uint64 { return m.gdt }

// ReadAt implements io.ReaderAt over physical memory.
func (m *Machine) ReadAt(p []byte, off int64) (int, error) {
	if !m.memory.inRange(off, len(p)) {
		return 0, ErrBusError
	}
	m.memory.read(p, uint64(off))
	return len(p), nil
}

// WriteAt implements io.WriterAt over physical memory.
func (m *Machine) WriteAt(p []byte, off int64) (int, error) {
	if !m.memory.inRange(off, len(p)) {
		return 0, ErrBusError
	}
	m.memory.write(p, uint64(off))
	return len(p), nil
}

// AttachInterruptEntry registers the common interrupt handler.
func (m *Machine) AttachInterruptEntry(entry func(*gate.Registers)) {
	m.entry = entry
}

// Resume loads the register state in regs and starts executing it.
func (m *Machine) Resume(regs *gate.Registers) {
	m.regs = *regs
	m.intFlag = regs.EFlags&flagIF != 0
}

// Registers returns the register state of the code that is currently
// executing.
func (m *Machine) Registers() gate.Registers { return m.regs }

// CPL returns the current privilege level.
func (m *Machine) CPL() uint8 { return uint8(m.regs.CS & 3) }

// Exception raises a CPU exception with the supplied error code. Exceptions
// are delivered regardless of the interrupt flag.
func (m *Machine) Exception(vector gate.InterruptNumber, errorCode uint32) *kernel.Error {
	return m.deliver(uint8(vector), errorCode)
}

// RaiseIRQ asserts an IRQ line. The interrupt is delivered only if the PICs
// are initialized, the line is unmasked and the interrupt flag is set.
func (m *Machine) RaiseIRQ(line uint8) *kernel.Error {
	var vector uint8
	switch {
	case line < 8:
		if !m.master.initialized() || m.master.imr&(1<<line) != 0 {
			return ErrNotDelivered
		}
		vector = m.master.offset + line
	default:
		if !m.slave.initialized() || m.slave.imr&(1<<(line-8)) != 0 || m.master.imr&(1<<2) != 0 {
			return ErrNotDelivered
		}
		vector = m.slave.offset + line - 8
	}

	if !m.intFlag {
		return ErrNotDelivered
	}

	return m.deliver(vector, 0)
}

// Tick raises the timer interrupt.
func (m *Machine) Tick() *kernel.Error {
	return m.RaiseIRQ(0)
}

// SoftwareInterrupt executes an INT instruction from the current context.
// If the gate privilege is lower than the current privilege level, a general
// protection fault is raised instead.
func (m *Machine) SoftwareInterrupt(vector gate.InterruptNumber) *kernel.Error {
	if int(vector) >= len(m.idt) || uint8(m.idt[vector]>>45)&3 < m.CPL() {
		return m.deliver(uint8(gate.GPFException), uint32(vector)<<3|2)
	}

	return m.deliver(uint8(vector), 0)
}

// Syscall loads the syscall registers of the current context, raises the
// syscall vector and returns the value of EAX when the kernel returns.
func (m *Machine) Syscall(op, arg1, arg2, arg3 uint32) (uint32, *kernel.Error) {
	m.regs.EAX, m.regs.EBX, m.regs.ECX, m.regs.EDX = op, arg1, arg2, arg3
	if err := m.SoftwareInterrupt(gate.SyscallInterrupt); err != nil {
		return 0, err
	}
	return m.regs.EAX, nil
}

// deliver transfers control to the interrupt entry with a snapshot of the
// current context and restores the context from the snapshot afterwards.
func (m *Machine) deliver(vector uint8, errorCode uint32) *kernel.Error {
	if m.halted || m.entry == nil {
		return ErrNotDelivered
	}

	frame := m.regs
	frame.Info = uint32(vector)
	frame.ErrorCode = errorCode

	m.intFlag = false
	m.entry(&frame)

	if m.halted {
		return nil
	}

	frame.Info, frame.ErrorCode = 0, 0
	m.regs = frame
	m.intFlag = frame.EFlags&flagIF != 0
	return nil
}

// ReadVirtual reads len(p) bytes at vaddr through the active page directory
// using the privilege level of the current context.
func (m *Machine) ReadVirtual(vaddr uint32, p []byte) *kernel.Error {
	return m.accessVirtual(vaddr, p, false)
}

// WriteVirtual writes p at vaddr through the active page directory using the
// privilege level of the current context.
func (m *Machine) WriteVirtual(vaddr uint32, p []byte) *kernel.Error {
	return m.accessVirtual(vaddr, p, true)
}

func (m *Machine) accessVirtual(vaddr uint32, p []byte, write bool) *kernel.Error {
	for len(p) > 0 {
		physAddr, errCode, ok := m.translate(vaddr, write)
		if !ok {
			m.cr2 = uintptr(vaddr)
			if err := m.deliver(uint8(gate.PageFaultException), errCode); err != nil {
				return err
			}
			return ErrPageFault
		}

		chunk := uint32(mm.PageSize) - vaddr&uint32(mm.PageSize-1)
		if uint32(len(p)) < chunk {
			chunk = uint32(len(p))
		}

		var err error
		if write {
			_, err = m.WriteAt(p[:chunk], int64(physAddr))
		} else {
			_, err = m.ReadAt(p[:chunk], int64(physAddr))
		}
		if err != nil {
			return ErrBusError
		}

		p = p[chunk:]
		vaddr += chunk
	}

	return nil
}

// translate walks the active page directory. Only 4 MiB pages are supported.
func (m *Machine) translate(vaddr uint32, write bool) (uint64, uint32, bool) {
	var errCode uint32
	if write {
		errCode |= pfWrite
	}
	user := m.CPL() == 3
	if user {
		errCode |= pfUser
	}

	var raw [4]byte
	if _, err := m.ReadAt(raw[:], int64(m.cr3)+int64(vaddr>>22)*4); err != nil {
		return 0, errCode, false
	}
	pde := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24

	switch {
	case pde&pdePresent == 0:
		return 0, errCode, false
	case pde&pdePageSize == 0:
		return 0, errCode | pfProtection | pfReserved, false
	case user && pde&pdeUser == 0, write && pde&pdeRW == 0:
		return 0, errCode | pfProtection, false
	}

	frame := uint64((pde>>22)&0x3ff) | uint64((pde>>13)&0xff)<<10
	return frame<<22 | uint64(vaddr&0x3fffff), 0, true
}
