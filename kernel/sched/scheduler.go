// Package sched implements the preemptive round-robin scheduler. The timer
// interrupt is the only preemption point: every tick saves the context of the
// running process and resumes the next active one.
package sched

import (
	"kestrel/kernel"
	"kestrel/kernel/gate"
	"kestrel/kernel/hal"
	"kestrel/kernel/irq"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/proc"
)

var (
	// ErrNoProcess is returned when there is no active process to run.
	// The scheduler halts the machine before returning it.
	ErrNoProcess = &kernel.Error{Module: "sched", Message: "no active process"}

	// armTimerFn is used by tests to override calls to irq.ArmTimer.
	armTimerFn = irq.ArmTimer
)

// ProcessTable is the view of the process table used by the scheduler.
type ProcessTable interface {
	SaveContext(regs *gate.Registers) bool
	PickNext() (proc.PCB, bool)
}

// AddressSpaceActivator loads the page directory of an address space.
type AddressSpaceActivator interface {
	Activate(as vmm.AddressSpace) *kernel.Error
}

// Scheduler hands the CPU to the active processes in turn.
type Scheduler struct {
	machine hal.Machine
	table   ProcessTable
	spaces  AddressSpaceActivator
	hz      uint32

	ticks    uint64
	switches uint64
}

// New creates a scheduler for the processes in table that preempts them hz
// times per second.
func New(machine hal.Machine, table ProcessTable, spaces AddressSpaceActivator, hz uint32) *Scheduler {
	return &Scheduler{
		machine: machine,
		table:   table,
		spaces:  spaces,
		hz:      hz,
	}
}

// Init arms the timer and unmasks its IRQ line.
func (s *Scheduler) Init(pic *irq.PIC) *kernel.Error {
	if err := armTimerFn(s.machine, s.hz); err != nil {
		return err
	}

	pic.Unmask(irq.TimerLine)
	kfmt.Printf("[sched] timer armed at %d Hz\n", s.hz)
	return nil
}

// Ticks returns the number of timer interrupts handled so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Switches returns the number of context switches performed so far.
func (s *Scheduler) Switches() uint64 { return s.switches }

// SaveContext stores regs as the context of the running process. It returns
// false if no process is running.
func (s *Scheduler) SaveContext(regs *gate.Registers) bool {
	return s.table.SaveContext(regs)
}

// SwitchToNext selects the next process in round-robin order, activates its
// address space and overwrites regs with its saved context so that the
// interrupt return resumes it. The caller must save the context of the
// running process first if it is to be resumed later.
//
// If no process is active the machine is shut down and ErrNoProcess is
// returned.
func (s *Scheduler) SwitchToNext(regs *gate.Registers) *kernel.Error {
	pcb, ok := s.table.PickNext()
	if !ok {
		s.shutdown()
		return ErrNoProcess
	}

	if err := s.spaces.Activate(pcb.AddressSpace); err != nil {
		return err
	}

	*regs = pcb.Context
	s.switches++
	return nil
}

// HandleTimer is the timer interrupt handler: it preempts the running
// process in favor of the next one.
func (s *Scheduler) HandleTimer(regs *gate.Registers) {
	s.ticks++

	s.SaveContext(regs)
	if err := s.SwitchToNext(regs); err != nil && err != ErrNoProcess {
		kfmt.Panic(err)
	}
}

// Start performs the first context switch from the boot path. On hardware
// Start does not return.
func (s *Scheduler) Start() *kernel.Error {
	var regs gate.Registers
	if err := s.SwitchToNext(&regs); err != nil {
		return err
	}

	kfmt.Printf("[sched] starting user mode at 0x%8x\n", regs.EIP)
	s.machine.Resume(&regs)
	return nil
}

// shutdown stops the machine once nothing is left to run.
func (s *Scheduler) shutdown() {
	kfmt.Printf("[sched] no processes left; halting after %d ticks\n", s.ticks)
	s.machine.DisableInterrupts()
	s.machine.Halt()
}
