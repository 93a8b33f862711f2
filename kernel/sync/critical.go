package sync

import "kestrel/kernel/cpu"

// IRQSpinlock guards a critical section against both interrupt handlers and
// other tasks. Acquire masks interrupt delivery before taking the lock and
// Release restores the interrupt flag to the state observed by Acquire.
//
// Locks may nest as long as they are always taken in the same order; only
// the outermost Release re-enables interrupts.
type IRQSpinlock struct {
	lock Spinlock
	cpu  cpu.CPU

	// restoreIF is only accessed while the lock is held.
	restoreIF bool
}

// NewIRQSpinlock returns a lock that toggles the interrupt flag of c.
func NewIRQSpinlock(c cpu.CPU) *IRQSpinlock {
	return &IRQSpinlock{cpu: c}
}

// Acquire disables interrupts and acquires the lock.
func (l *IRQSpinlock) Acquire() {
	wasEnabled := l.cpu.InterruptsEnabled()
	if wasEnabled {
		l.cpu.DisableInterrupts()
	}

	l.lock.Acquire()
	l.restoreIF = wasEnabled
}

// Release releases the lock and re-enables interrupts if they were enabled
// when the lock was acquired.
func (l *IRQSpinlock) Release() {
	restore := l.restoreIF
	l.restoreIF = false
	l.lock.Release()

	if restore {
		l.cpu.EnableInterrupts()
	}
}
