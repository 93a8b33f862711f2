// Package sync provides synchronization primitive implementations for spinlocks
// and interrupt-safe critical sections.
package sync

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is invoked by Acquire after spinning for a while without
	// getting hold of the lock.
	yieldFn = runtime.Gosched
)

// attemptsBeforeYielding is the number of failed acquisition attempts after
// which Acquire yields the CPU.
const attemptsBeforeYielding = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	acquireSpinlock(&l.state, attemptsBeforeYielding)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

func acquireSpinlock(state *uint32, attempts uint32) {
	for remaining := attempts; ; remaining-- {
		if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
			return
		}

		if remaining == 0 {
			yieldFn()
			remaining = attempts
		}
	}
}
