package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	// Substitute the yieldFn with runtime.Gosched to avoid deadlocks while testing
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}(i)
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()

	if !sl.TryToAcquire() {
		t.Error("expected TryToAcquire to return true when lock is free")
	}
}

type fakeCPU struct {
	ifFlag       bool
	enableCalls  int
	disableCalls int
}

func (c *fakeCPU) EnableInterrupts()           { c.ifFlag = true; c.enableCalls++ }
func (c *fakeCPU) DisableInterrupts()          { c.ifFlag = false; c.disableCalls++ }
func (c *fakeCPU) InterruptsEnabled() bool     { return c.ifFlag }
func (c *fakeCPU) Halt()                       {}
func (c *fakeCPU) FlushTLBEntry(uintptr)       {}
func (c *fakeCPU) SwitchPDT(uintptr)           {}
func (c *fakeCPU) ActivePDT() uintptr          { return 0 }
func (c *fakeCPU) ReadCR2() uintptr            { return 0 }
func (c *fakeCPU) PortWriteByte(uint16, uint8) {}
func (c *fakeCPU) PortReadByte(uint16) uint8   { return 0 }
func (c *fakeCPU) LoadGDT([]uint64)            {}
func (c *fakeCPU) LoadIDT([]uint64)            {}
func (c *fakeCPU) LoadTaskRegister(uint16)     {}

func TestIRQSpinlock(t *testing.T) {
	t.Run("interrupts enabled", func(t *testing.T) {
		c := &fakeCPU{ifFlag: true}
		l := NewIRQSpinlock(c)

		l.Acquire()
		if c.ifFlag {
			t.Fatal("expected interrupts to be disabled while the lock is held")
		}
		if l.lock.TryToAcquire() {
			t.Fatal("expected the underlying spinlock to be held")
		}

		l.Release()
		if !c.ifFlag {
			t.Fatal("expected interrupts to be re-enabled by Release")
		}
	})

	t.Run("interrupts already disabled", func(t *testing.T) {
		c := &fakeCPU{}
		l := NewIRQSpinlock(c)

		l.Acquire()
		l.Release()

		if c.ifFlag || c.enableCalls != 0 || c.disableCalls != 0 {
			t.Fatalf("expected interrupt flag to be left untouched; got enable calls: %d, disable calls: %d", c.enableCalls, c.disableCalls)
		}
	})

	t.Run("nested locks", func(t *testing.T) {
		c := &fakeCPU{ifFlag: true}
		outer, inner := NewIRQSpinlock(c), NewIRQSpinlock(c)

		outer.Acquire()
		inner.Acquire()
		inner.Release()
		if c.ifFlag {
			t.Fatal("expected interrupts to stay disabled until the outer lock is released")
		}
		outer.Release()
		if !c.ifFlag {
			t.Fatal("expected interrupts to be re-enabled after releasing the outer lock")
		}
	})
}
