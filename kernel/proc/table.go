// Package proc implements the process table: a fixed number of process
// control blocks, each owning an isolated address space.
package proc

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/gate"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/sync"
)

var (
	// ErrTableFull is returned when all process slots are in use.
	ErrTableFull = &kernel.Error{Module: "proc", Message: "process table is full"}

	// ErrInvalidEntryPoint is returned when an image would be loaded at
	// an unaligned address or overlap the kernel half of the address
	// space.
	ErrInvalidEntryPoint = &kernel.Error{Module: "proc", Message: "invalid image entry point"}

	// ErrOutOfMemory is returned when there are not enough frames or
	// address spaces to create a process.
	ErrOutOfMemory = &kernel.Error{Module: "proc", Message: "out of memory"}

	// ErrLoadFailed is returned when the image contents cannot be read.
	ErrLoadFailed = &kernel.Error{Module: "proc", Message: "unable to load process image"}

	// ErrNoSuchProcess is returned when no active process has the
	// requested pid.
	ErrNoSuchProcess = &kernel.Error{Module: "proc", Message: "no such process"}

	errInvalidCapacity = &kernel.Error{Module: "proc", Message: "process table capacity must be positive"}
)

const (
	// userFlags is the initial EFLAGS value: reserved bit 1 and IF.
	userFlags = uint32(0x202)

	// copyChunkSize is the amount of image data moved per read.
	copyChunkSize = 64 * 1024
)

// PID is a process identifier. PIDs are never reused.
type PID uint32

// State is the scheduling state of a process.
type State uint8

// The list of process states.
const (
	StateReady State = iota
	StateRunning
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// PCB is a process control block.
type PCB struct {
	PID    PID
	Name   string
	Active bool
	State  State

	// Context holds the user register state while the process is not
	// running.
	Context      gate.Registers
	AddressSpace vmm.AddressSpace

	// Pages lists the virtual address of each page mapped for the
	// process.
	Pages []uintptr
}

// Image describes an executable to load into a new process.
type Image struct {
	Name string
	Size uint32

	// Base is the virtual address the image is loaded at and the entry
	// point of the process. It must be 4M aligned.
	Base uintptr

	// Source provides the image contents.
	Source io.ReaderAt
}

// FrameAllocator reserves physical frames.
type FrameAllocator interface {
	AllocFrame(preferred mm.Frame) (mm.Frame, *kernel.Error)
	FreeFrame(mm.Frame) *kernel.Error
	CanSatisfy(count uint32) bool
}

// AddressSpaceManager owns the page directories of all processes.
type AddressSpaceManager interface {
	Create() (vmm.AddressSpace, *kernel.Error)
	Map(as vmm.AddressSpace, virtAddr uintptr, frame mm.Frame, user bool) *kernel.Error
	Unmap(as vmm.AddressSpace, virtAddr uintptr) (mm.Frame, *kernel.Error)
	Activate(as vmm.AddressSpace) *kernel.Error
	Active() (vmm.AddressSpace, bool)
	Destroy(as vmm.AddressSpace) *kernel.Error
}

// noSlot marks the absence of a current or previously allocated slot.
const noSlot = -1

// Table is a fixed-capacity process table. Slots are reused but pids are
// not.
type Table struct {
	lock   *sync.IRQSpinlock
	mem    mm.PhysicalMemory
	frames FrameAllocator
	spaces AddressSpaceManager

	slots         []PCB
	activeCount   int
	current       int
	lastAllocated int
	nextPID       PID
	maxFrames     uint32
}

// NewTable creates a process table with capacity slots. Each process may own
// at most maxFrames frames including its stack.
func NewTable(lock *sync.IRQSpinlock, mem mm.PhysicalMemory, frames FrameAllocator, spaces AddressSpaceManager, capacity int, maxFrames uint32) (*Table, *kernel.Error) {
	if capacity <= 0 {
		return nil, errInvalidCapacity
	}

	return &Table{
		lock:          lock,
		mem:           mem,
		frames:        frames,
		spaces:        spaces,
		slots:         make([]PCB, capacity),
		current:       noSlot,
		lastAllocated: noSlot,
		nextPID:       1,
		maxFrames:     maxFrames,
	}, nil
}

// Capacity returns the number of process slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// ActiveCount returns the number of active processes.
func (t *Table) ActiveCount() int {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.activeCount
}

// FramesFor returns the number of frames needed by a process whose image
// is size bytes long: the image itself plus one frame for the stack.
func FramesFor(size uint32) uint32 {
	return uint32(mm.PagesFor(uintptr(size) + mm.PageSize))
}

// Create loads img into a new address space and adds a process for it in
// the ready state. On failure nothing allocated by Create remains allocated.
func (t *Table) Create(img Image) (PID, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.activeCount == len(t.slots) {
		return 0, ErrTableFull
	}

	if mm.PageOffset(img.Base) != 0 || img.Base >= mm.KernelVirtualBase {
		return 0, ErrInvalidEntryPoint
	}

	frameCount := FramesFor(img.Size)
	if frameCount > t.maxFrames || !t.frames.CanSatisfy(frameCount) {
		return 0, ErrOutOfMemory
	}

	// The region, stack included, must end below the kernel half.
	if uint64(img.Base)+uint64(frameCount)*uint64(mm.PageSize) > uint64(mm.KernelVirtualBase) {
		return 0, ErrInvalidEntryPoint
	}
	regionEnd := img.Base + uintptr(frameCount)*mm.PageSize

	slot := t.freeSlot()

	as, err := t.spaces.Create()
	if err != nil {
		if err == vmm.ErrPoolExhausted {
			return 0, ErrOutOfMemory
		}
		return 0, err
	}

	pages, err := t.load(as, img, frameCount)
	if err != nil {
		// Destroy releases every frame mapped so far.
		t.spaces.Destroy(as)
		return 0, err
	}

	pid := t.nextPID
	t.nextPID++

	t.slots[slot] = PCB{
		PID:          pid,
		Name:         img.Name,
		Active:       true,
		State:        StateReady,
		Context:      initialContext(img.Base, regionEnd),
		AddressSpace: as,
		Pages:        pages,
	}
	t.activeCount++
	t.lastAllocated = slot

	kfmt.Printf("[proc] created pid %d (%s) in slot %d: %d frames at 0x%8x\n", uint32(pid), img.Name, slot, frameCount, img.Base)
	return pid, nil
}

// freeSlot scans backward from the most recently allocated slot, wrapping,
// and returns the first inactive slot. The caller must ensure that such a
// slot exists.
func (t *Table) freeSlot() int {
	start := t.lastAllocated
	if start == noSlot {
		start = 0
	}

	for i := 1; i <= len(t.slots); i++ {
		slot := (start - i + len(t.slots)) % len(t.slots)
		if !t.slots[slot].Active {
			return slot
		}
	}

	return noSlot
}

// load maps frameCount zeroed frames at img.Base and copies the image into
// them. It returns the list of mapped pages.
func (t *Table) load(as vmm.AddressSpace, img Image, frameCount uint32) ([]uintptr, *kernel.Error) {
	var (
		pages  = make([]uintptr, 0, frameCount)
		frames = make([]mm.Frame, 0, frameCount)
		hint   mm.Frame
	)

	for i := uint32(0); i < frameCount; i++ {
		frame, err := t.frames.AllocFrame(hint)
		if err != nil {
			return nil, ErrOutOfMemory
		}

		if mm.Memset(t.mem, frame.Address(), 0, mm.PageSize) != nil {
			t.frames.FreeFrame(frame)
			return nil, ErrLoadFailed
		}

		vaddr := img.Base + uintptr(i)*mm.PageSize
		if err = t.spaces.Map(as, vaddr, frame, true); err != nil {
			t.frames.FreeFrame(frame)
			return nil, err
		}

		pages = append(pages, vaddr)
		frames = append(frames, frame)
		hint = frame + 1
	}

	if err := t.copyImage(img, frames); err != nil {
		return nil, err
	}

	return pages, nil
}

// copyImage copies the image contents into the physical frames backing it.
func (t *Table) copyImage(img Image, frames []mm.Frame) *kernel.Error {
	if img.Size == 0 {
		return nil
	}
	if img.Source == nil {
		return ErrLoadFailed
	}

	buf := make([]byte, copyChunkSize)
	for offset := uintptr(0); offset < uintptr(img.Size); {
		chunk := uintptr(len(buf))
		if remaining := uintptr(img.Size) - offset; remaining < chunk {
			chunk = remaining
		}
		if toFrameEnd := mm.PageSize - mm.PageOffset(offset); toFrameEnd < chunk {
			chunk = toFrameEnd
		}

		// A reader may return io.EOF together with the final bytes.
		if n, _ := img.Source.ReadAt(buf[:chunk], int64(offset)); uintptr(n) != chunk {
			return ErrLoadFailed
		}

		physAddr := frames[offset>>mm.PageShift].Address() + mm.PageOffset(offset)
		if _, err := t.mem.WriteAt(buf[:chunk], int64(physAddr)); err != nil {
			return ErrLoadFailed
		}

		offset += chunk
	}

	return nil
}

// initialContext returns the register state a new process starts with.
func initialContext(entry, stackTop uintptr) gate.Registers {
	return gate.Registers{
		EIP:    uint32(entry),
		ESP:    uint32(stackTop),
		EFlags: userFlags,
		CS:     uint32(gate.UserCodeSelector),
		SS:     uint32(gate.UserDataSelector),
		DS:     uint32(gate.UserDataSelector),
		ES:     uint32(gate.UserDataSelector),
		FS:     uint32(gate.UserDataSelector),
		GS:     uint32(gate.UserDataSelector),
	}
}

// Destroy releases all resources owned by the process with the supplied
// pid and marks its slot inactive. If the process address space is active,
// the kernel address space is activated first.
func (t *Table) Destroy(pid PID) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	slot := t.find(pid)
	if slot == noSlot {
		return ErrNoSuchProcess
	}

	pcb := &t.slots[slot]
	if active, ok := t.spaces.Active(); ok && active == pcb.AddressSpace {
		if err := t.spaces.Activate(vmm.KernelSpace); err != nil {
			return err
		}
	}

	for _, vaddr := range pcb.Pages {
		frame, err := t.spaces.Unmap(pcb.AddressSpace, vaddr)
		if err != nil {
			kfmt.Printf("[proc] unable to unmap 0x%8x for pid %d: %s\n", vaddr, uint32(pid), err.Message)
			continue
		}
		t.frames.FreeFrame(frame)
	}

	if err := t.spaces.Destroy(pcb.AddressSpace); err != nil {
		kfmt.Printf("[proc] unable to destroy address space of pid %d: %s\n", uint32(pid), err.Message)
	}

	*pcb = PCB{}
	t.activeCount--

	kfmt.Printf("[proc] destroyed pid %d; %d active\n", uint32(pid), t.activeCount)
	return nil
}

func (t *Table) find(pid PID) int {
	for slot := range t.slots {
		if t.slots[slot].Active && t.slots[slot].PID == pid {
			return slot
		}
	}

	return noSlot
}

// Lookup returns a copy of the control block of the process with the
// supplied pid.
func (t *Table) Lookup(pid PID) (PCB, bool) {
	t.lock.Acquire()
	defer t.lock.Release()

	slot := t.find(pid)
	if slot == noSlot {
		return PCB{}, false
	}

	return t.slots[slot], true
}

// Current returns a copy of the control block of the running process. The
// second return value is false if no process is running.
func (t *Table) Current() (PCB, bool) {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.current == noSlot || !t.slots[t.current].Active {
		return PCB{}, false
	}

	return t.slots[t.current], true
}

// Visit invokes fn with a copy of each active control block in slot order.
func (t *Table) Visit(fn func(PCB)) {
	t.lock.Acquire()
	defer t.lock.Release()

	for _, pcb := range t.slots {
		if pcb.Active {
			fn(pcb)
		}
	}
}

// SaveContext stores regs as the context of the running process. The
// interrupt vector and error code are not part of the saved context. It
// returns false if no process is running.
func (t *Table) SaveContext(regs *gate.Registers) bool {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.current == noSlot || !t.slots[t.current].Active {
		return false
	}

	ctx := *regs
	ctx.Info, ctx.ErrorCode = 0, 0
	t.slots[t.current].Context = ctx
	return true
}

// PickNext selects the next active process in round-robin order, starting
// with the slot after the current one and wrapping. The current process is
// selected again only when it is the only active one. The previously
// running process becomes ready and the selected one becomes running. The
// second return value is false if no process is active.
func (t *Table) PickNext() (PCB, bool) {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.activeCount == 0 {
		return PCB{}, false
	}

	start := t.current
	if start == noSlot {
		start = len(t.slots) - 1
	}

	next := noSlot
	for i := 1; i <= len(t.slots); i++ {
		slot := (start + i) % len(t.slots)
		if t.slots[slot].Active {
			next = slot
			break
		}
	}

	if t.current != noSlot && t.slots[t.current].Active {
		t.slots[t.current].State = StateReady
	}

	t.slots[next].State = StateRunning
	t.current = next
	return t.slots[next], true
}
