// Package vmm manages per-process address spaces: a fixed pool of page
// directories that map 4M pages, the user-memory access helpers built on
// them and the page/general-protection fault handlers.
package vmm

import (
	"encoding/binary"
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

var (
	// ErrPoolExhausted is returned when all page directory slots are in use.
	ErrPoolExhausted = &kernel.Error{Module: "vmm", Message: "address space pool exhausted"}

	// ErrInvalidAddressSpace is returned for handles that do not refer to
	// a live address space.
	ErrInvalidAddressSpace = &kernel.Error{Module: "vmm", Message: "invalid address space handle"}

	// ErrKernelReserved is returned when trying to change a mapping in the
	// kernel half of an address space.
	ErrKernelReserved = &kernel.Error{Module: "vmm", Message: "virtual address is reserved for the kernel"}

	// ErrAlreadyMapped is returned when trying to map a virtual address
	// that is already mapped.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	// ErrNotMapped is returned when a virtual address is not mapped.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address is not mapped"}

	// ErrInvalidFrame is returned when a frame cannot be encoded in a
	// page directory entry.
	ErrInvalidFrame = &kernel.Error{Module: "vmm", Message: "frame cannot be mapped"}

	// ErrUnalignedRoot is returned when a page directory is not aligned
	// to a 4K boundary.
	ErrUnalignedRoot = &kernel.Error{Module: "vmm", Message: "page directory address is not 4K aligned"}

	errKernelSpace = &kernel.Error{Module: "vmm", Message: "the kernel address space cannot be destroyed"}
	errNoSlots     = &kernel.Error{Module: "vmm", Message: "address space pool needs at least two slots"}
	errMemoryIO    = &kernel.Error{Module: "vmm", Message: "page directory access failed"}
)

// AddressSpace is a handle to a page directory owned by a Pool.
type AddressSpace uint16

// KernelSpace is the address space used by the kernel when no process is
// running. It identity-maps the first 4M and maps the high-half kernel.
const KernelSpace = AddressSpace(0)

// InvalidAddressSpace is returned together with an error by Create.
const InvalidAddressSpace = AddressSpace(0xffff)

const (
	// kernelIdentityIndex maps the low kernel image in the kernel space.
	kernelIdentityIndex = 0

	// kernelFlags are used for the kernel mappings installed into every
	// address space.
	kernelFlags = FlagPresent | FlagRW | FlagHugePage
)

// FrameReleaser returns frames to the physical frame allocator.
type FrameReleaser interface {
	FreeFrame(mm.Frame) *kernel.Error
}

// Pool owns a fixed number of page directories stored back-to-back in
// physical memory. Slot 0 holds the kernel address space; the remaining
// slots are handed out by Create.
type Pool struct {
	lock   *sync.IRQSpinlock
	cpu    cpu.CPU
	mem    mm.PhysicalMemory
	frames FrameReleaser

	base  uintptr
	inUse []bool
	free  int
}

// NewPool creates an address space pool with the given number of slots whose
// page directories live at physical address base.
func NewPool(lock *sync.IRQSpinlock, c cpu.CPU, mem mm.PhysicalMemory, frames FrameReleaser, base uintptr, slots int) (*Pool, *kernel.Error) {
	if base&(mm.TableAlignment-1) != 0 {
		return nil, ErrUnalignedRoot
	}

	if slots < 2 || slots > int(InvalidAddressSpace) {
		return nil, errNoSlots
	}

	p := &Pool{
		lock:   lock,
		cpu:    c,
		mem:    mem,
		frames: frames,
		base:   base,
		inUse:  make([]bool, slots),
		free:   slots - 1,
	}

	if err := p.clear(KernelSpace); err != nil {
		return nil, err
	}
	if err := p.installKernelMappings(KernelSpace); err != nil {
		return nil, err
	}
	if err := p.writeEntry(KernelSpace, kernelIdentityIndex, kernelEntry()); err != nil {
		return nil, err
	}
	p.inUse[KernelSpace] = true

	kfmt.Printf("[vmm] address space pool: %d slots at 0x%x\n", slots, base)
	return p, nil
}

// kernelEntry returns the entry that maps frame 0 for kernel use only.
func kernelEntry() pageDirectoryEntry {
	var pde pageDirectoryEntry
	pde.SetFlags(kernelFlags)
	pde.SetFrame(0)
	return pde
}

// Root returns the physical address of the page directory for as.
func (p *Pool) Root(as AddressSpace) uintptr {
	return p.base + uintptr(as)*mm.DirectorySize
}

// Capacity returns the number of slots available to Create.
func (p *Pool) Capacity() int {
	return len(p.inUse) - 1
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.free
}

// Create takes an unused page directory from the pool, clears it and
// installs the high-half kernel mapping.
func (p *Pool) Create() (AddressSpace, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	for slot := 1; slot < len(p.inUse); slot++ {
		if p.inUse[slot] {
			continue
		}

		as := AddressSpace(slot)
		if err := p.clear(as); err != nil {
			return InvalidAddressSpace, err
		}
		if err := p.installKernelMappings(as); err != nil {
			return InvalidAddressSpace, err
		}

		p.inUse[slot] = true
		p.free--
		return as, nil
	}

	return InvalidAddressSpace, ErrPoolExhausted
}

// Map establishes a mapping between the 4M page containing virtAddr and a
// physical frame. The mapping is user accessible if user is true.
func (p *Pool) Map(as AddressSpace, virtAddr uintptr, frame mm.Frame, user bool) *kernel.Error {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.valid(as) {
		return ErrInvalidAddressSpace
	}

	page := mm.PageFromAddress(virtAddr)
	if page.KernelReserved() {
		return ErrKernelReserved
	}

	if frame > MaxFrame {
		return ErrInvalidFrame
	}

	pde, err := p.readEntry(as, page.DirectoryIndex())
	if err != nil {
		return err
	}

	if pde.HasFlags(FlagPresent) {
		return ErrAlreadyMapped
	}

	pde = 0
	pde.SetFlags(FlagPresent | FlagRW | FlagHugePage)
	if user {
		pde.SetFlags(FlagUserAccessible)
	}
	pde.SetFrame(frame)

	if err = p.writeEntry(as, page.DirectoryIndex(), pde); err != nil {
		return err
	}

	p.cpu.FlushTLBEntry(page.Address())
	return nil
}

// Unmap removes the mapping for the page containing virtAddr and returns the
// frame it pointed to. The caller is responsible for releasing the frame.
func (p *Pool) Unmap(as AddressSpace, virtAddr uintptr) (mm.Frame, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.valid(as) {
		return mm.InvalidFrame, ErrInvalidAddressSpace
	}

	page := mm.PageFromAddress(virtAddr)
	if page.KernelReserved() {
		return mm.InvalidFrame, ErrKernelReserved
	}

	pde, err := p.readEntry(as, page.DirectoryIndex())
	if err != nil {
		return mm.InvalidFrame, err
	}

	if !pde.HasFlags(FlagPresent) {
		return mm.InvalidFrame, ErrNotMapped
	}

	frame := pde.Frame()
	pde.ClearFlags(FlagPresent | FlagRW | FlagUserAccessible)
	if err = p.writeEntry(as, page.DirectoryIndex(), pde); err != nil {
		return mm.InvalidFrame, err
	}

	p.cpu.FlushTLBEntry(page.Address())
	return frame, nil
}

// Translate returns the physical address that virtAddr maps to in as and
// whether the mapping is accessible from user mode.
func (p *Pool) Translate(as AddressSpace, virtAddr uintptr) (uintptr, bool, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.valid(as) {
		return 0, false, ErrInvalidAddressSpace
	}

	page := mm.PageFromAddress(virtAddr)
	pde, err := p.readEntry(as, page.DirectoryIndex())
	if err != nil {
		return 0, false, err
	}

	if !pde.HasFlags(FlagPresent) {
		return 0, false, ErrNotMapped
	}

	return pde.Frame().Address() + mm.PageOffset(virtAddr), pde.HasFlags(FlagUserAccessible), nil
}

// Activate loads the page directory for as into the CPU. Reloading the root
// flushes all non-global TLB entries.
func (p *Pool) Activate(as AddressSpace) *kernel.Error {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.valid(as) {
		return ErrInvalidAddressSpace
	}

	root := p.Root(as)
	if root&(mm.TableAlignment-1) != 0 {
		return ErrUnalignedRoot
	}

	p.cpu.SwitchPDT(root)
	return nil
}

// Active returns the address space whose page directory is loaded in the
// CPU. The second return value is false if the CPU uses a directory that
// does not belong to this pool.
func (p *Pool) Active() (AddressSpace, bool) {
	root := p.cpu.ActivePDT()
	if root < p.base || root >= p.Root(AddressSpace(len(p.inUse))) || (root-p.base)%mm.DirectorySize != 0 {
		return InvalidAddressSpace, false
	}

	return AddressSpace((root - p.base) / mm.DirectorySize), true
}

// Destroy returns the frames of all present user entries to the frame
// allocator, clears the page directory and returns its slot to the pool.
// Destroying the active address space is allowed; the caller must activate
// another one before touching user memory again.
func (p *Pool) Destroy(as AddressSpace) *kernel.Error {
	p.lock.Acquire()
	defer p.lock.Release()

	if as == KernelSpace {
		return errKernelSpace
	}

	if !p.valid(as) {
		return ErrInvalidAddressSpace
	}

	for index := 0; index < mm.KernelSplitIndex; index++ {
		pde, err := p.readEntry(as, index)
		if err != nil {
			return err
		}

		if !pde.HasFlags(FlagPresent) {
			continue
		}

		if err = p.frames.FreeFrame(pde.Frame()); err != nil {
			kfmt.Printf("[vmm] unable to release frame %d: %s\n", uint32(pde.Frame()), err.Message)
		}
	}

	if err := p.clear(as); err != nil {
		return err
	}

	p.inUse[as] = false
	p.free++
	return nil
}

// Mapped returns the number of present user entries in as.
func (p *Pool) Mapped(as AddressSpace) (int, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	if !p.valid(as) {
		return 0, ErrInvalidAddressSpace
	}

	var count int
	for index := 0; index < mm.KernelSplitIndex; index++ {
		pde, err := p.readEntry(as, index)
		if err != nil {
			return 0, err
		}
		if pde.HasFlags(FlagPresent) {
			count++
		}
	}

	return count, nil
}

func (p *Pool) valid(as AddressSpace) bool {
	return int(as) < len(p.inUse) && p.inUse[as]
}

// installKernelMappings installs the high-half kernel mapping into as.
func (p *Pool) installKernelMappings(as AddressSpace) *kernel.Error {
	return p.writeEntry(as, mm.KernelSplitIndex, kernelEntry())
}

func (p *Pool) clear(as AddressSpace) *kernel.Error {
	if err := mm.Memset(p.mem, p.Root(as), 0, mm.DirectorySize); err != nil {
		return errMemoryIO
	}
	return nil
}

func (p *Pool) readEntry(as AddressSpace, index int) (pageDirectoryEntry, *kernel.Error) {
	var raw [4]byte
	if _, err := p.mem.ReadAt(raw[:], int64(p.Root(as))+int64(index)*4); err != nil {
		return 0, errMemoryIO
	}
	return pageDirectoryEntry(binary.LittleEndian.Uint32(raw[:])), nil
}

func (p *Pool) writeEntry(as AddressSpace, index int, pde pageDirectoryEntry) *kernel.Error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(pde))
	if _, err := p.mem.WriteAt(raw[:], int64(p.Root(as))+int64(index)*4); err != nil {
		return errMemoryIO
	}
	return nil
}
