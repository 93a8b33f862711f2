package mm

import "math"

// Frame describes a physical memory frame index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. Addresses that are not frame-aligned are rounded down to the
// frame that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// DirectoryIndex returns the page directory entry index that maps this page.
func (p Page) DirectoryIndex() int {
	return int(p & (DirectoryEntries - 1))
}

// KernelReserved returns true if this page falls in the kernel half of the
// address space.
func (p Page) KernelReserved() bool {
	return p.DirectoryIndex() >= KernelSplitIndex
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. Bits 22-31 of the address select the page; the offset is
// discarded.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & 0xffffffff) >> PageShift)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (PageSize - 1)
}

// PagesFor returns the number of pages needed to hold size bytes.
func PagesFor(size uintptr) uintptr {
	return (size + PageSize - 1) >> PageShift
}
