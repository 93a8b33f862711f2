package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a frame number (shift right
	// by PageShift) and vice-versa. All mappings use 4M pages (PSE).
	PageShift = uintptr(22)

	// PageSize defines the size of a page and of a physical frame in bytes.
	PageSize = uintptr(1 << PageShift)

	// TableAlignment is the alignment required for the physical address
	// of a page directory loaded into CR3.
	TableAlignment = uintptr(4096)

	// DirectoryEntries is the number of entries in a page directory. Each
	// entry maps a 4M region of the 4G virtual address space.
	DirectoryEntries = 1024

	// DirectorySize is the size in bytes of a page directory.
	DirectorySize = uintptr(DirectoryEntries * 4)

	// KernelSplitIndex is the first page directory index that belongs to
	// the kernel half of every address space. User mappings must use
	// indices below it.
	KernelSplitIndex = 0x300

	// KernelVirtualBase is the virtual address where the high-half kernel
	// mapping begins. It points to physical address 0.
	KernelVirtualBase = uintptr(KernelSplitIndex) << PageShift
)
