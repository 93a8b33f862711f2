package vmm

import "kestrel/kernel/mm"

// PageDirectoryEntryFlag describes a flag that can be applied to a page
// directory entry.
type PageDirectoryEntryFlag uint32

const (
	// FlagPresent is set when the entry maps a frame.
	FlagPresent PageDirectoryEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access the page.
	FlagUserAccessible

	// FlagWriteThroughCaching enables write-through caching.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents the page from being cached.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when the page is modified.
	FlagDirty

	// FlagHugePage is set when the entry maps a 4M page directly.
	FlagHugePage

	// FlagGlobal keeps the TLB entry across CR3 reloads.
	FlagGlobal
)

const (
	// With PSE-36 the frame index is split in two fields: bits 22-31 of
	// the entry hold the low 10 bits and bits 13-20 the high 8 bits.
	frameLowShift  = 22
	frameLowMask   = 0x3ff
	frameHighShift = 13
	frameHighMask  = 0xff

	entryFrameMask = uint32(frameLowMask<<frameLowShift | frameHighMask<<frameHighShift)

	// MaxFrame is the highest frame index an entry can encode.
	MaxFrame = mm.Frame(1<<18 - 1)
)

// pageDirectoryEntry describes a 4M page directory entry.
type pageDirectoryEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pde pageDirectoryEntry) HasFlags(flags PageDirectoryEntryFlag) bool {
	return (uint32(pde) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pde pageDirectoryEntry) HasAnyFlag(flags PageDirectoryEntryFlag) bool {
	return (uint32(pde) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the page directory entry.
func (pde *pageDirectoryEntry) SetFlags(flags PageDirectoryEntryFlag) {
	*pde = (pageDirectoryEntry)(uint32(*pde) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page directory entry.
func (pde *pageDirectoryEntry) ClearFlags(flags PageDirectoryEntryFlag) {
	*pde = (pageDirectoryEntry)(uint32(*pde) &^ uint32(flags))
}

// Frame returns the physical frame that this entry points to.
func (pde pageDirectoryEntry) Frame() mm.Frame {
	low := (uint32(pde) >> frameLowShift) & frameLowMask
	high := (uint32(pde) >> frameHighShift) & frameHighMask
	return mm.Frame(high<<10 | low)
}

// SetFrame updates the entry to point to the given physical frame.
func (pde *pageDirectoryEntry) SetFrame(frame mm.Frame) {
	low := uint32(frame) & frameLowMask
	high := (uint32(frame) >> 10) & frameHighMask
	*pde = pageDirectoryEntry(uint32(*pde)&^entryFrameMask | low<<frameLowShift | high<<frameHighShift)
}
