package gate

import (
	"encoding/binary"
	"kestrel/kernel/cpu"
)

// Segment selectors. The low two bits of a selector hold the requested
// privilege level.
const (
	KernelCodeSelector = uint16(0x08)
	KernelDataSelector = uint16(0x10)
	UserCodeSelector   = uint16(0x18 | 3)
	UserDataSelector   = uint16(0x20 | 3)
	TSSSelector        = uint16(0x28)
)

// Descriptor access bytes.
const (
	accessKernelCode = uint8(0x9a)
	accessKernelData = uint8(0x92)
	accessUserCode   = uint8(0xfa)
	accessUserData   = uint8(0xf2)
	accessTSS        = uint8(0x89)

	// flagsFlat selects 4 KiB limit granularity and 32-bit operands.
	flagsFlat = uint8(0xc)
)

// tssSize is the size of a 32-bit task state segment.
const tssSize = 104

// SegmentDescriptor encodes a GDT entry for the supplied base address, 20-bit
// limit, access byte and flags nibble.
func SegmentDescriptor(base, limit uint32, access, flags uint8) uint64 {
	return uint64(limit&0xffff) |
		uint64(base&0xffffff)<<16 |
		uint64(access)<<40 |
		uint64((limit>>16)&0xf)<<48 |
		uint64(flags&0xf)<<52 |
		uint64(base>>24)<<56
}

// TaskState holds the fields of the 32-bit TSS that the kernel uses. When an
// interrupt arrives while the CPU runs in ring 3, it switches to the stack
// described by SS0:ESP0 before pushing the interrupt frame.
type TaskState struct {
	ESP0 uint32
	SS0  uint32
}

// Bytes returns the in-memory representation of the TSS.
func (ts *TaskState) Bytes() []byte {
	buf := make([]byte, tssSize)
	binary.LittleEndian.PutUint32(buf[4:], ts.ESP0)
	binary.LittleEndian.PutUint32(buf[8:], ts.SS0)

	// An I/O map base beyond the segment limit denies ring 3 port access.
	binary.LittleEndian.PutUint16(buf[102:], tssSize)
	return buf
}

// DescriptorTable is the global descriptor table: the null descriptor
// followed by flat kernel and user segments and the task state segment.
type DescriptorTable struct {
	Entries [6]uint64
	TSS     TaskState
}

// NewDescriptorTable builds a GDT whose TSS lives at tssBase and switches
// to kernelStackTop on privilege-level changes.
func NewDescriptorTable(tssBase, kernelStackTop uint32) *DescriptorTable {
	gdt := &DescriptorTable{
		TSS: TaskState{ESP0: kernelStackTop, SS0: uint32(KernelDataSelector)},
	}

	gdt.Entries[KernelCodeSelector>>3] = SegmentDescriptor(0, 0xfffff, accessKernelCode, flagsFlat)
	gdt.Entries[KernelDataSelector>>3] = SegmentDescriptor(0, 0xfffff, accessKernelData, flagsFlat)
	gdt.Entries[UserCodeSelector>>3] = SegmentDescriptor(0, 0xfffff, accessUserCode, flagsFlat)
	gdt.Entries[UserDataSelector>>3] = SegmentDescriptor(0, 0xfffff, accessUserData, flagsFlat)
	gdt.Entries[TSSSelector>>3] = SegmentDescriptor(tssBase, tssSize-1, accessTSS, 0)
	return gdt
}

// Load installs the table and the task register on the CPU.
func (gdt *DescriptorTable) Load(c cpu.CPU) {
	c.LoadGDT(gdt.Entries[:])
	c.LoadTaskRegister(TSSSelector)
}
