package gate

import (
	"bytes"
	"encoding/binary"
	"kestrel/kernel/cpu"
	"testing"
)

// recordingCPU captures descriptor table loads; other methods are not used.
type recordingCPU struct {
	cpu.CPU

	gdt []uint64
	idt []uint64
	tr  uint16
}

func (c *recordingCPU) LoadGDT(entries []uint64)         { c.gdt = entries }
func (c *recordingCPU) LoadIDT(entries []uint64)         { c.idt = entries }
func (c *recordingCPU) LoadTaskRegister(selector uint16) { c.tr = selector }

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		EAX: 1, EBX: 2, ECX: 3, EDX: 4, ESI: 5, EDI: 6, EBP: 7,
		DS: 0x23, ES: 0x23, FS: 0x23, GS: 0x23,
		EIP: 0x400000, CS: 0x1b, EFlags: 0x202, ESP: 0x7ffffc, SS: 0x23,
	}

	exp := "EAX = 00000001 EBX = 00000002\n" +
		"ECX = 00000003 EDX = 00000004\n" +
		"ESI = 00000005 EDI = 00000006\n" +
		"EBP = 00000007\n" +
		"DS  = 00000023 ES  = 00000023\n" +
		"FS  = 00000023 GS  = 00000023\n" +
		"\n" +
		"EIP = 00400000 CS  = 0000001b\n" +
		"ESP = 007ffffc SS  = 00000023\n" +
		"EFL = 00000202\n"

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}

func TestInterruptNumberIsIRQ(t *testing.T) {
	specs := []struct {
		num InterruptNumber
		exp bool
	}{
		{PageFaultException, false},
		{TimerInterrupt, true},
		{KeyboardInterrupt, true},
		{IRQBase + 15, true},
		{IRQBase + 16, false},
		{SyscallInterrupt, false},
	}

	for specIndex, spec := range specs {
		if got := spec.num.IsIRQ(); got != spec.exp {
			t.Errorf("[spec %d] expected IsIRQ(%d) to return %t; got %t", specIndex, spec.num, spec.exp, got)
		}
	}
}

func TestSegmentDescriptor(t *testing.T) {
	specs := []struct {
		base, limit   uint32
		access, flags uint8
		exp           uint64
	}{
		{0, 0xfffff, accessKernelCode, flagsFlat, 0x00cf9a000000ffff},
		{0, 0xfffff, accessKernelData, flagsFlat, 0x00cf92000000ffff},
		{0, 0xfffff, accessUserCode, flagsFlat, 0x00cffa000000ffff},
		{0, 0xfffff, accessUserData, flagsFlat, 0x00cff2000000ffff},
		{0x12345678, tssSize - 1, accessTSS, 0, 0x1200893456780067},
	}

	for specIndex, spec := range specs {
		if got := SegmentDescriptor(spec.base, spec.limit, spec.access, spec.flags); got != spec.exp {
			t.Errorf("[spec %d] expected descriptor 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestDescriptorTable(t *testing.T) {
	gdt := NewDescriptorTable(0x1000, 0xc0100000)

	if gdt.Entries[0] != 0 {
		t.Errorf("expected the null descriptor to be zero; got 0x%x", gdt.Entries[0])
	}

	if got := uint8(gdt.Entries[UserCodeSelector>>3] >> 45 & 3); got != 3 {
		t.Errorf("expected user code descriptor DPL to be 3; got %d", got)
	}

	if got := uint8(gdt.Entries[KernelCodeSelector>>3] >> 45 & 3); got != 0 {
		t.Errorf("expected kernel code descriptor DPL to be 0; got %d", got)
	}

	tss := gdt.TSS.Bytes()
	if got := binary.LittleEndian.Uint32(tss[4:]); got != 0xc0100000 {
		t.Errorf("expected TSS ESP0 to be 0xc0100000; got 0x%x", got)
	}
	if got := binary.LittleEndian.Uint32(tss[8:]); got != uint32(KernelDataSelector) {
		t.Errorf("expected TSS SS0 to be 0x%x; got 0x%x", KernelDataSelector, got)
	}

	var c recordingCPU
	gdt.Load(&c)
	if len(c.gdt) != len(gdt.Entries) {
		t.Errorf("expected %d GDT entries to be loaded; got %d", len(gdt.Entries), len(c.gdt))
	}
	if c.tr != TSSSelector {
		t.Errorf("expected task register to be loaded with 0x%x; got 0x%x", TSSSelector, c.tr)
	}
}

func TestGateDescriptor(t *testing.T) {
	specs := []struct {
		offset uint32
		dpl    uint8
		exp    uint64
	}{
		{0x00101000, 0, 0x00108e0000081000},
		{0xc0101800, 3, 0xc010ee0000081800},
	}

	for specIndex, spec := range specs {
		if got := GateDescriptor(spec.offset, KernelCodeSelector, spec.dpl); got != spec.exp {
			t.Errorf("[spec %d] expected descriptor 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestInterruptTable(t *testing.T) {
	idt := NewInterruptTable(0x100000, DefaultStubSize)

	var called []uint32
	idt.HandleInterrupt(PageFaultException, 0, func(regs *Registers) {
		called = append(called, regs.Info)
		regs.EAX = 42
	})
	idt.HandleInterrupt(SyscallInterrupt, 3, func(_ *Registers) {})

	t.Run("stub addresses", func(t *testing.T) {
		if exp, got := uint32(0x100000+14*16), idt.StubAddress(PageFaultException); got != exp {
			t.Fatalf("expected stub address 0x%x; got 0x%x", exp, got)
		}

		if exp, got := GateDescriptor(idt.StubAddress(SyscallInterrupt), KernelCodeSelector, 3), idt.Entries[SyscallInterrupt]; got != exp {
			t.Fatalf("expected syscall gate 0x%x; got 0x%x", exp, got)
		}

		if exp, got := GateDescriptor(idt.StubAddress(TimerInterrupt), KernelCodeSelector, 0), idt.Entries[TimerInterrupt]; got != exp {
			t.Fatalf("expected gate without a handler to point at its stub 0x%x; got 0x%x", exp, got)
		}

		if got := idt.GatePrivilege(SyscallInterrupt); got != 3 {
			t.Fatalf("expected syscall gate DPL 3; got %d", got)
		}

		if got := idt.GatePrivilege(PageFaultException); got != 0 {
			t.Fatalf("expected page fault gate DPL 0; got %d", got)
		}
	})

	t.Run("dispatch", func(t *testing.T) {
		regs := Registers{Info: uint32(PageFaultException)}
		if !idt.Dispatch(&regs) {
			t.Fatal("expected dispatch to find the page fault handler")
		}

		if len(called) != 1 || called[0] != uint32(PageFaultException) {
			t.Fatalf("expected handler to be called once with vector 14; got %v", called)
		}

		if regs.EAX != 42 {
			t.Fatal("expected handler changes to the register snapshot to be visible to the caller")
		}

		if idt.Dispatch(&Registers{Info: uint32(TimerInterrupt)}) {
			t.Fatal("expected dispatch to report a missing handler")
		}
	})

	t.Run("load", func(t *testing.T) {
		var c recordingCPU
		idt.Load(&c)
		if len(c.idt) != 256 {
			t.Fatalf("expected 256 IDT entries to be loaded; got %d", len(c.idt))
		}
	})
}
