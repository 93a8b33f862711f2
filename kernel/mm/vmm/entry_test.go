package vmm

import (
	"kestrel/kernel/mm"
	"testing"
)

func TestPageDirectoryEntryFlags(t *testing.T) {
	var (
		pde   pageDirectoryEntry
		flag1 = PageDirectoryEntryFlag(1 << 10)
		flag2 = PageDirectoryEntryFlag(1 << 21)
	)

	if pde.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pde.SetFlags(flag1 | flag2)

	if !pde.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pde.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pde.ClearFlags(flag1)

	if !pde.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pde.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pde.ClearFlags(flag1 | flag2)

	if pde.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	if pde.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageDirectoryEntryFrameEncoding(t *testing.T) {
	specs := []struct {
		frame mm.Frame
		exp   uint32
	}{
		{0, 0},
		{1, 0x00400000},
		{0x3ff, 0xffc00000},
		{0x400, 0x00002000},
		{0x123, 0x48c00000},
		{MaxFrame, 0xffdfe000},
	}

	for specIndex, spec := range specs {
		pde := pageDirectoryEntry(FlagPresent | FlagHugePage)
		pde.SetFrame(spec.frame)

		if got := uint32(pde) &^ uint32(FlagPresent|FlagHugePage); got != spec.exp {
			t.Errorf("[spec %d] expected frame %d to encode as 0x%x; got 0x%x", specIndex, spec.frame, spec.exp, got)
		}

		if got := pde.Frame(); got != spec.frame {
			t.Errorf("[spec %d] expected to decode frame %d; got %d", specIndex, spec.frame, got)
		}

		if !pde.HasFlags(FlagPresent | FlagHugePage) {
			t.Errorf("[spec %d] expected SetFrame to preserve the entry flags", specIndex)
		}
	}
}
