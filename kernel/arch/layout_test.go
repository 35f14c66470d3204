package arch

import "testing"

func TestLayoutPresets(t *testing.T) {
	specs := []struct {
		layout      Layout
		expLevels   int
		expEntries  int
		expEntrySz  int
		expTopShift uint8
	}{
		{AMD64, 4, 512, 8, 39},
		{X86, 2, 1024, 4, 22},
	}

	for specIndex, spec := range specs {
		if got := spec.layout.PageLevels; got != spec.expLevels {
			t.Errorf("[spec %d] expected %d page levels; got %d", specIndex, spec.expLevels, got)
		}
		if got := spec.layout.TableEntries(0); got != spec.expEntries {
			t.Errorf("[spec %d] expected %d entries per table; got %d", specIndex, spec.expEntries, got)
		}
		if got := spec.layout.EntrySize; got != spec.expEntrySz {
			t.Errorf("[spec %d] expected entry size %d; got %d", specIndex, spec.expEntrySz, got)
		}
		if got := spec.layout.LevelShifts[0]; got != spec.expTopShift {
			t.Errorf("[spec %d] expected top-level shift %d; got %d", specIndex, spec.expTopShift, got)
		}
	}
}

func TestIndexForLevelDecomposition(t *testing.T) {
	// 0xffff8000_00001000 decomposes into PML4 entry 256 with the rest 0,
	// except the final level which selects page 1.
	virtAddr := uint64(0xffff800000001000)

	specs := []struct {
		level    int
		expIndex uint64
	}{
		{0, 256},
		{1, 0},
		{2, 0},
		{3, 1},
	}

	for specIndex, spec := range specs {
		if got := AMD64.IndexForLevel(virtAddr, spec.level); got != spec.expIndex {
			t.Errorf("[spec %d] expected index %d for level %d; got %d", specIndex, spec.expIndex, spec.level, got)
		}
	}
}

func TestLayoutByName(t *testing.T) {
	if layout, ok := LayoutByName("amd64"); !ok || layout.Name != "amd64" {
		t.Fatalf("expected to resolve the amd64 layout; got %v, %t", layout, ok)
	}
	if layout, ok := LayoutByName("x86"); !ok || layout.Name != "x86" {
		t.Fatalf("expected to resolve the x86 layout; got %v, %t", layout, ok)
	}
	if _, ok := LayoutByName("mips"); ok {
		t.Fatal("expected unknown layout names to report ok=false")
	}
}

func TestRegisterAccessors(t *testing.T) {
	var regs Registers

	regs.SetVector(0x80)
	if got := regs.Vector(); got != 0x80 {
		t.Errorf("expected vector 0x80; got 0x%x", got)
	}

	regs.RAX = 2
	regs.RDI = 1
	regs.RSI = 0x20000000
	regs.RDX = 5
	if got := regs.SyscallNum(); got != 2 {
		t.Errorf("expected syscall number 2; got %d", got)
	}
	for argIndex, exp := range []uint64{1, 0x20000000, 5} {
		if got := regs.Arg(argIndex); got != exp {
			t.Errorf("expected arg %d to be 0x%x; got 0x%x", argIndex, exp, got)
		}
	}

	regs.SetReturn(42)
	if got := regs.Return(); got != 42 {
		t.Errorf("expected return value 42; got %d", got)
	}

	regs.CR2 = 0xdeadb000
	if got := regs.FaultAddress(); got != 0xdeadb000 {
		t.Errorf("expected fault address 0xdeadb000; got 0x%x", got)
	}
}
