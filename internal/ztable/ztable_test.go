package ztable_test

import (
	"testing"

	"github.com/duskforge/grue/internal/zcore"
	"github.com/duskforge/grue/internal/ztable"
)

func testCore(t *testing.T) *zcore.Core {
	t.Helper()
	mem := make([]uint8, 0x100)
	mem[0x00] = 3
	mem[0x0e], mem[0x0f] = 0xff, 0xff
	core := zcore.LoadCore(mem)
	return &core
}

func TestScanTableByte(t *testing.T) {
	core := testCore(t)
	const base = 0x40
	for i, v := range []uint8{10, 20, 30, 40} {
		core.WriteByte(uint32(base+i), v)
	}

	addr := ztable.ScanTable(core, 30, base, 4, 1)
	if addr != base+2 {
		t.Fatalf("expected match at %#x, got %#x", base+2, addr)
	}

	if addr := ztable.ScanTable(core, 99, base, 4, 1); addr != 0 {
		t.Fatalf("expected no match, got %#x", addr)
	}
}

func TestScanTableWord(t *testing.T) {
	core := testCore(t)
	const base = 0x40
	core.WriteHalfWord(base, 0x1234)
	core.WriteHalfWord(base+2, 0x5678)

	addr := ztable.ScanTable(core, 0x5678, base, 2, 0b1000_0010)
	if addr != base+2 {
		t.Fatalf("expected match at %#x, got %#x", base+2, addr)
	}
}

func TestCopyTableZero(t *testing.T) {
	core := testCore(t)
	const base = 0x40
	for i := 0; i < 4; i++ {
		core.WriteByte(uint32(base+i), 0xff)
	}

	ztable.CopyTable(core, base, 0, 4)

	for i := 0; i < 4; i++ {
		if v := core.ReadByte(uint32(base + i)); v != 0 {
			t.Fatalf("expected byte %d to be zeroed, got %#x", i, v)
		}
	}
}

func TestCopyTableForward(t *testing.T) {
	core := testCore(t)
	const src, dst = 0x40, 0x50
	for i, v := range []uint8{1, 2, 3, 4} {
		core.WriteByte(uint32(src+i), v)
	}

	ztable.CopyTable(core, src, dst, 4)

	for i, want := range []uint8{1, 2, 3, 4} {
		if got := core.ReadByte(uint32(dst + i)); got != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestPrintTable(t *testing.T) {
	// PrintTable's first byte at baddr doubles as both the byte count
	// and the first data byte read (the teacher's ztable.go does the
	// same double duty), so the count and the first printed character
	// share one byte.
	core := testCore(t)
	const base = 0x40
	core.WriteByte(base, 4)
	for i, c := range []byte("bcd") {
		core.WriteByte(uint32(base+1+i), c)
	}

	out := ztable.PrintTable(core, base, 2, 2, 0)
	want := "\x04b\ncd"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}
