package zobject_test

import (
	"testing"

	"github.com/duskforge/grue/internal/zcore"
	"github.com/duskforge/grue/internal/zobject"
	"github.com/duskforge/grue/internal/zstring"
)

// newV3Fixture builds a minimal synthetic V3 story image with one object
// table entry (object 1) and a small property list, exercising the same
// object/property layout a real story file would use without requiring a
// story file fixture to ship in this repository.
func newV3Fixture(t *testing.T) (*zcore.Core, *zstring.Alphabets) {
	t.Helper()

	const objectTableBase = 0x40
	const propDefaultsSize = 31 * 2
	const treeBase = objectTableBase + propDefaultsSize
	const obj1Base = treeBase // object id 1 is the first entry
	const propListAddr = obj1Base + 9 + 16

	mem := make([]uint8, propListAddr+16)
	mem[0x00] = 3 // version
	mem[0x0e] = 0x7f
	mem[0xf] = 0xff // static memory base, high above everything we touch
	mem[0x0a] = objectTableBase >> 8
	mem[0x0b] = objectTableBase & 0xff

	// Property default for property 9: 0x0005.
	mem[objectTableBase+2*8] = 0x00
	mem[objectTableBase+2*8+1] = 0x05

	// Object 1: attributes with bits 2,3,19 set (left-justified 32 bits),
	// parent 0, sibling 0, child 0, property pointer -> propListAddr.
	attrs := uint32(1)<<(31-2) | uint32(1)<<(31-3) | uint32(1)<<(31-19)
	mem[obj1Base+0] = uint8(attrs >> 24)
	mem[obj1Base+1] = uint8(attrs >> 16)
	mem[obj1Base+2] = uint8(attrs >> 8)
	mem[obj1Base+3] = uint8(attrs)
	mem[obj1Base+7] = propListAddr >> 8
	mem[obj1Base+8] = propListAddr & 0xff

	// Property list: no name, then property 6 (len 1, data 0x85), then
	// property 3 (len 2, data 0x01 0x02), then terminator.
	mem[propListAddr] = 0 // name length (words)
	p := propListAddr + 1
	mem[p] = (0 << 5) | 6 // size byte: length 1, id 6
	mem[p+1] = 0x85
	p += 2
	mem[p] = (1 << 5) | 3 // size byte: length 2, id 3
	mem[p+1] = 0x01
	mem[p+2] = 0x02
	p += 3
	mem[p] = 0 // terminator

	core := zcore.LoadCore(mem)
	alphabets := zstring.LoadAlphabets(&core)
	return &core, alphabets
}

func TestZerothObjectRetrieval(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Retrieving object with id 0 should panic")
		}
	}()

	core, alphabets := newV3Fixture(t)
	zobject.GetObject(0, core, alphabets)
}

func TestObjectRetrieval(t *testing.T) {
	core, alphabets := newV3Fixture(t)
	obj := zobject.GetObject(1, core, alphabets)

	if obj.Parent != 0 || obj.Sibling != 0 || obj.Child != 0 {
		t.Errorf("expected zero tree links, got parent=%d sibling=%d child=%d", obj.Parent, obj.Sibling, obj.Child)
	}
}

func TestPropertyRetrieval(t *testing.T) {
	core, alphabets := newV3Fixture(t)
	obj := zobject.GetObject(1, core, alphabets)

	prop6 := obj.GetProperty(6, core)
	if prop6.Length != 1 || prop6.Data[0] != 0x85 {
		t.Errorf("incorrect property 6: length=%d data=%x", prop6.Length, prop6.Data)
	}

	prop3 := obj.GetProperty(3, core)
	if prop3.Length != 2 || prop3.Data[0] != 0x01 || prop3.Data[1] != 0x02 {
		t.Errorf("incorrect property 3: length=%d data=%x", prop3.Length, prop3.Data)
	}

	// Property 9 isn't on the object; GetProperty falls back to the
	// property-defaults table.
	prop9 := obj.GetProperty(9, core)
	if prop9.Data[0] != 0x00 || prop9.Data[1] != 0x05 {
		t.Errorf("incorrect default for property 9: %x", prop9.Data)
	}
}

func TestAttributes(t *testing.T) {
	core, alphabets := newV3Fixture(t)
	obj := zobject.GetObject(1, core, alphabets)

	if obj.TestAttribute(1) || obj.TestAttribute(4) || obj.TestAttribute(10) {
		t.Error("expected attributes 1,4,10 to be clear")
	}
	if !(obj.TestAttribute(2) && obj.TestAttribute(3) && obj.TestAttribute(19)) {
		t.Error("expected attributes 2,3,19 to be set")
	}

	obj.SetAttribute(10, core)
	if !obj.TestAttribute(10) {
		t.Error("setting attribute 10 didn't take effect")
	}

	obj.ClearAttribute(10, core)
	if obj.TestAttribute(10) {
		t.Error("clearing attribute 10 didn't take effect")
	}
}
