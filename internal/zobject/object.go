// Package zobject implements the Z-machine object table: the object
// tree (parent/sibling/child links), the 32- or 48-bit attribute
// flag set, and property list access. Object table layout is
// version-parameterized per spec.md §4.C: V3 uses 9-byte object entries,
// 1-byte tree links and 32 attributes; V4+ uses 14-byte entries, 2-byte
// tree links and 48 attributes.
package zobject

import (
	"github.com/duskforge/grue/internal/zcore"
	"github.com/duskforge/grue/internal/zstring"
)

// Object is a decoded view of one object table entry. Attributes is
// stored left-justified in a 64-bit word regardless of version, so
// TestAttribute/SetAttribute/ClearAttribute use the same bit formula
// everywhere: bit (63-n) is attribute n.
type Object struct {
	BaseAddress     uint32
	Id              uint16
	Name            string
	Attributes      uint64
	Parent          uint16
	Sibling         uint16
	Child           uint16
	PropertyPointer uint16
}

func propertyDefaultsBase(objectTableBase uint16) uint32 {
	return uint32(objectTableBase)
}

func objectTreeBase(objectTableBase uint16, version uint8) uint32 {
	if version >= 4 {
		return uint32(objectTableBase) + 63*2
	}
	return uint32(objectTableBase) + 31*2
}

// GetObject reads object id objId out of core's object table. Object 0 is
// reserved to mean "no object" and GetObject panics on it; the opcode
// handlers (JIN, INSERT_OBJ etc.) pass their operands through unchecked.
func GetObject(objId uint16, core *zcore.Core, alphabets *zstring.Alphabets) Object {
	if objId == 0 {
		panic("zobject: object id 0 does not exist")
	}

	version := core.Version
	treeBase := objectTreeBase(core.ObjectTableBase, version)

	if version >= 4 {
		base := treeBase + uint32(objId-1)*14
		propertyPtr := core.ReadHalfWord(base + 12)
		name := decodeObjectName(core, alphabets, propertyPtr)

		attrHi := uint64(core.ReadByte(base))<<24 | uint64(core.ReadByte(base+1))<<16 |
			uint64(core.ReadByte(base+2))<<8 | uint64(core.ReadByte(base+3))
		attrLo := uint64(core.ReadHalfWord(base + 4))

		return Object{
			BaseAddress:     base,
			Id:              objId,
			Name:            name,
			Attributes:      (attrHi<<32 | attrLo<<16),
			Parent:          core.ReadHalfWord(base + 6),
			Sibling:         core.ReadHalfWord(base + 8),
			Child:           core.ReadHalfWord(base + 10),
			PropertyPointer: propertyPtr,
		}
	}

	base := treeBase + uint32(objId-1)*9
	propertyPtr := core.ReadHalfWord(base + 7)
	name := decodeObjectName(core, alphabets, propertyPtr)

	attr := uint64(core.ReadByte(base))<<24 | uint64(core.ReadByte(base+1))<<16 |
		uint64(core.ReadByte(base+2))<<8 | uint64(core.ReadByte(base+3))

	return Object{
		BaseAddress:     base,
		Id:              objId,
		Name:            name,
		Attributes:      attr << 32,
		Parent:          uint16(core.ReadByte(base + 4)),
		Sibling:         uint16(core.ReadByte(base + 5)),
		Child:           uint16(core.ReadByte(base + 6)),
		PropertyPointer: propertyPtr,
	}
}

func decodeObjectName(core *zcore.Core, alphabets *zstring.Alphabets, propertyPtr uint16) string {
	if propertyPtr == 0 {
		return ""
	}
	nameLength := core.ReadByte(uint32(propertyPtr))
	if nameLength == 0 {
		return ""
	}
	name, _ := zstring.Decode(core.ReadSlice(uint32(propertyPtr)+1, core.MemoryLength()), 0, core.Version, alphabets, core.AbbreviationTableBase)
	return name
}

// attrByteCount reports how many attribute bytes this version stores:
// 4 on V1-3, 6 on V4+.
func attrByteCount(version uint8) int {
	if version >= 4 {
		return 6
	}
	return 4
}

func (o *Object) TestAttribute(attribute uint16) bool {
	mask := uint64(1) << (63 - attribute)
	return (o.Attributes & mask) == mask
}

func (o *Object) SetAttribute(attribute uint16, core *zcore.Core) {
	mask := uint64(1) << (63 - attribute)
	o.Attributes |= mask
	o.writeAttributes(core)
}

func (o *Object) ClearAttribute(attribute uint16, core *zcore.Core) {
	mask := uint64(1) << (63 - attribute)
	o.Attributes &^= mask
	o.writeAttributes(core)
}

func (o *Object) writeAttributes(core *zcore.Core) {
	top32 := uint8(o.Attributes >> 56)
	core.WriteByte(o.BaseAddress, top32)
	core.WriteByte(o.BaseAddress+1, uint8(o.Attributes>>48))
	core.WriteByte(o.BaseAddress+2, uint8(o.Attributes>>40))
	core.WriteByte(o.BaseAddress+3, uint8(o.Attributes>>32))
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+4, uint16(o.Attributes>>16))
	}
}

func (o *Object) SetParent(parent uint16, core *zcore.Core) {
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+6, parent)
	} else {
		core.WriteByte(o.BaseAddress+4, uint8(parent))
	}
	o.Parent = parent
}

func (o *Object) SetSibling(sibling uint16, core *zcore.Core) {
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+8, sibling)
	} else {
		core.WriteByte(o.BaseAddress+5, uint8(sibling))
	}
	o.Sibling = sibling
}

func (o *Object) SetChild(child uint16, core *zcore.Core) {
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+10, child)
	} else {
		core.WriteByte(o.BaseAddress+6, uint8(child))
	}
	o.Child = child
}
