package codegen

import (
	"encoding/binary"
	"fmt"

	"github.com/duskforge/grue/internal/gir"
)

// ReferenceType distinguishes the shapes a forward reference can take;
// each implies a different write width and a different translation
// from target id to bytes, following the reference-kind split in
// original_source's codegen_references.rs.
type ReferenceType int

const (
	RefPackedRoutine ReferenceType = iota // call target: packed address, 2 bytes
	RefPackedString                       // print_paddr / string literal: packed address, 2 bytes
	RefAbsoluteWord                       // object/global/dictionary absolute address, 2 bytes
	RefBranch                              // branch offset, 1 or 2 bytes, see resolveBranch
	RefJump                                // unconditional jump, 2-byte relative offset
)

// refTarget is anything an UnresolvedReference can point at: exactly
// one of these fields is set.
type refTarget struct {
	irValue  gir.IrID
	label    gir.LabelID
	object   gir.ObjectRef
	hasValue bool
	hasLabel bool
	hasObj   bool
}

// UnresolvedReference records one place in code space that needs a
// final address patched in once every space's size is known. Source is
// the exact byte offset of the first reference byte in SpaceCode,
// recorded at emission time (never recomputed afterward, per §4.J).
type UnresolvedReference struct {
	Type   ReferenceType
	Source uint32 // byte offset within SpaceCode
	Target refTarget

	// TwoByteReserved is true if emission reserved 2 bytes for a branch
	// offset; false means only 1 byte was reserved (short branch form),
	// which RefBranch resolution must still fit within.
	TwoByteReserved bool
}

func TargetValue(id gir.IrID) refTarget    { return refTarget{irValue: id, hasValue: true} }
func TargetLabel(l gir.LabelID) refTarget  { return refTarget{label: l, hasLabel: true} }
func TargetObject(o gir.ObjectRef) refTarget { return refTarget{object: o, hasObj: true} }

// DeferredBranchPatch is kept only as a type: original_source's
// codegen_references.rs carried a second, older pipeline for branch
// patching alongside UnresolvedReference. Per the redesign this
// generator never emits one (every branch is an UnresolvedReference of
// type RefBranch) — the type exists so DetectPatchCollisions can check
// that the two byte-range sets never overlap, without
// reviving a second code path that would actually produce one.
type DeferredBranchPatch struct {
	Source uint32
	Target gir.LabelID
}

// Resolver accumulates forward references during lowering and applies
// them once all spaces are finalized.
type Resolver struct {
	unresolved      []UnresolvedReference
	irValueAddr     map[gir.IrID]resolvedAddr
	labelOffset     map[gir.LabelID]uint32 // offset within SpaceCode
	objectNumber    map[gir.ObjectRef]uint16
	deferredBranches []DeferredBranchPatch // always empty; see DeferredBranchPatch doc
	seen            map[refKey]bool
}

type resolvedAddr struct {
	space  SpaceID
	offset uint32
	packed bool
}

type refKey struct {
	target gir.IrID
	label  gir.LabelID
	obj    gir.ObjectRef
	source uint32
}

func NewResolver() *Resolver {
	return &Resolver{
		irValueAddr:  make(map[gir.IrID]resolvedAddr),
		labelOffset:  make(map[gir.LabelID]uint32),
		objectNumber: make(map[gir.ObjectRef]uint16),
		seen:         make(map[refKey]bool),
	}
}

// BindValue records where an IR value ultimately lives (e.g. a string
// literal's offset in SpaceStrings, a routine's entry offset in
// SpaceCode).
func (r *Resolver) BindValue(id gir.IrID, space SpaceID, offset uint32, packed bool) {
	r.irValueAddr[id] = resolvedAddr{space: space, offset: offset, packed: packed}
}

// BindLabel records a label's byte offset within SpaceCode, reached
// during the lowering walk.
func (r *Resolver) BindLabel(l gir.LabelID, codeOffset uint32) {
	r.labelOffset[l] = codeOffset
}

// BindObject records an object's final 1-based object number.
func (r *Resolver) BindObject(ref gir.ObjectRef, number uint16) {
	r.objectNumber[ref] = number
}

// AddReference registers an UnresolvedReference, deduplicating by
// (target, source) per §4.I: a second reference to the same target from
// the same source byte is dropped rather than applied twice.
func (r *Resolver) AddReference(ref UnresolvedReference) {
	key := refKey{target: ref.Target.irValue, label: ref.Target.label, obj: ref.Target.object, source: ref.Source}
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.unresolved = append(r.unresolved, ref)
}

// spaceBase reports where each space's first byte lands in the final
// file, as computed by Assemble.
type spaceBase map[SpaceID]uint32

// Resolve applies every accumulated reference against the code space,
// given each space's final base address and the scale factor for
// packed addresses. It returns an error if code space retains an
// unclaimed 0xFFFF placeholder after every reference is applied — the
// sentinel used for not-yet-resolved words.
func (r *Resolver) Resolve(spaces *Spaces, bases spaceBase, version uint8) error {
	code := spaces.Space(SpaceCode)

	for _, ref := range r.unresolved {
		sourceAddr := bases[SpaceCode] + ref.Source

		switch ref.Type {
		case RefPackedRoutine, RefPackedString:
			addr, ok := r.irValueAddr[ref.Target.irValue]
			if !ok {
				return fmt.Errorf("codegen: unresolved ir value %d referenced at code+%#x", ref.Target.irValue, ref.Source)
			}
			final := bases[addr.space] + addr.offset
			packed := final / packedScale(version)
			if final%packedScale(version) != 0 {
				return fmt.Errorf("codegen: packed address %#x not aligned to scale %d", final, packedScale(version))
			}
			binary.BigEndian.PutUint16(code.buf[ref.Source:ref.Source+2], uint16(packed))

		case RefAbsoluteWord:
			var final uint32
			if ref.Target.hasObj {
				final = uint32(r.objectNumber[ref.Target.object])
			} else {
				addr, ok := r.irValueAddr[ref.Target.irValue]
				if !ok {
					return fmt.Errorf("codegen: unresolved ir value %d referenced at code+%#x", ref.Target.irValue, ref.Source)
				}
				final = bases[addr.space] + addr.offset
			}
			binary.BigEndian.PutUint16(code.buf[ref.Source:ref.Source+2], uint16(final))

		case RefBranch:
			labelOff, ok := r.labelOffset[ref.Target.label]
			if !ok {
				return fmt.Errorf("codegen: branch to unbound label %d at code+%#x", ref.Target.label, ref.Source)
			}
			// Branch offsets are relative to the address of the byte
			// immediately after the 1- or 2-byte branch field, biased
			// by +2 per the Z-machine format (offset 0/1 mean "return
			// false/true", so a real target offset n is stored as n+2).
			width := uint32(2)
			if !ref.TwoByteReserved {
				width = 1
			}
			fieldEnd := sourceAddr + width
			targetAddr := bases[SpaceCode] + labelOff
			delta := int32(targetAddr) - int32(fieldEnd) + 2
			if err := writeBranchOffset(code, ref.Source, width, delta); err != nil {
				return err
			}

		case RefJump:
			labelOff, ok := r.labelOffset[ref.Target.label]
			if !ok {
				return fmt.Errorf("codegen: jump to unbound label %d at code+%#x", ref.Target.label, ref.Source)
			}
			targetAddr := bases[SpaceCode] + labelOff
			delta := int32(targetAddr) - int32(sourceAddr+2) + 2
			binary.BigEndian.PutUint16(code.buf[ref.Source:ref.Source+2], uint16(int16(delta)))
		}
	}

	return scanForPlaceholders(code)
}

// writeBranchOffset encodes delta into the branch-offset format: a
// 2-byte field carries a 14-bit signed offset with the top bit (bit 15)
// set to branch-on-true; a 1-byte field can only carry 0-63 and is used
// only when the lowerer reserved just one byte for this branch.
func writeBranchOffset(code *Space, source uint32, width uint32, delta int32) error {
	polarityBit := code.buf[source] & 0x80 // preserved from placeholder emission

	if width == 1 {
		if delta < 0 || delta > 63 {
			return fmt.Errorf("codegen: branch offset %d doesn't fit the reserved 1-byte field", delta)
		}
		code.buf[source] = polarityBit | 0x40 | uint8(delta)
		return nil
	}

	if delta < -8192 || delta > 8191 {
		return fmt.Errorf("codegen: branch offset %d exceeds the 14-bit signed range", delta)
	}
	v := uint16(delta) & 0x3fff
	code.buf[source] = polarityBit | uint8(v>>8)
	code.buf[source+1] = uint8(v)
	return nil
}

func scanForPlaceholders(code *Space) error {
	for i := 0; i+1 < len(code.buf); i++ {
		if code.buf[i] == 0xff && code.buf[i+1] == 0xff {
			// A real 0xFFFF data word is vanishingly unlikely to land
			// here by coincidence in compiler-generated code; treat any
			// survivor as a claim violation per §4.I.
			return fmt.Errorf("codegen: unclaimed 0xFFFF placeholder at code+%#x", i)
		}
	}
	return nil
}

func packedScale(version uint8) uint32 {
	switch {
	case version <= 3:
		return 2
	case version <= 5:
		return 4
	default:
		return 8
	}
}
