package codegen

import (
	"fmt"

	"github.com/duskforge/grue/internal/gir"
	"github.com/duskforge/grue/internal/zstring"
)

// firstTempGlobal is where the bump allocator for
// use_push_pull_for_result starts, per §4.J: variables 0-15 are locals/
// stack, so temporaries begin at 16.
const firstTempGlobal = 16

// Lowerer walks a gir.Module and emits it into a Spaces/Resolver pair.
// One Lowerer handles one Module; Generate is its single entry point,
// following the Generate/generateFunction split the pack's other
// assembly-targeting generators use.
type Lowerer struct {
	spaces   *Spaces
	resolver *Resolver
	version  uint8
	alphabets *zstring.Alphabets

	currentFn  *gir.Function
	tempNext   uint16
	valueSlot  map[gir.IrID]tempSlot
	labelAt    map[gir.LabelID]uint32 // offsets within the current function's emission, resolved globally via resolver.BindLabel

	entryOffset uint32 // SpaceCode offset of the entry routine's first real instruction
	entryFound  bool
}

// EntryOffset returns the code-space offset of the "main" function's
// first instruction, past its locals-count byte and default-locals
// block, for Assemble to patch into the header's initial-PC field. The
// second value is false if the module defined no "main" function.
func (l *Lowerer) EntryOffset() (uint32, bool) {
	return l.entryOffset, l.entryFound
}

type tempSlot struct {
	kind  gir.OperandKind
	local uint8
	global uint16
}

func NewLowerer(spaces *Spaces, resolver *Resolver, version uint8, alphabets *zstring.Alphabets) *Lowerer {
	return &Lowerer{
		spaces:    spaces,
		resolver:  resolver,
		version:   version,
		alphabets: alphabets,
		tempNext:  firstTempGlobal,
		valueSlot: make(map[gir.IrID]tempSlot),
	}
}

// Generate lowers every function, string literal, object and global in
// module into the code/strings/objects/globals spaces.
func (l *Lowerer) Generate(module *gir.Module) error {
	l.generateGlobals(module)
	l.generateObjects(module)
	l.generateStrings(module)

	for _, group := range groupBySpecialization(module.Functions) {
		if len(group.specialized) == 0 {
			if err := l.generateFunction(group.generic); err != nil {
				return err
			}
			continue
		}
		if err := l.generateDispatchFamily(group); err != nil {
			return err
		}
	}

	return nil
}

type dispatchGroup struct {
	name        string
	generic     *gir.Function
	specialized []*gir.Function
}

// groupBySpecialization clusters functions sharing a Name: those with
// Specializes set are polymorphic variants of the generic (unspecialized)
// body, per §4.J's dispatch-function rule.
func groupBySpecialization(fns []*gir.Function) []dispatchGroup {
	byName := map[string]*dispatchGroup{}
	var order []string
	for _, fn := range fns {
		g, ok := byName[fn.Name]
		if !ok {
			g = &dispatchGroup{name: fn.Name}
			byName[fn.Name] = g
			order = append(order, fn.Name)
		}
		if fn.Specializes == 0 {
			g.generic = fn
		} else {
			g.specialized = append(g.specialized, fn)
		}
	}
	groups := make([]dispatchGroup, 0, len(order))
	for _, name := range order {
		groups = append(groups, *byName[name])
	}
	return groups
}

func (l *Lowerer) generateGlobals(module *gir.Module) {
	globals := l.spaces.Space(SpaceGlobals)
	for i, g := range module.Globals {
		if i >= 240 {
			break // the globals table has exactly 240 entries
		}
		globals.WriteWordAt(uint32(i*2), g.Initial)
	}
}

func (l *Lowerer) generateStrings(module *gir.Module) {
	strings := l.spaces.Space(SpaceStrings)
	for _, s := range module.Strings {
		runes := []rune(s.Text)
		encoded := zstring.Encode(runes, l.version, l.alphabets)
		offset := strings.AppendBytes(encoded)
		l.resolver.BindValue(s.ID, SpaceStrings, offset, true)
	}
}

func (l *Lowerer) generateObjects(module *gir.Module) {
	// Property defaults table precedes the object tree; its size is
	// version-dependent (31 words for V1-3, 63 for V4+).
	objects := l.spaces.Space(SpaceObjects)
	defaultsCount := 31
	entrySize := uint32(9)
	if l.version >= 4 {
		defaultsCount = 63
		entrySize = 14
	}
	objects.Allocate(uint32(defaultsCount) * 2)

	idToNumber := make(map[gir.ObjectRef]uint16, len(module.Objects))
	for i, obj := range module.Objects {
		idToNumber[obj.ID] = uint16(i + 1)
	}
	for ref, num := range idToNumber {
		l.resolver.BindObject(ref, num)
	}

	for _, obj := range module.Objects {
		base := objects.Allocate(entrySize)
		l.writeObjectEntry(objects, base, obj, idToNumber, entrySize)
	}
}

func (l *Lowerer) writeObjectEntry(objects *Space, base uint32, obj *gir.ObjectDef, idToNumber map[gir.ObjectRef]uint16, entrySize uint32) {
	attrBytes := uint32(4)
	if l.version >= 4 {
		attrBytes = 6
	}
	for _, attr := range obj.Attributes {
		byteIx := attr / 8
		bit := 7 - (attr % 8)
		if uint32(byteIx) < attrBytes {
			objects.buf[base+uint32(byteIx)] |= 1 << bit
		}
	}

	linkSize := uint32(1)
	if l.version >= 4 {
		linkSize = 2
	}
	writeLink := func(offset uint32, ref gir.ObjectRef) {
		num := idToNumber[ref]
		if linkSize == 1 {
			objects.WriteByteAt(base+offset, uint8(num))
		} else {
			objects.WriteWordAt(base+offset, num)
		}
	}
	writeLink(attrBytes, obj.Parent)
	writeLink(attrBytes+linkSize, obj.Sibling)
	writeLink(attrBytes+2*linkSize, obj.Child)

	propAddr := l.writePropertyTable(objects, obj)
	propPtrOffset := attrBytes + 3*linkSize
	objects.WriteWordAt(base+propPtrOffset, uint16(propAddr))
}

// writePropertyTable appends the object's short-name header and
// property list to the objects space and returns its offset.
func (l *Lowerer) writePropertyTable(objects *Space, obj *gir.ObjectDef) uint32 {
	nameBytes := encodeShortName(obj.Name, l.version, l.alphabets)
	start := objects.Allocate(1)
	objects.WriteByteAt(start, uint8(len(nameBytes)/2))
	objects.AppendBytes(nameBytes)

	// Properties are required to appear in strictly descending id order.
	sorted := append([]gir.PropertyDef(nil), obj.Properties...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].ID > sorted[i].ID {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	for _, prop := range sorted {
		l.writeProperty(objects, prop)
	}
	objects.AppendByte(0) // terminator

	return start
}

func (l *Lowerer) writeProperty(objects *Space, prop gir.PropertyDef) {
	n := len(prop.Data)
	if l.version <= 3 {
		objects.AppendByte(uint8((n-1)<<5) | prop.ID)
	} else if n <= 2 {
		objects.AppendByte(uint8(boolToInt(n == 2))<<6 | prop.ID)
	} else {
		objects.AppendByte(0x80 | prop.ID)
		size := uint8(n)
		if size == 0 {
			size = 64
		}
		objects.AppendByte(0x80 | size)
	}
	objects.AppendBytes(prop.Data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeShortName(name string, version uint8, alphabets *zstring.Alphabets) []uint8 {
	if name == "" {
		return nil
	}
	return zstring.Encode([]rune(name), version, alphabets)
}

// generateFunction emits one non-polymorphic routine's header and body
// into the code space.
func (l *Lowerer) generateFunction(fn *gir.Function) error {
	l.currentFn = fn
	l.labelAt = make(map[gir.LabelID]uint32)

	code := l.spaces.Space(SpaceCode)
	entry := code.Allocate(1)
	code.WriteByteAt(entry, uint8(fn.Locals))
	if l.version <= 4 {
		for i := 0; i < fn.Locals; i++ {
			code.AppendWord(0)
		}
	}

	if fn.Name == "main" {
		l.entryOffset = code.Len()
		l.entryFound = true
	}

	for i, inst := range fn.Body {
		if inst.Result != nil && l.needsPushPull(fn.Body, i) {
			if err := l.emit(inst); err != nil {
				return fmt.Errorf("function %s: %w", fn.Name, err)
			}
			pull, _ := l.UsePushPullForResult(*inst.Result)
			if err := l.emit(pull); err != nil {
				return fmt.Errorf("function %s: %w", fn.Name, err)
			}
			continue
		}
		if err := l.emit(inst); err != nil {
			return fmt.Errorf("function %s: %w", fn.Name, err)
		}
	}

	return nil
}

// needsPushPull reports whether the value produced by body[defIdx] must
// survive the stack-discipline hazards of §4.J before its first use: a
// label, a conditional branch, a call, or another result-producing
// instruction, any of which can clobber variable 0 (the implicit stack
// the result would otherwise be left on) before the consumer reads it.
func (l *Lowerer) needsPushPull(body []gir.Instruction, defIdx int) bool {
	id := *body[defIdx].Result
	hazard := false
	for i := defIdx + 1; i < len(body); i++ {
		inst := body[i]
		if instructionUsesIrValue(inst, id) {
			return hazard
		}
		if inst.Label != nil || inst.Branch || inst.Result != nil || isCallMnemonic(inst.Op) {
			hazard = true
		}
	}
	return false
}

func instructionUsesIrValue(inst gir.Instruction, id gir.IrID) bool {
	for _, a := range inst.Args {
		if a.Kind == gir.OperandIrValue && a.IrValue == id {
			return true
		}
	}
	return false
}

func isCallMnemonic(op string) bool {
	switch op {
	case "call", "call_1s", "call_2s", "call_vs", "call_vs2", "call_1n", "call_2n", "call_vn", "call_vn2":
		return true
	}
	return false
}

// generateDispatchFamily emits a synthetic routine that tests its
// argument (local 1) against each specialized function's Specializes
// object and calls whichever matches, falling back to the generic body
// if present, per §4.J's polymorphic-dispatch priority (specific object
// first, generic last).
func (l *Lowerer) generateDispatchFamily(group dispatchGroup) error {
	for _, fn := range group.specialized {
		if err := l.generateFunction(fn); err != nil {
			return err
		}
	}
	if group.generic != nil {
		if err := l.generateFunction(group.generic); err != nil {
			return err
		}
	}

	dispatch := &gir.Function{
		Name:   group.name,
		Locals: 1, // the dispatched-on object argument gets its own local slot
	}
	var body []gir.Instruction
	for _, fn := range group.specialized {
		skip := gir.LabelID(dispatchLabelSeed(fn))
		body = append(body,
			gir.Instruction{
				Op: "je", Args: []gir.Operand{gir.LocalOperand(1), gir.ObjectOperand(fn.Specializes)},
				Branch: true, Target: skip, Polarity: false,
			},
			gir.Instruction{Op: "call_vn", Args: []gir.Operand{{Kind: gir.OperandRoutine, Routine: fn}, gir.LocalOperand(1)}},
			gir.Instruction{Op: "rtrue"},
			gir.Instruction{Label: &skip},
		)
	}
	if group.generic != nil {
		body = append(body,
			gir.Instruction{Op: "call_vn", Args: []gir.Operand{{Kind: gir.OperandRoutine, Routine: group.generic}, gir.LocalOperand(1)}},
		)
	}
	body = append(body, gir.Instruction{Op: "rtrue"})
	dispatch.Body = body

	return l.generateFunction(dispatch)
}

// dispatchLabelSeed derives a stable per-function label id for the
// dispatch shim without relying on a global counter (lowering is
// otherwise purely local to one function at a time).
func dispatchLabelSeed(fn *gir.Function) uint32 {
	h := uint32(2166136261)
	for _, c := range fn.Name {
		h ^= uint32(c)
		h *= 16777619
	}
	return h ^ uint32(fn.Specializes)
}
