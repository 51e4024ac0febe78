package codegen_test

import (
	"testing"

	"github.com/duskforge/grue/internal/codegen"
	"github.com/duskforge/grue/internal/gir"
)

func helloModule() *gir.Module {
	greeting := &gir.StringLiteral{ID: 1, Text: "hi"}
	main := &gir.Function{
		Name:   "main",
		Locals: 0,
		Body: []gir.Instruction{
			{Op: "print_paddr", Args: []gir.Operand{{Kind: gir.OperandString, String: greeting}}},
			{Op: "quit"},
		},
	}
	return &gir.Module{Functions: []*gir.Function{main}, Strings: []*gir.StringLiteral{greeting}}
}

func TestAssembleProducesValidHeader(t *testing.T) {
	image, err := codegen.Assemble(helloModule(), 3)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(image) < 64 {
		t.Fatalf("expected at least a 64-byte header, got %d bytes", len(image))
	}
	if image[0x00] != 3 {
		t.Fatalf("expected version byte 3, got %d", image[0x00])
	}

	var sum uint16
	for i := 0x40; i < len(image); i++ {
		sum += uint16(image[i])
	}
	got := uint16(image[0x1c])<<8 | uint16(image[0x1d])
	if sum != got {
		t.Fatalf("checksum mismatch: computed %#x, stored %#x", sum, got)
	}
}

func TestAssembleObjectsAndProperties(t *testing.T) {
	room := &gir.ObjectDef{
		ID:         1,
		Name:       "room",
		Attributes: []uint16{3},
		Properties: []gir.PropertyDef{{ID: 5, Data: []uint8{0x01}}},
	}
	module := &gir.Module{
		Objects:   []*gir.ObjectDef{room},
		Functions: []*gir.Function{{Name: "main", Body: []gir.Instruction{{Op: "quit"}}}},
	}

	image, err := codegen.Assemble(module, 3)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(image) < 64 {
		t.Fatalf("expected a non-trivial image, got %d bytes", len(image))
	}
}

func TestBranchResolution(t *testing.T) {
	loop := gir.LabelID(1)
	fn := &gir.Function{
		Name: "main",
		Body: []gir.Instruction{
			{Label: &loop},
			{Op: "jz", Args: []gir.Operand{gir.ConstOperand(0)}, Branch: true, Target: loop, Polarity: false},
			{Op: "quit"},
		},
	}
	module := &gir.Module{Functions: []*gir.Function{fn}}

	if _, err := codegen.Assemble(module, 3); err != nil {
		t.Fatalf("Assemble with a backward branch failed: %v", err)
	}
}

// TestDispatchFamilyUsesVarForm exercises the polymorphic-dispatch shim:
// its synthesized "je" compares a local against an object operand, which
// always resolves to a word-sized placeholder and so can never fit LONG
// form's one-byte-per-operand slots. The assembled dispatch routine must
// pick VAR form (opcode byte 0xc1) for that je, not LONG form.
func TestDispatchFamilyUsesVarForm(t *testing.T) {
	room := &gir.ObjectDef{ID: 1, Name: "room"}
	lamp := &gir.ObjectDef{ID: 2, Name: "lamp"}

	examineLamp := &gir.Function{
		Name:        "examine",
		Specializes: lamp.ID,
		Locals:      1,
		Body:        []gir.Instruction{{Op: "rtrue"}},
	}
	examineGeneric := &gir.Function{
		Name:   "examine",
		Locals: 1,
		Body:   []gir.Instruction{{Op: "rtrue"}},
	}
	main := &gir.Function{
		Name: "main",
		Body: []gir.Instruction{
			{Op: "call_vn", Args: []gir.Operand{{Kind: gir.OperandRoutine, Routine: examineGeneric}, gir.ConstOperand(uint16(lamp.ID))}},
			{Op: "quit"},
		},
	}

	module := &gir.Module{
		Objects:   []*gir.ObjectDef{room, lamp},
		Functions: []*gir.Function{examineLamp, examineGeneric, main},
	}

	image, err := codegen.Assemble(module, 3)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	// The module has no strings, so high memory (header 0x04) starts at
	// code space; the initial PC (0x06) would skip the shim, laid out before main.
	codeStart := int(image[0x04])<<8 | int(image[0x05])
	found := false
	for i := codeStart; i < len(image); i++ {
		if image[i] == 0xc1 { // VAR form, opcode number 1 (je)
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected the dispatch shim's je to use VAR form (0xc1) somewhere in code space, found none")
	}
}

// TestInitialPCSkipsLocalsHeader builds a "main" routine with non-zero
// locals and checks the header's initial-PC field (0x06) lands past the
// locals-count byte and the version's default-locals words, on the first
// real instruction, rather than on the locals header itself.
func TestInitialPCSkipsLocalsHeader(t *testing.T) {
	main := &gir.Function{
		Name:   "main",
		Locals: 3,
		Body:   []gir.Instruction{{Op: "quit"}},
	}
	module := &gir.Module{Functions: []*gir.Function{main}}

	image, err := codegen.Assemble(module, 3)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	initialPC := int(image[0x06])<<8 | int(image[0x07])
	localsHeaderBase := initialPC - 1 - 2*main.Locals // v3: 1 count byte + 2 bytes per default local
	if image[localsHeaderBase] != uint8(main.Locals) {
		t.Fatalf("expected locals count byte %d at offset %d (initialPC-1-2*locals), got %d", main.Locals, localsHeaderBase, image[localsHeaderBase])
	}

	// quit is a 0OP opcode (short form, operand type bits 11): 0xba.
	if image[initialPC] != 0xba {
		t.Fatalf("expected initial PC to land on quit's opcode byte (0xba), got %#x at %d", image[initialPC], initialPC)
	}
}
