// Package gir defines the intermediate representation the Grue code
// generator consumes. It is deliberately the smallest IR that can drive
// memory-space layout, reference resolution, and instruction lowering: a
// tree of functions carrying opcode-mnemonic instructions, the same
// record shape a flat bytecode VM would use but with explicit label and
// result identifiers instead of resolved offsets, since the Z-machine
// target needs structured branch/call references going in.
package gir

// IrID names a value produced by some instruction. Operand and
// Instruction.Result both refer to values this way so the lowering pass
// can resolve an id to its eventual Operand (stack top, a local, or a
// bumped temporary global) without the IR itself knowing the target
// encoding.
type IrID uint32

// LabelID names a branch/jump target inside a Function's instruction
// stream. Lowering assigns each label a code-space offset as it's
// reached and patches any forward reference through the resolver.
type LabelID uint32

// ObjectRef identifies an object definition by its 1-based object
// number as it will appear in the assembled object table. Zero means
// "no object" (e.g. Function.Specializes unset).
type ObjectRef uint16

// OperandKind distinguishes the four places an Instruction's operand
// can come from.
type OperandKind int

const (
	OperandConst    OperandKind = iota // immediate constant (fits large or small form)
	OperandLocal                       // a function-local variable, 1-based
	OperandGlobal                      // a global variable, numbered as in the final image
	OperandIrValue                     // a prior instruction's Result, resolved during lowering
	OperandObject                      // reference to an ObjectDef, resolved to its final object number
	OperandString                      // reference to a StringLiteral, resolved to a packed address
	OperandRoutine                     // reference to a Function, resolved to a packed address
	OperandLabel                       // reference to a LabelID, used by jump/branch instructions
)

// Operand is a tagged union over the operand kinds above; only the
// field matching Kind is meaningful.
type Operand struct {
	Kind    OperandKind
	Const   uint16
	Local   uint8
	Global  uint16
	IrValue IrID
	Object  ObjectRef
	String  *StringLiteral
	Routine *Function
	Label   LabelID
}

func ConstOperand(v uint16) Operand       { return Operand{Kind: OperandConst, Const: v} }
func LocalOperand(n uint8) Operand        { return Operand{Kind: OperandLocal, Local: n} }
func GlobalOperand(n uint16) Operand      { return Operand{Kind: OperandGlobal, Global: n} }
func ValueOperand(id IrID) Operand        { return Operand{Kind: OperandIrValue, IrValue: id} }
func ObjectOperand(o ObjectRef) Operand   { return Operand{Kind: OperandObject, Object: o} }
func LabelOperand(l LabelID) Operand      { return Operand{Kind: OperandLabel, Label: l} }

// Instruction is one IR-level operation: an opcode mnemonic plus its
// operands, with an optional produced value and an optional label if
// this instruction is itself a branch/jump destination.
type Instruction struct {
	Op     string // mnemonic, e.g. "je", "call", "print", "add"
	Args   []Operand
	Result *IrID    // non-nil if this instruction produces a value
	Label  *LabelID // non-nil if this instruction is a branch/jump target

	// Branch is set for conditional mnemonics ("je", "jz", "jin",
	// "test", ...); Target names the label branched to and Polarity
	// says whether the branch is taken when the test is true (the
	// common case) or false (a "branch if not" form).
	Branch   bool
	Target   LabelID
	Polarity bool
}

// StringLiteral is a Z-character-encoded string destined for the
// strings memory space. Text is the source string; encoding happens
// during lowering so the IR stays encoding-agnostic.
type StringLiteral struct {
	ID   IrID
	Text string
}

// PropertyDef is one property entry on an ObjectDef: an id and its
// default-or-explicit byte payload.
type PropertyDef struct {
	ID   uint8
	Data []uint8
}

// ObjectDef describes one Z-machine object. Attributes holds the set
// attribute numbers (0-31 for V3, 0-47 for V4+); Parent/Sibling/Child
// are resolved against other ObjectDefs by the assembler, not by
// object number, so reordering objects during codegen doesn't require
// the IR to know final numbering up front.
type ObjectDef struct {
	ID         ObjectRef
	Name       string
	Attributes []uint16
	Parent     ObjectRef
	Sibling    ObjectRef
	Child      ObjectRef
	Properties []PropertyDef
}

// GlobalDef is one entry in the globals table; Initial is its starting
// word value (0 for an ordinary uninitialized global).
type GlobalDef struct {
	Name    string
	Initial uint16
}

// Function is one routine: its locals count (for the routine header)
// and its body as a flat instruction list. Specializes is non-zero when
// this function is one branch of a polymorphic dispatch family (§4.J) —
// lowering groups functions sharing a Name and synthesizes the dispatch
// shim that picks among them by comparing the first argument against
// Specializes.
type Function struct {
	Name        string
	Specializes ObjectRef
	Locals      int
	Body        []Instruction
}

// Module is a whole compiled program: every function, string, object
// and global the lowering pass needs to lay out and resolve.
type Module struct {
	Functions  []*Function
	Strings    []*StringLiteral
	Objects    []*ObjectDef
	Globals    []*GlobalDef
	Dictionary []string
}
