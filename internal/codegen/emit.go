package codegen

import (
	"fmt"

	"github.com/duskforge/grue/internal/gir"
)

// emit lowers one gir.Instruction into the code space: selecting a
// form, writing the opcode byte, operand bytes, and optional store/
// branch fields, per §4.J.
func (l *Lowerer) emit(inst gir.Instruction) error {
	code := l.spaces.Space(SpaceCode)

	if inst.Label != nil {
		l.resolver.BindLabel(*inst.Label, code.Len())
	}
	if inst.Op == "" {
		return nil // a label-only instruction marks a position and emits no bytes
	}

	def, ok := opcodeTable[inst.Op]
	if !ok {
		return fmt.Errorf("unknown opcode mnemonic %q", inst.Op)
	}

	form, base := selectForm(def, inst.Args)

	switch form {
	case formShort:
		l.emitShort(code, base, inst, def)
	case formLong:
		l.emitLong(code, base, inst, def)
	case formVar:
		if err := l.emitVar(code, base, inst, def); err != nil {
			return err
		}
	}

	if def.store {
		storeVar, err := l.resolveStoreVar(inst.Result)
		if err != nil {
			return err
		}
		code.AppendByte(storeVar)
	}

	if def.branches || inst.Branch {
		l.emitBranchPlaceholder(code, inst)
	}

	return nil
}

// selectForm implements §4.J's form-selection rule.
func selectForm(def opcodeDef, args []gir.Operand) (opcodeForm, int) {
	if def.alwaysVar {
		return formVar, def.varOp
	}
	switch len(args) {
	case 0:
		if def.zeroOp >= 0 {
			return formShort, def.zeroOp
		}
		return formVar, def.varOp
	case 1:
		if def.oneOp >= 0 {
			return formShort, def.oneOp
		}
		return formVar, def.varOp
	case 2:
		if def.twoOp >= 0 && !hasLargeConstant(args) {
			return formLong, def.twoOp
		}
		return formVar, def.varOp
	default:
		return formVar, def.varOp
	}
}

// hasLargeConstant reports whether any operand needs a 2-byte encoding:
// a constant over 255, or a reference operand (object/string/routine)
// that always resolves to a word-sized placeholder address. LONG form
// only has a 1-byte slot per operand, so either case forces VAR form.
func hasLargeConstant(args []gir.Operand) bool {
	for _, a := range args {
		switch a.Kind {
		case gir.OperandConst:
			if a.Const > 255 {
				return true
			}
		case gir.OperandObject, gir.OperandString, gir.OperandRoutine:
			return true
		}
	}
	return false
}

func (l *Lowerer) emitShort(code *Space, base int, inst gir.Instruction, def opcodeDef) {
	if len(inst.Args) == 0 {
		code.AppendByte(0xb0 | uint8(base))
		return
	}
	opType := operandTypeBits(inst.Args[0])
	code.AppendByte(0x80 | (opType << 4) | uint8(base))
	l.emitOperandValue(code, inst.Args[0])
}

func (l *Lowerer) emitLong(code *Space, base int, inst gir.Instruction, def opcodeDef) {
	b := uint8(base) & 0x1f
	if operandTypeBits(inst.Args[0]) == 0 { // small constant -> bit 6 clear
		// bit already 0
	} else {
		b |= 0x40
	}
	if operandTypeBits(inst.Args[1]) != 0 {
		b |= 0x20
	}
	code.AppendByte(b)
	l.emitOperandValue(code, inst.Args[0])
	l.emitOperandValue(code, inst.Args[1])
}

func (l *Lowerer) emitVar(code *Space, base int, inst gir.Instruction, def opcodeDef) error {
	is2OPFamily := !def.alwaysVar && def.twoOp >= 0 && len(inst.Args) == 2
	if is2OPFamily {
		code.AppendByte(0xc0 | uint8(def.twoOp))
	} else {
		code.AppendByte(0xe0 | uint8(base))
	}

	if len(inst.Args) > 8 {
		return fmt.Errorf("opcode %s: too many operands for one operand-types byte", inst.Op)
	}
	typeByte := uint8(0xff)
	for i, a := range inst.Args {
		shift := uint(6 - 2*i)
		typeByte &^= 0b11 << shift
		typeByte |= operandTypeBits(a) << shift
	}
	code.AppendByte(typeByte)
	for _, a := range inst.Args {
		l.emitOperandValue(code, a)
	}
	return nil
}

// operandTypeBits returns the 2-bit type code: 0=large constant,
// 1=small constant, 2=variable.
func operandTypeBits(op gir.Operand) uint8 {
	switch op.Kind {
	case gir.OperandConst:
		if op.Const <= 255 {
			return 1
		}
		return 0
	case gir.OperandLocal, gir.OperandGlobal, gir.OperandIrValue:
		return 2
	default:
		return 0 // object/string/routine references resolve to a word-sized address
	}
}

func (l *Lowerer) emitOperandValue(code *Space, op gir.Operand) {
	switch op.Kind {
	case gir.OperandConst:
		if op.Const <= 255 {
			code.AppendByte(uint8(op.Const))
		} else {
			code.AppendWord(op.Const)
		}
	case gir.OperandLocal:
		code.AppendByte(op.Local)
	case gir.OperandGlobal:
		code.AppendByte(uint8(16 + op.Global))
	case gir.OperandIrValue:
		slot, ok := l.valueSlot[op.IrValue]
		if !ok {
			panic(fmt.Sprintf("codegen: resolve of unmapped ir value %d", op.IrValue))
		}
		if slot.kind == gir.OperandLocal {
			code.AppendByte(slot.local)
		} else {
			code.AppendByte(uint8(16 + slot.global))
		}
	case gir.OperandObject:
		offset := code.AppendWord(0xffff)
		l.resolver.AddReference(UnresolvedReference{Type: RefAbsoluteWord, Source: offset, Target: TargetObject(op.Object)})
	case gir.OperandString:
		offset := code.AppendWord(0xffff)
		l.resolver.AddReference(UnresolvedReference{Type: RefPackedString, Source: offset, Target: TargetValue(op.String.ID)})
	case gir.OperandRoutine:
		offset := code.AppendWord(0xffff)
		fnID := gir.IrID(dispatchLabelSeed(op.Routine))
		l.resolver.BindValue(fnID, SpaceCode, 0, true) // overwritten by the real routine entry binding during generateFunction
		l.resolver.AddReference(UnresolvedReference{Type: RefPackedRoutine, Source: offset, Target: TargetValue(fnID)})
	}
}

// resolveStoreVar returns the store-variable byte for an instruction's
// Result: variable 0 if the IR left it unconsumed (pushed to stack), or
// the bumped temporary global this id was already assigned via
// UsePushPullForResult.
func (l *Lowerer) resolveStoreVar(result *gir.IrID) (uint8, error) {
	if result == nil {
		return 0, nil // discard onto the stack, variable 0
	}
	slot, ok := l.valueSlot[*result]
	if !ok {
		return 0, nil
	}
	if slot.kind == gir.OperandLocal {
		return slot.local, nil
	}
	return uint8(16 + slot.global), nil
}

// UsePushPullForResult registers ir as needing the stack-then-pull
// discipline of §4.J: the instruction producing it stores to variable
// 0, and a fresh temporary global receives the value immediately after,
// so a later instruction chaining off the same IR id doesn't read a
// variable 0 some other store has since clobbered.
func (l *Lowerer) UsePushPullForResult(id gir.IrID) (gir.Instruction, uint16) {
	if _, already := l.valueSlot[id]; already {
		panic(fmt.Sprintf("codegen: ir value %d registered for push/pull more than once", id))
	}
	g := l.tempNext
	l.tempNext++
	l.valueSlot[id] = tempSlot{kind: gir.OperandGlobal, global: g}
	// pull names its destination by variable number, as a constant operand.
	return gir.Instruction{Op: "pull", Args: []gir.Operand{gir.ConstOperand(16 + g)}}, g
}

// emitBranchPlaceholder reserves a 2-byte branch field and registers an
// UnresolvedReference at the offset of its first byte, computed before
// the placeholder bytes are written — per §4.J this must happen before
// emission, not after.
func (l *Lowerer) emitBranchPlaceholder(code *Space, inst gir.Instruction) {
	source := code.Allocate(2)
	polarity := uint8(0)
	if inst.Polarity {
		polarity = 0x80
	}
	code.WriteByteAt(source, polarity)
	code.WriteByteAt(source+1, 0xff)
	l.resolver.AddReference(UnresolvedReference{
		Type: RefBranch, Source: source, Target: TargetLabel(inst.Target), TwoByteReserved: true,
	})
}
