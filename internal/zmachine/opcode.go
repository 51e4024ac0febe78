package zmachine

import "github.com/duskforge/grue/internal/zstring"

type OperandType int
type OpcodeForm int
type OperandCount int

const (
	largeConstant OperandType = 0b00
	smallConstant OperandType = 0b01
	variable      OperandType = 0b10
	omitted       OperandType = 0b11
)

const (
	longForm  OpcodeForm = 0b00
	extForm   OpcodeForm = 0b01
	shortForm OpcodeForm = 0b10
	varForm   OpcodeForm = 0b11
)

const (
	OP0 OperandCount = iota
	OP1 OperandCount = iota
	OP2 OperandCount = iota
	VAR OperandCount = iota
	EXT OperandCount = iota
)

type Operand struct {
	operandType OperandType
	value       uint16 // Can be byte, half word or reference to variable based on operandType
}

func (operand *Operand) Value(z *ZMachine) uint16 {
	switch operand.operandType {
	case largeConstant, smallConstant:
		return operand.value
	case variable:
		return z.readVariable(uint8(operand.value), false)
	default:
		return 0
	}
}

// BranchInfo is a decoded branch field: OnTrue says whether the branch
// is taken when the opcode's test is true (the common case) or false,
// Offset is the raw displacement, 6-bit unsigned (one-byte form) or
// 14-bit signed (two-byte form) (0 and 1 are the
// special rfalse/rtrue encodings, handled by the caller).
type BranchInfo struct {
	OnTrue bool
	Offset int32
}

// Opcode is one fully decoded instruction: its form, operand count,
// number, decoded operands, and the optional store-variable, branch and
// inline-string fields a handful of opcodes carry. TotalSizeBytes is the
// full encoded length (opcode byte through the last of those optional
// fields), tracked so disassembly and pcHistory-style tracing have an
// accurate instruction boundary instead of having to re-derive it from
// what the dispatcher happened to consume.
type Opcode struct {
	opcodeByte   uint8
	operandCount OperandCount
	opcodeForm   OpcodeForm
	opcodeNumber uint8
	operands     []Operand

	hasStore bool
	storeVar uint8

	hasBranch bool
	branch    BranchInfo

	hasInlineString bool
	inlineString    string

	totalSizeBytes uint32
}

func parseVariableOperands(z *ZMachine, frame *CallStackFrame, opcode *Opcode) {
	operandTypeByte := z.readIncPC(frame)
	operandTypeByteExtendedCall := uint8(0)
	maxVariables := 4

	if (opcode.opcodeNumber == 12 || opcode.opcodeNumber == 26) && opcode.operandCount == VAR {
		operandTypeByteExtendedCall = z.readIncPC(frame)
		maxVariables = 8
	}

	for varIx := 0; varIx < maxVariables; varIx++ {
		var operandType OperandType
		if varIx < 4 {
			operandType = OperandType((operandTypeByte >> (2 * (3 - varIx))) & 0b11)
		} else {
			operandType = OperandType((operandTypeByteExtendedCall >> (2 * (7 - varIx))) & 0b11)
		}

		if operandType == omitted { // No more variables
			break
		}

		switch operandType {
		case smallConstant, variable:
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: uint16(z.readIncPC(frame))})
		case largeConstant:
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: z.ReadHalfWordIncPC(frame)})
		}
	}
}

func ParseOpcode(z *ZMachine) Opcode {
	frame := z.peekFrame()
	startPC := frame.pc
	opcodeByte := z.readIncPC(frame)
	opcode := Opcode{
		opcodeForm: OpcodeForm(opcodeByte >> 6),
		opcodeByte: opcodeByte,
	}

	// First decode the opcode type (Short, Long, Variable, Extended (v5+))
	if opcodeByte == 0xbe && z.Core.Version >= 5 {
		opcode.opcodeByte = z.readIncPC(frame)
		opcode.opcodeNumber = opcode.opcodeByte
		opcode.opcodeForm = extForm
		opcode.operandCount = VAR

		parseVariableOperands(z, frame, &opcode)
	} else if opcode.opcodeForm == varForm {
		opcode.opcodeNumber = opcodeByte & 0b1_1111 // 5 bits
		opcode.operandCount = VAR
		if ((opcodeByte >> 5) & 1) == 0 {
			opcode.operandCount = OP2
		}

		parseVariableOperands(z, frame, &opcode)
	} else if opcode.opcodeForm == shortForm {
		opcode.opcodeNumber = opcodeByte & 0b1111 // 4 bits
		operandType := (opcodeByte >> 4) & 0b11

		switch operandType {
		case 0b00: // Large Constant (2 bytes)
			opcode.operands = append(opcode.operands, Operand{operandType: OperandType(operandType), value: z.ReadHalfWordIncPC(frame)})
			opcode.operandCount = OP1
		case 0b01, 0b10: // Small constant or variable
			opcode.operands = append(opcode.operands, Operand{operandType: OperandType(operandType), value: uint16(z.readIncPC(frame))})
			opcode.operandCount = OP1
		case 0b11: // Omitted
			opcode.operandCount = OP0
		}
	} else { // LONG
		opcode.opcodeNumber = opcodeByte & 0b1_1111 // 5 bits
		opcode.opcodeForm = longForm
		opcode.operandCount = OP2

		operand1Type := smallConstant
		operand2Type := smallConstant
		if (opcodeByte>>6)&0b1 == 0b1 {
			operand1Type = variable
		}
		if (opcodeByte>>5)&0b1 == 0b1 {
			operand2Type = variable
		}

		for _, operandType := range []OperandType{operand1Type, operand2Type} {
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: uint16(z.readIncPC(frame))})
		}
	}

	decodeTail(z, frame, &opcode)
	opcode.totalSizeBytes = frame.pc - startPC

	return opcode
}

// decodeBranch reads a trailing branch field (1 or 2 bytes, per §4.F)
// and advances frame.pc past it.
func decodeBranch(z *ZMachine, frame *CallStackFrame) BranchInfo {
	branchArg1 := z.readIncPC(frame)

	branchReversed := (branchArg1>>7)&1 == 0
	singleByte := (branchArg1>>6)&1 == 1
	offset := int32(branchArg1 & 0b11_1111)

	if !singleByte {
		offset = int32(int16((uint16(branchArg1&0b11_1111)<<8|uint16(z.readIncPC(frame)))<<2) >> 2)
	}

	return BranchInfo{OnTrue: !branchReversed, Offset: offset}
}

// decodeTail decodes the store-variable, branch and inline-string fields
// that follow an opcode's operands, for the opcodes that carry them.
//
// The call family (any opcode that invokes a routine and stores its
// result: CALL, CALL_1S, call_2s, CALL_VS2) is deliberately excluded
// here even though it stores a result: the store-variable byte
// immediately follows the call's operands in the instruction stream,
// but per the Z-machine return protocol that byte isn't consumed until
// the callee returns (retValue reads it off the *resumed* caller frame,
// which may by then be a different frame than the one active here).
// Decoding it eagerly would desync frame.pc from what retValue expects.
// The same reasoning excludes RESTORE and RESTORE_UNDO: both replace the
// call stack with a previously saved one before reading their store
// variable, so the byte they read belongs to whatever frame import
// produces, not the one active during this decode.
func decodeTail(z *ZMachine, frame *CallStackFrame, opcode *Opcode) {
	if opcode.opcodeForm == extForm {
		switch opcode.opcodeByte {
		case 0x00, 0x02, 0x03, 0x09, 0x0c: // SAVE, LOG_SHIFT, ART_SHIFT, SAVE_UNDO, CHECK_UNICODE
			opcode.hasStore = true
			opcode.storeVar = z.readIncPC(frame)
		}
		return
	}

	switch opcode.operandCount {
	case OP0:
		switch opcode.opcodeNumber {
		case 2, 3: // PRINT, PRINT_RET
			text, bytesRead := zstring.Decode(z.Core.ReadSlice(0, z.Core.MemoryLength()), frame.pc, z.Core.Version, z.Alphabets, z.Core.AbbreviationTableBase)
			opcode.hasInlineString = true
			opcode.inlineString = text
			frame.pc += uint32(bytesRead)
		case 13, 15: // VERIFY, PIRACY
			opcode.hasBranch = true
			opcode.branch = decodeBranch(z, frame)
		}

	case OP1:
		switch opcode.opcodeNumber {
		case 0: // JZ
			opcode.hasBranch = true
			opcode.branch = decodeBranch(z, frame)
		case 1, 2: // GET_SIBLING, GET_CHILD
			opcode.hasStore = true
			opcode.storeVar = z.readIncPC(frame)
			opcode.hasBranch = true
			opcode.branch = decodeBranch(z, frame)
		case 3, 4, 14: // GET_PARENT, GET_PROP_LEN, LOAD
			opcode.hasStore = true
			opcode.storeVar = z.readIncPC(frame)
		case 15: // NOT (v1-4) / CALL_1N (v5+, call family, left lazy)
			if z.Core.Version < 5 {
				opcode.hasStore = true
				opcode.storeVar = z.readIncPC(frame)
			}
		}

	case OP2:
		switch opcode.opcodeNumber {
		case 1, 2, 3, 4, 5, 6, 7, 10: // JE, JL, JG, DEC_CHK, INC_CHK, JIN, TEST, TEST_ATTR
			opcode.hasBranch = true
			opcode.branch = decodeBranch(z, frame)
		case 8, 9, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24:
			// OR, AND, LOADW, LOADB, GET_PROP, GET_PROP_ADDR,
			// GET_NEXT_PROP, ADD, SUB, MUL, DIV, MOD
			opcode.hasStore = true
			opcode.storeVar = z.readIncPC(frame)
		}

	case VAR:
		switch opcode.opcodeNumber {
		case 4: // SREAD - only stores in v5+ (aread)
			if z.Core.Version >= 5 {
				opcode.hasStore = true
				opcode.storeVar = z.readIncPC(frame)
			}
		case 7, 22, 24: // RANDOM, READ_CHAR, NOT
			opcode.hasStore = true
			opcode.storeVar = z.readIncPC(frame)
		case 23: // SCAN_TABLE
			opcode.hasStore = true
			opcode.storeVar = z.readIncPC(frame)
			opcode.hasBranch = true
			opcode.branch = decodeBranch(z, frame)
		case 31: // CHECK_ARG_COUNT
			opcode.hasBranch = true
			opcode.branch = decodeBranch(z, frame)
		}
	}
}
