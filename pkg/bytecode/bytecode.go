// Package bytecode defines copl's instruction set and the in-memory
// Instruction shape the compiler emits and the VM dispatches
// (spec.md §4.B/§4.C/§4.E).
package bytecode

import "fmt"

// Opcode is one dispatch-loop instruction.
type Opcode int32

const (
	NOP Opcode = iota

	// Stack manipulation.
	LOAD_IMMEDIATE // push Constants[operand]
	DUP            // duplicate top of stack
	POP            // discard top of stack
	SWAP           // swap the top two stack cells
	ROT            // rotate the top three stack cells (a b c -> b c a)

	// Name-table accesses. Scope resolution (local-frame first, then
	// VM-level global) happens at runtime inside one opcode pair rather
	// than the teacher's separate local/global opcodes — spec.md only
	// ever names LOAD_NAME/SET_NAME, so the granularity follows the
	// spec text over the teacher's bytecode shape.
	LOAD_NAME // push value bound to Names[operand]
	SET_NAME  // pop value, bind it to Names[operand]

	// Member/element access. operand for MEMBER_GET/MEMBER_SET is a
	// compile-time integer offset into the object's field vector,
	// resolved from the class descriptor of the receiver's inferred
	// type (spec.md §4.C) — never a name-table index.
	MEMBER_GET  // pop object, push object.Fields[operand]
	MEMBER_SET  // pop value, pop object, set object.Fields[operand] = value
	GET_ELEMENT // pop index, pop array, push array[index]
	SET_ELEMENT // pop value, pop index, pop array, array[index] = value

	// Allocation.
	NEW_ARRAY  // pop operand elements, push new array
	NEW_OBJECT // push new instance with operand fields, all null

	// Calls. Arguments are pushed left-to-right by the caller and popped
	// in reverse (last-pushed first) when the callee's frame is built —
	// spec.md §4.E's reversed-argument-order convention.
	CALL               // call the function named Names[operand], looked up by name at runtime (no numeric function id is used), argc from its own record
	SPECIAL_CALL       // pop callable cell, pop operand args reversed, call it (lambda value or module-method pointer)
	LOAD_FUNC_ADDR     // push a RawPointer cell referencing function Names[operand], for lambda-valued identifiers
	LOAD_MODULE_METHOD // push a RawPointer cell for (module alias, method) packed in operand, consumed by SPECIAL_CALL
	LOAD_MODULE        // bind Names[operand&0xFFFF] as alias for path constant Names[operand>>16]

	// Control flow.
	RETURN         // pop value, end current frame's script, propagate value to caller
	LEAVE          // end current frame with no value (implicit null return)
	JUMP           // unconditional pc = operand
	JUMP_IF_FALSE  // pop condition; if false, pc = operand
	JUMP_IF_TRUE   // pop condition; if true, pc = operand

	// Arithmetic/bitwise.
	ADD
	SUB
	MUL
	DIV
	MOD
	SHL
	SHR
	BAND
	BOR
	BXOR
	BNOT
	NEG

	// Comparison.
	EQ
	NEQ
	LT
	LE
	GT
	GE

	// Logical.
	NOT
	AND
	OR

	HALT // pop exit code cell, stop the outermost VM
)

var names = map[Opcode]string{
	NOP:                "NOP",
	LOAD_IMMEDIATE:     "LOAD_IMMEDIATE",
	DUP:                "DUP",
	POP:                "POP",
	SWAP:               "SWAP",
	ROT:                "ROT",
	LOAD_NAME:          "LOAD_NAME",
	SET_NAME:           "SET_NAME",
	MEMBER_GET:         "MEMBER_GET",
	MEMBER_SET:         "MEMBER_SET",
	GET_ELEMENT:        "GET_ELEMENT",
	SET_ELEMENT:        "SET_ELEMENT",
	NEW_ARRAY:          "NEW_ARRAY",
	NEW_OBJECT:         "NEW_OBJECT",
	CALL:               "CALL",
	SPECIAL_CALL:       "SPECIAL_CALL",
	LOAD_FUNC_ADDR:     "LOAD_FUNC_ADDR",
	LOAD_MODULE_METHOD: "LOAD_MODULE_METHOD",
	LOAD_MODULE:        "LOAD_MODULE",
	RETURN:             "RETURN",
	LEAVE:              "LEAVE",
	JUMP:               "JUMP",
	JUMP_IF_FALSE:      "JUMP_IF_FALSE",
	JUMP_IF_TRUE:       "JUMP_IF_TRUE",
	ADD:                "ADD",
	SUB:                "SUB",
	MUL:                "MUL",
	DIV:                "DIV",
	MOD:                "MOD",
	SHL:                "SHL",
	SHR:                "SHR",
	BAND:               "BAND",
	BOR:                "BOR",
	BXOR:               "BXOR",
	BNOT:               "BNOT",
	NEG:                "NEG",
	EQ:                 "EQ",
	NEQ:                "NEQ",
	LT:                 "LT",
	LE:                 "LE",
	GT:                 "GT",
	GE:                 "GE",
	NOT:                "NOT",
	AND:                "AND",
	OR:                 "OR",
	HALT:               "HALT",
}

func (op Opcode) String() string {
	if s, ok := names[op]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(op))
}

// HasOperand reports whether op carries a meaningful int32 operand.
// Used by the disassembler to decide whether to print one.
func (op Opcode) HasOperand() bool {
	switch op {
	case NOP, DUP, POP, SWAP, ROT, GET_ELEMENT, SET_ELEMENT, RETURN, LEAVE,
		ADD, SUB, MUL, DIV, MOD, SHL, SHR, BAND, BOR, BXOR, BNOT, NEG,
		EQ, NEQ, LT, LE, GT, GE, NOT, AND, OR, HALT:
		return false
	default:
		return true
	}
}

// Instruction pairs an opcode with its single packed operand. Two-index
// opcodes (LOAD_MODULE, LOAD_MODULE_METHOD) pack both constant-pool/
// name-table indices into one int32, mirroring the teacher's SEND
// operand-packing convention (selector index << 8 | arg count).
type Instruction struct {
	Op      Opcode
	Operand int32
}

// PackModuleOperand packs an alias name-table index and a path
// name-table index into one LOAD_MODULE operand.
func PackModuleOperand(pathIdx, aliasIdx int) int32 {
	return int32(pathIdx<<16) | int32(aliasIdx&0xFFFF)
}

// UnpackModuleOperand reverses PackModuleOperand.
func UnpackModuleOperand(operand int32) (pathIdx, aliasIdx int) {
	return int(operand>>16) & 0xFFFF, int(operand) & 0xFFFF
}

// PackModuleMethodOperand packs an alias name-table index and a method
// name-table index into one LOAD_MODULE_METHOD operand.
func PackModuleMethodOperand(aliasIdx, methodIdx int) int32 {
	return int32(aliasIdx<<16) | int32(methodIdx&0xFFFF)
}

// UnpackModuleMethodOperand reverses PackModuleMethodOperand.
func UnpackModuleMethodOperand(operand int32) (aliasIdx, methodIdx int) {
	return int(operand>>16) & 0xFFFF, int(operand) & 0xFFFF
}
