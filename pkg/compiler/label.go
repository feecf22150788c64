package compiler

import (
	"fmt"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/value"
)

// pendingJump records a jump instruction emitted before its target
// label's position was known, per spec.md §4.C's deferred-emission
// design: the compiler emits control flow in one forward pass, then
// backpatches every jump operand once every label in the function has
// been placed.
type pendingJump struct {
	pos   int // index of the operand slot (instruction position + 1)
	label string
}

// funcBuilder accumulates one function's or method's bytecode.
type funcBuilder struct {
	name     string
	argCount int

	code    []int32
	names   []string
	nameIdx map[string]int
	consts  []value.Cell

	labelPos     map[string]int
	pendingJumps []pendingJump
	labelCounter int

	// loopLabels tracks the break/continue targets for the innermost
	// enclosing loop, pushed/popped around while/for compilation.
	loopLabels []loopLabels
}

type loopLabels struct {
	breakLabel    string
	continueLabel string
}

func newFuncBuilder(name string, argCount int) *funcBuilder {
	return &funcBuilder{
		name:     name,
		argCount: argCount,
		nameIdx:  make(map[string]int),
		labelPos: make(map[string]int),
	}
}

func (fb *funcBuilder) newLabel() string {
	fb.labelCounter++
	return fmt.Sprintf("L%d", fb.labelCounter)
}

// markLabel records that label resolves to the current instruction
// position (measured in int32 slots, matching how the VM steps pc).
func (fb *funcBuilder) markLabel(label string) {
	fb.labelPos[label] = len(fb.code)
}

// emit appends a fully-known instruction and returns its position.
func (fb *funcBuilder) emit(op bytecode.Opcode, operand int32) int {
	pos := len(fb.code)
	fb.code = append(fb.code, int32(op), operand)
	return pos
}

// emitJump appends a jump-family instruction whose target label isn't
// placed yet; the operand slot is backpatched by resolveLabels.
func (fb *funcBuilder) emitJump(op bytecode.Opcode, label string) {
	pos := len(fb.code)
	fb.code = append(fb.code, int32(op), 0)
	fb.pendingJumps = append(fb.pendingJumps, pendingJump{pos: pos + 1, label: label})
}

// resolveLabels backpatches every pending jump operand now that all
// labels in this function have been marked.
func (fb *funcBuilder) resolveLabels() error {
	for _, pj := range fb.pendingJumps {
		target, ok := fb.labelPos[pj.label]
		if !ok {
			return fmt.Errorf("compiler: unresolved label %q in function %q", pj.label, fb.name)
		}
		fb.code[pj.pos] = int32(target)
	}
	return nil
}

func (fb *funcBuilder) nameIndex(name string) int32 {
	if i, ok := fb.nameIdx[name]; ok {
		return int32(i)
	}
	i := len(fb.names)
	fb.names = append(fb.names, name)
	fb.nameIdx[name] = i
	return int32(i)
}

// addConst appends a constant to the pool and returns its index. No
// dedup — constant-pool entries aren't compared for equality elsewhere
// in the toolchain, so it isn't worth the bookkeeping.
func (fb *funcBuilder) addConst(c value.Cell) int32 {
	i := len(fb.consts)
	fb.consts = append(fb.consts, c)
	return int32(i)
}

func (fb *funcBuilder) pushLoop(breakLabel, continueLabel string) {
	fb.loopLabels = append(fb.loopLabels, loopLabels{breakLabel: breakLabel, continueLabel: continueLabel})
}

func (fb *funcBuilder) popLoop() {
	fb.loopLabels = fb.loopLabels[:len(fb.loopLabels)-1]
}

func (fb *funcBuilder) currentLoop() (loopLabels, error) {
	if len(fb.loopLabels) == 0 {
		return loopLabels{}, fmt.Errorf("compiler: break/continue outside of a loop in function %q", fb.name)
	}
	return fb.loopLabels[len(fb.loopLabels)-1], nil
}
