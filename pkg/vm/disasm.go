package vm

import (
	"fmt"
	"io"

	"github.com/copl-lang/copl/pkg/bytecode"
)

// Disassemble writes one block per function in funcs: its constant
// pool, then its opcode stream with operands decoded per-opcode
// (SPEC_FULL.md §9's disassembly shape, mirrored from the original
// toolchain's loader/VM pair).
func Disassemble(w io.Writer, funcs []bytecode.FuncRecord) {
	for _, fn := range funcs {
		fmt.Fprintf(w, "function %s (id=%d, argc=%d)", fn.Name, fn.ID, fn.ArgCount)
		if fn.IsBuiltin || fn.Chunk == nil {
			fmt.Fprintf(w, " [builtin]\n\n")
			continue
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "  constants:")
		for i, c := range fn.Chunk.Constants {
			fmt.Fprintf(w, "    %4d: %s\n", i, c.String())
		}

		fmt.Fprintln(w, "  names:")
		for i, n := range fn.Chunk.Names {
			fmt.Fprintf(w, "    %4d: %s\n", i, n)
		}

		fmt.Fprintln(w, "  code:")
		code := fn.Chunk.Code
		for pc := 0; pc < len(code); pc += 2 {
			op := bytecode.Opcode(code[pc])
			operand := code[pc+1]
			if op.HasOperand() {
				fmt.Fprintf(w, "    %6d  %-20s %d\n", pc, op, operand)
			} else {
				fmt.Fprintf(w, "    %6d  %-20s\n", pc, op)
			}
		}
		fmt.Fprintln(w)
	}
}
