// Package toolchain wires the lexer, parser, and compiler together:
// the one mechanical pipeline spec.md §1 calls the lexer/parser pair
// (out of scope as a design surface) feeding into component C.
package toolchain

import (
	"fmt"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/compiler"
	"github.com/copl-lang/copl/pkg/module"
	"github.com/copl-lang/copl/pkg/parser"
)

// CompileSource parses and compiles copl source text into a function
// table plus its module bindings.
func CompileSource(src string) ([]bytecode.FuncRecord, *module.Manager, error) {
	p := parser.New(src)
	prog, err := p.Parse()
	if err != nil {
		return nil, nil, fmt.Errorf("syntax error: %w", err)
	}
	if len(p.Errors()) > 0 {
		return nil, nil, fmt.Errorf("syntax error: %s", p.Errors()[0])
	}

	c := compiler.New()
	funcs, mods, err := c.Compile(prog)
	if err != nil {
		return nil, nil, fmt.Errorf("compile error: %w", err)
	}
	return funcs, mods, nil
}
