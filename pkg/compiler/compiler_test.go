package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/compiler"
	"github.com/copl-lang/copl/pkg/parser"
)

func compile(t *testing.T, src string) ([]bytecode.FuncRecord, error) {
	t.Helper()
	p := parser.New(src)
	prog, err := p.Parse()
	require.NoError(t, err)
	require.Empty(t, p.Errors())
	funcs, _, err := compiler.New().Compile(prog)
	return funcs, err
}

func TestCompileSimpleMain(t *testing.T) {
	funcs, err := compile(t, `let x = 1 + 2; println(x);`)
	require.NoError(t, err)

	var main *bytecode.FuncRecord
	for i := range funcs {
		if funcs[i].Name == "main" {
			main = &funcs[i]
		}
	}
	require.NotNil(t, main)
	assert.NotEmpty(t, main.Chunk.Code)
}

func TestCompileRegistersBuiltinsAsPlaceholders(t *testing.T) {
	funcs, err := compile(t, `println("hi");`)
	require.NoError(t, err)

	found := false
	for _, fn := range funcs {
		if fn.Name == "println" {
			found = true
			assert.True(t, fn.IsBuiltin)
			assert.Nil(t, fn.Chunk)
		}
	}
	assert.True(t, found, "println should be registered as a builtin placeholder")
}

func TestCompileMethodCallWithoutDeclaredTypeFails(t *testing.T) {
	src := `
class Greeter {
	def hello() -> int { return 1; }
}

def useIt(g: int) {
	return g.hello();
}
`
	_, err := compile(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receiver type unknown")
}

func TestCompileMethodCallWithDeclaredTypeResolvesStatically(t *testing.T) {
	src := `
class Greeter {
	def hello() -> int { return 1; }
}

def useIt(g: Greeter) -> int {
	return g.hello();
}
`
	funcs, err := compile(t, src)
	require.NoError(t, err)

	var useItFn *bytecode.FuncRecord
	for i := range funcs {
		if funcs[i].Name == "useIt" {
			useItFn = &funcs[i]
		}
	}
	require.NotNil(t, useItFn)

	foundCallToGreeterHello := false
	for i := 0; i+1 < len(useItFn.Chunk.Code); i += 2 {
		if bytecode.Opcode(useItFn.Chunk.Code[i]) == bytecode.CALL {
			idx := useItFn.Chunk.Code[i+1]
			if useItFn.Chunk.Names[idx] == "Greeter.hello" {
				foundCallToGreeterHello = true
			}
		}
	}
	assert.True(t, foundCallToGreeterHello, "g.hello() should resolve to a direct CALL Greeter.hello")
}

func TestCompileUndefinedClassFails(t *testing.T) {
	_, err := compile(t, `let x = new Nonexistent();`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown class")
}

func TestCompileImportBindsModuleManager(t *testing.T) {
	src := `
import "math.copl" as m;
println(m.square(3));
`
	p := parser.New(src)
	prog, err := p.Parse()
	require.NoError(t, err)

	c := compiler.New()
	_, mods, err := c.Compile(prog)
	require.NoError(t, err)

	path, ok := mods.PathFor("m")
	require.True(t, ok)
	assert.Equal(t, "math.copl", path)
}
