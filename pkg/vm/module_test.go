package vm_test

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/module"
	"github.com/copl-lang/copl/pkg/toolchain"
	"github.com/copl-lang/copl/pkg/vm"
)

// TestCrossModuleCallReturnsResult compiles a small "library" module to
// a .copl file on disk, then compiles a main program that imports it and
// calls one of its functions, checking that the result computed by the
// nested VM spawned for the call reaches the caller.
func TestCrossModuleCallReturnsResult(t *testing.T) {
	libSrc := `
def double(n: int) -> int {
	return n * 2;
}
`
	libFuncs, _, err := toolchain.CompileSource(libSrc)
	require.NoError(t, err)

	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.copl")
	f, err := os.Create(libPath)
	require.NoError(t, err)
	require.NoError(t, bytecode.Encode(f, libFuncs))
	require.NoError(t, f.Close())

	mainSrc := `
import "` + strings.ReplaceAll(libPath, `\`, `\\`) + `" as lib;
println(lib.double(21));
`
	mainFuncs, mods, err := toolchain.CompileSource(mainSrc)
	require.NoError(t, err)

	var out bytes.Buffer
	machine := vm.New(mainFuncs, mods)
	machine.Stdout = &out
	machine.Stdin = bufio.NewReader(strings.NewReader(""))
	_, err = machine.Run("main")
	require.NoError(t, err)
	require.Equal(t, "42\n", out.String())
}

// TestCrossModuleCallSurvivesDiskRoundTrip encodes BOTH the library and
// the main program to .copl files, then decodes the main program back
// with a fresh, empty module.Manager — exactly the path
// cmd/copl/main.go's loadOrCompile takes for a precompiled file handed
// to -r/-d. LOAD_MODULE must resolve the import from the path it
// serialized into the bytecode's own name table, not from a manager
// already populated by the in-process compiler.
func TestCrossModuleCallSurvivesDiskRoundTrip(t *testing.T) {
	libSrc := `
def double(n: int) -> int {
	return n * 2;
}
`
	libFuncs, _, err := toolchain.CompileSource(libSrc)
	require.NoError(t, err)

	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.copl")
	f, err := os.Create(libPath)
	require.NoError(t, err)
	require.NoError(t, bytecode.Encode(f, libFuncs))
	require.NoError(t, f.Close())

	mainSrc := `
import "` + strings.ReplaceAll(libPath, `\`, `\\`) + `" as lib;
println(lib.double(21));
`
	mainFuncs, _, err := toolchain.CompileSource(mainSrc)
	require.NoError(t, err)

	mainPath := filepath.Join(dir, "main.copl")
	mf, err := os.Create(mainPath)
	require.NoError(t, err)
	require.NoError(t, bytecode.Encode(mf, mainFuncs))
	require.NoError(t, mf.Close())

	data, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	decoded, err := bytecode.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	var out bytes.Buffer
	machine := vm.New(decoded, module.New())
	machine.Stdout = &out
	machine.Stdin = bufio.NewReader(strings.NewReader(""))
	_, err = machine.Run("main")
	require.NoError(t, err)
	require.Equal(t, "42\n", out.String())
}

func TestModuleManagerUnboundAliasFails(t *testing.T) {
	mgr := module.New()
	_, err := mgr.Load("missing")
	require.Error(t, err)
}
