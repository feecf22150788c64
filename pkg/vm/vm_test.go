package vm_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copl-lang/copl/pkg/toolchain"
	"github.com/copl-lang/copl/pkg/vm"
)

// runSource compiles and runs src, returning stdout and any error.
func runSource(t *testing.T, src string) (string, error) {
	t.Helper()
	funcs, mods, err := toolchain.CompileSource(src)
	require.NoError(t, err)

	var out bytes.Buffer
	machine := vm.New(funcs, mods)
	machine.Stdout = &out
	machine.Stdin = bufio.NewReader(strings.NewReader(""))
	_, runErr := machine.Run("main")
	return out.String(), runErr
}

func TestFactorial(t *testing.T) {
	src := `
def factorial(n: int) -> int {
	if (n <= 1) {
		return 1;
	}
	return n * factorial(n - 1);
}

println(factorial(6));
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "720\n", out)
}

func TestClassAndConstructor(t *testing.T) {
	src := `
class Counter {
	count: int;

	def constructor(start: int) {
		this.count = start;
	}

	def increment() -> int {
		this.count = this.count + 1;
		return this.count;
	}
}

let c: Counter = new Counter(10);
println(c.increment());
println(c.increment());
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "11\n12\n", out)
}

func TestArrayMutation(t *testing.T) {
	src := `
let a = [1, 2, 3];
a[1] = 99;
append(4, a);
println(size(a));
println(a[1]);
println(a[3]);
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "4\n99\n4\n", out)
}

func TestForLoopWithBreak(t *testing.T) {
	src := `
let total = 0;
for (let i = 0; i < 10; i++) {
	if (i == 5) {
		break;
	}
	total = total + i;
}
println(total);
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)
}

func TestStringConcatViaAppend(t *testing.T) {
	src := `
let greeting = "hello";
append(" world", greeting);
println(greeting);
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestPostDecrementOnMemberFieldIsSymmetric(t *testing.T) {
	src := `
class Box {
	n: int;

	def constructor(start: int) {
		this.n = start;
	}
}

let b: Box = new Box(5);
println(b.n--);
println(b.n);
println(--b.n);
println(b.n);
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "5\n4\n3\n3\n", out)
}

// TestUnassignedFieldReadsNull exercises the fixed-length field vector:
// every field slot is allocated (and pre-set to null) by NEW_OBJECT, so
// reading a field the constructor never touched is not a runtime error,
// just null.
func TestUnassignedFieldReadsNull(t *testing.T) {
	src := `
class Empty {
	n: int;
}

let e: Empty = new Empty();
println(not_null(e.n));
`
	out, err := runSource(t, src)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestDivisionByZeroIsFatal(t *testing.T) {
	src := `
let x = 1 / 0;
println(x);
`
	_, err := runSource(t, src)
	assert.Error(t, err)
}
