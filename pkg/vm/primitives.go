package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/value"
)

// popArgs pops n cells off frame's operand stack and returns them in
// left-to-right source order. Arguments are pushed left-to-right by the
// caller and therefore popped in reverse (spec.md §4.E's reversed-
// argument-order convention) — this helper undoes the reversal once,
// here, so every call site downstream works with natural order.
func popArgs(frame *value.ScriptFrame, n int) []value.Cell {
	args := make([]value.Cell, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	return args
}

func (vm *VM) asString(c value.Cell) (string, bool) {
	if c.Tag == value.TagHeapRef && c.Heap != nil && c.Heap.Kind == value.KindString {
		return c.Heap.Str, true
	}
	return "", false
}

func (vm *VM) newStringCell(s string) value.Cell {
	return value.HeapCell(value.NewString(&vm.heap.Head, s))
}

// binaryArith implements ADD/SUB/MUL/DIV/MOD/SHL/SHR/BAND/BOR/BXOR.
// Both-integer operands stay integers; either side being a float
// promotes the whole operation to float (spec.md §4.E's numeric
// coercion rule). ADD additionally accepts two strings, concatenating
// them (this is how copl's `append`-to-string idiom composes with +=
// on string locals).
func (vm *VM) binaryArith(frame *value.ScriptFrame, op bytecode.Opcode) error {
	r := frame.Pop()
	l := frame.Pop()

	if op == bytecode.ADD {
		if ls, ok := vm.asString(l); ok {
			if rs, ok := vm.asString(r); ok {
				frame.Push(vm.newStringCell(ls + rs))
				return nil
			}
		}
	}

	switch op {
	case bytecode.SHL, bytecode.SHR, bytecode.BAND, bytecode.BOR, bytecode.BXOR:
		if l.Tag != value.TagInt || r.Tag != value.TagInt {
			return vm.runtimeErrorf("bitwise/shift operators require integers, got %s and %s", tagName(l.Tag), tagName(r.Tag))
		}
		var result int32
		switch op {
		case bytecode.SHL:
			result = l.Int << uint32(r.Int)
		case bytecode.SHR:
			result = l.Int >> uint32(r.Int)
		case bytecode.BAND:
			result = l.Int & r.Int
		case bytecode.BOR:
			result = l.Int | r.Int
		case bytecode.BXOR:
			result = l.Int ^ r.Int
		}
		frame.Push(value.IntCell(result))
		return nil
	}

	if l.Tag != value.TagInt && l.Tag != value.TagFloat {
		return vm.runtimeErrorf("arithmetic requires numbers, got %s", tagName(l.Tag))
	}
	if r.Tag != value.TagInt && r.Tag != value.TagFloat {
		return vm.runtimeErrorf("arithmetic requires numbers, got %s", tagName(r.Tag))
	}

	if l.Tag == value.TagFloat || r.Tag == value.TagFloat {
		lf, rf := asFloat(l), asFloat(r)
		var result float64
		switch op {
		case bytecode.ADD:
			result = lf + rf
		case bytecode.SUB:
			result = lf - rf
		case bytecode.MUL:
			result = lf * rf
		case bytecode.DIV:
			if rf == 0 {
				return vm.runtimeErrorf("division by zero")
			}
			result = lf / rf
		case bytecode.MOD:
			result = math.Mod(lf, rf)
		}
		frame.Push(value.FloatCell(result))
		return nil
	}

	var result int32
	switch op {
	case bytecode.ADD:
		result = l.Int + r.Int
	case bytecode.SUB:
		result = l.Int - r.Int
	case bytecode.MUL:
		result = l.Int * r.Int
	case bytecode.DIV:
		if r.Int == 0 {
			return vm.runtimeErrorf("division by zero")
		}
		result = l.Int / r.Int
	case bytecode.MOD:
		if r.Int == 0 {
			return vm.runtimeErrorf("modulo by zero")
		}
		result = l.Int % r.Int
	}
	frame.Push(value.IntCell(result))
	return nil
}

func asFloat(c value.Cell) float64 {
	if c.Tag == value.TagFloat {
		return c.Float
	}
	return float64(c.Int)
}

// compare implements EQ/NEQ/LT/LE/GT/GE. String equality compares
// contents (short-circuiting on identical underlying Go strings rather
// than a general deep-equality walk, spec.md §4.E); ordering operators
// require two numbers.
func (vm *VM) compare(frame *value.ScriptFrame, op bytecode.Opcode) error {
	r := frame.Pop()
	l := frame.Pop()

	if op == bytecode.EQ || op == bytecode.NEQ {
		eq := cellsEqual(l, r)
		if op == bytecode.NEQ {
			eq = !eq
		}
		frame.Push(value.BoolCell(eq))
		return nil
	}

	if (l.Tag != value.TagInt && l.Tag != value.TagFloat) || (r.Tag != value.TagInt && r.Tag != value.TagFloat) {
		return vm.runtimeErrorf("comparison requires numbers, got %s and %s", tagName(l.Tag), tagName(r.Tag))
	}
	lf, rf := asFloat(l), asFloat(r)
	var result bool
	switch op {
	case bytecode.LT:
		result = lf < rf
	case bytecode.LE:
		result = lf <= rf
	case bytecode.GT:
		result = lf > rf
	case bytecode.GE:
		result = lf >= rf
	}
	frame.Push(value.BoolCell(result))
	return nil
}

func cellsEqual(l, r value.Cell) bool {
	if ls, ok := stringOf(l); ok {
		if rs, ok := stringOf(r); ok {
			return ls == rs
		}
		return false
	}
	if l.Tag != r.Tag {
		// int/float cross-comparison is allowed by numeric equality.
		if (l.Tag == value.TagInt || l.Tag == value.TagFloat) && (r.Tag == value.TagInt || r.Tag == value.TagFloat) {
			return asFloat(l) == asFloat(r)
		}
		return false
	}
	switch l.Tag {
	case value.TagInt:
		return l.Int == r.Int
	case value.TagFloat:
		return l.Float == r.Float
	case value.TagBool:
		return l.Bool == r.Bool
	case value.TagNull:
		return true
	case value.TagHeapRef:
		return l.Heap == r.Heap
	default:
		return false
	}
}

func stringOf(c value.Cell) (string, bool) {
	if c.Tag == value.TagHeapRef && c.Heap != nil && c.Heap.Kind == value.KindString {
		return c.Heap.Str, true
	}
	return "", false
}

// builtinArgCounts mirrors compiler.builtinArgCounts; kept here too
// (rather than imported, to avoid a vm<->compiler dependency) since
// the VM only needs the arity, not anything else compiler-side.
var builtinArgCounts = map[string]int{
	"print":    1,
	"println":  1,
	"input":    0,
	"debug":    1,
	"append":   2,
	"size":     1,
	"str2int":  1,
	"not_null": 1,
}

// builtinImpls is the native procedure table for spec.md §6's eight
// builtins.
var builtinImpls = map[string]func(vm *VM, args []value.Cell) (value.Cell, error){
	"print": func(vm *VM, args []value.Cell) (value.Cell, error) {
		fmt.Fprint(vm.Stdout, cellDisplay(args[0]))
		return value.NullCell(), nil
	},
	"println": func(vm *VM, args []value.Cell) (value.Cell, error) {
		fmt.Fprintln(vm.Stdout, cellDisplay(args[0]))
		return value.NullCell(), nil
	},
	"input": func(vm *VM, args []value.Cell) (value.Cell, error) {
		line, err := vm.Stdin.ReadString('\n')
		if err != nil && line == "" {
			return value.Cell{}, fmt.Errorf("input: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		return vm.newStringCell(line), nil
	},
	"debug": func(vm *VM, args []value.Cell) (value.Cell, error) {
		fmt.Fprintf(vm.Stdout, "[debug] %s\n", cellDisplay(args[0]))
		return value.NullCell(), nil
	},
	// append(value, container) — note the argument order: the value
	// being appended comes first, the container second, and the
	// container is mutated in place rather than replaced.
	"append": func(vm *VM, args []value.Cell) (value.Cell, error) {
		val, container := args[0], args[1]
		if container.Tag != value.TagHeapRef || container.Heap == nil {
			return value.Cell{}, fmt.Errorf("append expects an array or string as its second argument")
		}
		if container.Heap.Kind == value.KindString {
			s, _ := vm.asString(container)
			add := cellDisplay(val)
			var head *value.HeapObject
			updated := value.NewString(&head, s+add)
			if err := container.Heap.Set(updated); err != nil {
				return value.Cell{}, err
			}
			return container, nil
		}
		if err := container.Heap.Append(val); err != nil {
			return value.Cell{}, err
		}
		return container, nil
	},
	"size": func(vm *VM, args []value.Cell) (value.Cell, error) {
		target := args[0]
		if target.Tag != value.TagHeapRef || target.Heap == nil {
			return value.Cell{}, fmt.Errorf("size expects an array or string")
		}
		n, err := target.Heap.Size()
		if err != nil {
			return value.Cell{}, err
		}
		return value.IntCell(n), nil
	},
	"str2int": func(vm *VM, args []value.Cell) (value.Cell, error) {
		s, ok := vm.asString(args[0])
		if !ok {
			return value.Cell{}, fmt.Errorf("str2int expects a string")
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			// DESIGN.md Open Question 3: parse failure is a fatal
			// runtime error, not a sentinel value.
			return value.Cell{}, fmt.Errorf("str2int: %q is not a valid integer", s)
		}
		return value.IntCell(int32(n)), nil
	},
	"not_null": func(vm *VM, args []value.Cell) (value.Cell, error) {
		c := args[0]
		if c.Tag == value.TagNull {
			return value.BoolCell(false), nil
		}
		if c.Tag == value.TagHeapRef && (c.Heap == nil || c.Heap.Kind == value.KindNull) {
			return value.BoolCell(false), nil
		}
		return value.BoolCell(true), nil
	},
}

func cellDisplay(c value.Cell) string {
	if s, ok := stringOf(c); ok {
		return s
	}
	return c.String()
}
