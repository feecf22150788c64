// Package vm implements copl's stack-based virtual machine (spec.md
// §4.E/§5): a dispatch loop over Chunk.Code, a call stack of
// value.Frame, and a singly-linked heap allocation list shared with
// any nested VM spawned for cross-module calls.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/module"
	"github.com/copl-lang/copl/pkg/value"
)

// Heap is the allocation list's shared anchor. Cross-module calls spawn
// a nested VM that reuses the same *Heap so every object allocated by
// either VM lands on one list (spec.md §9's nested-VM note, option
// (a): share the heap, not the globals table).
type Heap struct {
	Head *value.HeapObject
}

// moduleMethodRef is the runtime payload of a cell produced by
// LOAD_MODULE_METHOD: an unresolved (alias, method) pair consumed by
// the next SPECIAL_CALL.
type moduleMethodRef struct {
	Alias  string
	Method string
}

// VM executes one function table's worth of compiled chunks.
type VM struct {
	chunks   map[string]*value.Chunk
	argCount map[string]int32
	modules  *module.Manager
	heap     *Heap
	globals  map[string]value.Cell
	callStack []value.Frame

	Stdout io.Writer
	Stdin  *bufio.Reader

	exitCode   int32
	halted     bool
	lastResult value.Cell
}

// New builds a VM from a decoded/compiled function table. Builtin
// records in funcs are recognized by name against the fixed native
// implementations in primitives.go; their on-disk placeholder entries
// carry no code and are otherwise ignored.
func New(funcs []bytecode.FuncRecord, modules *module.Manager) *VM {
	vm := &VM{
		chunks:   make(map[string]*value.Chunk),
		argCount: make(map[string]int32),
		modules:  modules,
		heap:     &Heap{},
		globals:  make(map[string]value.Cell),
		Stdout:   os.Stdout,
		Stdin:    bufio.NewReader(os.Stdin),
	}
	for _, fn := range funcs {
		vm.argCount[fn.Name] = fn.ArgCount
		if !fn.IsBuiltin && fn.Chunk != nil {
			vm.chunks[fn.Name] = fn.Chunk
		}
	}
	return vm
}

// newNested spawns a VM for a cross-module call: its own chunk table
// and globals, but the same Heap pointer as the caller.
func newNested(funcs []bytecode.FuncRecord, modules *module.Manager, heap *Heap, stdout io.Writer, stdin *bufio.Reader) *VM {
	vm := New(funcs, modules)
	vm.heap = heap
	vm.Stdout = stdout
	vm.Stdin = stdin
	return vm
}

// Run executes entryName (normally "main") with no arguments until it
// returns, a HALT instruction fires, or a runtime error occurs. It
// returns the process exit code (0 unless HALT set one).
func (vm *VM) Run(entryName string) (int32, error) {
	chunk, ok := vm.chunks[entryName]
	if !ok {
		return 1, fmt.Errorf("vm: no entry function %q in function table", entryName)
	}

	frame := &value.ScriptFrame{
		FrameMeta: value.FrameMeta{Name: entryName},
		Chunk:     chunk,
		Locals:    vm.globals, // top-level lets ARE the global table
	}
	vm.callStack = append(vm.callStack, frame)

	for len(vm.callStack) > 0 && !vm.halted {
		top := vm.callStack[len(vm.callStack)-1].(*value.ScriptFrame)
		if err := vm.step(top); err != nil {
			return 1, err
		}
	}
	return vm.exitCode, nil
}

func (vm *VM) currentFrame() *value.ScriptFrame {
	return vm.callStack[len(vm.callStack)-1].(*value.ScriptFrame)
}

// step decodes and executes exactly one instruction in frame.
func (vm *VM) step(frame *value.ScriptFrame) error {
	if frame.PC >= len(frame.Chunk.Code) {
		return vm.leave(value.NullCell())
	}
	op := bytecode.Opcode(frame.Chunk.Code[frame.PC])
	operand := frame.Chunk.Code[frame.PC+1]
	frame.PC += 2

	switch op {
	case bytecode.NOP:
		return nil

	case bytecode.LOAD_IMMEDIATE:
		frame.Push(frame.Chunk.Constants[operand])
		return nil

	case bytecode.DUP:
		frame.Push(frame.Peek())
		return nil

	case bytecode.POP:
		frame.Pop()
		return nil

	case bytecode.SWAP:
		n := len(frame.Stack)
		frame.Stack[n-1], frame.Stack[n-2] = frame.Stack[n-2], frame.Stack[n-1]
		return nil

	case bytecode.ROT:
		n := len(frame.Stack)
		a, b, c := frame.Stack[n-3], frame.Stack[n-2], frame.Stack[n-1]
		frame.Stack[n-3], frame.Stack[n-2], frame.Stack[n-1] = b, c, a
		return nil

	case bytecode.LOAD_NAME:
		name := frame.Chunk.Names[operand]
		if v, ok := frame.Locals[name]; ok {
			frame.Push(v)
			return nil
		}
		if v, ok := vm.globals[name]; ok {
			frame.Push(v)
			return nil
		}
		return vm.runtimeErrorf("undefined name %q", name)

	case bytecode.SET_NAME:
		name := frame.Chunk.Names[operand]
		v := frame.Pop()
		if _, ok := frame.Locals[name]; ok {
			frame.Locals[name] = v
			return nil
		}
		if _, ok := vm.globals[name]; ok {
			vm.globals[name] = v
			return nil
		}
		frame.Locals[name] = v
		return nil

	case bytecode.MEMBER_GET:
		obj := frame.Pop()
		h, err := vm.heapRef(obj)
		if err != nil {
			return err
		}
		v, err := h.MemberGet(operand)
		if err != nil {
			return vm.runtimeErrorf("%s", err)
		}
		frame.Push(v)
		return nil

	case bytecode.MEMBER_SET:
		v := frame.Pop()
		obj := frame.Pop()
		h, err := vm.heapRef(obj)
		if err != nil {
			return err
		}
		if err := h.MemberSet(operand, v); err != nil {
			return vm.runtimeErrorf("%s", err)
		}
		return nil

	case bytecode.GET_ELEMENT:
		idx := frame.Pop()
		obj := frame.Pop()
		h, err := vm.heapRef(obj)
		if err != nil {
			return err
		}
		if idx.Tag != value.TagInt {
			return vm.runtimeErrorf("array index must be an integer, got %s", tagName(idx.Tag))
		}
		v, err := h.ElementGet(idx.Int)
		if err != nil {
			return vm.runtimeErrorf("%s", err)
		}
		frame.Push(v)
		return nil

	case bytecode.SET_ELEMENT:
		v := frame.Pop()
		idx := frame.Pop()
		obj := frame.Pop()
		h, err := vm.heapRef(obj)
		if err != nil {
			return err
		}
		if idx.Tag != value.TagInt {
			return vm.runtimeErrorf("array index must be an integer, got %s", tagName(idx.Tag))
		}
		if err := h.ElementSet(idx.Int, v); err != nil {
			return vm.runtimeErrorf("%s", err)
		}
		return nil

	case bytecode.NEW_ARRAY:
		n := int(operand)
		elems := make([]value.Cell, n)
		for i := n - 1; i >= 0; i-- {
			elems[i] = frame.Pop()
		}
		h := value.NewArray(&vm.heap.Head, elems)
		frame.Push(value.HeapCell(h))
		return nil

	case bytecode.NEW_OBJECT:
		h := value.NewObject(&vm.heap.Head, int(operand))
		frame.Push(value.HeapCell(h))
		return nil

	case bytecode.CALL:
		name := frame.Chunk.Names[operand]
		return vm.dispatchCall(frame, name)

	case bytecode.SPECIAL_CALL:
		callee := frame.Pop()
		return vm.dispatchSpecialCall(frame, callee, int(operand))

	case bytecode.LOAD_FUNC_ADDR:
		name := frame.Chunk.Names[operand]
		frame.Push(value.RawPointerCell(name))
		return nil

	case bytecode.LOAD_MODULE_METHOD:
		aliasIdx, methodIdx := bytecode.UnpackModuleMethodOperand(operand)
		ref := moduleMethodRef{Alias: frame.Chunk.Names[aliasIdx], Method: frame.Chunk.Names[methodIdx]}
		frame.Push(value.RawPointerCell(ref))
		return nil

	case bytecode.LOAD_MODULE:
		pathIdx, aliasIdx := bytecode.UnpackModuleOperand(operand)
		alias := frame.Chunk.Names[aliasIdx]
		path := frame.Chunk.Names[pathIdx]
		vm.modules.Bind(alias, path)
		if _, err := vm.modules.Load(alias); err != nil {
			return vm.runtimeErrorf("%s", err)
		}
		return nil

	case bytecode.RETURN:
		return vm.returnValue(frame.Pop())

	case bytecode.LEAVE:
		return vm.leave(value.NullCell())

	case bytecode.JUMP:
		frame.PC = int(operand)
		return nil

	case bytecode.JUMP_IF_FALSE:
		cond := frame.Pop()
		if cond.Tag != value.TagBool {
			return vm.runtimeErrorf("condition must be boolean, got %s", tagName(cond.Tag))
		}
		if !cond.Bool {
			frame.PC = int(operand)
		}
		return nil

	case bytecode.JUMP_IF_TRUE:
		cond := frame.Pop()
		if cond.Tag != value.TagBool {
			return vm.runtimeErrorf("condition must be boolean, got %s", tagName(cond.Tag))
		}
		if cond.Bool {
			frame.PC = int(operand)
		}
		return nil

	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD,
		bytecode.SHL, bytecode.SHR, bytecode.BAND, bytecode.BOR, bytecode.BXOR:
		return vm.binaryArith(frame, op)

	case bytecode.NEG:
		v := frame.Pop()
		switch v.Tag {
		case value.TagInt:
			frame.Push(value.IntCell(-v.Int))
		case value.TagFloat:
			frame.Push(value.FloatCell(-v.Float))
		default:
			return vm.runtimeErrorf("cannot negate a %s", tagName(v.Tag))
		}
		return nil

	case bytecode.BNOT:
		v := frame.Pop()
		if v.Tag != value.TagInt {
			return vm.runtimeErrorf("cannot bitwise-negate a %s", tagName(v.Tag))
		}
		frame.Push(value.IntCell(^v.Int))
		return nil

	case bytecode.EQ, bytecode.NEQ, bytecode.LT, bytecode.LE, bytecode.GT, bytecode.GE:
		return vm.compare(frame, op)

	case bytecode.NOT:
		v := frame.Pop()
		if v.Tag != value.TagBool {
			return vm.runtimeErrorf("cannot negate a %s, expected boolean", tagName(v.Tag))
		}
		frame.Push(value.BoolCell(!v.Bool))
		return nil

	case bytecode.AND:
		r := frame.Pop()
		l := frame.Pop()
		if l.Tag != value.TagBool || r.Tag != value.TagBool {
			return vm.runtimeErrorf("&& requires booleans")
		}
		frame.Push(value.BoolCell(l.Bool && r.Bool))
		return nil

	case bytecode.OR:
		r := frame.Pop()
		l := frame.Pop()
		if l.Tag != value.TagBool || r.Tag != value.TagBool {
			return vm.runtimeErrorf("|| requires booleans")
		}
		frame.Push(value.BoolCell(l.Bool || r.Bool))
		return nil

	case bytecode.HALT:
		code := frame.Pop()
		if code.Tag != value.TagInt {
			return vm.runtimeErrorf("HALT exit code must be an integer, got %s", tagName(code.Tag))
		}
		vm.exitCode = code.Int
		vm.halted = true
		return nil

	default:
		return vm.runtimeErrorf("unknown opcode %v", op)
	}
}

func tagName(t value.CellTag) string {
	switch t {
	case value.TagInt:
		return "int"
	case value.TagFloat:
		return "float"
	case value.TagBool:
		return "bool"
	case value.TagNull:
		return "null"
	case value.TagRawPointer:
		return "raw_pointer"
	case value.TagHeapRef:
		return "heap_ref"
	default:
		return "unknown"
	}
}

// heapRef resolves a cell that must reference a HeapObject (used by
// MEMBER_GET/SET and GET/SET_ELEMENT).
func (vm *VM) heapRef(c value.Cell) (*value.HeapObject, error) {
	if c.Tag != value.TagHeapRef || c.Heap == nil {
		return nil, vm.runtimeErrorf("expected an object or array, got %s", tagName(c.Tag))
	}
	return c.Heap, nil
}

// returnValue pops the current frame and pushes v onto its caller
// (or, for the outermost frame, records it as the program's implicit
// result and empties the call stack).
func (vm *VM) returnValue(v value.Cell) error {
	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	if len(vm.callStack) == 0 {
		vm.lastResult = v
		return nil
	}
	caller := vm.currentFrame()
	caller.Push(v)
	return nil
}

func (vm *VM) leave(v value.Cell) error {
	return vm.returnValue(v)
}

// dispatchCall handles the CALL opcode: name resolves to either a
// builtin (invoked natively, no new frame) or a compiled Chunk (a new
// ScriptFrame is pushed).
func (vm *VM) dispatchCall(frame *value.ScriptFrame, name string) error {
	if impl, ok := builtinImpls[name]; ok {
		argc := builtinArgCounts[name]
		args := popArgs(frame, argc)
		result, err := impl(vm, args)
		if err != nil {
			return vm.runtimeErrorf("%s: %s", name, err)
		}
		frame.Push(result)
		return nil
	}

	chunk, ok := vm.chunks[name]
	if !ok {
		return vm.runtimeErrorf("call to undefined function %q", name)
	}
	argc := int(vm.argCount[name])
	args := popArgs(frame, argc)
	return vm.callChunk(name, chunk, args)
}

// dispatchSpecialCall handles SPECIAL_CALL: callee is either a
// lambda/function RawPointer (string name) or a module-method
// reference, resolved dynamically at the call site.
func (vm *VM) dispatchSpecialCall(frame *value.ScriptFrame, callee value.Cell, argc int) error {
	if callee.Tag != value.TagRawPointer {
		return vm.runtimeErrorf("value is not callable")
	}

	switch ref := callee.Ptr.(type) {
	case string:
		args := popArgs(frame, argc)
		if impl, ok := builtinImpls[ref]; ok {
			result, err := impl(vm, args)
			if err != nil {
				return vm.runtimeErrorf("%s: %s", ref, err)
			}
			frame.Push(result)
			return nil
		}
		chunk, ok := vm.chunks[ref]
		if !ok {
			return vm.runtimeErrorf("call to undefined function %q", ref)
		}
		return vm.callChunk(ref, chunk, args)

	case moduleMethodRef:
		args := popArgs(frame, argc)
		return vm.callModuleMethod(ref, args)

	default:
		return vm.runtimeErrorf("value is not callable")
	}
}

// callModuleMethod spawns a nested VM sharing this VM's heap (not its
// globals) to run a cross-module call to completion and pushes its
// result (spec.md §9's nested-VM note).
func (vm *VM) callModuleMethod(ref moduleMethodRef, args []value.Cell) error {
	mod, err := vm.modules.Load(ref.Alias)
	if err != nil {
		return vm.runtimeErrorf("%s", err)
	}
	fn, err := mod.Method(ref.Method)
	if err != nil {
		return vm.runtimeErrorf("%s", err)
	}

	records := make([]bytecode.FuncRecord, 0, len(mod.Funcs))
	for _, r := range mod.Funcs {
		records = append(records, r)
	}
	nested := newNested(records, vm.modules, vm.heap, vm.Stdout, vm.Stdin)

	if fn.Chunk == nil {
		return vm.runtimeErrorf("module %q method %q has no code", ref.Alias, ref.Method)
	}
	result, err := nested.callChunkSync(fn.Name, fn.Chunk, args)
	if err != nil {
		return err
	}
	if nested.halted {
		vm.halted = true
		vm.exitCode = nested.exitCode
		return nil
	}
	vm.currentFrame().Push(result)
	return nil
}

// callChunk pushes a new ScriptFrame for chunk/args onto this VM's own
// call stack (ordinary same-VM call).
func (vm *VM) callChunk(name string, chunk *value.Chunk, args []value.Cell) error {
	locals := make(map[string]value.Cell, len(chunk.ParamNames))
	if len(args) != len(chunk.ParamNames) {
		return vm.runtimeErrorf("function %q expects %d argument(s), got %d", name, len(chunk.ParamNames), len(args))
	}
	for i, pname := range chunk.ParamNames {
		locals[pname] = args[i]
	}
	var caller value.Frame
	if len(vm.callStack) > 0 {
		caller = vm.currentFrame()
	}
	frame := &value.ScriptFrame{
		FrameMeta: value.FrameMeta{Name: name, ArgCount: len(args), Caller: caller},
		Chunk:     chunk,
		Locals:    locals,
	}
	vm.callStack = append(vm.callStack, frame)
	return nil
}

// callChunkSync runs chunk/args to completion on a freshly spawned
// (nested) VM and returns its result value directly, used for
// cross-module calls where the caller needs a synchronous result
// rather than a pushed frame.
func (vm *VM) callChunkSync(name string, chunk *value.Chunk, args []value.Cell) (value.Cell, error) {
	if err := vm.callChunk(name, chunk, args); err != nil {
		return value.Cell{}, err
	}
	for len(vm.callStack) > 0 && !vm.halted {
		top := vm.currentFrame()
		if err := vm.step(top); err != nil {
			return value.Cell{}, err
		}
	}
	if vm.halted {
		return value.NullCell(), nil
	}
	return vm.lastResult, nil
}
