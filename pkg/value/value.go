// Package value implements copl's data model: the scalar/heap cell
// split, heap objects, compiled chunks, call frames, and class
// descriptors (spec.md §3, §4.A).
package value

import "fmt"

// Kind discriminates the tagged HeapObject union.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindBoolean
	KindString
	KindArray
	KindObject
	KindNull
	KindRawPointer
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindNull:
		return "null"
	case KindRawPointer:
		return "raw_pointer"
	default:
		return "unknown"
	}
}

// CellTag discriminates a Cell: either a scalar carried inline, or a
// reference into the heap's allocation list.
type CellTag int

const (
	TagInt CellTag = iota
	TagFloat
	TagBool
	TagNull
	TagRawPointer
	TagHeapRef
)

// Cell is a stack/local/constant-pool slot. Scalars (Int, Float, Bool,
// Null, RawPointer) are copied by value on assignment; TagHeapRef cells
// alias a *HeapObject and are copied by reference (spec.md §3's
// "scalar copy vs. heap reference" split).
type Cell struct {
	Tag   CellTag
	Int   int32
	Float float64
	Bool  bool
	Ptr   interface{} // payload for TagRawPointer (a function name string, or the VM's module-method reference)
	Heap  *HeapObject
}

func IntCell(v int32) Cell       { return Cell{Tag: TagInt, Int: v} }
func FloatCell(v float64) Cell   { return Cell{Tag: TagFloat, Float: v} }
func BoolCell(v bool) Cell       { return Cell{Tag: TagBool, Bool: v} }
func NullCell() Cell             { return Cell{Tag: TagNull} }
func RawPointerCell(p interface{}) Cell { return Cell{Tag: TagRawPointer, Ptr: p} }
func HeapCell(h *HeapObject) Cell { return Cell{Tag: TagHeapRef, Heap: h} }

// IsTruthy follows spec.md §4.E: only Bool participates in boolean
// contexts; every other tag (including 0, "", null) is a compile/runtime
// error at the call site, not a silent coercion. Callers that need a
// non-fatal check should inspect Tag directly.
func (c Cell) IsTruthy() bool {
	return c.Tag == TagBool && c.Bool
}

// Copy implements the value model's copy semantics: scalars clone by
// value, heap references clone the underlying object's *contents* into
// a freshly linked HeapObject, never aliasing the source. Nothing in
// the compiler or VM calls it: literals, assignments and fields share
// references.
func (c Cell) Copy(heapHead **HeapObject) Cell {
	if c.Tag != TagHeapRef || c.Heap == nil {
		return c
	}
	return HeapCell(c.Heap.Copy(heapHead))
}

func (c Cell) String() string {
	switch c.Tag {
	case TagInt:
		return fmt.Sprintf("%d", c.Int)
	case TagFloat:
		return fmt.Sprintf("%g", c.Float)
	case TagBool:
		return fmt.Sprintf("%t", c.Bool)
	case TagNull:
		return "null"
	case TagRawPointer:
		return fmt.Sprintf("<rawptr %v>", c.Ptr)
	case TagHeapRef:
		if c.Heap == nil {
			return "null"
		}
		return c.Heap.String()
	default:
		return "<invalid cell>"
	}
}

// HeapObject is a node in the VM's singly-linked allocation list
// (spec.md §5's heap discipline: allocate-only, mark bit reserved for a
// future collector, never walked for reclamation by this
// implementation — see DESIGN.md Open Question 4).
type HeapObject struct {
	Kind Kind

	Str    string
	Arr    []Cell
	Fields []Cell // fixed-length, offset-indexed (class descriptor field order)

	Marked bool
	Next   *HeapObject
}

// alloc links a fresh HeapObject onto the head of the allocation list.
func alloc(heapHead **HeapObject, o *HeapObject) *HeapObject {
	o.Next = *heapHead
	*heapHead = o
	return o
}

func NewString(heapHead **HeapObject, s string) *HeapObject {
	return alloc(heapHead, &HeapObject{Kind: KindString, Str: s})
}

func NewArray(heapHead **HeapObject, elems []Cell) *HeapObject {
	return alloc(heapHead, &HeapObject{Kind: KindArray, Arr: elems})
}

// NewObject allocates an instance with fieldCount fields, all
// initialised to null. fieldCount comes straight from NEW_OBJECT's
// operand, itself the length of the allocating class's descriptor
// field list (spec.md §4.A: "NEW_OBJECT <n>" sizes the field vector;
// §4.C computes n from the class descriptor at compile time).
func NewObject(heapHead **HeapObject, fieldCount int) *HeapObject {
	fields := make([]Cell, fieldCount)
	for i := range fields {
		fields[i] = NullCell()
	}
	return alloc(heapHead, &HeapObject{Kind: KindObject, Fields: fields})
}

func NewNull(heapHead **HeapObject) *HeapObject {
	return alloc(heapHead, &HeapObject{Kind: KindNull})
}

func (o *HeapObject) String() string {
	if o == nil {
		return "null"
	}
	switch o.Kind {
	case KindString:
		return o.Str
	case KindArray:
		return fmt.Sprintf("<array len=%d>", len(o.Arr))
	case KindObject:
		return fmt.Sprintf("<object fields=%d>", len(o.Fields))
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("<%s>", o.Kind)
	}
}

// Copy deep-copies this object's contents into a fresh, newly linked
// HeapObject. Strings copy their text; arrays and objects clone every
// element/field cell through Cell.Copy, so nested heap objects are
// cloned too rather than shared with the source.
func (o *HeapObject) Copy(heapHead **HeapObject) *HeapObject {
	switch o.Kind {
	case KindString:
		return NewString(heapHead, o.Str)
	case KindArray:
		cp := make([]Cell, len(o.Arr))
		for i, c := range o.Arr {
			cp[i] = c.Copy(heapHead)
		}
		return NewArray(heapHead, cp)
	case KindObject:
		fields := make([]Cell, len(o.Fields))
		for i, c := range o.Fields {
			fields[i] = c.Copy(heapHead)
		}
		return alloc(heapHead, &HeapObject{Kind: KindObject, Fields: fields})
	default:
		return alloc(heapHead, &HeapObject{Kind: o.Kind, Str: o.Str})
	}
}

// ElementGet implements indexed read (arrays only).
func (o *HeapObject) ElementGet(idx int32) (Cell, error) {
	if o.Kind != KindArray {
		return Cell{}, fmt.Errorf("cannot index into a %s", o.Kind)
	}
	if idx < 0 || int(idx) >= len(o.Arr) {
		return Cell{}, fmt.Errorf("array index %d out of bounds (len %d)", idx, len(o.Arr))
	}
	return o.Arr[idx], nil
}

// ElementSet implements indexed write (arrays only); in-place, so every
// alias observes the mutation (reference semantics, spec.md §3).
func (o *HeapObject) ElementSet(idx int32, v Cell) error {
	if o.Kind != KindArray {
		return fmt.Errorf("cannot index into a %s", o.Kind)
	}
	if idx < 0 || int(idx) >= len(o.Arr) {
		return fmt.Errorf("array index %d out of bounds (len %d)", idx, len(o.Arr))
	}
	o.Arr[idx] = v
	return nil
}

// MemberGet implements field read (objects only) by integer offset.
// The compiler resolves every offset from the allocating class's
// descriptor before emitting MEMBER_GET, so an out-of-range offset here
// means the compiler's own invariant was violated, not a source-level
// error (spec.md §3: "the compiler guarantees this by consulting the
// class descriptor").
func (o *HeapObject) MemberGet(offset int32) (Cell, error) {
	if o.Kind != KindObject {
		return Cell{}, fmt.Errorf("cannot access field %d of a %s", offset, o.Kind)
	}
	if offset < 0 || int(offset) >= len(o.Fields) {
		return Cell{}, fmt.Errorf("field offset %d out of bounds (len %d)", offset, len(o.Fields))
	}
	return o.Fields[offset], nil
}

// MemberSet implements field write (objects only) by integer offset,
// in place so every alias observes the mutation.
func (o *HeapObject) MemberSet(offset int32, v Cell) error {
	if o.Kind != KindObject {
		return fmt.Errorf("cannot access field %d of a %s", offset, o.Kind)
	}
	if offset < 0 || int(offset) >= len(o.Fields) {
		return fmt.Errorf("field offset %d out of bounds (len %d)", offset, len(o.Fields))
	}
	o.Fields[offset] = v
	return nil
}

// Set overwrites this object's content from other in place, preserving
// identity for every other alias — the assignment verb spec.md §4.A
// reserves for primitive-typed heap slots (e.g. a string slot mutated
// by `append`, rather than replaced by a fresh reference).
func (o *HeapObject) Set(other *HeapObject) error {
	if o.Kind != other.Kind {
		return fmt.Errorf("cannot set a %s in place from a %s", o.Kind, other.Kind)
	}
	switch o.Kind {
	case KindString:
		o.Str = other.Str
	case KindArray:
		o.Arr = other.Arr
	default:
		return fmt.Errorf("cannot set a %s in place", o.Kind)
	}
	return nil
}

// Append grows an array object in place so every alias observes the
// new length (the `append` builtin, spec.md §6).
func (o *HeapObject) Append(v Cell) error {
	if o.Kind != KindArray {
		return fmt.Errorf("cannot append to a %s", o.Kind)
	}
	o.Arr = append(o.Arr, v)
	return nil
}

// Size returns the length for arrays/strings (the `size` builtin).
func (o *HeapObject) Size() (int32, error) {
	switch o.Kind {
	case KindArray:
		return int32(len(o.Arr)), nil
	case KindString:
		return int32(len(o.Str)), nil
	default:
		return 0, fmt.Errorf("cannot take size of a %s", o.Kind)
	}
}

// FieldInfo describes one ordered class field.
type FieldInfo struct {
	Name   string
	Type   string
	Public bool
}

// ClassDescriptor is the compile-time shape of a class: an ordered
// field list (offsets implied by index) shared by every instance
// (spec.md §4.A/§4.C). Access modifiers are parsed and recorded but
// never enforced (DESIGN.md Open Question 2).
type ClassDescriptor struct {
	Name   string
	Fields []FieldInfo
}

// Chunk is one function's or method's compiled unit: linear bytecode,
// its constant pool, and a name table for LOAD_NAME/SET_NAME, CALL,
// LOAD_FUNC_ADDR and module operands; MEMBER_GET/MEMBER_SET carry
// field offsets instead (spec.md §4.B/§4.C).
type Chunk struct {
	Code       []int32
	Constants  []Cell
	Names      []string
	ParamNames []string // local names CALL/SPECIAL_CALL bind popped arguments to, in declaration order ("this" first for methods)
}

// FrameMeta is embedded by both frame kinds and carries what the
// debugger/disassembler and RuntimeError stack traces need in common.
type FrameMeta struct {
	Name     string
	ID       int32
	ArgCount int
	IsLambda bool
	Caller   Frame // nil for the entry frame
}

// Frame is implemented by ScriptFrame and BuiltinFrame.
type Frame interface {
	Meta() *FrameMeta
}

// ScriptFrame is an activation record for a compiled Chunk: program
// counter, operand stack, and a name-keyed local slot table (spec.md
// §4.E's CALL/RETURN/LEAVE lifecycle).
type ScriptFrame struct {
	FrameMeta
	Chunk  *Chunk
	PC     int
	Stack  []Cell
	Locals map[string]Cell
}

func (f *ScriptFrame) Meta() *FrameMeta { return &f.FrameMeta }

func (f *ScriptFrame) Push(c Cell) { f.Stack = append(f.Stack, c) }

func (f *ScriptFrame) Pop() Cell {
	n := len(f.Stack)
	v := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return v
}

func (f *ScriptFrame) Peek() Cell { return f.Stack[len(f.Stack)-1] }

// BuiltinFrame wraps a native Go function exposed as a callable (print,
// println, input, debug, append, size, str2int, not_null — spec.md §6).
type BuiltinFrame struct {
	FrameMeta
	Native func(args []Cell) (Cell, error)
}

func (f *BuiltinFrame) Meta() *FrameMeta { return &f.FrameMeta }
