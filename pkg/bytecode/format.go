package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/copl-lang/copl/pkg/value"
)

// Magic gates every .copl file (spec.md §4.B).
const Magic uint32 = 0x000C0001

// tagged Cell type bytes in the constant pool (spec.md §4.B, exact).
const (
	constTypeInt    byte = 0
	constTypeFloat  byte = 1
	constTypeString byte = 2
	constTypeBool   byte = 3
	constTypeNull   byte = 4
)

// FuncRecord is one function table entry as it round-trips through a
// .copl file: either a compiled Chunk or a builtin placeholder (written
// with empty code, name, constant and parameter-name tables; rebound by
// name on load).
type FuncRecord struct {
	Name     string
	ID       int32
	ArgCount int32
	Chunk    *value.Chunk
	IsBuiltin bool
}

// Encode writes a function table to w in the format spec.md §4.B
// describes: u32 magic, u32 count, then per function: u32-length-
// prefixed name, i32 id, i32 argc, u32 opcode count + i32 opcodes, u32
// name count + length-prefixed names, u32 constant count + tagged
// cells, u32 parameter-name count + length-prefixed parameter names.
func Encode(w io.Writer, funcs []FuncRecord) error {
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("bytecode: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(funcs))); err != nil {
		return fmt.Errorf("bytecode: write function count: %w", err)
	}
	for _, fn := range funcs {
		if err := writeFunc(w, fn); err != nil {
			return fmt.Errorf("bytecode: write function %q: %w", fn.Name, err)
		}
	}
	return nil
}

func writeFunc(w io.Writer, fn FuncRecord) error {
	if err := writeString(w, fn.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, fn.ID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, fn.ArgCount); err != nil {
		return err
	}

	if fn.IsBuiltin || fn.Chunk == nil {
		for i := 0; i < 4; i++ {
			if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
				return err
			}
		}
		return nil
	}

	code := fn.Chunk.Code
	if err := binary.Write(w, binary.LittleEndian, uint32(len(code))); err != nil {
		return err
	}
	for _, op := range code {
		if err := binary.Write(w, binary.LittleEndian, op); err != nil {
			return err
		}
	}

	names := fn.Chunk.Names
	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return err
	}
	for _, n := range names {
		if err := writeString(w, n); err != nil {
			return err
		}
	}

	consts := fn.Chunk.Constants
	if err := binary.Write(w, binary.LittleEndian, uint32(len(consts))); err != nil {
		return err
	}
	for _, c := range consts {
		if err := writeCell(w, c); err != nil {
			return err
		}
	}

	params := fn.Chunk.ParamNames
	if err := binary.Write(w, binary.LittleEndian, uint32(len(params))); err != nil {
		return err
	}
	for _, p := range params {
		if err := writeString(w, p); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func writeCell(w io.Writer, c value.Cell) error {
	switch c.Tag {
	case value.TagInt:
		if _, err := w.Write([]byte{constTypeInt}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, c.Int)
	case value.TagFloat:
		if _, err := w.Write([]byte{constTypeFloat}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, c.Float)
	case value.TagHeapRef:
		if c.Heap != nil && c.Heap.Kind == value.KindString {
			if _, err := w.Write([]byte{constTypeString}); err != nil {
				return err
			}
			return writeString(w, c.Heap.Str)
		}
		if _, err := w.Write([]byte{constTypeNull}); err != nil {
			return err
		}
		return nil
	case value.TagBool:
		if _, err := w.Write([]byte{constTypeBool}); err != nil {
			return err
		}
		var b byte
		if c.Bool {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case value.TagNull:
		_, err := w.Write([]byte{constTypeNull})
		return err
	default:
		return fmt.Errorf("cannot serialize constant-pool cell with tag %d", c.Tag)
	}
}

// Decode reads a function table written by Encode, returning an error
// if the magic number doesn't match (spec.md §4.B/§7: malformed files
// are a fatal load error).
func Decode(r io.Reader) ([]FuncRecord, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("bytecode: read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bytecode: bad magic number 0x%08X, expected 0x%08X", magic, Magic)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("bytecode: read function count: %w", err)
	}

	funcs := make([]FuncRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		fn, err := readFunc(r)
		if err != nil {
			return nil, fmt.Errorf("bytecode: read function %d: %w", i, err)
		}
		funcs = append(funcs, fn)
	}
	return funcs, nil
}

func readFunc(r io.Reader) (FuncRecord, error) {
	var fn FuncRecord

	name, err := readString(r)
	if err != nil {
		return fn, err
	}
	fn.Name = name

	if err := binary.Read(r, binary.LittleEndian, &fn.ID); err != nil {
		return fn, err
	}
	if err := binary.Read(r, binary.LittleEndian, &fn.ArgCount); err != nil {
		return fn, err
	}

	var codeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &codeCount); err != nil {
		return fn, err
	}
	code := make([]int32, codeCount)
	for i := range code {
		if err := binary.Read(r, binary.LittleEndian, &code[i]); err != nil {
			return fn, err
		}
	}

	var nameCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nameCount); err != nil {
		return fn, err
	}
	names := make([]string, nameCount)
	for i := range names {
		n, err := readString(r)
		if err != nil {
			return fn, err
		}
		names[i] = n
	}

	var constCount uint32
	if err := binary.Read(r, binary.LittleEndian, &constCount); err != nil {
		return fn, err
	}
	consts := make([]value.Cell, constCount)
	for i := range consts {
		c, err := readCell(r)
		if err != nil {
			return fn, err
		}
		consts[i] = c
	}

	var paramCount uint32
	if err := binary.Read(r, binary.LittleEndian, &paramCount); err != nil {
		return fn, err
	}
	params := make([]string, paramCount)
	for i := range params {
		p, err := readString(r)
		if err != nil {
			return fn, err
		}
		params[i] = p
	}

	if codeCount == 0 && nameCount == 0 && constCount == 0 && paramCount == 0 {
		fn.IsBuiltin = true
		return fn, nil
	}

	fn.Chunk = &value.Chunk{Code: code, Names: names, Constants: consts, ParamNames: params}
	return fn, nil
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readCell decodes one tagged constant. format.go has no heap of its
// own, so string constants are returned wrapped in a standalone
// HeapObject that is not linked onto any VM's allocation list; neither
// the loader (pkg/module) nor the VM links it onto one later.
func readCell(r io.Reader) (value.Cell, error) {
	tagBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, tagBuf); err != nil {
		return value.Cell{}, err
	}
	switch tagBuf[0] {
	case constTypeInt:
		var v int32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return value.Cell{}, err
		}
		return value.IntCell(v), nil
	case constTypeFloat:
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return value.Cell{}, err
		}
		return value.FloatCell(v), nil
	case constTypeString:
		s, err := readString(r)
		if err != nil {
			return value.Cell{}, err
		}
		var head *value.HeapObject
		h := value.NewString(&head, s)
		return value.HeapCell(h), nil
	case constTypeBool:
		b := make([]byte, 1)
		if _, err := io.ReadFull(r, b); err != nil {
			return value.Cell{}, err
		}
		return value.BoolCell(b[0] != 0), nil
	case constTypeNull:
		return value.NullCell(), nil
	default:
		return value.Cell{}, fmt.Errorf("unknown constant tag byte 0x%02X", tagBuf[0])
	}
}
