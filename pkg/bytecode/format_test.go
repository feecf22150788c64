package bytecode_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copl-lang/copl/pkg/bytecode"
	"github.com/copl-lang/copl/pkg/value"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	funcs := []bytecode.FuncRecord{
		{
			Name:     "main",
			ID:       0,
			ArgCount: 0,
			Chunk: &value.Chunk{
				Code: []int32{
					int32(bytecode.LOAD_IMMEDIATE), 0,
					int32(bytecode.LOAD_IMMEDIATE), 1,
					int32(bytecode.ADD), 0,
					int32(bytecode.RETURN), 0,
				},
				Constants: []value.Cell{
					value.IntCell(2),
					value.IntCell(40),
				},
				Names:      []string{"x"},
				ParamNames: nil,
			},
		},
		{
			Name:      "print",
			ID:        1,
			ArgCount:  1,
			IsBuiltin: true,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, bytecode.Encode(&buf, funcs))

	got, err := bytecode.Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "main", got[0].Name)
	assert.False(t, got[0].IsBuiltin)
	assert.Equal(t, funcs[0].Chunk.Code, got[0].Chunk.Code)
	assert.Equal(t, funcs[0].Chunk.Names, got[0].Chunk.Names)
	require.Len(t, got[0].Chunk.Constants, 2)
	assert.Equal(t, int32(2), got[0].Chunk.Constants[0].Int)
	assert.Equal(t, int32(40), got[0].Chunk.Constants[1].Int)

	assert.Equal(t, "print", got[1].Name)
	assert.True(t, got[1].IsBuiltin)
	assert.Nil(t, got[1].Chunk)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0, 0})
	_, err := bytecode.Decode(buf)
	assert.Error(t, err)
}

func TestStringConstantRoundTrip(t *testing.T) {
	var head *value.HeapObject
	funcs := []bytecode.FuncRecord{{
		Name:     "main",
		ArgCount: 0,
		Chunk: &value.Chunk{
			Code:      []int32{int32(bytecode.LOAD_IMMEDIATE), 0, int32(bytecode.RETURN), 0},
			Constants: []value.Cell{value.HeapCell(value.NewString(&head, "hello"))},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, bytecode.Encode(&buf, funcs))

	got, err := bytecode.Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got[0].Chunk.Constants, 1)
	assert.Equal(t, "hello", got[0].Chunk.Constants[0].Heap.Str)
}

func TestOpcodeHasOperand(t *testing.T) {
	assert.True(t, bytecode.LOAD_IMMEDIATE.HasOperand())
	assert.True(t, bytecode.CALL.HasOperand())
	assert.False(t, bytecode.ADD.HasOperand())
	assert.False(t, bytecode.HALT.HasOperand())
}

func TestPackUnpackModuleOperand(t *testing.T) {
	operand := bytecode.PackModuleOperand(3, 5)
	path, alias := bytecode.UnpackModuleOperand(operand)
	assert.Equal(t, 3, path)
	assert.Equal(t, 5, alias)
}

func TestPackUnpackModuleMethodOperand(t *testing.T) {
	operand := bytecode.PackModuleMethodOperand(7, 2)
	alias, method := bytecode.UnpackModuleMethodOperand(operand)
	assert.Equal(t, 7, alias)
	assert.Equal(t, 2, method)
}
