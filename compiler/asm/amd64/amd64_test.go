package amd64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/asm"
	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/ir"
)

func TestEmitAdd(t *testing.T) {
	e := &Emitter{}

	e.Prologue(32)
	e.Param(0, 0)
	e.Param(1, 1)
	e.Binary(asm.OpAdd, 2, 0, 1)
	e.Return(2, 32)

	code, relocs, err := e.Finish()
	require.NoError(t, err)
	assert.Empty(t, relocs)

	assert.Equal(t, []byte{
		0x48, 0x81, 0xec, 0x28, 0x00, 0x00, 0x00, // sub rsp, 40
		0x48, 0x89, 0x3c, 0x24, // mov [rsp], rdi
		0x48, 0x89, 0x74, 0x24, 0x08, // mov [rsp+8], rsi
		0x48, 0x8b, 0x04, 0x24, // mov rax, [rsp]
		0x48, 0x8b, 0x4c, 0x24, 0x08, // mov rcx, [rsp+8]
		0x48, 0x01, 0xc8, // add rax, rcx
		0x48, 0x89, 0x44, 0x24, 0x10, // mov [rsp+16], rax
		0x48, 0x8b, 0x44, 0x24, 0x10, // mov rax, [rsp+16]
		0x48, 0x81, 0xc4, 0x28, 0x00, 0x00, 0x00, // add rsp, 40
		0xc3, // ret
	}, code)
}

func TestEmitCompare(t *testing.T) {
	e := &Emitter{}

	e.Compare(ir.Equal, 2, 0, 1)

	assert.Equal(t, []byte{
		0x48, 0x8b, 0x04, 0x24,
		0x48, 0x8b, 0x4c, 0x24, 0x08,
		0x48, 0x39, 0xc8, // cmp rax, rcx
		0x0f, 0x94, 0xc0, // sete al
		0x0f, 0xb6, 0xc0, // movzx eax, al
		0x48, 0x89, 0x44, 0x24, 0x10,
	}, e.Code)
}

func TestEmitConst(t *testing.T) {
	e := &Emitter{}

	e.Const(0, -1)
	e.Const(20, 1<<40)

	assert.Equal(t, []byte{
		0x48, 0xc7, 0xc0, 0xff, 0xff, 0xff, 0xff, // mov rax, -1
		0x48, 0x89, 0x04, 0x24,
		0x48, 0xb8, 0, 0, 0, 0, 0, 0x01, 0, 0, // movabs rax, 1<<40
		0x48, 0x89, 0x84, 0x24, 0xa0, 0x00, 0x00, 0x00, // mov [rsp+160], rax
	}, e.Code)
}

func TestEmitBranches(t *testing.T) {
	e := &Emitter{}

	top := e.NewLabel()
	end := e.NewLabel()

	e.Bind(top)
	e.BranchZero(0, end) // 4 + 3 + 6
	e.Jump(top)          // 5
	e.Bind(end)

	code, _, err := e.Finish()
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x48, 0x8b, 0x04, 0x24,
		0x48, 0x85, 0xc0, // test rax, rax
		0x0f, 0x84, 0x05, 0x00, 0x00, 0x00, // jz +5
		0xe9, 0xee, 0xff, 0xff, 0xff, // jmp -18
	}, code)
}

func TestEmitCallReloc(t *testing.T) {
	e := &Emitter{}

	e.Symbol(0, "hello_string")
	e.Call("puts", []back.Slot{0}, 1)

	code, relocs, err := e.Finish()
	require.NoError(t, err)

	require.Len(t, relocs, 2)
	assert.Equal(t, asm.Reloc{Offset: 2, Kind: asm.Abs64, Symbol: "hello_string"}, relocs[0])
	assert.Equal(t, "puts", relocs[1].Symbol)

	err = Arch{}.Patch(code, relocs[1], 0x1122334455667788)
	require.NoError(t, err)

	off := relocs[1].Offset
	assert.Equal(t, []byte{0x48, 0xb8}, code[off-2:off])
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, code[off:off+8])
	assert.Equal(t, []byte{0xff, 0xd0}, code[off+8:off+10])

	err = Arch{}.Patch(code, asm.Reloc{Offset: len(code) - 4, Kind: asm.Abs64}, 1)
	assert.Error(t, err)
}

func TestUnboundLabel(t *testing.T) {
	e := &Emitter{}

	e.Jump(e.NewLabel())

	_, _, err := e.Finish()
	assert.ErrorIs(t, err, asm.ErrUnboundLabel)
}

func TestPuts(t *testing.T) {
	b := Arch{}.Puts(3)

	assert.Equal(t, []byte{0x48, 0x89, 0xfe}, b[:3])
	assert.Equal(t, byte(0xc3), b[len(b)-1])
	assert.Equal(t, 2, countSyscalls(b))
	// mov edi, 3; syscall
	assert.Contains(t, string(b), string([]byte{0xbf, 0x03, 0x00, 0x00, 0x00, 0x0f, 0x05}))
}

func countSyscalls(b []byte) (n int) {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == 0x0f && b[i+1] == 0x05 {
			n++
		}
	}

	return n
}
