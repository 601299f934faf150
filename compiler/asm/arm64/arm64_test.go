package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/asm"
	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/ir"
)

func TestInstructions(t *testing.T) {
	for _, tc := range []struct {
		name string
		got  uint32
		exp  uint32
	}{
		{"ldr x0, [sp, #16]", LDR(X0, SP, 16), 0xf9400be0},
		{"str x1, [sp, #8]", STR(X1, SP, 8), 0xf90007e1},
		{"add x0, x0, x1", ADD(X0, X0, X1), 0x8b010000},
		{"sub x0, x0, x1", SUB(X0, X0, X1), 0xcb010000},
		{"mul x0, x0, x1", MUL(X0, X0, X1), 0x9b017c00},
		{"cmp x0, x1", CMP(X0, X1), 0xeb01001f},
		{"cset x0, eq", CSET(X0, EQ), 0x9a9f17e0},
		{"cset x0, lt", CSET(X0, LT), 0x9a9fa7e0},
		{"movz x0, #42", MOVZ(X0, 42, 0), 0xd2800540},
		{"movk x9, #1, lsl #48", MOVK(X9, 1, 3), 0xf2e00029},
		{"mov x1, x0", MOV(X1, X0), 0xaa0003e1},
		{"sub sp, sp, #32", SUBI(SP, SP, 32), 0xd10083ff},
		{"add sp, sp, #32", ADDI(SP, SP, 32), 0x910083ff},
		{"mov x29, sp", ADDI(FP, SP, 0), 0x910003fd},
		{"blr x9", BLR(X9), 0xd63f0120},
		{"b #-3", B(-3), 0x17fffffd},
		{"cbz x0, #2", CBZ(X0, 2), 0xb4000040},
		{"ret", RET(), 0xd65f03c0},
	} {
		assert.Equal(t, tc.exp, tc.got, "%s: %#08x", tc.name, tc.got)
	}
}

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

	assert.Equal(t, []uint32{
		0xa9bf7bfd, // stp x29, x30, [sp, #-16]!
		0x910003fd, // mov x29, sp
		0xd10083ff, // sub sp, sp, #32
		0xf90003e0, // str x0, [sp]
		0xf90007e1, // str x1, [sp, #8]
		0xf94003e0, // ldr x0, [sp]
		0xf94007e1, // ldr x1, [sp, #8]
		0x8b010000, // add x0, x0, x1
		0xf9000be0, // str x0, [sp, #16]
		0xf9400be0, // ldr x0, [sp, #16]
		0x910083ff, // add sp, sp, #32
		0xa8c17bfd, // ldp x29, x30, [sp], #16
		0xd65f03c0, // ret
	}, words(code))
}

func TestEmitBranches(t *testing.T) {
	e := &Emitter{}

	top := e.NewLabel()
	end := e.NewLabel()

	e.Bind(top)
	e.BranchZero(0, end)
	e.Jump(top)
	e.Bind(end)

	code, _, err := e.Finish()
	require.NoError(t, err)

	assert.Equal(t, []uint32{
		0xf94003e0, // ldr x0, [sp]
		0xb4000040, // cbz x0, +2
		0x17fffffe, // b -2
	}, words(code))
}

func TestEmitCompareUnsigned(t *testing.T) {
	e := &Emitter{}

	e.Compare(ir.UnsignedGreaterThan, 0, 1, 2)

	w := words(e.Code)
	require.Len(t, w, 5)
	assert.Equal(t, CSET(X0, HI), w[3])
}

func TestCallReloc(t *testing.T) {
	e := &Emitter{}

	e.Call("puts", []back.Slot{0}, 1)

	code, relocs, err := e.Finish()
	require.NoError(t, err)
	require.Len(t, relocs, 1)

	r := relocs[0]
	assert.Equal(t, asm.Reloc{Offset: 4, Kind: asm.MovWide, Symbol: "puts"}, r)

	err = Arch{}.Patch(code, r, 0x1122334455667788)
	require.NoError(t, err)

	w := words(code)

	assert.Equal(t, []uint32{
		0xf94003e0, // ldr x0, [sp]
		MOVZ(X9, 0x7788, 0),
		MOVK(X9, 0x5566, 1),
		MOVK(X9, 0x3344, 2),
		MOVK(X9, 0x1122, 3),
		BLR(X9),
		0xf90007e0, // str x0, [sp, #8]
	}, w)
}

func TestPuts(t *testing.T) {
	w := words(Arch{}.Puts(1))

	assert.Equal(t, MOV(X1, X0), w[0])
	assert.Equal(t, uint32(0x38626823), w[2])
	assert.Equal(t, uint32(0x34000063), w[3]) // cbz w3, done
	assert.Equal(t, MOVZ(X0, 1, 0), w[7])
	assert.Equal(t, uint32(0xd2800808), w[8])
	assert.Equal(t, RET(), w[len(w)-1])
}

func words(b []byte) []uint32 {
	r := make([]uint32, len(b)/4)

	for i := range r {
		r[i] = binary.LittleEndian.Uint32(b[4*i:])
	}

	return r
}
