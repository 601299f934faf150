package amd64

import (
	"encoding/binary"

	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/asm"
	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	Reg byte

	Arch struct{}

	// Emitter generates System V code keeping every value in its frame slot.
	// Only RAX and RCX are used besides argument registers.
	Emitter struct {
		asm.Buffer
	}
)

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
)

const fixRel32 = 0

var ArgRegs = []Reg{RDI, RSI, RDX, RCX, R8, R9}

var setcc = [...]byte{
	ir.Equal:                      0x94,
	ir.NotEqual:                   0x95,
	ir.SignedLessThan:             0x9c,
	ir.SignedGreaterThanOrEqual:   0x9d,
	ir.SignedGreaterThan:          0x9f,
	ir.SignedLessThanOrEqual:      0x9e,
	ir.UnsignedLessThan:           0x92,
	ir.UnsignedGreaterThanOrEqual: 0x93,
	ir.UnsignedGreaterThan:        0x97,
	ir.UnsignedLessThanOrEqual:    0x96,
}

var _ back.Arch = Arch{}

func (Arch) Name() string { return "amd64" }

func (Arch) PointerType() tp.Type { return tp.I64 }

func (Arch) MaxArgs() int { return len(ArgRegs) }

func (Arch) NewEmitter() back.Emitter { return &Emitter{} }

func (Arch) Patch(code []byte, r asm.Reloc, addr uint64) error {
	if r.Kind != asm.Abs64 {
		return errors.New("unsupported relocation: %v", r.Kind)
	}

	if r.Offset < 0 || r.Offset+8 > len(code) {
		return errors.New("relocation out of bounds: %#x", r.Offset)
	}

	binary.LittleEndian.PutUint64(code[r.Offset:], addr)

	return nil
}

func (e *Emitter) Prologue(frame int) {
	// the call pushed 8 bytes, keep rsp 16 byte aligned for calls
	e.Byte(0x48, 0x81, 0xec)
	e.U32(uint32(frame + 8))
}

func (e *Emitter) Param(i int, dst back.Slot) {
	e.store(dst, ArgRegs[i])
}

func (e *Emitter) Const(dst back.Slot, imm int64) {
	if int64(int32(imm)) == imm {
		e.Byte(0x48, 0xc7, modrm(3, 0, RAX))
		e.U32(uint32(imm))
	} else {
		e.Byte(0x48, 0xb8)
		e.U64(uint64(imm))
	}

	e.store(dst, RAX)
}

func (e *Emitter) Symbol(dst back.Slot, sym string) {
	e.Byte(0x48, 0xb8)
	e.Reloc(asm.Abs64, sym)
	e.U64(0)

	e.store(dst, RAX)
}

func (e *Emitter) Binary(op asm.Op, dst, l, r back.Slot) {
	e.load(RAX, l)
	e.load(RCX, r)

	switch op {
	case asm.OpAdd:
		e.Byte(0x48, 0x01, modrm(3, RCX, RAX))
	case asm.OpSub:
		e.Byte(0x48, 0x29, modrm(3, RCX, RAX))
	case asm.OpMul:
		e.Byte(0x48, 0x0f, 0xaf, modrm(3, RAX, RCX))
	default:
		panic(op)
	}

	e.store(dst, RAX)
}

func (e *Emitter) Compare(cc ir.IntCC, dst, l, r back.Slot) {
	e.load(RAX, l)
	e.load(RCX, r)

	e.Byte(0x48, 0x39, modrm(3, RCX, RAX)) // cmp rax, rcx
	e.Byte(0x0f, setcc[cc], modrm(3, 0, RAX))
	e.Byte(0x0f, 0xb6, modrm(3, RAX, RAX)) // movzx eax, al

	e.store(dst, RAX)
}

func (e *Emitter) Copy(dst, src back.Slot) {
	e.load(RAX, src)
	e.store(dst, RAX)
}

func (e *Emitter) BranchZero(src back.Slot, l asm.Label) {
	e.load(RAX, src)
	e.Byte(0x48, 0x85, modrm(3, RAX, RAX))

	e.Byte(0x0f, 0x84)
	e.rel32(l)
}

func (e *Emitter) Jump(l asm.Label) {
	e.Byte(0xe9)
	e.rel32(l)
}

func (e *Emitter) Call(sym string, args []back.Slot, dst back.Slot) {
	for i, a := range args {
		e.load(ArgRegs[i], a)
	}

	e.Byte(0x48, 0xb8)
	e.Reloc(asm.Abs64, sym)
	e.U64(0)

	e.Byte(0xff, modrm(3, 2, RAX)) // call rax

	if dst != back.NoSlot {
		e.store(dst, RAX)
	}
}

func (e *Emitter) Return(src back.Slot, frame int) {
	if src != back.NoSlot {
		e.load(RAX, src)
	}

	e.Byte(0x48, 0x81, 0xc4)
	e.U32(uint32(frame + 8))

	e.Byte(0xc3)
}

func (e *Emitter) Finish() ([]byte, []asm.Reloc, error) {
	err := e.Resolve(patchRel32)
	if err != nil {
		return nil, nil, err
	}

	return e.Code, e.Relocs, nil
}

func (e *Emitter) rel32(l asm.Label) {
	e.Fixup(e.Len(), l, fixRel32)
	e.U32(0)
}

func patchRel32(code []byte, f asm.Fixup, target int) error {
	rel := target - (f.Offset + 4)

	binary.LittleEndian.PutUint32(code[f.Offset:], uint32(int32(rel)))

	return nil
}

// load emits mov r, [rsp+slot*8].
func (e *Emitter) load(r Reg, s back.Slot) {
	e.Byte(rexW(r), 0x8b)
	e.mem(r, s)
}

// store emits mov [rsp+slot*8], r.
func (e *Emitter) store(s back.Slot, r Reg) {
	e.Byte(rexW(r), 0x89)
	e.mem(r, s)
}

func (e *Emitter) mem(r Reg, s back.Slot) {
	disp := int(s) * 8

	switch {
	case disp == 0:
		e.Byte(modrm(0, r, RSP), 0x24)
	case disp <= 127:
		e.Byte(modrm(1, r, RSP), 0x24, byte(disp))
	default:
		e.Byte(modrm(2, r, RSP), 0x24)
		e.U32(uint32(disp))
	}
}

func rexW(r Reg) byte {
	if r >= R8 {
		return 0x4c
	}

	return 0x48
}

func modrm(mod byte, reg, rm Reg) byte {
	return mod<<6 | byte(reg&7)<<3 | byte(rm&7)
}
