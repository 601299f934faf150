package arm64

import (
	"encoding/binary"

	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/asm"
	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	Arch struct{}

	// Emitter generates AAPCS64 code keeping every value in its frame slot.
	Emitter struct {
		asm.Buffer
	}
)

const (
	fixCBZ = iota
	fixB
)

// X9 holds call targets: it is a temporary not used for arguments.
const callReg = X9

var ArgRegs = []Reg{X0, X1, X2, X3, X4, X5}

var conds = [...]Cond{
	ir.Equal:                      EQ,
	ir.NotEqual:                   NE,
	ir.SignedLessThan:             LT,
	ir.SignedGreaterThanOrEqual:   GE,
	ir.SignedGreaterThan:          GT,
	ir.SignedLessThanOrEqual:      LE,
	ir.UnsignedLessThan:           LO,
	ir.UnsignedGreaterThanOrEqual: HS,
	ir.UnsignedGreaterThan:        HI,
	ir.UnsignedLessThanOrEqual:    LS,
}

var _ back.Arch = Arch{}

func (Arch) Name() string { return "arm64" }

func (Arch) PointerType() tp.Type { return tp.I64 }

func (Arch) MaxArgs() int { return len(ArgRegs) }

func (Arch) NewEmitter() back.Emitter { return &Emitter{} }

func (Arch) Patch(code []byte, r asm.Reloc, addr uint64) error {
	if r.Kind != asm.MovWide {
		return errors.New("unsupported relocation: %v", r.Kind)
	}

	if r.Offset < 0 || r.Offset+16 > len(code) {
		return errors.New("relocation out of bounds: %#x", r.Offset)
	}

	for hw := 0; hw < 4; hw++ {
		p := code[r.Offset+4*hw:]

		x := binary.LittleEndian.Uint32(p)
		x = x&^(0xffff<<5) | uint32(uint16(addr>>(16*hw)))<<5

		binary.LittleEndian.PutUint32(p, x)
	}

	return nil
}

func (e *Emitter) Prologue(frame int) {
	e.ins(STPPre())
	e.ins(ADDI(FP, SP, 0))

	if frame != 0 {
		e.ins(SUBI(SP, SP, frame))
	}
}

func (e *Emitter) Param(i int, dst back.Slot) {
	e.store(dst, ArgRegs[i])
}

func (e *Emitter) Const(dst back.Slot, imm int64) {
	e.movImm(X0, uint64(imm))
	e.store(dst, X0)
}

func (e *Emitter) Symbol(dst back.Slot, sym string) {
	e.movSym(X0, sym)
	e.store(dst, X0)
}

func (e *Emitter) Binary(op asm.Op, dst, l, r back.Slot) {
	e.load(X0, l)
	e.load(X1, r)

	switch op {
	case asm.OpAdd:
		e.ins(ADD(X0, X0, X1))
	case asm.OpSub:
		e.ins(SUB(X0, X0, X1))
	case asm.OpMul:
		e.ins(MUL(X0, X0, X1))
	default:
		panic(op)
	}

	e.store(dst, X0)
}

func (e *Emitter) Compare(cc ir.IntCC, dst, l, r back.Slot) {
	e.load(X0, l)
	e.load(X1, r)

	e.ins(CMP(X0, X1))
	e.ins(CSET(X0, conds[cc]))

	e.store(dst, X0)
}

func (e *Emitter) Copy(dst, src back.Slot) {
	e.load(X0, src)
	e.store(dst, X0)
}

func (e *Emitter) BranchZero(src back.Slot, l asm.Label) {
	e.load(X0, src)

	e.Fixup(e.Len(), l, fixCBZ)
	e.ins(CBZ(X0, 0))
}

func (e *Emitter) Jump(l asm.Label) {
	e.Fixup(e.Len(), l, fixB)
	e.ins(B(0))
}

func (e *Emitter) Call(sym string, args []back.Slot, dst back.Slot) {
	for i, a := range args {
		e.load(ArgRegs[i], a)
	}

	e.movSym(callReg, sym)
	e.ins(BLR(callReg))

	if dst != back.NoSlot {
		e.store(dst, X0)
	}
}

func (e *Emitter) Return(src back.Slot, frame int) {
	if src != back.NoSlot {
		e.load(X0, src)
	}

	if frame != 0 {
		e.ins(ADDI(SP, SP, frame))
	}

	e.ins(LDPPost())
	e.ins(RET())
}

func (e *Emitter) Finish() ([]byte, []asm.Reloc, error) {
	err := e.Resolve(patchBranch)
	if err != nil {
		return nil, nil, err
	}

	return e.Code, e.Relocs, nil
}

func patchBranch(code []byte, f asm.Fixup, target int) error {
	off := (target - f.Offset) / 4
	p := code[f.Offset:]

	x := binary.LittleEndian.Uint32(p)

	switch f.Kind {
	case fixCBZ:
		if off < -1<<18 || off >= 1<<18 {
			return errors.Wrap(asm.ErrOutOfRange, "cbz %d", off)
		}

		x |= uint32(off) & 0x7ffff << 5
	case fixB:
		if off < -1<<25 || off >= 1<<25 {
			return errors.Wrap(asm.ErrOutOfRange, "b %d", off)
		}

		x |= uint32(off) & 0x3ffffff
	default:
		panic(f.Kind)
	}

	binary.LittleEndian.PutUint32(p, x)

	return nil
}

func (e *Emitter) movImm(d Reg, x uint64) {
	e.ins(MOVZ(d, uint16(x), 0))

	for hw := 1; hw < 4; hw++ {
		if c := uint16(x >> (16 * hw)); c != 0 {
			e.ins(MOVK(d, c, hw))
		}
	}
}

func (e *Emitter) movSym(d Reg, sym string) {
	e.Reloc(asm.MovWide, sym)

	e.ins(MOVZ(d, 0, 0))

	for hw := 1; hw < 4; hw++ {
		e.ins(MOVK(d, 0, hw))
	}
}

func (e *Emitter) load(r Reg, s back.Slot) {
	e.ins(LDR(r, SP, int(s)*8))
}

func (e *Emitter) store(s back.Slot, r Reg) {
	e.ins(STR(r, SP, int(s)*8))
}

func (e *Emitter) ins(x uint32) {
	e.U32(x)
}
