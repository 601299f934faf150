package asm

import (
	"encoding/binary"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	Label int
	Op    int

	RelocKind int

	// Reloc is a reference to a symbol address patched at link time.
	Reloc struct {
		Offset int
		Kind   RelocKind
		Symbol string
	}

	// Fixup is a reference to a label patched when the buffer is resolved.
	// Kind is defined by the architecture.
	Fixup struct {
		Offset int
		Label  Label
		Kind   int
	}

	// PatchFunc writes the distance to target into the instruction at fix.Offset.
	PatchFunc func(code []byte, fix Fixup, target int) error

	Buffer struct {
		Code   []byte
		Relocs []Reloc

		labels []int
		fixups []Fixup
	}
)

const (
	OpAdd Op = iota
	OpSub
	OpMul
)

const (
	// Abs64 is a 64-bit little endian address word.
	Abs64 RelocKind = iota
	// MovWide is a movz/movk x4 sequence loading an address into a register.
	MovWide
)

var (
	ErrUnboundLabel = errors.New("unbound label")
	ErrOutOfRange   = errors.New("branch out of range")
)

func (b *Buffer) Len() int { return len(b.Code) }

func (b *Buffer) NewLabel() Label {
	b.labels = append(b.labels, -1)

	return Label(len(b.labels) - 1)
}

func (b *Buffer) Bind(l Label) {
	b.labels[l] = len(b.Code)
}

func (b *Buffer) Bound(l Label) (int, bool) {
	off := b.labels[l]

	return off, off >= 0
}

func (b *Buffer) Byte(bs ...byte) {
	b.Code = append(b.Code, bs...)
}

func (b *Buffer) U32(v uint32) {
	b.Code = binary.LittleEndian.AppendUint32(b.Code, v)
}

func (b *Buffer) U64(v uint64) {
	b.Code = binary.LittleEndian.AppendUint64(b.Code, v)
}

// Fixup records a reference to l at offset off.
func (b *Buffer) Fixup(off int, l Label, kind int) {
	b.fixups = append(b.fixups, Fixup{Offset: off, Label: l, Kind: kind})
}

// Reloc records a reference to sym at the current position.
func (b *Buffer) Reloc(kind RelocKind, sym string) {
	b.Relocs = append(b.Relocs, Reloc{Offset: len(b.Code), Kind: kind, Symbol: sym})
}

// Resolve patches all label references.
func (b *Buffer) Resolve(patch PatchFunc) error {
	for _, f := range b.fixups {
		target := b.labels[f.Label]
		if target < 0 {
			return errors.Wrap(ErrUnboundLabel, "label %d at %#x", f.Label, f.Offset)
		}

		err := patch(b.Code, f, target)
		if err != nil {
			return errors.Wrap(err, "fixup at %#x", f.Offset)
		}
	}

	b.fixups = b.fixups[:0]

	return nil
}

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	default:
		return "op?"
	}
}

func (k RelocKind) String() string {
	switch k {
	case Abs64:
		return "abs64"
	case MovWide:
		return "movwide"
	default:
		return "reloc?"
	}
}

func (r Reloc) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)
	b = e.AppendKeyInt(b, "off", r.Offset)
	b = e.AppendKeyValue(b, "kind", r.Kind.String())
	b = e.AppendKeyValue(b, "sym", r.Symbol)

	return b
}
