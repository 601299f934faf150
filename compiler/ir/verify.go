package ir

import (
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/set"
	"github.com/slowlang/slowjit/compiler/tp"
)

var (
	ErrNoEntry        = errors.New("no entry block")
	ErrUnterminated   = errors.New("block is not terminated")
	ErrArgs           = errors.New("arguments mismatch")
	ErrUndefinedValue = errors.New("value is not defined")
	ErrTypeMismatch   = errors.New("type mismatch")
)

type verifier struct {
	*Func

	inLayout set.Bitmap
	pos      []int // inst -> position in its block
	dom      []set.Bitmap
}

// Verify checks that f is a well formed function ready for code generation.
func Verify(f *Func) error {
	v := &verifier{Func: f}

	if f.Entry == NoBlock || int(f.Entry) >= len(f.Blocks) {
		return ErrNoEntry
	}

	if len(f.Layout) == 0 || f.Layout[0] != f.Entry {
		return errors.Wrap(ErrNoEntry, "entry is not first in layout")
	}

	params := f.Blocks[f.Entry].Params
	if len(params) != len(f.Sig.Params) {
		return errors.Wrap(ErrArgs, "entry block has %d params, signature %d", len(params), len(f.Sig.Params))
	}

	for i, p := range params {
		if f.Type(p) != f.Sig.Params[i] {
			return errors.Wrap(ErrTypeMismatch, "entry param %d: %v, signature %v", i, f.Type(p), f.Sig.Params[i])
		}
	}

	v.inLayout = set.MakeBitmap(len(f.Blocks))
	v.pos = make([]int, len(f.Insts))

	for _, b := range f.Layout {
		v.inLayout.Set(int(b))

		for j, i := range f.Blocks[b].Code {
			v.pos[i] = j
		}
	}

	v.dominators()

	for _, b := range f.Layout {
		err := v.block(b)
		if err != nil {
			return errors.Wrap(err, "block%d", b)
		}
	}

	return nil
}

func (v *verifier) block(b Block) error {
	code := v.Blocks[b].Code
	if len(code) == 0 {
		return errors.Wrap(ErrUnterminated, "empty")
	}

	for j, i := range code {
		x := v.Insts[i]

		if term := IsTerminator(x); term != (j == len(code)-1) {
			if term {
				return errors.New("terminator %T in the middle of the block", x)
			}

			return ErrUnterminated
		}

		for _, u := range Uses(x) {
			err := v.defined(b, i, u)
			if err != nil {
				return errors.Wrap(err, "inst %d: %T", i, x)
			}
		}

		err := v.inst(i, x)
		if err != nil {
			return errors.Wrap(err, "inst %d: %T", i, x)
		}
	}

	return nil
}

func (v *verifier) inst(i Inst, x any) (err error) {
	switch x := x.(type) {
	case Iconst:
		if !tp.Valid(x.Type) {
			return errors.Wrap(ErrTypeMismatch, "constant of type %v", x.Type)
		}
	case Iadd:
		return v.binary(x.L, x.R)
	case Isub:
		return v.binary(x.L, x.R)
	case Imul:
		return v.binary(x.L, x.R)
	case Icmp:
		if x.Cond < Equal || x.Cond > UnsignedLessThanOrEqual {
			return errors.New("bad condition code: %d", x.Cond)
		}

		return v.binary(x.L, x.R)
	case SymbolValue:
		if int(x.Global) >= len(v.GlobalRefs) || x.Global < 0 {
			return errors.New("bad global ref: %d", x.Global)
		}
	case Call:
		if int(x.Func) >= len(v.FuncRefs) || x.Func < 0 {
			return errors.New("bad func ref: %d", x.Func)
		}

		ext := v.FuncRefs[x.Func]

		err = v.args(ext.Sig.Params, x.Args)
		if err != nil {
			return errors.Wrap(err, "call %v", ext.Name)
		}
	case Jump:
		return v.edge(x.Dest)
	case Brz:
		t := v.Type(x.Cond)
		if !tp.IsInt(t) && !tp.IsBool(t) {
			return errors.Wrap(ErrTypeMismatch, "branch condition of type %v", t)
		}

		err = v.edge(x.Then)
		if err != nil {
			return errors.Wrap(err, "then")
		}

		err = v.edge(x.Else)
		if err != nil {
			return errors.Wrap(err, "else")
		}
	case Return:
		return v.args(v.Sig.Returns, x.Vals)
	default:
		panic(x)
	}

	return nil
}

func (v *verifier) binary(l, r Value) error {
	lt, rt := v.Type(l), v.Type(r)

	if lt != rt || !tp.IsInt(lt) {
		return errors.Wrap(ErrTypeMismatch, "operands %v and %v", lt, rt)
	}

	return nil
}

func (v *verifier) edge(c BlockCall) error {
	if c.Block < 0 || int(c.Block) >= len(v.Blocks) || !v.inLayout.IsSet(int(c.Block)) {
		return errors.New("branch to unknown block%d", c.Block)
	}

	var want []tp.Type

	for _, p := range v.Blocks[c.Block].Params {
		want = append(want, v.Type(p))
	}

	err := v.args(want, c.Args)
	if err != nil {
		return errors.Wrap(err, "block%d", c.Block)
	}

	return nil
}

func (v *verifier) args(want []tp.Type, vals []Value) error {
	if len(want) != len(vals) {
		return errors.Wrap(ErrArgs, "want %d, got %d", len(want), len(vals))
	}

	for i, x := range vals {
		if t := v.Type(x); t != want[i] {
			return errors.Wrap(ErrTypeMismatch, "arg %d: want %v, got %v", i, want[i], t)
		}
	}

	return nil
}

func (v *verifier) defined(b Block, at Inst, x Value) error {
	if x < 0 || int(x) >= len(v.Values) {
		return errors.Wrap(ErrUndefinedValue, "v%d", x)
	}

	d := v.Values[x]

	if !v.inLayout.IsSet(int(d.Block)) {
		return errors.Wrap(ErrUndefinedValue, "v%d lives in block%d which is not in layout", x, d.Block)
	}

	if d.Block == b {
		if d.Inst != NoInst && v.pos[d.Inst] >= v.pos[at] {
			return errors.Wrap(ErrUndefinedValue, "v%d used before its definition", x)
		}

		return nil
	}

	if !v.dom[b].IsSet(int(d.Block)) {
		return errors.Wrap(ErrUndefinedValue, "v%d: block%d does not dominate block%d", x, d.Block, b)
	}

	return nil
}

func (v *verifier) dominators() {
	n := len(v.Blocks)

	preds := make([][]Block, n)

	for _, b := range v.Layout {
		for _, s := range v.Successors(b) {
			if s >= 0 && int(s) < n {
				preds[s] = append(preds[s], b)
			}
		}
	}

	v.dom = make([]set.Bitmap, n)

	for _, b := range v.Layout {
		v.dom[b] = set.MakeBitmap(n)

		if b == v.Entry {
			v.dom[b].Set(int(b))
		} else {
			v.dom[b].FillSet(0, n)
		}
	}

	for changed := true; changed; {
		changed = false

		for _, b := range v.Layout {
			if b == v.Entry {
				continue
			}

			d := set.MakeBitmap(n)
			d.FillSet(0, n)

			for _, p := range preds[b] {
				d.And(v.dom[p])
			}

			d.Set(int(b))

			if d.Size() != v.dom[b].Size() {
				v.dom[b] = d
				changed = true
			}
		}
	}
}
