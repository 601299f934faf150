package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) ([]byte, error) {
	switch x := x.(type) {
	case *ir.Func:
		return formatFunc(ctx, b, x, d)
	case ir.Signature:
		return formatSig(b, x), nil
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatFunc(ctx context.Context, b []byte, f *ir.Func, d int) (_ []byte, err error) {
	b = app(b, d, "function %v", f.Name)
	b = formatSig(b, f.Sig)
	b = append(b, " {\n"...)

	for i, e := range f.FuncRefs {
		b = app(b, d+1, "fn%d = import %v", i, e.Name)
		b = formatSig(b, e.Sig)
		b = append(b, '\n')
	}

	for i, g := range f.GlobalRefs {
		b = app(b, d+1, "gv%d = symbol %v\n", i, g.Name)
	}

	for _, blk := range f.Layout {
		b, err = formatBlock(ctx, b, f, blk, d)
		if err != nil {
			return nil, errors.Wrap(err, "block%d", blk)
		}
	}

	b = app(b, d, "}\n")

	return b, nil
}

func formatBlock(ctx context.Context, b []byte, f *ir.Func, blk ir.Block, d int) (_ []byte, err error) {
	bd := f.Blocks[blk]

	b = app(b, d, "block%d", blk)

	if len(bd.Params) != 0 {
		b = append(b, '(')

		for i, p := range bd.Params {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "v%d: %v", p, f.Type(p))
		}

		b = append(b, ')')
	}

	b = append(b, ":\n"...)

	for _, i := range bd.Code {
		b = app(b, d+1, "")

		if out := f.Outs[i]; out != ir.NoValue {
			b = app(b, 0, "v%d = ", out)
		}

		b, err = formatInst(ctx, b, f.Insts[i])
		if err != nil {
			return nil, errors.Wrap(err, "inst %d", i)
		}

		b = append(b, '\n')
	}

	return b, nil
}

func formatInst(ctx context.Context, b []byte, x any) ([]byte, error) {
	switch x := x.(type) {
	case ir.Iconst:
		b = app(b, 0, "iconst.%v %d", x.Type, x.Imm)
	case ir.Iadd:
		b = app(b, 0, "iadd v%d, v%d", x.L, x.R)
	case ir.Isub:
		b = app(b, 0, "isub v%d, v%d", x.L, x.R)
	case ir.Imul:
		b = app(b, 0, "imul v%d, v%d", x.L, x.R)
	case ir.Icmp:
		b = app(b, 0, "icmp %v v%d, v%d", x.Cond, x.L, x.R)
	case ir.SymbolValue:
		b = app(b, 0, "symbol_value.%v gv%d", x.Type, x.Global)
	case ir.Call:
		b = app(b, 0, "call fn%d(", x.Func)
		b = values(b, x.Args)
		b = append(b, ')')
	case ir.Jump:
		b = append(b, "jump "...)
		b = blockCall(b, x.Dest)
	case ir.Brz:
		b = app(b, 0, "brz v%d, ", x.Cond)
		b = blockCall(b, x.Then)
		b = append(b, ", "...)
		b = blockCall(b, x.Else)
	case ir.Return:
		b = append(b, "return"...)

		if len(x.Vals) != 0 {
			b = append(b, ' ')
			b = values(b, x.Vals)
		}
	default:
		return nil, errors.New("unsupported inst: %T", x)
	}

	return b, nil
}

func formatSig(b []byte, s ir.Signature) []byte {
	b = append(b, '(')
	b = types(b, s.Params)
	b = append(b, ')')

	if len(s.Returns) != 0 {
		b = append(b, " -> "...)
		b = types(b, s.Returns)
	}

	return b
}

func blockCall(b []byte, c ir.BlockCall) []byte {
	b = app(b, 0, "block%d", c.Block)

	if len(c.Args) == 0 {
		return b
	}

	b = append(b, '(')
	b = values(b, c.Args)
	b = append(b, ')')

	return b
}

func values(b []byte, vs []ir.Value) []byte {
	for i, v := range vs {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "v%d", v)
	}

	return b
}

func types(b []byte, ts []tp.Type) []byte {
	for i, t := range ts {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v", t)
	}

	return b
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
