package llvm

import (
	"fmt"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	// DataFunc returns contents of a data symbol.
	DataFunc func(name string) ([]byte, bool)

	exporter struct {
		m *llir.Module
		f *ir.Func

		fn     *llir.Func
		blocks []*llir.Block
		phis   [][]*llir.InstPhi
		vals   []value.Value

		funcs   []*llir.Func
		globals []*llir.Global
	}
)

var preds = [...]enum.IPred{
	ir.Equal:                      enum.IPredEQ,
	ir.NotEqual:                   enum.IPredNE,
	ir.SignedLessThan:             enum.IPredSLT,
	ir.SignedGreaterThanOrEqual:   enum.IPredSGE,
	ir.SignedGreaterThan:          enum.IPredSGT,
	ir.SignedLessThanOrEqual:      enum.IPredSLE,
	ir.UnsignedLessThan:           enum.IPredULT,
	ir.UnsignedGreaterThanOrEqual: enum.IPredUGE,
	ir.UnsignedGreaterThan:        enum.IPredUGT,
	ir.UnsignedLessThanOrEqual:    enum.IPredULE,
}

// Export translates f into a function definition in m.
// Block params become phi nodes, imports become declarations
// and symbols become globals filled by data if it knows them.
func Export(m *llir.Module, f *ir.Func, data DataFunc) (*llir.Func, error) {
	if find(m, f.Name) != nil {
		return nil, errors.New("function %v already in module", f.Name)
	}

	e := &exporter{m: m, f: f}

	err := e.export(data)
	if err != nil {
		return nil, errors.Wrap(err, "export %v", f.Name)
	}

	return e.fn, nil
}

func (e *exporter) export(data DataFunc) (err error) {
	f := e.f

	for _, x := range f.FuncRefs {
		callee, err := e.declare(x)
		if err != nil {
			return errors.Wrap(err, "import %v", x.Name)
		}

		e.funcs = append(e.funcs, callee)
	}

	for _, g := range f.GlobalRefs {
		e.globals = append(e.globals, e.global(g.Name, data))
	}

	ret, err := retType(f.Sig)
	if err != nil {
		return err
	}

	entry := f.Blocks[f.Entry]

	params := make([]*llir.Param, len(entry.Params))

	for i, p := range entry.Params {
		t, err := llType(f.Type(p))
		if err != nil {
			return err
		}

		params[i] = llir.NewParam(name(p), t)
	}

	e.fn = e.m.NewFunc(f.Name, ret, params...)
	e.fn.Linkage = enum.LinkageExternal

	e.vals = make([]value.Value, len(f.Values))
	e.blocks = make([]*llir.Block, len(f.Blocks))
	e.phis = make([][]*llir.InstPhi, len(f.Blocks))

	for i, p := range entry.Params {
		e.vals[p] = params[i]
	}

	order := e.order()

	for _, b := range order {
		e.blocks[b] = e.fn.NewBlock(fmt.Sprintf("block%d", b))
	}

	for _, b := range order {
		if b == f.Entry {
			continue
		}

		for _, p := range f.Blocks[b].Params {
			t, err := llType(f.Type(p))
			if err != nil {
				return err
			}

			phi := &llir.InstPhi{Typ: t}
			phi.SetName(name(p))

			e.blocks[b].Insts = append(e.blocks[b].Insts, phi)
			e.phis[b] = append(e.phis[b], phi)
			e.vals[p] = phi
		}
	}

	for _, b := range order {
		for _, i := range f.Blocks[b].Code {
			err = e.inst(b, i)
			if err != nil {
				return errors.Wrap(err, "block%d: inst %d", b, i)
			}
		}
	}

	return nil
}

func (e *exporter) inst(b ir.Block, i ir.Inst) error {
	blk := e.blocks[b]
	out := e.f.Outs[i]

	var res value.Named

	switch x := e.f.Insts[i].(type) {
	case ir.Iconst:
		t, err := llType(x.Type)
		if err != nil {
			return err
		}

		e.vals[out] = constant.NewInt(t.(*types.IntType), x.Imm)

		return nil
	case ir.Iadd:
		res = blk.NewAdd(e.vals[x.L], e.vals[x.R])
	case ir.Isub:
		res = blk.NewSub(e.vals[x.L], e.vals[x.R])
	case ir.Imul:
		res = blk.NewMul(e.vals[x.L], e.vals[x.R])
	case ir.Icmp:
		res = blk.NewICmp(preds[x.Cond], e.vals[x.L], e.vals[x.R])
	case ir.SymbolValue:
		t, err := llType(x.Type)
		if err != nil {
			return err
		}

		res = blk.NewPtrToInt(e.globals[x.Global], t)
	case ir.Call:
		args := make([]value.Value, len(x.Args))

		for j, a := range x.Args {
			args[j] = e.vals[a]
		}

		call := blk.NewCall(e.funcs[x.Func], args...)

		if out == ir.NoValue {
			return nil
		}

		res = call
	case ir.Jump:
		err := e.edge(b, x.Dest)
		if err != nil {
			return err
		}

		blk.NewBr(e.blocks[x.Dest.Block])

		return nil
	case ir.Brz:
		if x.Then.Block == x.Else.Block {
			return errors.New("brz with both edges to block%d", x.Then.Block)
		}

		for _, c := range []ir.BlockCall{x.Then, x.Else} {
			err := e.edge(b, c)
			if err != nil {
				return err
			}
		}

		cond := e.vals[x.Cond]

		if !tp.IsBool(e.f.Type(x.Cond)) {
			t, _ := llType(e.f.Type(x.Cond))
			cond = blk.NewICmp(enum.IPredNE, cond, constant.NewInt(t.(*types.IntType), 0))
		}

		blk.NewCondBr(cond, e.blocks[x.Else.Block], e.blocks[x.Then.Block])

		return nil
	case ir.Return:
		if len(x.Vals) == 0 {
			blk.NewRet(nil)
		} else {
			blk.NewRet(e.vals[x.Vals[0]])
		}

		return nil
	default:
		return errors.New("unsupported instruction: %T", x)
	}

	res.SetName(name(out))
	e.vals[out] = res

	return nil
}

func (e *exporter) edge(from ir.Block, c ir.BlockCall) error {
	if c.Block == e.f.Entry {
		return errors.New("branch to entry block")
	}

	pred := e.blocks[from]

	for j, a := range c.Args {
		phi := e.phis[c.Block][j]
		phi.Incs = append(phi.Incs, llir.NewIncoming(e.vals[a], pred))
	}

	return nil
}

// order returns reachable blocks in reverse postorder so definitions come before uses.
func (e *exporter) order() []ir.Block {
	seen := make([]bool, len(e.f.Blocks))
	var post []ir.Block

	var visit func(b ir.Block)
	visit = func(b ir.Block) {
		seen[b] = true

		for _, s := range e.f.Successors(b) {
			if !seen[s] {
				visit(s)
			}
		}

		post = append(post, b)
	}

	visit(e.f.Entry)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}

func (e *exporter) declare(x ir.ExtFunc) (*llir.Func, error) {
	if f := find(e.m, x.Name); f != nil {
		return f, nil
	}

	ret, err := retType(x.Sig)
	if err != nil {
		return nil, err
	}

	params := make([]*llir.Param, len(x.Sig.Params))

	for i, p := range x.Sig.Params {
		t, err := llType(p)
		if err != nil {
			return nil, err
		}

		params[i] = llir.NewParam("", t)
	}

	return e.m.NewFunc(x.Name, ret, params...), nil
}

func (e *exporter) global(n string, data DataFunc) *llir.Global {
	for _, g := range e.m.Globals {
		if g.Name() == n {
			return g
		}
	}

	if data != nil {
		if b, ok := data(n); ok {
			g := e.m.NewGlobalDef(n, constant.NewCharArray(b))
			g.Linkage = enum.LinkageInternal

			return g
		}
	}

	return e.m.NewGlobal(n, types.I8)
}

func find(m *llir.Module, n string) *llir.Func {
	for _, f := range m.Funcs {
		if f.Name() == n {
			return f
		}
	}

	return nil
}

func retType(s ir.Signature) (types.Type, error) {
	if len(s.Returns) == 0 {
		return types.Void, nil
	}

	if len(s.Returns) > 1 {
		return nil, errors.New("multiple results")
	}

	return llType(s.Returns[0])
}

func llType(t tp.Type) (types.Type, error) {
	switch t := t.(type) {
	case tp.Int:
		return types.NewInt(uint64(t.Bits)), nil
	case tp.Bool:
		return types.I1, nil
	default:
		return nil, errors.New("unsupported type: %v", t)
	}
}

func name(v ir.Value) string {
	return fmt.Sprintf("v%d", v)
}
