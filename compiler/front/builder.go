package front

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/set"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	Variable int

	// Builder constructs one ir.Func top to bottom.
	// The first error sticks: later calls do nothing and Finalize returns it.
	Builder struct {
		*ir.Func

		cur ir.Block

		blocks   []blockState
		sealed   set.Bitmap
		filled   set.Bitmap
		inLayout set.Bitmap

		vars []tp.Type // nil if not declared
		defs []map[Variable]ir.Value

		finalized bool
		err       error
	}

	blockState struct {
		preds []pred
		undef []undefVar

		from loc.PC
	}

	pred struct {
		block ir.Block
		inst  ir.Inst
		edge  int
	}

	undefVar struct {
		v     Variable
		param ir.Value
	}
)

var (
	ErrUndefinedVariable = errors.New("variable not defined")
	ErrRedeclared        = errors.New("variable declared twice")
	ErrUnsupportedType   = errors.New("unsupported type")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrNoBlock           = errors.New("no current block")
	ErrUnknownBlock      = errors.New("unknown block")
	ErrUnknownValue      = errors.New("unknown value")
	ErrFilled            = errors.New("block is already terminated")
	ErrUnterminated      = errors.New("block is not terminated")
	ErrSealed            = errors.New("block is sealed")
	ErrNotSealed         = errors.New("block is not sealed")
	ErrFinalized         = errors.New("builder is finalized")
)

func New(name string, sig ir.Signature) (*Builder, error) {
	for i, t := range sig.Params {
		if !tp.Valid(t) {
			return nil, errors.Wrap(ErrUnsupportedType, "param %d: %v", i, t)
		}
	}

	for i, t := range sig.Returns {
		if !tp.Valid(t) {
			return nil, errors.Wrap(ErrUnsupportedType, "result %d: %v", i, t)
		}
	}

	b := &Builder{
		Func: ir.NewFunc(name, sig),
		cur:  ir.NoBlock,
	}

	return b, nil
}

func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) CreateBlock() ir.Block {
	return b.newBlock(loc.Caller(1))
}

func (b *Builder) newBlock(from loc.PC) ir.Block {
	if b.err != nil {
		return ir.NoBlock
	}

	blk := b.Func.NewBlock()

	b.blocks = append(b.blocks, blockState{from: from})
	b.defs = append(b.defs, map[Variable]ir.Value{})

	return blk
}

func (b *Builder) AppendBlockParam(blk ir.Block, t tp.Type) ir.Value {
	if !b.checkBlock(blk) {
		return ir.NoValue
	}

	if !tp.Valid(t) {
		b.fail(errors.Wrap(ErrUnsupportedType, "block%d param: %v", blk, t))
		return ir.NoValue
	}

	st := &b.blocks[blk]

	if len(st.undef) != 0 || len(st.preds) != 0 {
		b.fail(errors.New("block%d: params must be added before branches and variable reads", blk))
		return ir.NoValue
	}

	return b.Func.AppendBlockParam(blk, t)
}

func (b *Builder) AppendBlockParamsForFunctionParams(blk ir.Block) {
	for _, t := range b.Sig.Params {
		b.AppendBlockParam(blk, t)
	}
}

func (b *Builder) BlockParams(blk ir.Block) []ir.Value {
	if !b.checkBlock(blk) {
		return nil
	}

	return b.Blocks[blk].Params
}

func (b *Builder) CurrentBlock() ir.Block { return b.cur }

func (b *Builder) SwitchToBlock(blk ir.Block) {
	if !b.checkBlock(blk) {
		return
	}

	if c := b.cur; c != ir.NoBlock && !b.filled.IsSet(int(c)) && len(b.Blocks[c].Code) != 0 {
		b.fail(errors.Wrap(ErrUnterminated, "switch from block%d created at %v", c, b.blocks[c].from))
		return
	}

	if b.filled.IsSet(int(blk)) {
		b.fail(errors.Wrap(ErrFilled, "switch to block%d", blk))
		return
	}

	if !b.inLayout.IsSet(int(blk)) {
		b.inLayout.Set(int(blk))
		b.Layout = append(b.Layout, blk)
	}

	b.cur = blk
}

// SealBlock declares that all the predecessors of blk are known.
// Variable reads pending on blk are resolved here.
func (b *Builder) SealBlock(blk ir.Block) {
	if !b.checkBlock(blk) || b.sealed.IsSet(int(blk)) {
		return
	}

	st := &b.blocks[blk]

	for _, u := range st.undef {
		for _, p := range st.preds {
			x := b.useVarIn(u.v, p.block)
			if b.err != nil {
				return
			}

			b.AppendEdgeArg(p.inst, p.edge, x)
		}
	}

	st.undef = nil

	b.sealed.Set(int(blk))
}

func (b *Builder) SealAllBlocks() {
	for blk := range b.blocks {
		b.SealBlock(ir.Block(blk))
	}
}

func (b *Builder) IsSealed(blk ir.Block) bool {
	return b.sealed.IsSet(int(blk))
}

func (b *Builder) IsFilled(blk ir.Block) bool {
	return b.filled.IsSet(int(blk))
}

func (b *Builder) DeclareVar(v Variable, t tp.Type) {
	if b.err != nil {
		return
	}

	if v < 0 {
		b.fail(errors.New("bad variable index: %d", v))
		return
	}

	if !tp.Valid(t) {
		b.fail(errors.Wrap(ErrUnsupportedType, "var%d: %v", v, t))
		return
	}

	for int(v) >= len(b.vars) {
		b.vars = append(b.vars, nil)
	}

	if b.vars[v] != nil {
		b.fail(errors.Wrap(ErrRedeclared, "var%d", v))
		return
	}

	b.vars[v] = t
}

func (b *Builder) IsDeclared(v Variable) bool {
	return v >= 0 && int(v) < len(b.vars) && b.vars[v] != nil
}

func (b *Builder) DefVar(v Variable, x ir.Value) {
	if !b.ready() {
		return
	}

	if !b.IsDeclared(v) {
		b.fail(errors.Wrap(ErrUndefinedVariable, "define var%d", v))
		return
	}

	if !b.checkValue(x) {
		return
	}

	if t := b.Type(x); t != b.vars[v] {
		b.fail(errors.Wrap(ErrTypeMismatch, "define var%d of type %v with v%d of type %v", v, b.vars[v], x, t))
		return
	}

	b.defs[b.cur][v] = x
}

// UseVar returns the value of v reaching the current point.
func (b *Builder) UseVar(v Variable) ir.Value {
	if b.err != nil {
		return ir.NoValue
	}

	if !b.IsDeclared(v) {
		b.fail(errors.Wrap(ErrUndefinedVariable, "use var%d", v))
		return ir.NoValue
	}

	if b.cur == ir.NoBlock {
		b.fail(errors.Wrap(ErrNoBlock, "use var%d", v))
		return ir.NoValue
	}

	return b.useVarIn(v, b.cur)
}

func (b *Builder) ImportFunction(name string, sig ir.Signature) ir.FuncRef {
	return b.Func.ImportFunction(ir.ExtFunc{Name: name, Sig: sig})
}

func (b *Builder) ImportGlobal(name string) ir.GlobalRef {
	return b.Func.ImportGlobal(ir.GlobalValue{Name: name})
}

func (b *Builder) Iconst(t tp.Type, imm int64) ir.Value {
	if !tp.Valid(t) {
		b.fail(errors.Wrap(ErrUnsupportedType, "iconst: %v", t))
		return ir.NoValue
	}

	_, v := b.ins(ir.Iconst{Type: t, Imm: imm}, t)

	return v
}

func (b *Builder) Iadd(l, r ir.Value) ir.Value {
	return b.binary(ir.Iadd{L: l, R: r}, l, r)
}

func (b *Builder) Isub(l, r ir.Value) ir.Value {
	return b.binary(ir.Isub{L: l, R: r}, l, r)
}

func (b *Builder) Imul(l, r ir.Value) ir.Value {
	return b.binary(ir.Imul{L: l, R: r}, l, r)
}

// Icmp compares l and r. The result is a b1 value.
func (b *Builder) Icmp(cc ir.IntCC, l, r ir.Value) ir.Value {
	if !b.checkValue(l) || !b.checkValue(r) {
		return ir.NoValue
	}

	_, v := b.ins(ir.Icmp{Cond: cc, L: l, R: r}, tp.B1)

	return v
}

func (b *Builder) SymbolValue(t tp.Type, gv ir.GlobalRef) ir.Value {
	if !tp.Valid(t) {
		b.fail(errors.Wrap(ErrUnsupportedType, "symbol_value: %v", t))
		return ir.NoValue
	}

	if gv < 0 || int(gv) >= len(b.GlobalRefs) {
		b.fail(errors.New("unknown global ref: %d", gv))
		return ir.NoValue
	}

	_, v := b.ins(ir.SymbolValue{Type: t, Global: gv}, t)

	return v
}

// Call calls fn and returns its result or ir.NoValue if it has none.
func (b *Builder) Call(fn ir.FuncRef, args ...ir.Value) ir.Value {
	if b.err != nil {
		return ir.NoValue
	}

	if fn < 0 || int(fn) >= len(b.FuncRefs) {
		b.fail(errors.New("unknown func ref: %d", fn))
		return ir.NoValue
	}

	for _, a := range args {
		if !b.checkValue(a) {
			return ir.NoValue
		}
	}

	var out tp.Type
	if rets := b.FuncRefs[fn].Sig.Returns; len(rets) != 0 {
		out = rets[0]
	}

	_, v := b.ins(ir.Call{Func: fn, Args: args}, out)

	return v
}

func (b *Builder) Jump(blk ir.Block, args ...ir.Value) {
	if !b.checkTarget(blk, args) {
		return
	}

	from := b.cur

	i, _ := b.ins(ir.Jump{Dest: ir.BlockCall{Block: blk, Args: args}}, nil)

	b.addPred(blk, pred{block: from, inst: i, edge: 0})
	b.filled.Set(int(from))
}

// Brz terminates the current block with a branch to blk taken when cond is zero.
// Otherwise control falls through to a new block placed right after the current one.
// The builder switches to that block, it is already sealed.
func (b *Builder) Brz(cond ir.Value, blk ir.Block, args ...ir.Value) ir.Block {
	if !b.checkValue(cond) || !b.checkTarget(blk, args) {
		return ir.NoBlock
	}

	from := b.cur
	ft := b.newBlock(loc.Caller(1))

	i, _ := b.ins(ir.Brz{
		Cond: cond,
		Then: ir.BlockCall{Block: blk, Args: args},
		Else: ir.BlockCall{Block: ft},
	}, nil)

	b.addPred(blk, pred{block: from, inst: i, edge: 0})
	b.addPred(ft, pred{block: from, inst: i, edge: 1})
	b.filled.Set(int(from))

	b.insertAfter(from, ft)
	b.cur = ft
	b.SealBlock(ft)

	return ft
}

func (b *Builder) Return(vals ...ir.Value) {
	for _, v := range vals {
		if !b.checkValue(v) {
			return
		}
	}

	from := b.cur

	b.ins(ir.Return{Vals: vals}, nil)

	if b.err == nil {
		b.filled.Set(int(from))
	}
}

// Finalize checks the function is complete and returns it.
func (b *Builder) Finalize() (*ir.Func, error) {
	if b.err != nil {
		return nil, b.err
	}

	if b.finalized {
		return nil, ErrFinalized
	}

	if len(b.Layout) == 0 {
		return nil, errors.New("function has no blocks")
	}

	for blk, st := range b.blocks {
		inLayout := b.inLayout.IsSet(blk)

		if !inLayout && len(st.preds) != 0 {
			return nil, errors.Wrap(ErrUnterminated, "block%d created at %v is a branch target but never filled", blk, st.from)
		}

		if !inLayout {
			continue
		}

		if !b.filled.IsSet(blk) {
			return nil, errors.Wrap(ErrUnterminated, "block%d created at %v", blk, st.from)
		}

		if !b.sealed.IsSet(blk) {
			return nil, errors.Wrap(ErrNotSealed, "block%d created at %v", blk, st.from)
		}
	}

	if tlog.If("builder") {
		tlog.Printw("finalize", "func", b.Name, "layout", b.inLayout, "sealed", b.sealed, "filled", b.filled)
	}

	b.Entry = b.Layout[0]

	err := ir.Verify(b.Func)
	if err != nil {
		return nil, errors.Wrap(err, "verify")
	}

	b.finalized = true

	return b.Func, nil
}

func (b *Builder) useVarIn(v Variable, blk ir.Block) ir.Value {
	if x, ok := b.defs[blk][v]; ok {
		return x
	}

	st := &b.blocks[blk]
	t := b.vars[v]

	var x ir.Value

	switch {
	case !b.sealed.IsSet(int(blk)):
		x = b.Func.AppendBlockParam(blk, t)
		st.undef = append(st.undef, undefVar{v: v, param: x})
	case len(st.preds) == 1:
		x = b.useVarIn(v, st.preds[0].block)
	case len(st.preds) == 0:
		b.fail(errors.Wrap(ErrUndefinedVariable, "var%d is read in block%d before any definition", v, blk))
		return ir.NoValue
	default:
		x = b.Func.AppendBlockParam(blk, t)
		b.defs[blk][v] = x

		for _, p := range st.preds {
			y := b.useVarIn(v, p.block)
			if b.err != nil {
				return ir.NoValue
			}

			b.AppendEdgeArg(p.inst, p.edge, y)
		}

		return x
	}

	b.defs[blk][v] = x

	return x
}

func (b *Builder) binary(x any, l, r ir.Value) ir.Value {
	if !b.checkValue(l) || !b.checkValue(r) {
		return ir.NoValue
	}

	_, v := b.ins(x, b.Type(l))

	return v
}

func (b *Builder) ins(x any, out tp.Type) (ir.Inst, ir.Value) {
	if !b.ready() {
		return ir.NoInst, ir.NoValue
	}

	return b.Append(b.cur, x, out)
}

func (b *Builder) ready() bool {
	switch {
	case b.err != nil:
		return false
	case b.finalized:
		b.fail(ErrFinalized)
	case b.cur == ir.NoBlock:
		b.fail(ErrNoBlock)
	case b.filled.IsSet(int(b.cur)):
		b.fail(errors.Wrap(ErrFilled, "block%d", b.cur))
	default:
		return true
	}

	return false
}

func (b *Builder) checkBlock(blk ir.Block) bool {
	if b.err != nil {
		return false
	}

	if blk < 0 || int(blk) >= len(b.blocks) {
		b.fail(errors.Wrap(ErrUnknownBlock, "block%d", blk))
		return false
	}

	return true
}

func (b *Builder) checkValue(v ir.Value) bool {
	if b.err != nil {
		return false
	}

	if v < 0 || int(v) >= len(b.Values) {
		b.fail(errors.Wrap(ErrUnknownValue, "v%d", v))
		return false
	}

	return true
}

func (b *Builder) checkTarget(blk ir.Block, args []ir.Value) bool {
	if !b.checkBlock(blk) {
		return false
	}

	if b.sealed.IsSet(int(blk)) {
		b.fail(errors.Wrap(ErrSealed, "branch to block%d", blk))
		return false
	}

	for _, a := range args {
		if !b.checkValue(a) {
			return false
		}
	}

	return b.ready()
}

func (b *Builder) addPred(blk ir.Block, p pred) {
	if b.err != nil {
		return
	}

	b.blocks[blk].preds = append(b.blocks[blk].preds, p)
}

func (b *Builder) insertAfter(at, blk ir.Block) {
	b.inLayout.Set(int(blk))

	for i, x := range b.Layout {
		if x != at {
			continue
		}

		b.Layout = append(b.Layout, 0)
		copy(b.Layout[i+2:], b.Layout[i+1:])
		b.Layout[i+1] = blk

		return
	}

	b.Layout = append(b.Layout, blk)
}
