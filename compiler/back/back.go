package back

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/asm"
	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/set"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	// Slot is an 8-byte stack frame slot index.
	Slot int

	Arch interface {
		Name() string
		PointerType() tp.Type

		// MaxArgs is the number of integer arguments passed in registers.
		MaxArgs() int

		NewEmitter() Emitter

		// Patch writes symbol address addr into code at r.
		Patch(code []byte, r asm.Reloc, addr uint64) error

		// Puts returns position independent code of the puts(s) runtime routine
		// writing to fd.
		Puts(fd int) []byte
	}

	Emitter interface {
		Prologue(frame int)
		Param(i int, dst Slot)

		Const(dst Slot, imm int64)
		Symbol(dst Slot, sym string)
		Binary(op asm.Op, dst, l, r Slot)
		Compare(cc ir.IntCC, dst, l, r Slot)
		Copy(dst, src Slot)

		NewLabel() asm.Label
		Bind(l asm.Label)
		BranchZero(src Slot, l asm.Label)
		Jump(l asm.Label)

		// Call calls sym with args. dst is NoSlot if the result is dropped.
		Call(sym string, args []Slot, dst Slot)
		// Return returns src, or nothing if src is NoSlot.
		Return(src Slot, frame int)

		Finish() ([]byte, []asm.Reloc, error)
	}

	// Object is a compiled function not yet linked.
	Object struct {
		Name   string
		Code   []byte
		Relocs []asm.Reloc
		Frame  int
	}

	funContext struct {
		*ir.Func

		e      Emitter
		labels []asm.Label

		scratch Slot
		frame   int

		stubs []stub
	}

	stub struct {
		label asm.Label
		call  ir.BlockCall
	}

	jobs struct {
		heap.Heap[ir.Block]

		pos []int
	}
)

// MaxFrame bounds the frame size so generated code stays within
// the stack space a goroutine keeps below its stack guard.
const MaxFrame = 512

const NoSlot Slot = -1

var (
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrUnsupportedType = errors.New("unsupported type")
	ErrTooManyArgs     = errors.New("too many arguments")
	ErrTooManyResults  = errors.New("too many results")
)

// Compile lowers a verified function to machine code.
func Compile(ctx context.Context, a Arch, f *ir.Func) (obj *Object, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile func", "name", f.Name, "arch", a.Name())
	defer tr.Finish("err", &err)

	err = checkSig(a, f.Sig)
	if err != nil {
		return nil, errors.Wrap(err, "signature")
	}

	for _, e := range f.FuncRefs {
		err = checkSig(a, e.Sig)
		if err != nil {
			return nil, errors.Wrap(err, "import %v", e.Name)
		}
	}

	for v, d := range f.Values {
		if !supported(d.Type) {
			return nil, errors.Wrap(ErrUnsupportedType, "v%d: %v", v, d.Type)
		}
	}

	c := &funContext{
		Func: f,
		e:    a.NewEmitter(),
	}

	order := c.layout()

	c.allocFrame()

	if c.frame > MaxFrame {
		return nil, errors.Wrap(ErrFrameTooLarge, "%d bytes, max %d", c.frame, MaxFrame)
	}

	if tr.If("dump_layout") {
		tr.Printw("layout", "order", order, "values", len(f.Values), "scratch", c.scratch, "frame", c.frame)

		for _, b := range order {
			for _, e := range c.Edges(c.Last(b)) {
				tr.Printw("edge", "from", b, "to", e)
			}
		}
	}

	err = c.emit(order)
	if err != nil {
		return nil, err
	}

	code, relocs, err := c.e.Finish()
	if err != nil {
		return nil, errors.Wrap(err, "finish")
	}

	tr.V("back").Printw("compiled", "size", len(code), "relocs", len(relocs))

	return &Object{
		Name:   f.Name,
		Code:   code,
		Relocs: relocs,
		Frame:  c.frame,
	}, nil
}

// layout orders reachable blocks preferring layout order.
func (c *funContext) layout() (order []ir.Block) {
	js := jobs{
		pos: make([]int, len(c.Blocks)),
	}

	for b := range js.pos {
		js.pos[b] = len(c.Layout) + b
	}

	for i, b := range c.Layout {
		js.pos[b] = i
	}

	js.Heap.Less = js.less

	var done set.Bitmap

	js.Push(c.Entry)

	for js.Len() != 0 {
		b := js.Pop()

		if done.IsSet(int(b)) {
			continue
		}

		done.Set(int(b))
		order = append(order, b)

		for _, s := range c.Successors(b) {
			if !done.IsSet(int(s)) {
				js.Push(s)
			}
		}
	}

	return order
}

func (js *jobs) less(d []ir.Block, i, j int) bool {
	return js.pos[d[i]] < js.pos[d[j]]
}

// allocFrame gives each value its own slot followed by scratch slots
// for the widest edge copy.
func (c *funContext) allocFrame() {
	c.scratch = Slot(len(c.Values))

	width := 0

	for i, x := range c.Insts {
		if !ir.IsTerminator(x) {
			continue
		}

		for _, e := range c.Edges(ir.Inst(i)) {
			width = max(width, len(e.Args))
		}
	}

	n := len(c.Values) + width

	c.frame = (n*8 + 15) &^ 15
}

func (c *funContext) emit(order []ir.Block) (err error) {
	e := c.e

	c.labels = make([]asm.Label, len(c.Blocks))

	for _, b := range order {
		c.labels[b] = e.NewLabel()
	}

	e.Prologue(c.frame)

	for i, p := range c.Blocks[c.Entry].Params {
		e.Param(i, Slot(p))
	}

	for k, b := range order {
		next := ir.NoBlock
		if k+1 < len(order) {
			next = order[k+1]
		}

		e.Bind(c.labels[b])

		for _, i := range c.Blocks[b].Code {
			err = c.emitInst(i, next)
			if err != nil {
				return errors.Wrap(err, "block%d: inst %d", b, i)
			}
		}
	}

	for _, s := range c.stubs {
		e.Bind(s.label)
		c.edge(s.call)
		e.Jump(c.labels[s.call.Block])
	}

	return nil
}

func (c *funContext) emitInst(i ir.Inst, next ir.Block) error {
	e := c.e
	out := Slot(c.Outs[i])

	switch x := c.Insts[i].(type) {
	case ir.Iconst:
		e.Const(out, x.Imm)
	case ir.Iadd:
		e.Binary(asm.OpAdd, out, Slot(x.L), Slot(x.R))
	case ir.Isub:
		e.Binary(asm.OpSub, out, Slot(x.L), Slot(x.R))
	case ir.Imul:
		e.Binary(asm.OpMul, out, Slot(x.L), Slot(x.R))
	case ir.Icmp:
		e.Compare(x.Cond, out, Slot(x.L), Slot(x.R))
	case ir.SymbolValue:
		e.Symbol(out, c.GlobalRefs[x.Global].Name)
	case ir.Call:
		args := make([]Slot, len(x.Args))

		for j, a := range x.Args {
			args[j] = Slot(a)
		}

		e.Call(c.FuncRefs[x.Func].Name, args, out)
	case ir.Jump:
		c.edge(x.Dest)

		if x.Dest.Block != next {
			e.Jump(c.labels[x.Dest.Block])
		}
	case ir.Brz:
		target := c.labels[x.Then.Block]

		if len(x.Then.Args) != 0 {
			target = e.NewLabel()
			c.stubs = append(c.stubs, stub{label: target, call: x.Then})
		}

		e.BranchZero(Slot(x.Cond), target)

		c.edge(x.Else)

		if x.Else.Block != next {
			e.Jump(c.labels[x.Else.Block])
		}
	case ir.Return:
		src := NoSlot
		if len(x.Vals) != 0 {
			src = Slot(x.Vals[0])
		}

		e.Return(src, c.frame)
	default:
		return errors.New("unsupported instruction: %T", x)
	}

	return nil
}

// edge copies block call args into destination params.
// Copies go through scratch slots if some source is also overwritten.
func (c *funContext) edge(call ir.BlockCall) {
	params := c.Blocks[call.Block].Params

	var dst set.Bitmap

	for j, a := range call.Args {
		if params[j] != a {
			dst.Set(int(params[j]))
		}
	}

	conflict := false

	for j, a := range call.Args {
		if params[j] != a && dst.IsSet(int(a)) {
			conflict = true
		}
	}

	if !conflict {
		for j, a := range call.Args {
			if params[j] != a {
				c.e.Copy(Slot(params[j]), Slot(a))
			}
		}

		return
	}

	for j, a := range call.Args {
		c.e.Copy(c.scratch+Slot(j), Slot(a))
	}

	for j := range call.Args {
		c.e.Copy(Slot(params[j]), c.scratch+Slot(j))
	}
}

func checkSig(a Arch, s ir.Signature) error {
	if len(s.Params) > a.MaxArgs() {
		return errors.Wrap(ErrTooManyArgs, "%d, max %d", len(s.Params), a.MaxArgs())
	}

	if len(s.Returns) > 1 {
		return errors.Wrap(ErrTooManyResults, "%d", len(s.Returns))
	}

	for _, t := range s.Params {
		if !supported(t) {
			return errors.Wrap(ErrUnsupportedType, "%v", t)
		}
	}

	for _, t := range s.Returns {
		if !supported(t) {
			return errors.Wrap(ErrUnsupportedType, "%v", t)
		}
	}

	return nil
}

// supported types occupy a whole register.
func supported(t tp.Type) bool {
	return t == tp.I64 || t == tp.B1
}

func Supported(t tp.Type) bool { return supported(t) }
