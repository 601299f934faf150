package ir

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	Value     int
	Block     int
	Inst      int
	FuncRef   int
	GlobalRef int

	IntCC int

	Signature struct {
		Params  []tp.Type
		Returns []tp.Type
	}

	// ExtFunc is a function referenced by name from a function body.
	// It is resolved by the module at finalize time.
	ExtFunc struct {
		Name string
		Sig  Signature
	}

	GlobalValue struct {
		Name string
	}

	Func struct {
		Name string
		Sig  Signature

		Entry  Block
		Layout []Block

		Blocks []BlockData
		Values []ValueData

		Insts []any
		Outs  []Value
		Owner []Block

		FuncRefs   []ExtFunc
		GlobalRefs []GlobalValue
	}

	BlockData struct {
		Params []Value
		Code   []Inst
	}

	ValueData struct {
		Type  tp.Type
		Block Block
		Inst  Inst // NoInst for block params
		Index int  // param position
	}

	BlockCall struct {
		Block Block
		Args  []Value
	}

	Iconst struct {
		Type tp.Type
		Imm  int64
	}

	Iadd struct {
		L, R Value
	}

	Isub struct {
		L, R Value
	}

	Imul struct {
		L, R Value
	}

	Icmp struct {
		Cond IntCC
		L, R Value
	}

	SymbolValue struct {
		Type   tp.Type
		Global GlobalRef
	}

	Call struct {
		Func FuncRef
		Args []Value
	}

	Jump struct {
		Dest BlockCall
	}

	// Brz goes to Then if Cond is zero and to Else otherwise.
	Brz struct {
		Cond       Value
		Then, Else BlockCall
	}

	Return struct {
		Vals []Value
	}
)

const (
	NoValue Value = -1
	NoBlock Block = -1
	NoInst  Inst  = -1
)

const (
	Equal IntCC = iota
	NotEqual
	SignedLessThan
	SignedGreaterThanOrEqual
	SignedGreaterThan
	SignedLessThanOrEqual
	UnsignedLessThan
	UnsignedGreaterThanOrEqual
	UnsignedGreaterThan
	UnsignedLessThanOrEqual
)

var ccNames = []string{"eq", "ne", "slt", "sge", "sgt", "sle", "ult", "uge", "ugt", "ule"}

func NewFunc(name string, sig Signature) *Func {
	return &Func{
		Name:  name,
		Sig:   sig,
		Entry: NoBlock,
	}
}

func (c IntCC) String() string {
	if c < 0 || int(c) >= len(ccNames) {
		return "cc?"
	}

	return ccNames[c]
}

func (f *Func) NewBlock() Block {
	b := Block(len(f.Blocks))
	f.Blocks = append(f.Blocks, BlockData{})

	return b
}

func (f *Func) AppendBlockParam(b Block, t tp.Type) Value {
	v := f.newValue(ValueData{
		Type:  t,
		Block: b,
		Inst:  NoInst,
		Index: len(f.Blocks[b].Params),
	})

	f.Blocks[b].Params = append(f.Blocks[b].Params, v)

	return v
}

// Append adds x to the end of b. out is the result type or nil.
func (f *Func) Append(b Block, x any, out tp.Type) (Inst, Value) {
	i := Inst(len(f.Insts))

	f.Insts = append(f.Insts, x)
	f.Owner = append(f.Owner, b)
	f.Blocks[b].Code = append(f.Blocks[b].Code, i)

	res := NoValue
	if out != nil {
		res = f.newValue(ValueData{
			Type:  out,
			Block: b,
			Inst:  i,
		})
	}

	f.Outs = append(f.Outs, res)

	return i, res
}

func (f *Func) ImportFunction(e ExtFunc) FuncRef {
	for i, x := range f.FuncRefs {
		if x.Name == e.Name {
			return FuncRef(i)
		}
	}

	f.FuncRefs = append(f.FuncRefs, e)

	return FuncRef(len(f.FuncRefs) - 1)
}

func (f *Func) ImportGlobal(g GlobalValue) GlobalRef {
	for i, x := range f.GlobalRefs {
		if x.Name == g.Name {
			return GlobalRef(i)
		}
	}

	f.GlobalRefs = append(f.GlobalRefs, g)

	return GlobalRef(len(f.GlobalRefs) - 1)
}

func (f *Func) Type(v Value) tp.Type {
	if v < 0 || int(v) >= len(f.Values) {
		return nil
	}

	return f.Values[v].Type
}

// Last returns the last instruction of b or NoInst.
func (f *Func) Last(b Block) Inst {
	code := f.Blocks[b].Code
	if len(code) == 0 {
		return NoInst
	}

	return code[len(code)-1]
}

// Edges returns the outgoing edges of a branch instruction.
func (f *Func) Edges(i Inst) []BlockCall {
	switch x := f.Insts[i].(type) {
	case Jump:
		return []BlockCall{x.Dest}
	case Brz:
		return []BlockCall{x.Then, x.Else}
	default:
		return nil
	}
}

// AppendEdgeArg adds v to the arguments the edge-th edge of branch i passes.
func (f *Func) AppendEdgeArg(i Inst, edge int, v Value) {
	switch x := f.Insts[i].(type) {
	case Jump:
		x.Dest.Args = append(x.Dest.Args, v)
		f.Insts[i] = x
	case Brz:
		if edge == 0 {
			x.Then.Args = append(x.Then.Args, v)
		} else {
			x.Else.Args = append(x.Else.Args, v)
		}

		f.Insts[i] = x
	default:
		panic(x)
	}
}

func (f *Func) Successors(b Block) []Block {
	last := f.Last(b)
	if last == NoInst {
		return nil
	}

	var r []Block

	for _, e := range f.Edges(last) {
		r = append(r, e.Block)
	}

	return r
}

func (f *Func) newValue(d ValueData) Value {
	v := Value(len(f.Values))
	f.Values = append(f.Values, d)

	return v
}

func IsTerminator(x any) bool {
	switch x.(type) {
	case Jump, Brz, Return:
		return true
	default:
		return false
	}
}

// Uses returns the values x reads, branch arguments included.
func Uses(x any) []Value {
	switch x := x.(type) {
	case Iconst, SymbolValue:
		return nil
	case Iadd:
		return []Value{x.L, x.R}
	case Isub:
		return []Value{x.L, x.R}
	case Imul:
		return []Value{x.L, x.R}
	case Icmp:
		return []Value{x.L, x.R}
	case Call:
		return x.Args
	case Jump:
		return x.Dest.Args
	case Brz:
		r := []Value{x.Cond}
		r = append(r, x.Then.Args...)
		r = append(r, x.Else.Args...)

		return r
	case Return:
		return x.Vals
	default:
		panic(x)
	}
}

func (s Signature) Equal(x Signature) bool {
	return typesEqual(s.Params, x.Params) && typesEqual(s.Returns, x.Returns)
}

func typesEqual(a, b []tp.Type) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func (c BlockCall) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt64(b, "block", int64(c.Block))
	b = e.AppendKeyInt(b, "args", len(c.Args))

	return b
}
