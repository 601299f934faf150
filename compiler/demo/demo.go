package demo

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/front"
	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/jit"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	// Example is one function built by Build.
	// All params and the result are pointer sized integers.
	Example struct {
		Name   string
		Params []string
		Return string

		// Args are the default call arguments.
		Args []int64

		// Body fills the function between the entry block setup and the final return.
		// The return variable is already declared and zeroed.
		Body func(ctx context.Context, m *jit.Module, b *front.Builder, s *front.Scope) error
	}
)

var ErrUnknownExample = errors.New("unknown example")

// Examples in the order they run.
var Examples = []Example{
	{
		Name:   "add",
		Params: []string{"a", "b"},
		Return: "c",
		Args:   []int64{40, 2},
		Body:   addBody,
	},
	{
		Name:   "hello",
		Return: "c",
		Body:   helloBody,
	},
	{
		Name:   "branch",
		Params: []string{"a", "b"},
		Return: "c",
		Args:   []int64{1, 4},
		Body:   branchBody,
	},
}

// Find returns the example called name.
func Find(name string) (Example, error) {
	for _, ex := range Examples {
		if ex.Name == name {
			return ex, nil
		}
	}

	return Example{}, errors.Wrap(ErrUnknownExample, "%v", name)
}

// Build compiles ex into m and returns the callable.
func Build(ctx context.Context, m *jit.Module, ex Example) (f *jit.Func, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "demo: build", "example", ex.Name)
	defer tr.Finish("err", &err)

	id, fn, err := build(ctx, m, ex)
	if err != nil {
		return nil, err
	}

	err = m.DefineFunction(ctx, id, fn)
	if err != nil {
		return nil, errors.Wrap(err, "define")
	}

	err = m.FinalizeDefinitions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "finalize")
	}

	return m.Function(id)
}

// IR builds ex without compiling it.
func IR(ctx context.Context, m *jit.Module, ex Example) (*ir.Func, error) {
	_, fn, err := build(ctx, m, ex)

	return fn, err
}

// Run builds ex and calls it with args.
func Run(ctx context.Context, m *jit.Module, ex Example, args []int64) (int64, error) {
	f, err := Build(ctx, m, ex)
	if err != nil {
		return 0, err
	}

	return f.Call(args...)
}

func build(ctx context.Context, m *jit.Module, ex Example) (jit.FuncID, *ir.Func, error) {
	t := m.PointerType()

	sig := ir.Signature{Returns: []tp.Type{t}}

	for range ex.Params {
		sig.Params = append(sig.Params, t)
	}

	id, err := m.DeclareFunction(ex.Name, jit.Export, sig)
	if err != nil {
		return -1, nil, errors.Wrap(err, "declare")
	}

	b, err := front.New(ex.Name, sig)
	if err != nil {
		return -1, nil, err
	}

	entry := b.CreateBlock()
	b.AppendBlockParamsForFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.SealBlock(entry)

	s := front.NewScope(b)
	s.DeclareParams(entry, ex.Params, ex.Return, t)

	err = ex.Body(ctx, m, b, s)
	if err != nil {
		return -1, nil, errors.Wrap(err, "body")
	}

	b.Return(s.Use(ex.Return))

	fn, err := b.Finalize()
	if err != nil {
		return -1, nil, errors.Wrap(err, "build")
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_ir") {
		tr.Printw("built", "func", fn.Name, "blocks", len(fn.Layout), "values", len(fn.Values))
	}

	return id, fn, nil
}

// c = a + b
func addBody(ctx context.Context, m *jit.Module, b *front.Builder, s *front.Scope) error {
	s.Def("c", b.Iadd(s.Use("a"), s.Use("b")))

	return b.Err()
}

// puts("hello world"); c = 0
func helloBody(ctx context.Context, m *jit.Module, b *front.Builder, s *front.Scope) error {
	t := m.PointerType()

	msg, err := m.DeclareData("hello_string", jit.Export, true)
	if err != nil {
		return err
	}

	if _, ok := m.Data("hello_string"); !ok {
		err = m.DefineData(msg, []byte("hello world\x00"))
		if err != nil {
			return err
		}
	}

	gv, err := m.DeclareDataInFunc(msg, b.Func)
	if err != nil {
		return err
	}

	puts, err := m.DeclareFunction("puts", jit.Import, ir.Signature{Params: []tp.Type{t}, Returns: []tp.Type{t}})
	if err != nil {
		return err
	}

	ref, err := m.DeclareFuncInFunc(puts, b.Func)
	if err != nil {
		return err
	}

	b.Call(ref, b.SymbolValue(t, gv))

	s.Def("c", b.Iconst(t, 0))

	return b.Err()
}

// if a == b { c = 0 } else { c = 1 }
func branchBody(ctx context.Context, m *jit.Module, b *front.Builder, s *front.Scope) error {
	t := m.PointerType()

	cond := b.Icmp(ir.Equal, s.Use("a"), s.Use("b"))

	elseBlock := b.CreateBlock()
	merge := b.CreateBlock()
	res := b.AppendBlockParam(merge, t)

	b.Brz(cond, elseBlock)
	b.Jump(merge, b.Iconst(t, 0))

	b.SwitchToBlock(elseBlock)
	b.SealBlock(elseBlock)
	b.Jump(merge, b.Iconst(t, 1))

	b.SwitchToBlock(merge)
	b.SealBlock(merge)

	s.Def("c", res)

	return b.Err()
}
