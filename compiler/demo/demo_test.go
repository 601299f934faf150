package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/asm/amd64"
	"github.com/slowlang/slowjit/compiler/asm/arm64"
	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/format"
	"github.com/slowlang/slowjit/compiler/front"
	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/jit"
	"github.com/slowlang/slowjit/compiler/tp"
)

func TestExamplesIR(t *testing.T) {
	ctx := context.Background()

	for _, a := range []back.Arch{amd64.Arch{}, arm64.Arch{}} {
		for _, ex := range Examples {
			t.Run(a.Name()+"/"+ex.Name, func(t *testing.T) {
				m := jit.NewModule(a)

				f, err := IR(ctx, m, ex)
				require.NoError(t, err)

				text, err := format.Format(ctx, nil, f)
				require.NoError(t, err)

				t.Logf("ir\n%s", text)

				assert.Equal(t, ex.Name, f.Name)
				assert.Len(t, f.Sig.Params, len(ex.Params))
				assert.Len(t, ex.Args, len(ex.Params))

				id, err := m.DeclareFunction(ex.Name, jit.Export, f.Sig)
				require.NoError(t, err)

				require.NoError(t, m.DefineFunction(ctx, id, f))
			})
		}
	}
}

func TestExampleBranchShape(t *testing.T) {
	ctx := context.Background()

	ex, err := Find("branch")
	require.NoError(t, err)

	f, err := IR(ctx, jit.NewModule(amd64.Arch{}), ex)
	require.NoError(t, err)

	require.Len(t, f.Layout, 4)

	merge := f.Layout[3]
	assert.Len(t, f.Blocks[merge].Params, 1)

	var brz, jumps int

	for _, x := range f.Insts {
		switch x.(type) {
		case ir.Brz:
			brz++
		case ir.Jump:
			jumps++
		}
	}

	assert.Equal(t, 1, brz)
	assert.Equal(t, 2, jumps)
}

func TestFind(t *testing.T) {
	ex, err := Find("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", ex.Name)

	_, err = Find("nope")
	assert.ErrorIs(t, err, ErrUnknownExample)
}

func TestUndeclaredVariable(t *testing.T) {
	ctx := context.Background()

	ex := Example{
		Name:   "bad",
		Params: []string{"a"},
		Return: "c",
		Body: func(ctx context.Context, m *jit.Module, b *front.Builder, s *front.Scope) error {
			s.Def("c", b.Iadd(s.Use("a"), s.Use("nope")))

			return nil
		},
	}

	m := jit.NewModule(amd64.Arch{})

	_, err := Build(ctx, m, ex)
	assert.ErrorIs(t, err, front.ErrUndefinedVariable)

	id, err := m.DeclareFunction("bad", jit.Export, ir.Signature{Params: []tp.Type{m.PointerType()}, Returns: []tp.Type{m.PointerType()}})
	require.NoError(t, err)

	_, err = m.GetFinalizedFunction(id)
	assert.ErrorIs(t, err, jit.ErrNotFinalized)
}

func TestDeclareTwice(t *testing.T) {
	ctx := context.Background()

	ex := Example{
		Name:   "twice",
		Return: "c",
		Body: func(ctx context.Context, m *jit.Module, b *front.Builder, s *front.Scope) error {
			x := s.Declare("x", m.PointerType())
			y := s.Declare("x", m.PointerType())

			if x != y {
				t.Errorf("different handles: %v %v", x, y)
			}

			s.Def("c", s.Use("x"))

			return b.Err()
		},
	}

	f, err := IR(ctx, jit.NewModule(amd64.Arch{}), ex)
	require.NoError(t, err)

	var consts int

	for _, x := range f.Insts {
		if _, ok := x.(ir.Iconst); ok {
			consts++
		}
	}

	// c and x are zeroed once each
	assert.Equal(t, 2, consts)
}

func TestConfig(t *testing.T) {
	c, err := ParseConfig([]byte(`
verbosity = "dump_ir"

[examples.add]
args = [1, 2]
`))
	require.NoError(t, err)

	assert.Equal(t, "dump_ir", c.Verbosity)

	add, err := Find("add")
	require.NoError(t, err)

	branch, err := Find("branch")
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, c.Args(add))
	assert.Equal(t, []int64{1, 4}, c.Args(branch))

	var nilc *Config
	assert.Equal(t, []int64{40, 2}, nilc.Args(add))

	_, err = ParseConfig([]byte("[examples.add]\nargs = [1]\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("[examples.nope]\n"))
	assert.ErrorIs(t, err, ErrUnknownExample)
}
