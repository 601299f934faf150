package front

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

var sigII = ir.Signature{Params: []tp.Type{tp.I64, tp.I64}, Returns: []tp.Type{tp.I64}}

func TestBuilderStraight(t *testing.T) {
	b, err := New("add", sigII)
	require.NoError(t, err)

	entry := b.CreateBlock()
	b.AppendBlockParamsForFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.SealBlock(entry)

	ps := b.BlockParams(entry)
	require.Len(t, ps, 2)

	b.Return(b.Iadd(ps[0], ps[1]))

	f, err := b.Finalize()
	require.NoError(t, err)

	assert.Equal(t, entry, f.Entry)
	assert.Equal(t, []ir.Block{entry}, f.Layout)
	assert.Len(t, f.Blocks[entry].Code, 2)

	_, err = b.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestBuilderVarsAcrossBlocks(t *testing.T) {
	b, err := New("max", sigII)
	require.NoError(t, err)

	entry := b.CreateBlock()
	b.AppendBlockParamsForFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.SealBlock(entry)

	ps := b.BlockParams(entry)

	const x, y = Variable(0), Variable(1)

	b.DeclareVar(x, tp.I64)
	b.DeclareVar(y, tp.I64)
	b.DefVar(x, ps[0])
	b.DefVar(y, ps[1])

	merge := b.CreateBlock()

	c := b.Icmp(ir.SignedLessThan, b.UseVar(x), b.UseVar(y))
	b.Brz(c, merge)

	b.DefVar(x, b.UseVar(y))
	b.Jump(merge)

	b.SwitchToBlock(merge)
	b.SealBlock(merge)

	b.Return(b.UseVar(x))

	f, err := b.Finalize()
	require.NoError(t, err)

	// x differs on the two incoming edges
	params := f.Blocks[merge].Params
	require.NotEmpty(t, params)

	ret := f.Insts[f.Last(merge)].(ir.Return)
	assert.Equal(t, params[0], ret.Vals[0])

	for _, p := range []ir.Block{entry, f.Layout[1]} {
		for _, e := range f.Edges(f.Last(p)) {
			if e.Block == merge {
				assert.Len(t, e.Args, len(params))
			}
		}
	}
}

func TestBuilderBrzLayout(t *testing.T) {
	b, err := New("branch", sigII)
	require.NoError(t, err)

	entry := b.CreateBlock()
	b.AppendBlockParamsForFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.SealBlock(entry)

	ps := b.BlockParams(entry)

	zero := b.CreateBlock()
	r := b.AppendBlockParam(zero, tp.I64)

	c := b.Icmp(ir.Equal, ps[0], ps[1])
	ft := b.Brz(c, zero, b.Iconst(tp.I64, 1))

	assert.Equal(t, ft, b.CurrentBlock())
	assert.True(t, b.IsSealed(ft))
	assert.True(t, b.IsFilled(entry))

	b.Jump(zero, b.Iconst(tp.I64, 0))

	b.SwitchToBlock(zero)
	b.SealBlock(zero)
	b.Return(r)

	f, err := b.Finalize()
	require.NoError(t, err)

	assert.Equal(t, []ir.Block{entry, ft, zero}, f.Layout)
}

func TestBuilderSealAll(t *testing.T) {
	b, err := New("sum", ir.Signature{Params: []tp.Type{tp.I64}, Returns: []tp.Type{tp.I64}})
	require.NoError(t, err)

	entry := b.CreateBlock()
	b.AppendBlockParamsForFunctionParams(entry)
	b.SwitchToBlock(entry)

	const n, i, s = Variable(0), Variable(1), Variable(2)

	b.DeclareVar(n, tp.I64)
	b.DeclareVar(i, tp.I64)
	b.DeclareVar(s, tp.I64)
	b.DefVar(n, b.BlockParams(entry)[0])
	b.DefVar(i, b.Iconst(tp.I64, 0))
	b.DefVar(s, b.Iconst(tp.I64, 0))

	header := b.CreateBlock()
	exit := b.CreateBlock()

	b.Jump(header)
	b.SwitchToBlock(header)

	c := b.Icmp(ir.SignedLessThan, b.UseVar(i), b.UseVar(n))
	b.Brz(c, exit)

	b.DefVar(s, b.Iadd(b.UseVar(s), b.UseVar(i)))
	b.DefVar(i, b.Iadd(b.UseVar(i), b.Iconst(tp.I64, 1)))
	b.Jump(header)

	b.SwitchToBlock(exit)
	b.Return(b.UseVar(s))

	b.SealAllBlocks()

	for _, blk := range []ir.Block{entry, header, exit} {
		assert.True(t, b.IsSealed(blk), "block%d", blk)
	}

	f, err := b.Finalize()
	require.NoError(t, err)

	assert.NotEmpty(t, f.Blocks[header].Params)
}

func TestBuilderErrors(t *testing.T) {
	t.Run("undeclared", func(t *testing.T) {
		b, err := New("f", sigII)
		require.NoError(t, err)

		entry := b.CreateBlock()
		b.SwitchToBlock(entry)
		b.SealBlock(entry)

		v := b.UseVar(7)
		assert.Equal(t, ir.NoValue, v)

		b.Return(b.Iconst(tp.I64, 0))

		_, err = b.Finalize()
		assert.ErrorIs(t, err, ErrUndefinedVariable)
		assert.ErrorIs(t, b.Err(), ErrUndefinedVariable)
	})

	t.Run("declared_not_defined", func(t *testing.T) {
		b, err := New("f", ir.Signature{Returns: []tp.Type{tp.I64}})
		require.NoError(t, err)

		entry := b.CreateBlock()
		b.SwitchToBlock(entry)
		b.SealBlock(entry)

		b.DeclareVar(0, tp.I64)
		b.Return(b.UseVar(0))

		_, err = b.Finalize()
		assert.ErrorIs(t, err, ErrUndefinedVariable)
	})

	t.Run("unsealed", func(t *testing.T) {
		b, err := New("f", ir.Signature{Returns: []tp.Type{tp.I64}})
		require.NoError(t, err)

		entry := b.CreateBlock()
		b.SwitchToBlock(entry)
		b.Return(b.Iconst(tp.I64, 0))

		_, err = b.Finalize()
		assert.ErrorIs(t, err, ErrNotSealed)
	})

	t.Run("unterminated", func(t *testing.T) {
		b, err := New("f", ir.Signature{Returns: []tp.Type{tp.I64}})
		require.NoError(t, err)

		entry := b.CreateBlock()
		b.SwitchToBlock(entry)
		b.SealBlock(entry)
		b.Iconst(tp.I64, 0)

		_, err = b.Finalize()
		assert.ErrorIs(t, err, ErrUnterminated)
	})

	t.Run("switch_from_open", func(t *testing.T) {
		b, err := New("f", ir.Signature{Returns: []tp.Type{tp.I64}})
		require.NoError(t, err)

		entry := b.CreateBlock()
		other := b.CreateBlock()

		b.SwitchToBlock(entry)
		b.Iconst(tp.I64, 0)
		b.SwitchToBlock(other)

		assert.ErrorIs(t, b.Err(), ErrUnterminated)
	})

	t.Run("branch_to_sealed", func(t *testing.T) {
		b, err := New("f", ir.Signature{Returns: []tp.Type{tp.I64}})
		require.NoError(t, err)

		entry := b.CreateBlock()
		next := b.CreateBlock()
		b.SealBlock(next)

		b.SwitchToBlock(entry)
		b.Jump(next)

		assert.ErrorIs(t, b.Err(), ErrSealed)
	})

	t.Run("after_terminator", func(t *testing.T) {
		b, err := New("f", ir.Signature{Returns: []tp.Type{tp.I64}})
		require.NoError(t, err)

		entry := b.CreateBlock()
		b.SwitchToBlock(entry)
		b.Return(b.Iconst(tp.I64, 0))
		b.Iconst(tp.I64, 1)

		assert.ErrorIs(t, b.Err(), ErrFilled)
	})

	t.Run("type_mismatch", func(t *testing.T) {
		b, err := New("f", sigII)
		require.NoError(t, err)

		entry := b.CreateBlock()
		b.AppendBlockParamsForFunctionParams(entry)
		b.SwitchToBlock(entry)

		ps := b.BlockParams(entry)

		b.DeclareVar(0, tp.I64)
		b.DefVar(0, b.Icmp(ir.Equal, ps[0], ps[1]))

		assert.ErrorIs(t, b.Err(), ErrTypeMismatch)
	})

	t.Run("unsupported_type", func(t *testing.T) {
		_, err := New("f", ir.Signature{Params: []tp.Type{tp.Int{Bits: 12}}})
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("first_error_wins", func(t *testing.T) {
		b, err := New("f", sigII)
		require.NoError(t, err)

		b.UseVar(1)
		b.SwitchToBlock(100)

		assert.ErrorIs(t, b.Err(), ErrUndefinedVariable)
		assert.NotErrorIs(t, b.Err(), ErrUnknownBlock)
	})
}
