package front

import (
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	// Scope maps source names to builder variables.
	Scope struct {
		b *Builder

		names map[string]Variable
		order []string
	}
)

func NewScope(b *Builder) *Scope {
	return &Scope{
		b:     b,
		names: map[string]Variable{},
	}
}

// Declare returns the variable for name.
// The first call declares it and defines it to zero, later calls only look it up.
func (s *Scope) Declare(name string, t tp.Type) Variable {
	if v, ok := s.names[name]; ok {
		return v
	}

	v := s.declare(name, t)

	s.b.DefVar(v, s.b.Iconst(t, 0))

	return v
}

// DeclareParams binds entry block params to names and declares ret zeroed.
// Params are bound as they are, without zero-init.
func (s *Scope) DeclareParams(entry ir.Block, params []string, ret string, t tp.Type) Variable {
	vals := s.b.BlockParams(entry)

	if s.b.Err() == nil && len(vals) != len(params) {
		s.b.fail(errors.New("%d param names for %d block params", len(params), len(vals)))
	}

	for i, name := range params {
		if s.b.Err() != nil {
			break
		}

		if _, ok := s.names[name]; ok {
			s.b.fail(errors.Wrap(ErrRedeclared, "param %v", name))
			break
		}

		v := s.declare(name, s.b.Type(vals[i]))
		s.b.DefVar(v, vals[i])
	}

	return s.Declare(ret, t)
}

func (s *Scope) Lookup(name string) (Variable, error) {
	v, ok := s.names[name]
	if !ok {
		return -1, errors.Wrap(ErrUndefinedVariable, "%v", name)
	}

	return v, nil
}

// Use reads name at the current point. Unknown names poison the builder.
func (s *Scope) Use(name string) ir.Value {
	v, err := s.Lookup(name)
	if err != nil {
		s.b.fail(err)
		return ir.NoValue
	}

	return s.b.UseVar(v)
}

func (s *Scope) Def(name string, x ir.Value) {
	v, err := s.Lookup(name)
	if err != nil {
		s.b.fail(err)
		return
	}

	s.b.DefVar(v, x)
}

func (s *Scope) Len() int { return len(s.order) }

func (s *Scope) Names() []string { return s.order }

func (s *Scope) declare(name string, t tp.Type) Variable {
	v := Variable(len(s.order))

	s.names[name] = v
	s.order = append(s.order, name)

	s.b.DeclareVar(v, t)

	return v
}
