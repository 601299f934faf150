package jit

import (
	"context"
	"maps"
	"runtime"
	"sync/atomic"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler"
	"github.com/slowlang/slowjit/compiler/asm/amd64"
	"github.com/slowlang/slowjit/compiler/asm/arm64"
	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/ir"
	"github.com/slowlang/slowjit/compiler/tp"
)

type (
	FuncID int
	DataID int

	Linkage int

	// HostFunc is a host runtime routine available to generated code.
	HostFunc struct {
		Sig ir.Signature

		// Code returns position independent code of the routine.
		Code func(a back.Arch, fd int) []byte
	}

	// Module is a set of functions and data linked into executable memory.
	// Declaring and defining is single goroutine.
	// Finalized functions can be called concurrently.
	Module struct {
		// Stdout is the file descriptor host routines write to.
		Stdout int

		Imports map[string]HostFunc

		arch back.Arch

		funcs []funcDecl
		datas []dataDecl
		names map[string]symbol

		hostAddr map[string]uintptr

		regions []*region
		closed  atomic.Bool
	}

	funcDecl struct {
		name    string
		linkage Linkage
		sig     ir.Signature

		obj  *back.Object
		addr uintptr
	}

	dataDecl struct {
		name     string
		linkage  Linkage
		writable bool

		data    []byte
		defined bool
		addr    uintptr
	}

	symbol struct {
		data bool
		id   int
	}
)

const (
	Import Linkage = iota
	Local
	Export
)

var (
	ErrUnsupportedPlatform     = errors.New("unsupported platform")
	ErrUnsupportedType         = errors.New("unsupported type")
	ErrIncompatibleDeclaration = errors.New("incompatible declaration")
	ErrDuplicateDefinition     = errors.New("duplicate definition")
	ErrUnresolvedSymbol        = errors.New("unresolved symbol")
	ErrUndefinedSymbol         = errors.New("undefined symbol")
	ErrNotFinalized            = errors.New("not finalized")
	ErrUnknownID               = errors.New("unknown id")
	ErrArgs                    = errors.New("wrong number of arguments")
	ErrClosed                  = errors.New("module closed")
)

// DefaultImports resolves the host runtime routines generated code may call.
var DefaultImports = map[string]HostFunc{
	"puts": {
		Sig: ir.Signature{Params: []tp.Type{tp.I64}, Returns: []tp.Type{tp.I64}},
		Code: func(a back.Arch, fd int) []byte {
			return a.Puts(fd)
		},
	},
}

// Host returns the architecture of the running process.
func Host() (back.Arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return amd64.Arch{}, nil
	case "arm64":
		return arm64.Arch{}, nil
	default:
		return nil, errors.Wrap(ErrUnsupportedPlatform, "%v/%v", runtime.GOOS, runtime.GOARCH)
	}
}

// New creates a module for the host architecture.
func New() (*Module, error) {
	a, err := Host()
	if err != nil {
		return nil, err
	}

	return NewModule(a), nil
}

// NewModule creates a module generating code for a.
// Only the host architecture can be finalized.
func NewModule(a back.Arch) *Module {
	return &Module{
		Stdout:  1,
		Imports: maps.Clone(DefaultImports),

		arch:  a,
		names: map[string]symbol{},

		hostAddr: map[string]uintptr{},
	}
}

func (m *Module) Arch() back.Arch { return m.arch }

func (m *Module) PointerType() tp.Type { return m.arch.PointerType() }

func (m *Module) DeclareFunction(name string, l Linkage, sig ir.Signature) (FuncID, error) {
	err := m.checkSig(sig)
	if err != nil {
		return -1, errors.Wrap(err, "declare %v", name)
	}

	if s, ok := m.names[name]; ok {
		if s.data {
			return -1, errors.Wrap(ErrIncompatibleDeclaration, "%v is data", name)
		}

		d := &m.funcs[s.id]

		if !d.sig.Equal(sig) {
			return -1, errors.Wrap(ErrIncompatibleDeclaration, "%v: signature differs", name)
		}

		d.linkage = merge(d.linkage, l)

		return FuncID(s.id), nil
	}

	id := len(m.funcs)

	m.funcs = append(m.funcs, funcDecl{
		name:    name,
		linkage: l,
		sig:     sig,
	})

	m.names[name] = symbol{id: id}

	return FuncID(id), nil
}

func (m *Module) DeclareData(name string, l Linkage, writable bool) (DataID, error) {
	if s, ok := m.names[name]; ok {
		if !s.data {
			return -1, errors.Wrap(ErrIncompatibleDeclaration, "%v is a function", name)
		}

		d := &m.datas[s.id]

		if d.writable != writable {
			return -1, errors.Wrap(ErrIncompatibleDeclaration, "%v: writable differs", name)
		}

		d.linkage = merge(d.linkage, l)

		return DataID(s.id), nil
	}

	id := len(m.datas)

	m.datas = append(m.datas, dataDecl{
		name:     name,
		linkage:  l,
		writable: writable,
	})

	m.names[name] = symbol{data: true, id: id}

	return DataID(id), nil
}

// DefineData sets the contents of data id.
func (m *Module) DefineData(id DataID, data []byte) error {
	d, err := m.data(id)
	if err != nil {
		return err
	}

	switch {
	case d.linkage == Import:
		return errors.Wrap(ErrIncompatibleDeclaration, "define imported data %v", d.name)
	case d.defined:
		return errors.Wrap(ErrDuplicateDefinition, "data %v", d.name)
	}

	d.data = append([]byte{}, data...)
	d.defined = true

	return nil
}

// DefineFunction compiles f as the body of function id.
func (m *Module) DefineFunction(ctx context.Context, id FuncID, f *ir.Func) (err error) {
	d, err := m.fn(id)
	if err != nil {
		return err
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "jit: define function", "name", d.name, "id", id)
	defer tr.Finish("err", &err)

	switch {
	case d.linkage == Import:
		return errors.Wrap(ErrIncompatibleDeclaration, "define imported function %v", d.name)
	case d.obj != nil:
		return errors.Wrap(ErrDuplicateDefinition, "function %v", d.name)
	case !d.sig.Equal(f.Sig):
		return errors.Wrap(ErrIncompatibleDeclaration, "%v: body signature differs", d.name)
	}

	obj, err := compiler.Compile(ctx, m.arch, f)
	if err != nil {
		return errors.Wrap(err, "compile %v", d.name)
	}

	obj.Name = d.name
	d.obj = obj

	tr.Printw("defined", "size", len(obj.Code), "relocs", len(obj.Relocs), "frame", obj.Frame)

	return nil
}

// DeclareFuncInFunc makes function id callable from f.
func (m *Module) DeclareFuncInFunc(id FuncID, f *ir.Func) (ir.FuncRef, error) {
	d, err := m.fn(id)
	if err != nil {
		return -1, err
	}

	return f.ImportFunction(ir.ExtFunc{Name: d.name, Sig: d.sig}), nil
}

// DeclareDataInFunc makes the address of data id available in f.
func (m *Module) DeclareDataInFunc(id DataID, f *ir.Func) (ir.GlobalRef, error) {
	d, err := m.data(id)
	if err != nil {
		return -1, err
	}

	return f.ImportGlobal(ir.GlobalValue{Name: d.name}), nil
}

// GetFinalizedFunction returns the entry address of function id.
func (m *Module) GetFinalizedFunction(id FuncID) (uintptr, error) {
	d, err := m.fn(id)
	if err != nil {
		return 0, err
	}

	if d.addr == 0 {
		return 0, errors.Wrap(ErrNotFinalized, "function %v", d.name)
	}

	return d.addr, nil
}

// GetFinalizedData returns the address and size of data id.
func (m *Module) GetFinalizedData(id DataID) (uintptr, int, error) {
	d, err := m.data(id)
	if err != nil {
		return 0, 0, err
	}

	if d.addr == 0 {
		return 0, 0, errors.Wrap(ErrNotFinalized, "data %v", d.name)
	}

	return d.addr, len(d.data), nil
}

// Data returns contents of defined data name.
func (m *Module) Data(name string) ([]byte, bool) {
	s, ok := m.names[name]
	if !ok || !s.data || !m.datas[s.id].defined {
		return nil, false
	}

	return m.datas[s.id].data, true
}

// Function returns a callable for finalized function id.
func (m *Module) Function(id FuncID) (*Func, error) {
	addr, err := m.GetFinalizedFunction(id)
	if err != nil {
		return nil, err
	}

	d := &m.funcs[id]

	return &Func{
		Name: d.name,
		Sig:  d.sig,

		addr: addr,
		m:    m,
	}, nil
}

// Close unmaps all the memory. Functions must not be called after that.
func (m *Module) Close() (err error) {
	if m.closed.Swap(true) {
		return nil
	}

	for _, r := range m.regions {
		e := r.unmap()
		if err == nil {
			err = e
		}
	}

	m.regions = nil

	return err
}

func (m *Module) checkSig(sig ir.Signature) error {
	if len(sig.Params) > m.arch.MaxArgs() {
		return errors.Wrap(back.ErrTooManyArgs, "%d, max %d", len(sig.Params), m.arch.MaxArgs())
	}

	if len(sig.Returns) > 1 {
		return errors.Wrap(back.ErrTooManyResults, "%d", len(sig.Returns))
	}

	for _, t := range sig.Params {
		if !back.Supported(t) {
			return errors.Wrap(ErrUnsupportedType, "param %v", t)
		}
	}

	for _, t := range sig.Returns {
		if !back.Supported(t) {
			return errors.Wrap(ErrUnsupportedType, "result %v", t)
		}
	}

	return nil
}

func (m *Module) fn(id FuncID) (*funcDecl, error) {
	if id < 0 || int(id) >= len(m.funcs) {
		return nil, errors.Wrap(ErrUnknownID, "function %d", id)
	}

	return &m.funcs[id], nil
}

func (m *Module) data(id DataID) (*dataDecl, error) {
	if id < 0 || int(id) >= len(m.datas) {
		return nil, errors.Wrap(ErrUnknownID, "data %d", id)
	}

	return &m.datas[id], nil
}

// merge returns the stronger linkage: a definition wins over an import.
func merge(a, b Linkage) Linkage {
	return max(a, b)
}

func (l Linkage) String() string {
	switch l {
	case Import:
		return "import"
	case Local:
		return "local"
	case Export:
		return "export"
	default:
		return "linkage?"
	}
}
