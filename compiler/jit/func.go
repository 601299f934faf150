package jit

import (
	"tlog.app/go/errors"

	"github.com/slowlang/slowjit/compiler/ir"
)

type (
	// Func is a finalized function. It is safe for concurrent use.
	Func struct {
		Name string
		Sig  ir.Signature

		addr uintptr
		m    *Module
	}
)

func (f *Func) Addr() uintptr { return f.addr }

// Call runs the function. Bool results are 0 or 1.
// Functions without results return 0.
func (f *Func) Call(args ...int64) (int64, error) {
	if len(args) != len(f.Sig.Params) {
		return 0, errors.Wrap(ErrArgs, "%v: got %d, want %d", f.Name, len(args), len(f.Sig.Params))
	}

	if f.m.closed.Load() {
		return 0, errors.Wrap(ErrClosed, "call %v", f.Name)
	}

	var a [6]int64
	copy(a[:], args)

	r := callNative(f.addr, a[0], a[1], a[2], a[3], a[4], a[5])

	if len(f.Sig.Returns) == 0 {
		return 0, nil
	}

	return r, nil
}
