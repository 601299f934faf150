package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/back"
	"github.com/slowlang/slowjit/compiler/format"
	"github.com/slowlang/slowjit/compiler/ir"
)

// Compile verifies f and lowers it to machine code for a.
func Compile(ctx context.Context, a back.Arch, f *ir.Func) (obj *back.Object, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "name", f.Name, "arch", a.Name())
	defer tr.Finish("err", &err)

	if tr.If("dump_ir") {
		text, err := format.Format(ctx, nil, f)
		if err != nil {
			return nil, errors.Wrap(err, "format")
		}

		tr.Printw("ir", "text", string(text))
	}

	err = ir.Verify(f)
	if err != nil {
		return nil, errors.Wrap(err, "verify")
	}

	obj, err = back.Compile(ctx, a, f)
	if err != nil {
		return nil, errors.Wrap(err, "back")
	}

	return obj, nil
}
