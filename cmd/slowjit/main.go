package main

import (
	"context"
	"fmt"
	"os"

	llir "github.com/llir/llvm/ir"
	"github.com/pterm/pterm"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/asm/amd64"
	"github.com/slowlang/slowjit/compiler/demo"
	"github.com/slowlang/slowjit/compiler/format"
	"github.com/slowlang/slowjit/compiler/jit"
	"github.com/slowlang/slowjit/compiler/llvm"
)

var cfg *demo.Config

func main() {
	runCmd := &cli.Command{
		Name:        "run",
		Description: "build and call examples",
		Action:      runAct,
		Args:        cli.Args{},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print examples ir",
		Action:      dumpAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("llvm", false, "print llvm ir instead"),
		},
	}

	app := &cli.Command{
		Name:        "slowjit",
		Description: "slowjit builds tiny functions and runs them as native code",
		Before:      before,
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("config", "", "toml config file"),
			cli.NewFlag("v", "", "tlog verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			runCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) (err error) {
	if q := c.String("config"); q != "" {
		cfg, err = demo.LoadConfig(q)
		if err != nil {
			return err
		}
	}

	v := c.String("v")
	if v == "" && cfg != nil {
		v = cfg.Verbosity
	}

	if v != "" {
		tlog.SetVerbosity(v)
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	exs, err := selected(c.Args)
	if err != nil {
		return err
	}

	for _, ex := range exs {
		r, err := run(ctx, ex)
		if err != nil {
			pterm.Error.Println(ex.Name)

			return errors.Wrap(err, "%v", ex.Name)
		}

		fmt.Printf("result: %d\n", r)
	}

	return nil
}

func run(ctx context.Context, ex demo.Example) (int64, error) {
	m, err := jit.New()
	if err != nil {
		return 0, err
	}

	defer m.Close()

	return demo.Run(ctx, m, ex, cfg.Args(ex))
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	exs, err := selected(c.Args)
	if err != nil {
		return err
	}

	a, err := jit.Host()
	if err != nil {
		a = amd64.Arch{}
	}

	for _, ex := range exs {
		m := jit.NewModule(a)

		f, err := demo.IR(ctx, m, ex)
		if err != nil {
			return errors.Wrap(err, "%v", ex.Name)
		}

		pterm.DefaultSection.Println(ex.Name)

		if c.Bool("llvm") {
			lm := llir.NewModule()

			_, err = llvm.Export(lm, f, m.Data)
			if err != nil {
				return errors.Wrap(err, "%v", ex.Name)
			}

			fmt.Printf("%v\n", lm)

			continue
		}

		text, err := format.Format(ctx, nil, f)
		if err != nil {
			return errors.Wrap(err, "%v", ex.Name)
		}

		fmt.Printf("%s", text)
	}

	return nil
}

func selected(names []string) ([]demo.Example, error) {
	if len(names) == 0 {
		return demo.Examples, nil
	}

	exs := make([]demo.Example, 0, len(names))

	for _, n := range names {
		ex, err := demo.Find(n)
		if err != nil {
			return nil, err
		}

		exs = append(exs, ex)
	}

	return exs, nil
}
