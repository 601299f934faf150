package jit

import (
	"context"
	"runtime"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slowjit/compiler/asm"
)

type (
	// placed is a piece of code or data at an offset in a region.
	placed struct {
		off  int
		code []byte

		id   int // -1 for host routines
		host string

		relocs []asm.Reloc
	}
)

const align = 16

// FinalizeDefinitions links everything defined since the previous call.
// Code is mapped executable and read only, data read only unless declared writable.
func (m *Module) FinalizeDefinitions(ctx context.Context) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "jit: finalize", "arch", m.arch.Name())
	defer tr.Finish("err", &err)

	if m.closed.Load() {
		return ErrClosed
	}

	if !nativeSupported || m.arch.Name() != runtime.GOARCH {
		return errors.Wrap(ErrUnsupportedPlatform, "run %v code on %v/%v", m.arch.Name(), runtime.GOOS, runtime.GOARCH)
	}

	var ro, rw, text []placed
	var roSize, rwSize, textSize int

	for id := range m.datas {
		d := &m.datas[id]

		if !d.defined || d.addr != 0 {
			continue
		}

		p := placed{id: id, code: d.data}

		if d.writable {
			p.off, rwSize = place(rwSize, len(d.data))
			rw = append(rw, p)
		} else {
			p.off, roSize = place(roSize, len(d.data))
			ro = append(ro, p)
		}
	}

	hosts := map[string]bool{}

	for id := range m.funcs {
		d := &m.funcs[id]

		if d.obj == nil || d.addr != 0 {
			continue
		}

		for _, r := range d.obj.Relocs {
			host, err := m.checkSymbol(r.Symbol)
			if err != nil {
				return errors.Wrap(err, "function %v", d.name)
			}

			if host && m.hostAddr[r.Symbol] == 0 && !hosts[r.Symbol] {
				hosts[r.Symbol] = true

				code := m.Imports[r.Symbol].Code(m.arch, m.Stdout)

				p := placed{id: -1, host: r.Symbol, code: code}
				p.off, textSize = place(textSize, len(code))

				text = append(text, p)
			}
		}

		p := placed{id: id, code: d.obj.Code, relocs: d.obj.Relocs}
		p.off, textSize = place(textSize, len(d.obj.Code))

		text = append(text, p)
	}

	if len(text)+len(ro)+len(rw) == 0 {
		return nil
	}

	textR, err := m.mapRegion(text, textSize)
	if err != nil {
		return errors.Wrap(err, "map code")
	}

	roR, err := m.mapRegion(ro, roSize)
	if err != nil {
		return errors.Wrap(err, "map data")
	}

	rwR, err := m.mapRegion(rw, rwSize)
	if err != nil {
		return errors.Wrap(err, "map writable data")
	}

	// nothing of a failed batch is reachable, it is retried on the next call
	defer func() {
		if err != nil {
			m.unassign(ro, rw, text)
		}
	}()

	for _, p := range ro {
		m.datas[p.id].addr = roR.addr(p.off)
	}

	for _, p := range rw {
		m.datas[p.id].addr = rwR.addr(p.off)
	}

	for _, p := range text {
		if p.id < 0 {
			m.hostAddr[p.host] = textR.addr(p.off)
		}
	}

	// addresses of functions are needed before patching for calls between them
	for _, p := range text {
		if p.id >= 0 {
			m.funcs[p.id].addr = textR.addr(p.off)
		}
	}

	for _, p := range text {
		for _, r := range p.relocs {
			addr := m.symbolAddr(r.Symbol)

			r.Offset += p.off

			err = m.arch.Patch(textR.mem, r, uint64(addr))
			if err != nil {
				return errors.Wrap(err, "patch %v", r.Symbol)
			}

			tr.V("reloc").Printw("reloc", "r", r, "addr", tlog.NextAsHex, addr)
		}
	}

	err = textR.protect(protExec)
	if err != nil {
		return errors.Wrap(err, "protect code")
	}

	err = roR.protect(protRead)
	if err != nil {
		return errors.Wrap(err, "protect data")
	}

	tr.Printw("finalized", "code", textSize, "data", roSize, "writable_data", rwSize, "hosts", len(hosts))

	return nil
}

// checkSymbol reports whether sym resolves to a host routine.
func (m *Module) checkSymbol(sym string) (host bool, err error) {
	s, ok := m.names[sym]

	switch {
	case ok && s.data:
		if !m.datas[s.id].defined {
			return false, errors.Wrap(ErrUndefinedSymbol, "data %v", sym)
		}

		return false, nil
	case ok && m.funcs[s.id].linkage != Import:
		if m.funcs[s.id].obj == nil {
			return false, errors.Wrap(ErrUndefinedSymbol, "function %v", sym)
		}

		return false, nil
	}

	h, found := m.Imports[sym]
	if !found {
		return false, errors.Wrap(ErrUnresolvedSymbol, "%v", sym)
	}

	if ok && !m.funcs[s.id].sig.Equal(h.Sig) {
		return false, errors.Wrap(ErrIncompatibleDeclaration, "import %v: signature differs from host routine", sym)
	}

	return true, nil
}

func (m *Module) symbolAddr(sym string) uintptr {
	s, ok := m.names[sym]

	switch {
	case ok && s.data:
		return m.datas[s.id].addr
	case ok && m.funcs[s.id].linkage != Import:
		return m.funcs[s.id].addr
	default:
		return m.hostAddr[sym]
	}
}

func (m *Module) mapRegion(ps []placed, size int) (*region, error) {
	if size == 0 {
		return &region{}, nil
	}

	r, err := mapRegion(size)
	if err != nil {
		return nil, err
	}

	m.regions = append(m.regions, r)

	for _, p := range ps {
		copy(r.mem[p.off:], p.code)
	}

	return r, nil
}

func (m *Module) unassign(ro, rw, text []placed) {
	for _, p := range ro {
		m.datas[p.id].addr = 0
	}

	for _, p := range rw {
		m.datas[p.id].addr = 0
	}

	for _, p := range text {
		if p.id < 0 {
			delete(m.hostAddr, p.host)
		} else {
			m.funcs[p.id].addr = 0
		}
	}
}

func place(off, size int) (at, end int) {
	at = (off + align - 1) &^ (align - 1)

	return at, at + max(size, 1)
}
