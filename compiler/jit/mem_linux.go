//go:build linux

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"tlog.app/go/errors"
)

type (
	// region is an anonymous private mapping.
	// It is writable until protect is called.
	region struct {
		mem []byte
	}
)

const (
	protExec = unix.PROT_READ | unix.PROT_EXEC
	protRead = unix.PROT_READ
)

func mapRegion(size int) (*region, error) {
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap %d", size)
	}

	return &region{mem: mem}, nil
}

func (r *region) addr(off int) uintptr {
	return uintptr(unsafe.Pointer(&r.mem[0])) + uintptr(off)
}

func (r *region) protect(prot int) error {
	if len(r.mem) == 0 {
		return nil
	}

	err := unix.Mprotect(r.mem, prot)
	if err != nil {
		return errors.Wrap(err, "mprotect")
	}

	return nil
}

func (r *region) unmap() error {
	if len(r.mem) == 0 {
		return nil
	}

	mem := r.mem
	r.mem = nil

	return unix.Munmap(mem)
}
