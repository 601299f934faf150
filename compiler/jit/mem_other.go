//go:build !linux

package jit

type (
	region struct {
		mem []byte
	}
)

const (
	protExec = 0
	protRead = 0
)

func mapRegion(size int) (*region, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *region) addr(off int) uintptr { return 0 }

func (r *region) protect(prot int) error { return nil }

func (r *region) unmap() error { return nil }
