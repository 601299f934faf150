//go:build !linux || !(amd64 || arm64)

package jit

const nativeSupported = false

func callNative(fn uintptr, a0, a1, a2, a3, a4, a5 int64) int64 {
	panic(ErrUnsupportedPlatform)
}
