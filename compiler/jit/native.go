//go:build linux && (amd64 || arm64)

package jit

const nativeSupported = true

// callNative calls fn with up to six integer arguments in the C calling convention.
// Implemented in native_$GOARCH.s.
//
//go:noescape
func callNative(fn uintptr, a0, a1, a2, a3, a4, a5 int64) int64
