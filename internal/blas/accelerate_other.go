//go:build !darwin || !cgo

package blas

// accelerate reports no hardware backend on this platform.
func accelerate() *Device { return nil }
