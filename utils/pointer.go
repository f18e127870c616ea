package utils

import (
	"encoding/binary"
	"math"
)

// RefPointer returns a pointer to v.
func RefPointer[T any](v T) *T {
	return &v
}

// DerefPointer returns the value p points to, or the zero value when p is nil.
func DerefPointer[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// BytesToT32 reinterprets a little-endian raw tensor buffer as 32-bit floats.
func BytesToT32[T ~float32](data []byte) []T {
	out := make([]T, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = T(math.Float32frombits(bits))
	}
	return out
}
