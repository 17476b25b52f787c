// Package codec packs and parses the fixed-endian composite keys and
// values used throughout the store: little-endian integers, and the
// key/value layouts shared by the five type engines.
package codec

import (
	"encoding/binary"
	"math"
)

// StackBufSize is the suggested size for a caller-supplied scratch array
// passed to the key builders below (e.g. `var scratch [StackBufSize]byte`).
// Most composite keys (a short user key plus an int32 version plus a small
// member) fit comfortably under this; builders fall back to growing the
// slice normally (a heap allocation) once it doesn't.
const StackBufSize = 64

// PutInt32 appends the little-endian encoding of v to buf.
func PutInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

// PutUint32 appends the little-endian encoding of v to buf.
func PutUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutUint64 appends the little-endian encoding of v to buf.
func PutUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutFloat64Bits appends the raw IEEE-754 bit pattern of v, little-endian.
// Scores are ordered by the comparator as doubles, not lexicographically;
// see internal/comparator.
func PutFloat64Bits(buf []byte, v float64) []byte {
	return PutUint64(buf, math.Float64bits(v))
}

// Int32 reads a little-endian int32 from the front of b.
func Int32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

// Uint32 reads a little-endian uint32 from the front of b.
func Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Uint64 reads a little-endian uint64 from the front of b.
func Uint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// Float64Bits reads the raw IEEE-754 bit pattern from the front of b.
func Float64Bits(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
