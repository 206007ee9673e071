// Package safeconv converts between integer types where the target may be
// narrower than the source.
package safeconv

import (
	"errors"
	"math"
)

// ErrOutOfRange is returned when a value does not fit the target type.
var ErrOutOfRange = errors.New("value out of range")

// Uint64ToInt converts v or reports ErrOutOfRange.
func Uint64ToInt(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, ErrOutOfRange
	}

	return int(v), nil
}

// MustLenToUint64 converts a length to uint64. Lengths are never negative,
// so a negative input panics.
func MustLenToUint64(n int) uint64 {
	if n < 0 {
		panic("safeconv: negative length")
	}

	return uint64(n)
}

// FdToInt converts a file descriptor for golang.org/x/term. Descriptors
// above MaxInt map to -1, which term treats as invalid.
func FdToInt(fd uintptr) int {
	if fd > math.MaxInt {
		return -1
	}

	return int(fd)
}
