package util

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a value does not fit into the requested
// number of parameter bytes.
var ErrOutOfRange = errors.New("value out of range")

// IntLowHigh splits n into b bytes, low byte first, the way ESC/POS encodes
// its nL nH parameters.
func IntLowHigh(n int, b int) ([]byte, error) {
	if b < 1 || b > 4 {
		return nil, fmt.Errorf("IntLowHigh: %d bytes requested, 1-4 bytes only", b)
	}
	if n < 0 || uint64(n) >= 1<<(8*uint(b)) {
		return nil, fmt.Errorf("IntLowHigh: %d in %d bytes: %w", n, b, ErrOutOfRange)
	}

	out := make([]byte, b)
	for i := 0; i < b; i++ {
		out[i] = byte(n % 256)
		n = n / 256
	}
	return out, nil
}

// Hex formats buf as space separated 0x.. bytes, handy for logging
// command sequences.
func Hex(buf []byte) string {
	out := make([]byte, 0, len(buf)*5)
	for i, c := range buf {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, fmt.Sprintf("0x%02x", c)...)
	}
	return string(out)
}
