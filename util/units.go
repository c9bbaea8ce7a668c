package util

import "math"

// DotsPerMm203 is the resolution of a 203 dpi print head.
const DotsPerMm203 = 8.0

// MmToDots converts a physical length to printer dots, rounding to the
// nearest dot.
func MmToDots(mm, dotsPerMm float64) int {
	if mm <= 0 || dotsPerMm <= 0 {
		return 0
	}
	return int(math.Round(mm * dotsPerMm))
}

// AlignUp rounds n up to the next multiple of m.
func AlignUp(n, m int) int {
	if m <= 0 {
		return n
	}
	return (n + m - 1) / m * m
}
