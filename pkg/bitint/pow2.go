// SPDX-License-Identifier: MIT

/*
Package bitint has the power-of-two helpers used to size FFTs and ring
buffers. Both functions are constant time and allocation free, so they are
safe on the audio and analysis threads.

	ring := bitint.NextPowerOfTwo(capacity) // 1000 -> 1024
	ok := bitint.IsPowerOfTwo(fftSize)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0.
//
// size-1 keeps exact powers of two where they are: Len(7) is 3, so 8 maps to
// 1<<3, while Len(8) would give 16.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has one bit set, so clearing its lowest set bit leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
