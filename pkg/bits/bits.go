// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bits contains non-atomic bit and alignment operations on unsigned
// integer types.
package bits

import (
	"golang.org/x/exp/constraints"
)

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T constraints.Unsigned](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T constraints.Unsigned](i int) T {
	return T(1) << uint(i)
}

// Field extracts width bits of v starting at bit shift.
func Field[T constraints.Unsigned](v T, shift, width uint) T {
	return (v >> shift) & (T(1)<<width - 1)
}

// AlignDown rounds v down to a multiple of 1<<order.
func AlignDown[T constraints.Unsigned](v T, order uint) T {
	return v &^ (T(1)<<order - 1)
}

// AlignUp rounds v up to the next multiple of 1<<order. ok is false if the
// result wrapped around.
func AlignUp[T constraints.Unsigned](v T, order uint) (aligned T, ok bool) {
	aligned = AlignDown(v+(T(1)<<order-1), order)
	return aligned, aligned >= v
}

// IsAligned returns true if v is a multiple of 1<<order.
func IsAligned[T constraints.Unsigned](v T, order uint) bool {
	return v&(T(1)<<order-1) == 0
}

// DivRoundUp returns ceil(n/d).
func DivRoundUp[T constraints.Unsigned](n, d T) T {
	return (n + d - 1) / d
}
