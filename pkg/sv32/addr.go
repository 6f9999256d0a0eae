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

package sv32

import (
	"fmt"

	"oxiv.dev/oxiv/pkg/bits"
)

// VAddr is a virtual address.
type VAddr uint32

// PAddr is a physical address. Sv32 physical addresses are 34 bits wide.
//
// VAddr and PAddr are deliberately distinct types; converting between them
// is only correct where an identity mapping is established.
type PAddr uint64

// String implements fmt.Stringer.String.
func (v VAddr) String() string {
	return fmt.Sprintf("%#x", uint32(v))
}

// VPN1 returns the level-1 table index (bits 22-31).
func (v VAddr) VPN1() int {
	return int(bits.Field(uint32(v), vpn1Shift, vpnBits))
}

// VPN0 returns the level-0 table index (bits 12-21).
func (v VAddr) VPN0() int {
	return int(bits.Field(uint32(v), vpn0Shift, vpnBits))
}

// VPN returns the table index for the given level.
func (v VAddr) VPN(level int) int {
	if level == 1 {
		return v.VPN1()
	}
	return v.VPN0()
}

// Offset returns the offset of v within its page (bits 0-11).
func (v VAddr) Offset() uint32 {
	return bits.Field(uint32(v), 0, PageShift)
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v VAddr) IsPageAligned() bool {
	return bits.IsAligned(uint32(v), PageShift)
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v VAddr) RoundDown() VAddr {
	return VAddr(bits.AlignDown(uint32(v), PageShift))
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v VAddr) RoundUp() (addr VAddr, ok bool) {
	a, ok := bits.AlignUp(uint32(v), PageShift)
	return VAddr(a), ok
}

// AddPages returns v advanced by n pages.
func (v VAddr) AddPages(n int) VAddr {
	return v + VAddr(n)*PageSize
}

// String implements fmt.Stringer.String.
func (p PAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// IsPageAligned returns true if p is aligned to a page boundary.
func (p PAddr) IsPageAligned() bool {
	return bits.IsAligned(uint64(p), PageShift)
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PAddr) RoundDown() PAddr {
	return PAddr(bits.AlignDown(uint64(p), PageShift))
}

// RoundUp returns the address rounded up to the nearest page boundary.
func (p PAddr) RoundUp() (addr PAddr, ok bool) {
	a, ok := bits.AlignUp(uint64(p), PageShift)
	return PAddr(a), ok
}

// PPN returns the physical page number of p.
func (p PAddr) PPN() uint32 {
	return uint32(bits.Field(uint64(p), PageShift, PhysicalAddressBits-PageShift))
}

// AddPages returns p advanced by n pages.
func (p PAddr) AddPages(n int) PAddr {
	return p + PAddr(n)*PageSize
}

// FromPPN returns the physical address of the page with number ppn.
func FromPPN(ppn uint32) PAddr {
	return PAddr(ppn) << PageShift
}

// Identity returns the physical address equal to v. It is only valid for
// identity-mapped kernel ranges.
func Identity(v VAddr) PAddr {
	return PAddr(v)
}
