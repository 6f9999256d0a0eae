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

import "fmt"

// Satp is the value of the supervisor address translation and protection
// register.
type Satp uint32

const (
	// satpModeSv32 is the enable bit: mode field (bit 31) set to Sv32.
	satpModeSv32 Satp = 1 << 31

	// satpPPNMask covers the root page number in the low 22 bits.
	satpPPNMask Satp = 1<<22 - 1
)

// MakeSatp returns the satp value enabling Sv32 translation rooted at the
// table at root: (1<<31) | (root >> 12).
func MakeSatp(root PAddr) Satp {
	return satpModeSv32 | Satp(uint64(root)>>PageShift)&satpPPNMask
}

// Enabled returns true if the value enables translation.
func (s Satp) Enabled() bool {
	return s&satpModeSv32 != 0
}

// Root returns the physical address of the root table.
func (s Satp) Root() PAddr {
	return FromPPN(uint32(s & satpPPNMask))
}

// String implements fmt.Stringer.String.
func (s Satp) String() string {
	return fmt.Sprintf("%#08x", uint32(s))
}
