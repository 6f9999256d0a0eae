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

// Package sv32 describes the RV32 Sv32 virtual memory scheme: page geometry,
// virtual and physical address types, page table entry encoding and the satp
// register format.
package sv32

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift

	// WordSize is the size of a machine word (and of a PTE) in bytes.
	WordSize = 4

	// EntriesPerTable is the number of PTEs in a single table page.
	EntriesPerTable = PageSize / WordSize

	// Levels is the depth of an Sv32 translation.
	Levels = 2

	// vpnBits is the width of each virtual page number field.
	vpnBits = 10

	// vpn0Shift and vpn1Shift locate the level-0 and level-1 indices.
	vpn0Shift = PageShift
	vpn1Shift = PageShift + vpnBits

	// ppnShift is where the physical page number starts inside a PTE.
	ppnShift = 10

	// PhysicalAddressBits is the width of the Sv32 physical address space.
	PhysicalAddressBits = 34
)
