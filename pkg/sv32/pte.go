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
	"strings"

	"oxiv.dev/oxiv/pkg/bits"
)

// PTEFlags are the low bits of a page table entry.
type PTEFlags uint32

// Page table entry flags.
const (
	Valid PTEFlags = 1 << iota
	Read
	Write
	Execute
	User
	Global
	Accessed
	Dirty

	// FlagsMask covers every flag bit, including the two RSW bits.
	FlagsMask PTEFlags = 1<<ppnShift - 1

	// Permissions are the flags that make an entry a leaf.
	Permissions = Read | Write | Execute
)

// Common permission sets for kernel segments.
const (
	ReadExecute = Read | Execute
	ReadWrite   = Read | Write
)

var flagNames = []struct {
	flag PTEFlags
	c    byte
}{
	{Dirty, 'd'},
	{Accessed, 'a'},
	{Global, 'g'},
	{User, 'u'},
	{Execute, 'x'},
	{Write, 'w'},
	{Read, 'r'},
	{Valid, 'v'},
}

// String implements fmt.Stringer.String. It renders flags like "--a--xwrv".
func (f PTEFlags) String() string {
	var b strings.Builder
	for _, n := range flagNames {
		if bits.IsOn(f, n.flag) {
			b.WriteByte(n.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PTE is a single Sv32 page table entry.
type PTE uint32

// MakePTE returns a valid entry pointing at pa with the given flags.
func MakePTE(pa PAddr, flags PTEFlags) PTE {
	return PTE(pa.PPN()<<ppnShift) | PTE(flags&FlagsMask) | PTE(Valid)
}

// Valid returns true iff the entry is valid.
func (p PTE) Valid() bool {
	return bits.IsOn(PTEFlags(p), Valid)
}

// IsLeaf returns true iff any of Read, Write or Execute is set.
func (p PTE) IsLeaf() bool {
	return bits.IsAnyOn(PTEFlags(p), Permissions)
}

// IsBranch returns true iff the entry is valid and points to a next-level
// table.
func (p PTE) IsBranch() bool {
	return p.Valid() && !p.IsLeaf()
}

// Flags returns the flag bits of the entry.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p) & FlagsMask
}

// Address returns the physical address the entry points at.
func (p PTE) Address() PAddr {
	return FromPPN(uint32(p) >> ppnShift)
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	kind := "Leaf"
	if !p.IsLeaf() {
		kind = "Branch"
	}
	return fmt.Sprintf("%s %#08x -> %v [%v]", kind, uint32(p), p.Address(), p.Flags())
}
