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

// Package pagetables manages the kernel's Sv32 page tables.
//
// The root table lives at a fixed, page-aligned physical address handed in
// by the kernel. Level-0 tables are drawn from an Allocator on demand and
// returned to it by Unmap. All table memory is machine RAM, so the hardware
// walk sees exactly what this package writes.
package pagetables

import (
	"errors"
	"fmt"

	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/sv32"
)

// ErrUnaligned is returned by MapKernelRange for a misaligned start.
var ErrUnaligned = errors.New("address not page-aligned")

// Allocator provides pages for level-0 tables.
type Allocator interface {
	// ZeroAlloc returns n zeroed pages.
	ZeroAlloc(n int) (sv32.PAddr, error)

	// Dealloc frees a run returned by ZeroAlloc.
	Dealloc(pa sv32.PAddr)
}

// Memory is the physical memory holding the tables.
type Memory interface {
	ReadWord(pa sv32.PAddr) uint32
	WriteWord(pa sv32.PAddr, v uint32)
	Zero(pa sv32.PAddr, n uint64)
}

// Fataler is the kernel panic path. Fatalf never returns.
type Fataler interface {
	Fatalf(format string, v ...any)
}

// PageTables is a two-level Sv32 translation structure.
type PageTables struct {
	mem   Memory
	alloc Allocator
	fatal Fataler
	root  sv32.PAddr
}

// New returns empty page tables rooted at root, which must be a page-aligned
// page of RAM owned by the caller.
func New(mem Memory, alloc Allocator, fatal Fataler, root sv32.PAddr) (*PageTables, error) {
	if !root.IsPageAligned() {
		return nil, fmt.Errorf("root table %v: %w", root, ErrUnaligned)
	}
	mem.Zero(root, sv32.PageSize)
	return &PageTables{mem: mem, alloc: alloc, fatal: fatal, root: root}, nil
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() sv32.PAddr {
	return p.root
}

// Satp returns the satp value that enables translation through p.
func (p *PageTables) Satp() sv32.Satp {
	return sv32.MakeSatp(p.root)
}

func entryAddr(table sv32.PAddr, index int) sv32.PAddr {
	return table + sv32.PAddr(index*sv32.WordSize)
}

func (p *PageTables) get(table sv32.PAddr, index int) sv32.PTE {
	return sv32.PTE(p.mem.ReadWord(entryAddr(table, index)))
}

func (p *PageTables) set(table sv32.PAddr, index int, pte sv32.PTE) {
	p.mem.WriteWord(entryAddr(table, index), uint32(pte))
}

// Map installs a leaf translating va to pa with flags. An existing leaf for
// va is replaced.
//
// Both addresses must be page-aligned and flags must grant at least one of
// read, write or execute. The only error is allocator exhaustion while
// creating a level-0 table.
func (p *PageTables) Map(va sv32.VAddr, pa sv32.PAddr, flags sv32.PTEFlags) error {
	if !va.IsPageAligned() || !pa.IsPageAligned() {
		p.fatal.Fatalf("map of unaligned address: va=%v, pa=%v", va, pa)
		return ErrUnaligned
	}
	if flags&sv32.Permissions == 0 {
		p.fatal.Fatalf("map of %v with no permissions (flags %v)", va, flags)
		return fmt.Errorf("no permissions")
	}

	var table sv32.PAddr
	switch rootEntry := p.get(p.root, va.VPN1()); {
	case !rootEntry.Valid():
		t, err := p.alloc.ZeroAlloc(1)
		if err != nil {
			return fmt.Errorf("allocating level-0 table for %v: %w", va, err)
		}
		p.set(p.root, va.VPN1(), sv32.MakePTE(t, 0))
		table = t
	case rootEntry.IsLeaf():
		p.fatal.Fatalf("map of %v inside a superpage (%v)", va, rootEntry)
		return fmt.Errorf("superpage")
	default:
		table = rootEntry.Address()
	}
	p.set(table, va.VPN0(), sv32.MakePTE(pa, flags))
	return nil
}

// MapKernelRange identity maps every page of [start, end) with flags. end is
// rounded up to a page boundary.
func (p *PageTables) MapKernelRange(start, end sv32.VAddr, flags sv32.PTEFlags) error {
	if !start.IsPageAligned() {
		log.Warningf("pagetables: kernel range start %v is not page-aligned", start)
		return fmt.Errorf("kernel range [%v, %v): %w", start, end, ErrUnaligned)
	}
	if end < start {
		return fmt.Errorf("kernel range [%v, %v): end before start", start, end)
	}
	last, ok := end.RoundUp()
	if !ok {
		return fmt.Errorf("kernel range [%v, %v): end overflows", start, end)
	}
	for va := start; va < last; va += sv32.PageSize {
		if err := p.Map(va, sv32.Identity(va), flags); err != nil {
			return err
		}
	}
	log.Debugf("pagetables: identity mapped [%v, %v) %v", start, last, flags)
	return nil
}

// Lookup translates va in software. It returns the physical address and the
// leaf's flags, or ok == false if va is not mapped.
func (p *PageTables) Lookup(va sv32.VAddr) (pa sv32.PAddr, flags sv32.PTEFlags, ok bool) {
	rootEntry := p.get(p.root, va.VPN1())
	switch {
	case !rootEntry.Valid():
		return 0, 0, false
	case rootEntry.IsLeaf():
		return rootEntry.Address() + sv32.PAddr(uint32(va)&(1<<22-1)), rootEntry.Flags(), true
	}
	leaf := p.get(rootEntry.Address(), va.VPN0())
	if !leaf.Valid() || !leaf.IsLeaf() {
		return 0, 0, false
	}
	return leaf.Address() + sv32.PAddr(va.Offset()), leaf.Flags(), true
}

// Unmap clears every root entry. Level-0 tables are returned to the
// allocator; the pages that leaves point at are not owned by the table and
// are left alone.
func (p *PageTables) Unmap() {
	for i := 0; i < sv32.EntriesPerTable; i++ {
		e := p.get(p.root, i)
		if e.IsBranch() {
			p.alloc.Dealloc(e.Address())
		}
		if e != 0 {
			p.set(p.root, i, 0)
		}
	}
}
