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

// Package pgalloc is the kernel's physical page allocator.
//
// The heap region handed to Init is split into a descriptor prefix, one byte
// per page, followed by the page-aligned pages the allocator hands out.
// Allocation is a first-fit linear scan for a run of free pages, so it is
// O(pages) per call.
package pgalloc

import (
	"errors"
	"fmt"
	"io"
	"time"

	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/sv32"
)

var (
	// ErrExhausted is returned when no run of free pages is long enough.
	// It is recoverable; callers decide whether it is fatal.
	ErrExhausted = errors.New("out of physical pages")

	// ErrInvalidCount is returned for requests of zero pages.
	ErrInvalidCount = errors.New("invalid page count")

	// ErrHeapTooSmall is returned by Init when the heap cannot hold its own
	// descriptors plus at least one page.
	ErrHeapTooSmall = errors.New("heap too small")
)

// Memory is the physical memory the allocator manages.
type Memory interface {
	// Slice returns [pa, pa+n) as a byte slice aliasing memory.
	Slice(pa sv32.PAddr, n uint64) []byte

	// Zero clears [pa, pa+n).
	Zero(pa sv32.PAddr, n uint64)
}

// Fataler is the kernel panic path. Fatalf never returns.
type Fataler interface {
	Fatalf(format string, v ...any)
}

// descriptor is the state of a single page.
type descriptor uint8

const (
	free  descriptor = 0
	taken descriptor = 1 << 0
	last  descriptor = 1 << 1
)

func (d descriptor) String() string {
	switch d {
	case free:
		return "free"
	case taken:
		return "taken"
	case taken | last:
		return "last"
	default:
		return fmt.Sprintf("corrupt(%#x)", uint8(d))
	}
}

// PageAllocator hands out runs of physical pages. It is not synchronized;
// see Locked.
type PageAllocator struct {
	mem   Memory
	fatal Fataler

	heapStart  sv32.PAddr
	heapEnd    sv32.PAddr
	allocStart sv32.PAddr

	// total is the number of pages in the whole heap region.
	total int

	// pages has one descriptor per allocatable page, indexed by page number
	// relative to allocStart. It aliases the heap's descriptor prefix.
	pages []descriptor

	// exhausted limits warnings when callers spin on a full heap.
	exhausted log.Logger
}

// New returns an allocator over mem. It must be initialized with Init before
// use.
func New(mem Memory, fatal Fataler) *PageAllocator {
	return &PageAllocator{
		mem:       mem,
		fatal:     fatal,
		exhausted: log.BasicRateLimitedLogger(time.Second, 5),
	}
}

// Init takes ownership of [heapStart, heapEnd), lays out the descriptor
// prefix and marks every page free.
func (a *PageAllocator) Init(heapStart, heapEnd sv32.PAddr) error {
	if heapEnd < heapStart {
		return fmt.Errorf("heap [%v, %v): end before start", heapStart, heapEnd)
	}
	total := int((heapEnd - heapStart) / sv32.PageSize)
	allocStart, ok := (heapStart + sv32.PAddr(total)).RoundUp()
	if !ok || allocStart >= heapEnd || (heapEnd-allocStart)/sv32.PageSize == 0 {
		return fmt.Errorf("heap [%v, %v) has %d pages: %w", heapStart, heapEnd, total, ErrHeapTooSmall)
	}
	usable := int((heapEnd - allocStart) / sv32.PageSize)

	a.mem.Zero(heapStart, uint64(total))
	a.heapStart = heapStart
	a.heapEnd = heapEnd
	a.allocStart = allocStart
	a.total = total
	a.pages = descriptors(a.mem.Slice(heapStart, uint64(usable)))
	log.Debugf("pgalloc: heap [%v, %v), %d pages, %d allocatable from %v", heapStart, heapEnd, total, usable, allocStart)
	return nil
}

// Alloc returns the address of the first run of n free pages and marks the
// run taken. It returns ErrExhausted if there is no such run.
func (a *PageAllocator) Alloc(n int) (sv32.PAddr, error) {
	a.checkInit()
	if n <= 0 {
		return 0, fmt.Errorf("allocating %d pages: %w", n, ErrInvalidCount)
	}
	for i := 0; i+n <= len(a.pages); {
		j := i
		for j < i+n && a.pages[j] == free {
			j++
		}
		if j < i+n {
			// pages[j] is in use; no run can start at or before it.
			i = j + 1
			continue
		}
		for k := i; k < i+n-1; k++ {
			a.pages[k] = taken
		}
		a.pages[i+n-1] = taken | last
		return a.addr(i), nil
	}
	a.exhausted.Warningf("pgalloc: no run of %d free pages (%d of %d free)", n, a.freeCount(), len(a.pages))
	return 0, ErrExhausted
}

// ZeroAlloc is Alloc followed by zeroing the run.
func (a *PageAllocator) ZeroAlloc(n int) (sv32.PAddr, error) {
	pa, err := a.Alloc(n)
	if err != nil {
		return 0, err
	}
	a.mem.Zero(pa, uint64(n)*sv32.PageSize)
	return pa, nil
}

// Dealloc frees the run starting at pa.
//
// Freeing an address that is not the start of a live run is a kernel bug:
// addresses outside the heap, unaligned addresses and runs that are not
// terminated by a last page (double frees) are fatal.
func (a *PageAllocator) Dealloc(pa sv32.PAddr) {
	a.checkInit()
	end := a.addr(len(a.pages))
	if pa < a.allocStart || pa >= end {
		a.fatal.Fatalf("dealloc of %v outside managed pages [%v, %v)", pa, a.allocStart, end)
		return
	}
	if !pa.IsPageAligned() {
		a.fatal.Fatalf("dealloc of unaligned address %v", pa)
		return
	}
	i := a.index(pa)
	for i < len(a.pages) && a.pages[i] == taken {
		a.pages[i] = free
		i++
	}
	if i == len(a.pages) || a.pages[i] != taken|last {
		a.fatal.Fatalf("page %#x is not marked as last", uint64(a.addr(i)))
		return
	}
	a.pages[i] = free
}

func (a *PageAllocator) checkInit() {
	if a.pages == nil {
		a.fatal.Fatalf("page allocator used before Init")
	}
}

func (a *PageAllocator) addr(i int) sv32.PAddr {
	return a.allocStart.AddPages(i)
}

func (a *PageAllocator) index(pa sv32.PAddr) int {
	return int((pa - a.allocStart) / sv32.PageSize)
}

func (a *PageAllocator) freeCount() int {
	n := 0
	for _, d := range a.pages {
		if d == free {
			n++
		}
	}
	return n
}

// Stats is a snapshot of allocator occupancy.
type Stats struct {
	// HeapPages is the number of pages in the whole heap region, including
	// the descriptor prefix.
	HeapPages int

	// Pages is the number of allocatable pages.
	Pages int

	// Free and Taken partition Pages.
	Free  int
	Taken int
}

// Stats returns current occupancy.
func (a *PageAllocator) Stats() Stats {
	f := a.freeCount()
	return Stats{HeapPages: a.total, Pages: len(a.pages), Free: f, Taken: len(a.pages) - f}
}

// Run is an allocated run of pages.
type Run struct {
	Start sv32.PAddr
	Pages int
}

// End returns the address one past the run.
func (r Run) End() sv32.PAddr {
	return r.Start.AddPages(r.Pages)
}

// Runs returns every allocated run in address order.
func (a *PageAllocator) Runs() []Run {
	var (
		runs  []Run
		start = -1
	)
	for i, d := range a.pages {
		if d&taken == 0 {
			continue
		}
		if start < 0 {
			start = i
		}
		if d&last != 0 {
			runs = append(runs, Run{Start: a.addr(start), Pages: i - start + 1})
			start = -1
		}
	}
	return runs
}

// AllocStart returns the first allocatable address.
func (a *PageAllocator) AllocStart() sv32.PAddr {
	return a.allocStart
}

// PrintAllocations writes the allocation map to w.
func (a *PageAllocator) PrintAllocations(w io.Writer) {
	s := a.Stats()
	fmt.Fprintf(w, "page allocator: heap [%#x, %#x), alloc start %#x, %d pages, %d allocatable\n",
		uint64(a.heapStart), uint64(a.heapEnd), uint64(a.allocStart), s.HeapPages, s.Pages)
	for _, r := range a.Runs() {
		fmt.Fprintf(w, "  block %#x -> %#x: %d page(s)\n", uint64(r.Start), uint64(r.End()), r.Pages)
	}
	fmt.Fprintf(w, "  taken: %d pages (%d bytes), free: %d pages (%d bytes)\n",
		s.Taken, s.Taken*sv32.PageSize, s.Free, s.Free*sv32.PageSize)
}
