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

package pgalloc

import (
	"fmt"
	"io"

	"oxiv.dev/oxiv/pkg/bits"
	"oxiv.dev/oxiv/pkg/sv32"
	"oxiv.dev/oxiv/pkg/sync"
)

// Locked is a PageAllocator shared behind a SpinLock. Every operation holds
// the lock for its whole duration.
type Locked struct {
	lock *sync.SpinLock[*PageAllocator]
}

// NewLocked wraps a.
func NewLocked(a *PageAllocator) *Locked {
	return &Locked{lock: sync.NewSpinLock(a)}
}

// Init calls PageAllocator.Init under the lock.
func (l *Locked) Init(heapStart, heapEnd sv32.PAddr) (err error) {
	l.lock.With(func(a **PageAllocator) {
		err = (*a).Init(heapStart, heapEnd)
	})
	return err
}

// Alloc calls PageAllocator.Alloc under the lock.
func (l *Locked) Alloc(n int) (pa sv32.PAddr, err error) {
	l.lock.With(func(a **PageAllocator) {
		pa, err = (*a).Alloc(n)
	})
	return pa, err
}

// ZeroAlloc calls PageAllocator.ZeroAlloc under the lock.
func (l *Locked) ZeroAlloc(n int) (pa sv32.PAddr, err error) {
	l.lock.With(func(a **PageAllocator) {
		pa, err = (*a).ZeroAlloc(n)
	})
	return pa, err
}

// Dealloc calls PageAllocator.Dealloc under the lock.
func (l *Locked) Dealloc(pa sv32.PAddr) {
	l.lock.With(func(a **PageAllocator) {
		(*a).Dealloc(pa)
	})
}

// Stats calls PageAllocator.Stats under the lock.
func (l *Locked) Stats() (s Stats) {
	l.lock.With(func(a **PageAllocator) {
		s = (*a).Stats()
	})
	return s
}

// Runs calls PageAllocator.Runs under the lock.
func (l *Locked) Runs() (r []Run) {
	l.lock.With(func(a **PageAllocator) {
		r = (*a).Runs()
	})
	return r
}

// PrintAllocations calls PageAllocator.PrintAllocations under the lock. If
// the lock is held, as it may be when the machine halted mid-operation, a
// note is printed instead of spinning forever.
func (l *Locked) PrintAllocations(w io.Writer) {
	g, ok := l.lock.TryLock()
	if !ok {
		fmt.Fprintln(w, "page allocator: locked")
		return
	}
	defer g.Unlock()
	(*g.Get()).PrintAllocations(w)
}

// Pages allocates and frees whole pages.
type Pages interface {
	Alloc(n int) (sv32.PAddr, error)
	ZeroAlloc(n int) (sv32.PAddr, error)
	Dealloc(pa sv32.PAddr)
}

// KernelAllocator serves byte-sized kernel allocations, such as process
// stacks, in whole pages. Freed runs go straight back to the page allocator.
type KernelAllocator struct {
	pages Pages
}

// NewKernelAllocator returns a KernelAllocator drawing from pages.
func NewKernelAllocator(pages Pages) *KernelAllocator {
	return &KernelAllocator{pages: pages}
}

func pagesFor(size uint64) (int, error) {
	if size == 0 {
		return 0, fmt.Errorf("allocating 0 bytes: %w", ErrInvalidCount)
	}
	return int(bits.DivRoundUp(size, uint64(sv32.PageSize))), nil
}

// Alloc returns at least size bytes of page-aligned memory.
func (k *KernelAllocator) Alloc(size uint64) (sv32.PAddr, error) {
	n, err := pagesFor(size)
	if err != nil {
		return 0, err
	}
	return k.pages.Alloc(n)
}

// ZeroAlloc is Alloc with the memory cleared.
func (k *KernelAllocator) ZeroAlloc(size uint64) (sv32.PAddr, error) {
	n, err := pagesFor(size)
	if err != nil {
		return 0, err
	}
	return k.pages.ZeroAlloc(n)
}

// Free releases memory returned by Alloc or ZeroAlloc.
func (k *KernelAllocator) Free(pa sv32.PAddr) {
	k.pages.Dealloc(pa)
}
