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

package kernel

import (
	"oxiv.dev/oxiv/pkg/sv32"
)

// memTestPages is the size of each self test allocation.
const memTestPages = 10

// memTest exercises the page allocator and the kernel allocator, printing
// the allocation map after every step. Allocation failures are reported and
// the test moves on.
func (k *Kernel) memTest() {
	k.println("Basic memory initialization done! Testing some allocations...")
	if failed := k.MemTest(); failed > 0 {
		k.printf("Mem test done with %d failures!\n", failed)
		return
	}
	k.println("Mem test done!")
}

// MemTest runs the allocator self test and returns the number of failed
// steps.
func (k *Kernel) MemTest() int {
	console := k.Machine.Console()
	failed := 0

	page1, err := k.Pages.Alloc(memTestPages)
	if err != nil {
		k.printf("alloc(%d) failed: %v\n", memTestPages, err)
		failed++
	} else {
		k.printf("Got %#x\n", uint64(page1))
	}
	k.Pages.PrintAllocations(console)

	page2, err := k.Pages.ZeroAlloc(memTestPages)
	if err != nil {
		k.printf("zero_alloc(%d) failed: %v\n", memTestPages, err)
		failed++
	} else {
		k.printf("Got %#x\n", uint64(page2))
		for _, b := range k.Machine.Memory.Slice(page2, memTestPages*sv32.PageSize) {
			if b != 0 {
				k.printf("zero_alloc(%d) returned dirty memory at %#x\n", memTestPages, uint64(page2))
				failed++
				break
			}
		}
	}
	k.Pages.PrintAllocations(console)

	if page1 != 0 {
		k.Pages.Dealloc(page1)
		k.Pages.PrintAllocations(console)
	}
	if page2 != 0 {
		k.Pages.Dealloc(page2)
	}

	k.println("Specifically checking the kernel allocator")
	const words = 10
	buf, err := k.Alloc.ZeroAlloc(words * sv32.WordSize)
	if err != nil {
		k.printf("kernel alloc failed: %v\n", err)
		failed++
	} else {
		for i := 0; i < 5; i++ {
			k.Machine.Memory.WriteWord(buf+sv32.PAddr(i*sv32.WordSize), uint32(i+1))
		}
		k.Pages.PrintAllocations(console)
		var vec []uint32
		for i := 0; i < 5; i++ {
			vec = append(vec, k.Machine.Memory.ReadWord(buf+sv32.PAddr(i*sv32.WordSize)))
		}
		k.printf("Vec: %v\n", vec)
		k.Alloc.Free(buf)
		k.println("Kernel allocator test done!")
	}
	k.Pages.PrintAllocations(console)
	return failed
}
