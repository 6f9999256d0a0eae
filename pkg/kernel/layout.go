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
	"errors"
	"fmt"

	"oxiv.dev/oxiv/pkg/sv32"
)

// ErrInvalidLayout is returned for boot layouts the kernel cannot use.
var ErrInvalidLayout = errors.New("invalid boot layout")

// Segment is a half-open address range [Start, End).
type Segment struct {
	Start sv32.VAddr `toml:"start"`
	End   sv32.VAddr `toml:"end"`
}

// Size returns the length of the segment in bytes.
func (s Segment) Size() uint32 {
	return uint32(s.End - s.Start)
}

// String implements fmt.Stringer.String.
func (s Segment) String() string {
	return fmt.Sprintf("0x%x -> 0x%x", uint32(s.Start), uint32(s.End))
}

// BootInfo is the memory layout handed over by the boot stage: where each
// section of the kernel image ended up, and the heap that follows it.
type BootInfo struct {
	Text   Segment `toml:"text"`
	Rodata Segment `toml:"rodata"`
	Data   Segment `toml:"data"`
	Bss    Segment `toml:"bss"`
	Stack  Segment `toml:"stack"`
	Heap   Segment `toml:"heap"`
}

// Section sizes of the default image.
const (
	defaultTextSize   = 64 << 10
	defaultRodataSize = 16 << 10
	defaultDataSize   = 16 << 10
	defaultBssSize    = 32 << 10
	defaultStackSize  = 64 << 10
)

// DefaultBootInfo lays the kernel image out at the start of RAM, the way the
// linker script does, and gives the rest of RAM to the heap.
func DefaultBootInfo(ramBase sv32.PAddr, ramSize uint64) BootInfo {
	base := sv32.VAddr(ramBase)
	next := func(size uint32) Segment {
		s := Segment{Start: base, End: base + sv32.VAddr(size)}
		base = s.End
		return s
	}
	var b BootInfo
	b.Text = next(defaultTextSize)
	b.Rodata = next(defaultRodataSize)
	b.Data = next(defaultDataSize)
	b.Bss = next(defaultBssSize)
	b.Stack = next(defaultStackSize)
	b.Heap = Segment{Start: base, End: sv32.VAddr(uint64(ramBase) + ramSize)}
	return b
}

// NamedSegment is a segment with its section name.
type NamedSegment struct {
	Name string
	Segment
}

// Segments returns the segments in image order with their names.
func (b *BootInfo) Segments() []NamedSegment {
	return []NamedSegment{
		{"TEXT", b.Text},
		{"RODATA", b.Rodata},
		{"DATA", b.Data},
		{"BSS", b.Bss},
		{"STACK", b.Stack},
		{"HEAP", b.Heap},
	}
}

// minHeapPages is the smallest heap that holds its descriptors and one page.
const minHeapPages = 2

// Validate checks that every segment is well formed and lies within RAM
// [ramStart, ramEnd).
func (b *BootInfo) Validate(ramStart, ramEnd sv32.PAddr) error {
	for _, s := range b.Segments() {
		if s.End < s.Start {
			return fmt.Errorf("%s %v: end before start: %w", s.Name, s.Segment, ErrInvalidLayout)
		}
		if sv32.Identity(s.Start) < ramStart || sv32.Identity(s.End) > ramEnd {
			return fmt.Errorf("%s %v: outside RAM [%v, %v): %w", s.Name, s.Segment, ramStart, ramEnd, ErrInvalidLayout)
		}
	}
	if !b.Bss.Start.IsPageAligned() || b.Bss.Size() < sv32.PageSize {
		return fmt.Errorf("BSS %v cannot hold the root page table: %w", b.Bss, ErrInvalidLayout)
	}
	if b.Stack.Size() == 0 || b.Stack.End%16 != 0 {
		return fmt.Errorf("STACK %v: top must be 16-byte aligned: %w", b.Stack, ErrInvalidLayout)
	}
	if b.Heap.Size()/sv32.PageSize < minHeapPages {
		return fmt.Errorf("HEAP %v is smaller than %d pages: %w", b.Heap, minHeapPages, ErrInvalidLayout)
	}
	return nil
}
