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

package machine

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
	"oxiv.dev/oxiv/pkg/sv32"
)

// Memory is the machine's physical RAM: a single contiguous range of
// physical addresses backed by an anonymous host mapping.
//
// Accesses outside the range are bugs in the caller and panic; kernel code
// only touches addresses it has validated against Contains.
type Memory struct {
	base sv32.PAddr
	data []byte
}

// NewMemory maps size bytes of zeroed RAM at physical address base. Both
// must be page-aligned.
func NewMemory(base sv32.PAddr, size uint64) (*Memory, error) {
	if !base.IsPageAligned() || !sv32.PAddr(size).IsPageAligned() || size == 0 {
		return nil, fmt.Errorf("RAM [%v, +%#x) is not page-aligned", base, size)
	}
	if uint64(base)+size > 1<<sv32.PhysicalAddressBits {
		return nil, fmt.Errorf("RAM [%v, +%#x) exceeds the physical address space", base, size)
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes of RAM: %w", size, err)
	}
	return &Memory{base: base, data: data}, nil
}

// Release unmaps the RAM. The Memory must not be used afterwards.
func (m *Memory) Release() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Base returns the first physical address of RAM.
func (m *Memory) Base() sv32.PAddr {
	return m.base
}

// End returns the physical address one past the end of RAM.
func (m *Memory) End() sv32.PAddr {
	return m.base + sv32.PAddr(len(m.data))
}

// Size returns the size of RAM in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Contains returns true if [pa, pa+n) lies entirely in RAM.
func (m *Memory) Contains(pa sv32.PAddr, n uint64) bool {
	return pa >= m.base && uint64(pa-m.base)+n <= uint64(len(m.data)) && pa+sv32.PAddr(n) >= pa
}

// Slice returns the bytes of [pa, pa+n) as a slice aliasing RAM.
func (m *Memory) Slice(pa sv32.PAddr, n uint64) []byte {
	if !m.Contains(pa, n) {
		panic(fmt.Sprintf("physical access [%v, +%#x) outside RAM [%v, %v)", pa, n, m.base, m.End()))
	}
	off := uint64(pa - m.base)
	return m.data[off : off+n : off+n]
}

// Zero clears [pa, pa+n).
func (m *Memory) Zero(pa sv32.PAddr, n uint64) {
	clear(m.Slice(pa, n))
}

// ReadWord loads the little-endian word at pa.
func (m *Memory) ReadWord(pa sv32.PAddr) uint32 {
	return binary.LittleEndian.Uint32(m.Slice(pa, sv32.WordSize))
}

// WriteWord stores v as a little-endian word at pa.
func (m *Memory) WriteWord(pa sv32.PAddr, v uint32) {
	binary.LittleEndian.PutUint32(m.Slice(pa, sv32.WordSize), v)
}
