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

package pagetables

import (
	"fmt"
	"io"
	"strings"

	"oxiv.dev/oxiv/pkg/sv32"
)

// Entry is a valid page table entry found by a walk.
type Entry struct {
	// Level is 1 for root entries and 0 for level-0 entries.
	Level int

	// Index is the entry's slot in its table.
	Index int

	// Addr is the first virtual address the entry covers.
	Addr sv32.VAddr

	PTE sv32.PTE
}

// Visitor is called for each valid entry. Returning false stops the walk.
type Visitor func(e Entry) bool

// VisitEntries calls fn for every valid entry in index order. If full is
// set, the entries of each level-0 table are visited right after the branch
// pointing at it.
func (p *PageTables) VisitEntries(full bool, fn Visitor) {
	p.walk(p.root, sv32.Levels-1, 0, full, fn)
}

func (p *PageTables) walk(table sv32.PAddr, level int, base sv32.VAddr, full bool, fn Visitor) bool {
	shift := sv32.PageShift + 10*level
	for i := 0; i < sv32.EntriesPerTable; i++ {
		pte := p.get(table, i)
		if !pte.Valid() {
			continue
		}
		addr := base | sv32.VAddr(i)<<shift
		if !fn(Entry{Level: level, Index: i, Addr: addr, PTE: pte}) {
			return false
		}
		if full && level > 0 && pte.IsBranch() {
			if !p.walk(pte.Address(), level-1, addr, full, fn) {
				return false
			}
		}
	}
	return true
}

// Mappings returns every leaf in address order.
func (p *PageTables) Mappings() []Entry {
	var leaves []Entry
	p.VisitEntries(true, func(e Entry) bool {
		if e.PTE.IsLeaf() {
			leaves = append(leaves, e)
		}
		return true
	})
	return leaves
}

// PrintEntries writes one line per valid entry to w, recursing into level-0
// tables if full is set.
func (p *PageTables) PrintEntries(w io.Writer, full bool) {
	fmt.Fprintf(w, "page table at %#x (satp %v)\n", uint64(p.root), p.Satp())
	p.VisitEntries(full, func(e Entry) bool {
		kind := "Leaf"
		if e.PTE.IsBranch() {
			kind = "Branch"
		}
		indent := strings.Repeat("  ", sv32.Levels-e.Level)
		fmt.Fprintf(w, "%sEntry %d (%s)=> Val: %#x, Phys: %#x Flags: %010b\n",
			indent, e.Index, kind, uint32(e.PTE), uint64(e.PTE.Address()), uint32(e.PTE.Flags()))
		return true
	})
}
