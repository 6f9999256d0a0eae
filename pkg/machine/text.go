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
	"fmt"

	"github.com/google/btree"
	"oxiv.dev/oxiv/pkg/sv32"
)

// SymbolSize is the span of text reserved for each defined symbol.
const SymbolSize = 64

// Symbol is a named entry point placed in the kernel text segment.
type Symbol struct {
	Name string
	Addr sv32.VAddr
	fn   func()
}

func symbolLess(a, b Symbol) bool {
	return a.Addr < b.Addr
}

// Text is the kernel text segment. Go functions are placed at distinct,
// aligned addresses so they can be referenced from registers and CSRs the
// same way machine code would be.
type Text struct {
	start sv32.VAddr
	end   sv32.VAddr
	next  sv32.VAddr
	syms  *btree.BTreeG[Symbol]
}

// NewText returns an empty text segment covering [start, end).
func NewText(start, end sv32.VAddr) *Text {
	return &Text{
		start: start,
		end:   end,
		next:  start,
		syms:  btree.NewG(2, symbolLess),
	}
}

// Start returns the first address of the segment.
func (t *Text) Start() sv32.VAddr {
	return t.start
}

// End returns the address one past the segment.
func (t *Text) End() sv32.VAddr {
	return t.end
}

// Define places fn in the segment under name and returns its address.
func (t *Text) Define(name string, fn func()) (sv32.VAddr, error) {
	if fn == nil {
		return 0, fmt.Errorf("symbol %q has no body", name)
	}
	if t.end-t.next < SymbolSize {
		return 0, fmt.Errorf("text segment [%v, %v) full defining %q", t.start, t.end, name)
	}
	addr := t.next
	t.next += SymbolSize
	t.syms.ReplaceOrInsert(Symbol{Name: name, Addr: addr, fn: fn})
	return addr, nil
}

// MustDefine is like Define but panics on error.
func (t *Text) MustDefine(name string, fn func()) sv32.VAddr {
	addr, err := t.Define(name, fn)
	if err != nil {
		panic(err)
	}
	return addr
}

// Lookup returns the symbol whose entry point is exactly addr.
func (t *Text) Lookup(addr sv32.VAddr) (Symbol, bool) {
	return t.syms.Get(Symbol{Addr: addr})
}

// Symbolize renders addr as name+offset, or as a bare address if it is not
// inside any symbol.
func (t *Text) Symbolize(addr sv32.VAddr) string {
	var (
		sym   Symbol
		found bool
	)
	t.syms.DescendLessOrEqual(Symbol{Addr: addr}, func(s Symbol) bool {
		sym, found = s, true
		return false
	})
	if !found || addr-sym.Addr >= SymbolSize {
		return addr.String()
	}
	if addr == sym.Addr {
		return sym.Name
	}
	return fmt.Sprintf("%s+%#x", sym.Name, uint32(addr-sym.Addr))
}

// Symbols returns every defined symbol in address order.
func (t *Text) Symbols() []Symbol {
	out := make([]Symbol, 0, t.syms.Len())
	t.syms.Ascend(func(s Symbol) bool {
		out = append(out, s)
		return true
	})
	return out
}
