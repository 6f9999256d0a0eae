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

	"oxiv.dev/oxiv/pkg/sv32"
)

// Access is the kind of memory access being translated.
type Access int

// Access kinds.
const (
	Load Access = iota
	Store
	Fetch
)

func (a Access) required() sv32.PTEFlags {
	switch a {
	case Store:
		return sv32.Write
	case Fetch:
		return sv32.Execute
	default:
		return sv32.Read
	}
}

func (a Access) pageFault() uint32 {
	switch a {
	case Store:
		return CauseStorePageFault
	case Fetch:
		return CauseInstructionPageFault
	default:
		return CauseLoadPageFault
	}
}

func (a Access) accessFault() uint32 {
	switch a {
	case Store:
		return CauseStoreAccessFault
	case Fetch:
		return CauseInstructionAccessFault
	default:
		return CauseLoadAccessFault
	}
}

// TranslationError is a failed address translation.
type TranslationError struct {
	Addr   sv32.VAddr
	Access Access
	Cause  uint32
	Level  int
}

// Error implements error.Error.
func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation of %v failed at level %d (scause=%#x)", e.Addr, e.Level, e.Cause)
}

// Translate performs the hardware Sv32 walk for va under the current satp.
// With translation disabled, addresses map to themselves.
func (m *Machine) Translate(va sv32.VAddr, access Access) (sv32.PAddr, error) {
	satp := m.Hart.Satp()
	if !satp.Enabled() {
		return sv32.Identity(va), nil
	}
	table := satp.Root()
	for level := sv32.Levels - 1; level >= 0; level-- {
		ptePA := table + sv32.PAddr(va.VPN(level)*sv32.WordSize)
		if !m.Memory.Contains(ptePA, sv32.WordSize) {
			return 0, &TranslationError{Addr: va, Access: access, Cause: access.accessFault(), Level: level}
		}
		pte := sv32.PTE(m.Memory.ReadWord(ptePA))
		fault := &TranslationError{Addr: va, Access: access, Cause: access.pageFault(), Level: level}
		if !pte.Valid() || (pte.Flags()&sv32.Write != 0 && pte.Flags()&sv32.Read == 0) {
			return 0, fault
		}
		if pte.IsBranch() {
			table = pte.Address()
			continue
		}
		if pte.Flags()&access.required() == 0 {
			return 0, fault
		}
		if level == 1 {
			// Superpage: the low PPN field must be clear.
			if pte.Address()&(1<<(sv32.PageShift+10)-1) != 0 {
				return 0, fault
			}
			return pte.Address() + sv32.PAddr(uint32(va)&(1<<(sv32.PageShift+10)-1)), nil
		}
		return pte.Address() + sv32.PAddr(va.Offset()), nil
	}
	return 0, &TranslationError{Addr: va, Access: access, Cause: access.pageFault()}
}

func (m *Machine) access(va sv32.VAddr, access Access) (sv32.PAddr, bool) {
	if va%sv32.WordSize != 0 {
		cause := uint32(CauseLoadMisaligned)
		if access == Store {
			cause = CauseStoreMisaligned
		}
		m.Trap(cause, uint32(va))
		return 0, false
	}
	pa, err := m.Translate(va, access)
	if err != nil {
		m.Trap(err.(*TranslationError).Cause, uint32(va))
		return 0, false
	}
	if !m.Memory.Contains(pa, sv32.WordSize) {
		m.Trap(access.accessFault(), uint32(va))
		return 0, false
	}
	return pa, true
}

// LoadWord reads the word at va through the MMU. A failed access raises the
// corresponding trap; if the handler returns, the result is zero.
func (m *Machine) LoadWord(va sv32.VAddr) uint32 {
	pa, ok := m.access(va, Load)
	if !ok {
		return 0
	}
	return m.Memory.ReadWord(pa)
}

// StoreWord writes the word at va through the MMU. A failed access raises
// the corresponding trap.
func (m *Machine) StoreWord(va sv32.VAddr, v uint32) {
	if pa, ok := m.access(va, Store); ok {
		m.Memory.WriteWord(pa, v)
	}
}
