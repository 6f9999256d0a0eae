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
	"oxiv.dev/oxiv/pkg/sv32"
)

// Exception causes reported in scause.
const (
	CauseInstructionMisaligned  = 0
	CauseInstructionAccessFault = 1
	CauseIllegalInstruction     = 2
	CauseBreakpoint             = 3
	CauseLoadMisaligned         = 4
	CauseLoadAccessFault        = 5
	CauseStoreMisaligned        = 6
	CauseStoreAccessFault       = 7
	CauseUserEcall              = 8
	CauseSupervisorEcall        = 9
	CauseInstructionPageFault   = 12
	CauseLoadPageFault          = 13
	CauseStorePageFault         = 15

	// CauseInterrupt is set in scause for asynchronous traps.
	CauseInterrupt = 1 << 31
)

// Trap raises a synchronous exception on the running thread: sepc, scause
// and stval are latched and control transfers to the handler at stvec.
//
// The handler runs on the calling thread. If it returns, execution resumes
// after the faulting operation with the hart's pc set from sepc, as sret
// would do.
func (m *Machine) Trap(cause, tval uint32) {
	h := &m.Hart
	h.WriteCSR(Sepc, h.PC())
	h.WriteCSR(Scause, cause)
	h.WriteCSR(Stval, tval)

	stvec := h.ReadCSR(Stvec)
	target := stvec &^ trapModeMask
	if TrapMode(stvec&trapModeMask) == ModeVectored && cause&CauseInterrupt != 0 {
		target += 4 * (cause &^ CauseInterrupt)
	}
	sym, ok := m.Text.Lookup(sv32.VAddr(target))
	if !ok {
		// Nothing to deliver to: the hart would fault again on fetch.
		m.FatalfAtDepth(1, "double fault: no trap handler at stvec=%#x (scause=%#x, stval=%#x)", stvec, cause, tval)
	}
	h.SetPC(target)
	sym.fn()
	m.Sret()
}

// Sret returns from a trap handler.
func (m *Machine) Sret() {
	m.Hart.SetPC(m.Hart.ReadCSR(Sepc))
}

// Ecall issues an environment call from supervisor mode to the firmware,
// with the extension ID in a7 and the argument in a0. The result is left in
// a0.
func (m *Machine) Ecall() {
	h := &m.Hart
	err := m.Firmware.Call(h.Reg(A7), h.Reg(A0))
	h.SetReg(A0, uint32(err))
}

// Jump transfers control to the entry point at addr on the running thread.
// The fetch is translated like any other access; an address with no symbol
// raises an instruction access fault.
func (m *Machine) Jump(addr sv32.VAddr) {
	m.Hart.SetPC(uint32(addr))
	if _, err := m.Translate(addr, Fetch); err != nil {
		m.Trap(err.(*TranslationError).Cause, uint32(addr))
		return
	}
	sym, ok := m.Text.Lookup(addr)
	if !ok {
		m.Trap(CauseInstructionAccessFault, uint32(addr))
		return
	}
	sym.fn()
}
