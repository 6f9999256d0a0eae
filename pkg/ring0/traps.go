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

package ring0

import (
	"fmt"

	"oxiv.dev/oxiv/pkg/atomicbitops"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sv32"
)

// frameRegs is the order registers are spilled into a TrapFrame.
var frameRegs = [...]machine.Reg{
	machine.RA, machine.GP, machine.TP,
	machine.T0, machine.T1, machine.T2, machine.T3, machine.T4, machine.T5, machine.T6,
	machine.A0, machine.A1, machine.A2, machine.A3, machine.A4, machine.A5, machine.A6, machine.A7,
	machine.S0, machine.S1, machine.S2, machine.S3, machine.S4, machine.S5,
	machine.S6, machine.S7, machine.S8, machine.S9, machine.S10, machine.S11,
	machine.SP,
}

// TrapFrameWords is the number of registers in a TrapFrame.
const TrapFrameWords = 31

// frameRegs must list exactly TrapFrameWords registers.
var _ = [1]struct{}{}[len(frameRegs)-TrapFrameWords]

// TrapFrameSize is the size of a TrapFrame on the stack.
const TrapFrameSize = TrapFrameWords * sv32.WordSize

// TrapFrame is the interrupted context's registers, in spill order: ra, gp,
// tp, t0-t6, a0-a7, s0-s11, sp.
type TrapFrame struct {
	Regs [TrapFrameWords]uint32
}

// Reg returns the saved value of r. x0 reads as zero.
func (f *TrapFrame) Reg(r machine.Reg) uint32 {
	for i, fr := range frameRegs {
		if fr == r {
			return f.Regs[i]
		}
	}
	return 0
}

// SetReg changes the value r is restored with.
func (f *TrapFrame) SetReg(r machine.Reg, v uint32) {
	for i, fr := range frameRegs {
		if fr == r {
			f.Regs[i] = v
			return
		}
	}
}

// store writes the frame to memory at pa.
func (f *TrapFrame) store(mem *machine.Memory, pa sv32.PAddr) {
	for i, v := range f.Regs {
		mem.WriteWord(pa+sv32.PAddr(i*sv32.WordSize), v)
	}
}

// load reads the frame from memory at pa.
func (f *TrapFrame) load(mem *machine.Memory, pa sv32.PAddr) {
	for i := range f.Regs {
		f.Regs[i] = mem.ReadWord(pa + sv32.PAddr(i*sv32.WordSize))
	}
}

// Handler services a trap. It may modify the frame; the interrupted context
// resumes with the modified registers if the handler returns.
type Handler func(t *Traps, frame *TrapFrame)

// Traps is the trap entry path: a single vector in direct mode that spills
// the interrupted context onto its own stack and calls a Handler.
type Traps struct {
	m       *machine.Machine
	entry   sv32.VAddr
	handler Handler
	taken   atomicbitops.Uint64
}

// NewTraps places the trap vector in the machine's text segment. A nil
// handler selects DefaultHandler.
func NewTraps(m *machine.Machine, handler Handler) (*Traps, error) {
	if handler == nil {
		handler = DefaultHandler
	}
	t := &Traps{m: m, handler: handler}
	entry, err := m.Text.Define("kernel_trap_vector", t.kernelEntry)
	if err != nil {
		return nil, fmt.Errorf("placing trap vector: %w", err)
	}
	t.entry = entry
	return t, nil
}

// Entry returns the address of the trap vector.
func (t *Traps) Entry() sv32.VAddr {
	return t.entry
}

// Install points stvec at the trap vector in direct mode.
func (t *Traps) Install() {
	t.m.Hart.WriteStvec(uint32(t.entry), machine.ModeDirect)
}

// Taken returns the number of traps entered.
func (t *Traps) Taken() uint64 {
	return t.taken.Load()
}

// Machine returns the machine the traps are installed on.
func (t *Traps) Machine() *machine.Machine {
	return t.m
}

// kernelEntry is the body of the trap vector.
func (t *Traps) kernelEntry() {
	t.taken.Add(1)
	h := &t.m.Hart
	sp := h.Reg(machine.SP)
	h.WriteCSR(machine.Sscratch, sp)

	frameVA := sv32.VAddr(sp - TrapFrameSize)
	framePA, err := t.m.Translate(frameVA, machine.Store)
	if err != nil || !t.m.Memory.Contains(framePA, TrapFrameSize) {
		t.m.Fatalf("trap frame at %v (sp=%#x) is not writable: scause=%#x, sepc=%#x",
			frameVA, sp, h.ReadCSR(machine.Scause), h.ReadCSR(machine.Sepc))
	}
	h.SetReg(machine.SP, uint32(frameVA))

	var frame TrapFrame
	for i, r := range frameRegs {
		frame.Regs[i] = h.Reg(r)
	}
	frame.Regs[len(frameRegs)-1] = h.ReadCSR(machine.Sscratch)
	frame.store(t.m.Memory, framePA)

	t.handler(t, &frame)

	frame.store(t.m.Memory, framePA)
	frame.load(t.m.Memory, framePA)
	for i, r := range frameRegs {
		h.SetReg(r, frame.Regs[i])
	}
}

// DefaultHandler treats every trap as fatal.
func DefaultHandler(t *Traps, frame *TrapFrame) {
	h := &t.m.Hart
	scause := h.ReadCSR(machine.Scause)
	stval := h.ReadCSR(machine.Stval)
	sepc := h.ReadCSR(machine.Sepc)
	t.m.Fatalf("unexpected trap scause=%#x, stval=%#x, sepc=%#x, sp=%#x: %v at %s",
		scause, stval, sepc, frame.Reg(machine.SP), Cause(scause), t.m.Text.Symbolize(sv32.VAddr(sepc)))
}
