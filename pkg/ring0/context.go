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
	"oxiv.dev/oxiv/pkg/atomicbitops"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sv32"
)

// Context is the register state preserved across a context switch: the
// return address, the stack pointer and the callee-saved registers.
type Context struct {
	RA uint32
	SP uint32
	S  [len(machine.SavedRegs)]uint32

	// thread is the flow of control suspended in this context. It is bound
	// on the first switch into (or out of) the context.
	thread *machine.Thread
}

// NewContext returns a context that starts executing entry on stack sp.
func NewContext(entry sv32.VAddr, sp uint32) *Context {
	return &Context{RA: uint32(entry), SP: sp}
}

// CPU is the kernel's view of the hart for context switching.
type CPU struct {
	m        *machine.Machine
	onReturn func()
	switches atomicbitops.Uint64
}

// NewCPU returns a CPU for m.
func NewCPU(m *machine.Machine) *CPU {
	return &CPU{m: m}
}

// SetReturnHook sets the function run on a context's thread if its entry
// point returns. The hook must not return.
func (c *CPU) SetReturnHook(fn func()) {
	c.onReturn = fn
}

// Switches returns the number of context switches performed.
func (c *CPU) Switches() uint64 {
	return c.switches.Load()
}

// SwitchContext saves the caller's ra, sp and s0-s11 into prev, loads them
// from next and continues in next. The call returns when some later switch
// loads prev again.
//
// A context that has never run starts at the entry point in its ra; if no
// entry point lives there, the hart takes an instruction access fault.
//
// Precondition: the caller holds no SpinLock.
func (c *CPU) SwitchContext(prev, next *Context) {
	if prev == next {
		return
	}
	h := &c.m.Hart
	prev.RA = h.Reg(machine.RA)
	prev.SP = h.Reg(machine.SP)
	for i, r := range machine.SavedRegs {
		prev.S[i] = h.Reg(r)
	}
	if prev.thread == nil {
		prev.thread = c.m.Running()
	}

	h.SetReg(machine.RA, next.RA)
	h.SetReg(machine.SP, next.SP)
	for i, r := range machine.SavedRegs {
		h.SetReg(r, next.S[i])
	}
	if next.thread == nil {
		entry := sv32.VAddr(next.RA)
		next.thread = c.m.NewThread(c.m.Text.Symbolize(entry), func() {
			c.m.Jump(entry)
			if c.onReturn != nil {
				c.onReturn()
			}
		})
	}
	c.switches.Add(1)
	c.m.SwitchTo(next.thread)
}
