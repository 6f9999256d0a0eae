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

// Reg is a general purpose register number.
type Reg int

// RV32 integer registers by ABI name.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6

	// NumRegs is the size of the integer register file.
	NumRegs
)

var regNames = [NumRegs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// String implements fmt.Stringer.String.
func (r Reg) String() string {
	if r < 0 || r >= NumRegs {
		return fmt.Sprintf("x%d", int(r))
	}
	return regNames[r]
}

// SavedRegs are the callee-saved registers s0-s11, in order.
var SavedRegs = [12]Reg{S0, S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11}

// CSR is a supervisor control and status register.
type CSR int

// Supervisor CSRs modelled by the hart.
const (
	Sstatus CSR = iota
	Stvec
	Sscratch
	Sepc
	Scause
	Stval
	Satp

	numCSRs
)

var csrNames = [numCSRs]string{"sstatus", "stvec", "sscratch", "sepc", "scause", "stval", "satp"}

// String implements fmt.Stringer.String.
func (c CSR) String() string {
	if c < 0 || c >= numCSRs {
		return fmt.Sprintf("csr%d", int(c))
	}
	return csrNames[c]
}

// TrapMode is the low two bits of stvec.
type TrapMode uint32

const (
	// ModeDirect delivers every trap to the stvec base address.
	ModeDirect TrapMode = 0

	// ModeVectored delivers interrupts to base + 4*cause.
	ModeVectored TrapMode = 1

	trapModeMask = 3
)

// Hart is the architectural state of the single hardware thread: the integer
// register file, the program counter and the supervisor CSRs.
//
// Hart is not synchronized. Only the running machine thread may touch it;
// ownership passes along with control on every context switch.
type Hart struct {
	x    [NumRegs]uint32
	pc   uint32
	csrs [numCSRs]uint32
}

// Reg returns the value of register r. x0 always reads as zero.
func (h *Hart) Reg(r Reg) uint32 {
	if r == Zero {
		return 0
	}
	return h.x[r]
}

// SetReg writes register r. Writes to x0 are discarded.
func (h *Hart) SetReg(r Reg, v uint32) {
	if r == Zero {
		return
	}
	h.x[r] = v
}

// PC returns the program counter.
func (h *Hart) PC() uint32 {
	return h.pc
}

// SetPC sets the program counter.
func (h *Hart) SetPC(pc uint32) {
	h.pc = pc
}

// ReadCSR implements csrr.
func (h *Hart) ReadCSR(c CSR) uint32 {
	return h.csrs[c]
}

// WriteCSR implements csrw.
func (h *Hart) WriteCSR(c CSR, v uint32) {
	h.csrs[c] = v
}

// WriteStvec installs a trap vector with the given mode.
func (h *Hart) WriteStvec(base uint32, mode TrapMode) {
	h.csrs[Stvec] = base&^trapModeMask | uint32(mode)
}

// Satp returns the current address translation register.
func (h *Hart) Satp() sv32.Satp {
	return sv32.Satp(h.csrs[Satp])
}

// WriteSatp arms (or disarms) translation.
func (h *Hart) WriteSatp(s sv32.Satp) {
	h.csrs[Satp] = uint32(s)
}

// Dump renders the register file for diagnostics.
func (h *Hart) Dump() string {
	s := fmt.Sprintf("pc=%#08x", h.pc)
	for r := RA; r < NumRegs; r++ {
		if h.x[r] != 0 {
			s += fmt.Sprintf(" %v=%#x", r, h.x[r])
		}
	}
	return s
}
