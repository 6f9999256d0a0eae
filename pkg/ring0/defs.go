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

// Package ring0 is the supervisor-mode core of the kernel: trap entry and
// dispatch, and the context switch primitive.
package ring0

import (
	"fmt"

	"oxiv.dev/oxiv/pkg/machine"
)

// Cause is an scause value.
type Cause uint32

// Interrupt returns true if the cause is asynchronous.
func (c Cause) Interrupt() bool {
	return c&machine.CauseInterrupt != 0
}

// Code returns the exception or interrupt code.
func (c Cause) Code() uint32 {
	return uint32(c &^ machine.CauseInterrupt)
}

var exceptionNames = map[uint32]string{
	machine.CauseInstructionMisaligned:  "instruction address misaligned",
	machine.CauseInstructionAccessFault: "instruction access fault",
	machine.CauseIllegalInstruction:     "illegal instruction",
	machine.CauseBreakpoint:             "breakpoint",
	machine.CauseLoadMisaligned:         "load address misaligned",
	machine.CauseLoadAccessFault:        "load access fault",
	machine.CauseStoreMisaligned:        "store address misaligned",
	machine.CauseStoreAccessFault:       "store access fault",
	machine.CauseUserEcall:              "environment call from U-mode",
	machine.CauseSupervisorEcall:        "environment call from S-mode",
	machine.CauseInstructionPageFault:   "instruction page fault",
	machine.CauseLoadPageFault:          "load page fault",
	machine.CauseStorePageFault:         "store page fault",
}

var interruptNames = map[uint32]string{
	1: "supervisor software interrupt",
	5: "supervisor timer interrupt",
	9: "supervisor external interrupt",
}

// String implements fmt.Stringer.String.
func (c Cause) String() string {
	names := exceptionNames
	if c.Interrupt() {
		names = interruptNames
	}
	if name, ok := names[c.Code()]; ok {
		return name
	}
	if c.Interrupt() {
		return fmt.Sprintf("reserved interrupt %d", c.Code())
	}
	return fmt.Sprintf("reserved exception %d", c.Code())
}
