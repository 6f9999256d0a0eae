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

package sched

import (
	"fmt"

	"oxiv.dev/oxiv/pkg/ring0"
	"oxiv.dev/oxiv/pkg/sv32"
)

// StackSize is the size of every process's kernel stack.
const StackSize = 8 << 10

// stackAlign is the ABI stack pointer alignment.
const stackAlign = 16

// State is a process lifecycle state.
type State int

// Process states. Processes move from Unused to Runnable to Exited and never
// back. KernelReserved is only used by idle processes.
const (
	Unused State = iota
	Runnable
	Exited
	KernelReserved
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Unused:
		return "Unused"
	case Runnable:
		return "Runnable"
	case Exited:
		return "Exited"
	case KernelReserved:
		return "KernelReserved"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Process is a schedulable flow of control with its own kernel stack.
type Process struct {
	PID     uint32
	State   State
	Context ring0.Context

	// stack is the base of the process's kernel stack, or zero once it has
	// been released.
	stack sv32.PAddr
}

// ProcessInfo is a read-only snapshot of a process.
type ProcessInfo struct {
	PID   uint32
	State State
	SP    uint32
}

// String implements fmt.Stringer.String.
func (p ProcessInfo) String() string {
	return fmt.Sprintf("proc with id %d(%v): %#x", p.PID, p.State, p.SP)
}

// Info returns a snapshot of p.
func (p *Process) Info() ProcessInfo {
	return ProcessInfo{PID: p.PID, State: p.State, SP: p.Context.SP}
}
