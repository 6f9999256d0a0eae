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

// Package sched is the kernel's cooperative process scheduler.
//
// Processes run until they call YieldControl or ExitProcess. Runnable
// processes are served in FIFO order. When nothing is runnable, an idle
// process is synthesized; running it is a fatal "kernel idle" condition.
//
// The scheduler is not synchronized. It is only touched from kernel control
// flow, which is serialized on the single hart.
package sched

import (
	"fmt"
	"io"

	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/ring0"
	"oxiv.dev/oxiv/pkg/sv32"
)

// StackAllocator provides process kernel stacks.
type StackAllocator interface {
	Alloc(size uint64) (sv32.PAddr, error)
	Free(pa sv32.PAddr)
}

// Stats counts scheduler activity.
type Stats struct {
	// Scheduled is the number of processes created by ScheduleProcess.
	Scheduled int

	// Yields is the number of YieldControl calls, including those made by
	// ExitProcess.
	Yields int

	// Switches counts context switches away from scheduled processes.
	Switches int

	// IdleSwitches counts context switches away from idle processes; the
	// boot handoff is one of these.
	IdleSwitches int

	// Resumes counts yields that continued the yielding process because
	// nothing else was runnable.
	Resumes int

	// IdleSynthesized counts idle processes created because nothing was
	// runnable.
	IdleSynthesized int
}

// Scheduler multiplexes processes on the CPU.
type Scheduler struct {
	m       *machine.Machine
	cpu     *ring0.CPU
	stacks  StackAllocator
	console io.Writer

	idleEntry sv32.VAddr

	queue    []*Process
	nextPID  uint32
	current  *Process
	previous *Process
	stats    Stats
}

// New returns a scheduler running processes on cpu with stacks from stacks.
// Diagnostics are printed to the machine console.
//
// Process entry points that return are treated as calls to ExitProcess.
func New(m *machine.Machine, cpu *ring0.CPU, stacks StackAllocator) (*Scheduler, error) {
	s := &Scheduler{
		m:       m,
		cpu:     cpu,
		stacks:  stacks,
		console: m.Console(),
		nextPID: 1,
	}
	idle, err := m.Text.Define("kernel_idle", s.idle)
	if err != nil {
		return nil, fmt.Errorf("placing idle entry: %w", err)
	}
	s.idleEntry = idle
	cpu.SetReturnHook(s.ExitProcess)
	return s, nil
}

// IdleReason is the halt reason of a machine whose processes have all
// exited.
const IdleReason = "kernel idle"

// idle is the idle process's entry point. There is no way to wait for an
// interrupt yet, so reaching it is fatal.
func (s *Scheduler) idle() {
	s.m.Fatalf(IdleReason)
}

// Init installs an idle process as the running process. The caller's
// context is saved into it on the first yield.
func (s *Scheduler) Init() error {
	idle, err := s.newProcess(0, KernelReserved, s.idleEntry)
	if err != nil {
		return fmt.Errorf("creating idle process: %w", err)
	}
	s.current = idle
	return nil
}

func (s *Scheduler) newProcess(pid uint32, state State, entry sv32.VAddr) (*Process, error) {
	stack, err := s.stacks.Alloc(StackSize)
	if err != nil {
		return nil, err
	}
	sp := uint32(stack) + StackSize
	if sp%stackAlign != 0 {
		s.m.Fatalf("stack pointer %#x is not %d-byte aligned", sp, stackAlign)
	}
	p := &Process{PID: pid, State: state, stack: stack}
	p.Context = *ring0.NewContext(entry, sp)
	return p, nil
}

func (s *Scheduler) release(p *Process) {
	if p.stack == 0 {
		return
	}
	log.Debugf("sched: releasing stack %v of pid %d (%v)", p.stack, p.PID, p.State)
	s.stacks.Free(p.stack)
	p.stack = 0
}

// ScheduleProcess creates a runnable process starting at entry and appends
// it to the run queue.
func (s *Scheduler) ScheduleProcess(entry sv32.VAddr) (ProcessInfo, error) {
	p, err := s.newProcess(s.nextPID, Runnable, entry)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("scheduling %s: %w", s.m.Text.Symbolize(entry), err)
	}
	s.nextPID++
	s.stats.Scheduled++
	s.queue = append(s.queue, p)
	fmt.Fprintf(s.console, "Process %d: kernel_stack at %#x\n", p.PID, uint64(p.stack))
	return p.Info(), nil
}

// YieldControl gives the CPU to the next runnable process. It returns when
// the caller is scheduled again.
func (s *Scheduler) YieldControl() {
	if s.current == nil {
		s.m.Fatalf("cannot yield before the scheduler is initialized")
	}
	s.stats.Yields++

	if prev := s.previous; prev != nil {
		s.previous = nil
		if prev.State == Runnable {
			s.queue = append(s.queue, prev)
		} else {
			s.release(prev)
		}
	}

	s.previous = s.current
	var next *Process
	switch {
	case len(s.queue) > 0:
		next = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
	case s.previous.State == Runnable:
		fmt.Fprintln(s.console, "Nothing in the process-queue to yield to, but previous still runnable")
		next = s.previous
		s.previous = nil
	default:
		fmt.Fprintln(s.console, "Nothing in the process-queue to yield to, going idle!")
		idle, err := s.newProcess(0, KernelReserved, s.idleEntry)
		if err != nil {
			s.m.Fatalf("no memory for the idle process: %v", err)
		}
		s.stats.IdleSynthesized++
		next = idle
	}
	s.current = next

	from := s.previous
	if from == nil {
		s.stats.Resumes++
		return
	}
	fmt.Fprintf(s.console, "Switching from %d to %d\n", from.PID, next.PID)
	if from.PID == 0 {
		s.stats.IdleSwitches++
	} else {
		s.stats.Switches++
	}
	log.Debugf("sched: switching from sp %#x, ra %#x to sp %#x, ra %#x",
		from.Context.SP, from.Context.RA, next.Context.SP, next.Context.RA)
	s.cpu.SwitchContext(&from.Context, &next.Context)
}

// ExitProcess marks the running process exited and yields. It does not
// return.
func (s *Scheduler) ExitProcess() {
	if s.current == nil {
		s.m.Fatalf("exiting with no current process")
	}
	s.current.State = Exited
	s.YieldControl()
	s.m.Fatalf("exited process %d was resumed", s.current.PID)
}

// Current returns the running process.
func (s *Scheduler) Current() (ProcessInfo, bool) {
	if s.current == nil {
		return ProcessInfo{}, false
	}
	return s.current.Info(), true
}

// Runnable returns the run queue in order.
func (s *Scheduler) Runnable() []ProcessInfo {
	infos := make([]ProcessInfo, 0, len(s.queue))
	for _, p := range s.queue {
		infos = append(infos, p.Info())
	}
	return infos
}

// Stats returns activity counters.
func (s *Scheduler) Stats() Stats {
	return s.stats
}
