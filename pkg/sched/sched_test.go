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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/pgalloc"
	"oxiv.dev/oxiv/pkg/ring0"
	"oxiv.dev/oxiv/pkg/sv32"
)

type fixture struct {
	m     *machine.Machine
	traps *ring0.Traps
	pages *pgalloc.Locked
	s     *Scheduler
}

// newFixture returns a scheduler whose stacks come from a heap of exactly
// heapPages pages.
func newFixture(t *testing.T, heapPages int) *fixture {
	t.Helper()
	c := machine.DefaultConfig()
	c.RAMSize = 1 << 20
	m, err := machine.New(c)
	if err != nil {
		t.Fatalf("machine.New() failed: %v", err)
	}
	t.Cleanup(func() { m.Memory.Release() })

	heap := m.Memory.Base().AddPages(16)
	pages := pgalloc.NewLocked(pgalloc.New(m.Memory, m))
	if err := pages.Init(heap, heap.AddPages(heapPages)); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	traps, err := ring0.NewTraps(m, nil)
	if err != nil {
		t.Fatalf("NewTraps() failed: %v", err)
	}
	s, err := New(m, ring0.NewCPU(m), pgalloc.NewKernelAllocator(pages))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return &fixture{m: m, traps: traps, pages: pages, s: s}
}

// yielder returns an entry point that records name+i and yields n times,
// then records "name done" and exits.
func (f *fixture) yielder(trace *[]string, name string, n int) sv32.VAddr {
	return f.m.Text.MustDefine(name, func() {
		for i := 0; i < n; i++ {
			*trace = append(*trace, fmt.Sprintf("%s%d", name, i))
			f.s.YieldControl()
		}
		*trace = append(*trace, name+" done")
		f.s.ExitProcess()
	})
}

// boot runs fn on the machine followed by the first yield, and waits for
// the machine to halt.
func (f *fixture) boot(t *testing.T, fn func()) machine.Halt {
	t.Helper()
	f.m.Start(func() {
		f.traps.Install()
		if err := f.s.Init(); err != nil {
			f.m.Fatalf("Init: %v", err)
		}
		fn()
		f.s.YieldControl()
		f.m.Fatalf("boot thread resumed")
	})
	return f.m.Wait()
}

func (f *fixture) schedule(entries ...sv32.VAddr) {
	for _, e := range entries {
		if _, err := f.s.ScheduleProcess(e); err != nil {
			f.m.Fatalf("ScheduleProcess: %v", err)
		}
	}
}

func TestFIFO(t *testing.T) {
	f := newFixture(t, 32)
	var trace []string
	a := f.yielder(&trace, "A", 3)
	b := f.yielder(&trace, "B", 3)
	h := f.boot(t, func() { f.schedule(a, b) })
	if h.Reason != "kernel idle" {
		t.Fatalf("halt = %+v", h)
	}
	want := []string{"A0", "B0", "A1", "B1", "A2", "B2", "A done", "B done"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
}

func TestFIFOThree(t *testing.T) {
	f := newFixture(t, 32)
	var trace []string
	a := f.yielder(&trace, "A", 2)
	b := f.yielder(&trace, "B", 1)
	c := f.yielder(&trace, "C", 2)
	f.boot(t, func() { f.schedule(a, b, c) })
	want := []string{"A0", "B0", "C0", "A1", "B done", "C1", "A done", "C done"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t, 16)
	var trace []string
	a := f.yielder(&trace, "A", 3)
	b := f.yielder(&trace, "B", 3)
	h := f.boot(t, func() { f.schedule(a, b) })
	if !h.Fatal || h.Reason != "kernel idle" {
		t.Fatalf("halt = %+v, want kernel idle", h)
	}

	stats := f.s.Stats()
	want := Stats{Scheduled: 2, Yields: 9, Switches: 8, IdleSwitches: 1, IdleSynthesized: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
	cur, ok := f.s.Current()
	if !ok || cur.PID != 0 || cur.State != KernelReserved {
		t.Errorf("Current() = %v, %v, want the idle process", cur, ok)
	}
	if q := f.s.Runnable(); len(q) != 0 {
		t.Errorf("Runnable() = %v, want empty", q)
	}
	// B (staged) and the synthesized idle process still hold their stacks.
	if got := f.pages.Stats().Taken; got != 2*StackSize/sv32.PageSize {
		t.Errorf("%d pages taken at halt, want %d", got, 2*StackSize/sv32.PageSize)
	}
	out := f.m.Firmware.Output()
	for _, line := range []string{
		"Switching from 0 to 1\n",
		"Switching from 1 to 2\n",
		"Switching from 2 to 0\n",
		"Nothing in the process-queue to yield to, going idle!\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("console missing %q:\n%s", line, out)
		}
	}
}

func TestIdleFallback(t *testing.T) {
	f := newFixture(t, 16)
	var trace []string
	a := f.yielder(&trace, "A", 0)
	h := f.boot(t, func() { f.schedule(a) })
	if h.Reason != "kernel idle" {
		t.Fatalf("halt = %+v, want kernel idle", h)
	}
	if got := f.s.Stats().IdleSynthesized; got != 1 {
		t.Errorf("IdleSynthesized = %d, want 1", got)
	}
	if diff := cmp.Diff([]string{"A done"}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestNothingScheduled(t *testing.T) {
	f := newFixture(t, 16)
	if h := f.boot(t, func() {}); h.Reason != "kernel idle" {
		t.Errorf("halt = %+v, want kernel idle", h)
	}
}

func TestResumeWhenAlone(t *testing.T) {
	f := newFixture(t, 16)
	var trace []string
	a := f.yielder(&trace, "A", 3)
	f.boot(t, func() { f.schedule(a) })
	if diff := cmp.Diff([]string{"A0", "A1", "A2", "A done"}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got := f.s.Stats().Resumes; got != 3 {
		t.Errorf("Resumes = %d, want 3", got)
	}
	if out := f.m.Firmware.Output(); !strings.Contains(out, "Nothing in the process-queue to yield to, but previous still runnable\n") {
		t.Errorf("console:\n%s", out)
	}
}

func TestEntryReturnExits(t *testing.T) {
	f := newFixture(t, 16)
	var trace []string
	a := f.m.Text.MustDefine("returns", func() {
		trace = append(trace, "returns")
	})
	b := f.yielder(&trace, "B", 1)
	h := f.boot(t, func() { f.schedule(a, b) })
	if h.Reason != "kernel idle" {
		t.Fatalf("halt = %+v", h)
	}
	if diff := cmp.Diff([]string{"returns", "B0", "B done"}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestBadEntryTraps(t *testing.T) {
	f := newFixture(t, 16)
	h := f.boot(t, func() { f.schedule(0x1234) })
	if !strings.HasPrefix(h.Reason, "unexpected trap scause=0x1, stval=0x1234") {
		t.Errorf("halt = %+v", h)
	}
}

func TestScheduleProcess(t *testing.T) {
	f := newFixture(t, 16)
	entry := f.m.Text.MustDefine("entry", func() {})
	var infos []ProcessInfo
	f.m.Start(func() {
		for i := 0; i < 2; i++ {
			info, err := f.s.ScheduleProcess(entry)
			if err != nil {
				f.m.Fatalf("ScheduleProcess: %v", err)
			}
			infos = append(infos, info)
		}
		f.m.Stop("ok")
	})
	if h := f.m.Wait(); h.Reason != "ok" {
		t.Fatalf("halt = %+v", h)
	}
	for i, info := range infos {
		if info.PID != uint32(i+1) || info.State != Runnable {
			t.Errorf("process %d = %v", i, info)
		}
		if info.SP%16 != 0 {
			t.Errorf("process %d sp %#x not 16-byte aligned", i, info.SP)
		}
		if want := fmt.Sprintf("proc with id %d(Runnable): %#x", i+1, info.SP); info.String() != want {
			t.Errorf("String() = %q, want %q", info.String(), want)
		}
	}
	if diff := cmp.Diff(infos, f.s.Runnable()); diff != "" {
		t.Errorf("Runnable() mismatch (-want +got):\n%s", diff)
	}
	// Stacks are disjoint and 8K apart in a fresh heap.
	if infos[1].SP-infos[0].SP != StackSize {
		t.Errorf("stack tops %#x and %#x", infos[0].SP, infos[1].SP)
	}
}

func TestStackExhaustion(t *testing.T) {
	f := newFixture(t, 4)
	entry := f.m.Text.MustDefine("entry", func() {})
	var err error
	f.m.Start(func() {
		if err := f.s.Init(); err != nil {
			f.m.Fatalf("Init: %v", err)
		}
		_, err = f.s.ScheduleProcess(entry)
		f.m.Stop("ok")
	})
	f.m.Wait()
	if !errors.Is(err, pgalloc.ErrExhausted) {
		t.Errorf("ScheduleProcess() = %v, want %v", err, pgalloc.ErrExhausted)
	}
}

func TestMisuseIsFatal(t *testing.T) {
	for _, tc := range []struct {
		name string
		call func(s *Scheduler)
		want string
	}{
		{"yield", (*Scheduler).YieldControl, "cannot yield before the scheduler is initialized"},
		{"exit", (*Scheduler).ExitProcess, "exiting with no current process"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 16)
			f.m.Start(func() { tc.call(f.s) })
			if h := f.m.Wait(); !h.Fatal || h.Reason != tc.want {
				t.Errorf("halt = %+v, want %q", h, tc.want)
			}
		})
	}
}
