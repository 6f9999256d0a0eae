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

// Package kernel composes the kernel from its parts and boots it.
//
// A Kernel is the explicit boot context: it owns the page allocator, the
// page tables, the trap path and the scheduler of one machine, and hands
// them to the code that needs them.
package kernel

import (
	"errors"
	"fmt"

	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/pgalloc"
	"oxiv.dev/oxiv/pkg/ring0"
	"oxiv.dev/oxiv/pkg/ring0/pagetables"
	"oxiv.dev/oxiv/pkg/sched"
	"oxiv.dev/oxiv/pkg/sv32"
	"oxiv.dev/oxiv/pkg/sync"
)

// Options are boot-time switches.
type Options struct {
	// MemTest runs the allocator self test during boot.
	MemTest bool

	// FullPageTables prints level-0 entries in the boot page table dumps.
	FullPageTables bool
}

// Kernel is a bootable kernel instance on a machine.
type Kernel struct {
	Machine *machine.Machine
	Layout  BootInfo

	Pages      *pgalloc.Locked
	Alloc      *pgalloc.KernelAllocator
	PageTables *sync.SpinLock[*pagetables.PageTables]
	Traps      *ring0.Traps
	CPU        *ring0.CPU
	Sched      *sched.Scheduler

	opts Options
}

// New builds a kernel for m with the given layout. Nothing runs until Boot.
func New(m *machine.Machine, layout BootInfo, opts Options) (*Kernel, error) {
	if err := layout.Validate(m.Memory.Base(), m.Memory.End()); err != nil {
		return nil, err
	}
	if m.Text.Start() < layout.Text.Start || m.Text.End() > layout.Text.End {
		return nil, fmt.Errorf("machine text [%v, %v) outside TEXT %v: %w",
			m.Text.Start(), m.Text.End(), layout.Text, ErrInvalidLayout)
	}

	k := &Kernel{Machine: m, Layout: layout, opts: opts}
	k.Pages = pgalloc.NewLocked(pgalloc.New(m.Memory, m))
	k.Alloc = pgalloc.NewKernelAllocator(k.Pages)

	// The root table is the first page of .bss.
	pt, err := pagetables.New(m.Memory, k.Pages, m, sv32.Identity(layout.Bss.Start))
	if err != nil {
		return nil, err
	}
	k.PageTables = sync.NewSpinLock(pt)

	if k.Traps, err = ring0.NewTraps(m, nil); err != nil {
		return nil, err
	}
	k.CPU = ring0.NewCPU(m)
	if k.Sched, err = sched.New(m, k.CPU, k.Alloc); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Kernel) printf(format string, v ...any) {
	k.Machine.Printf(format, v...)
}

func (k *Kernel) println(v ...any) {
	k.Machine.Println(v...)
}

// Run boots the kernel with the given payloads and waits for the machine to
// halt.
func (k *Kernel) Run(payloads ...Payload) machine.Halt {
	k.Machine.Start(func() {
		k.Boot(payloads...)
	})
	return k.Machine.Wait()
}

var banner = []string{
	"===============================================",
	"      OOOOO   X     X   III  V         V ",
	"     O     O   X   X     I    V       V  ",
	"     O     O    X X      I     V     V   ",
	"     O     O     X       I      V   V    ",
	"     O     O    X X      I       V V     ",
	"     O     O   X   X     I        V      ",
	"      OOOOO   X     X   III       V      ",
	"===============================================",
}

// Boot initializes the kernel and hands the CPU to the payloads. It must run
// on the machine's boot thread and does not return: the machine halts when
// the last payload exits and the idle process runs.
func (k *Kernel) Boot(payloads ...Payload) {
	m := k.Machine
	m.Hart.SetReg(machine.SP, uint32(k.Layout.Stack.End))
	k.Traps.Install()

	for _, line := range banner {
		k.println(line)
	}
	k.println("Hello World!")

	k.InitMemory()
	k.println()
	k.initSatp()
	k.println()
	if k.opts.MemTest {
		k.memTest()
		k.println()
	}

	k.println("Initing Scheduler...")
	if err := k.Sched.Init(); err != nil {
		m.Fatalf("scheduler init: %v", err)
	}
	k.println("Scheduler inited!")
	k.println()
	k.println("Kernel initialization done.")
	k.println(banner[0])
	k.println()

	k.startPayloads(payloads)
	k.Sched.YieldControl()
	m.Fatalf("boot thread resumed")
}

// InitMemory initializes the page allocator from the heap segment and builds
// the kernel page table. It must run on the machine.
func (k *Kernel) InitMemory() {
	m := k.Machine
	k.println("Initiating Page Allocator: ")
	if err := k.Pages.Init(sv32.Identity(k.Layout.Heap.Start), sv32.Identity(k.Layout.Heap.End)); err != nil {
		m.Fatalf("page allocator init: %v", err)
	}
	k.Pages.PrintAllocations(m.Console())
	k.println()

	k.println("Mapping kernel space:")
	for _, s := range k.Layout.Segments() {
		k.printf("%-7s %v\n", s.Name+":", s.Segment)
	}

	k.PageTables.With(func(pt **pagetables.PageTables) {
		for _, r := range []struct {
			s     Segment
			flags sv32.PTEFlags
		}{
			{k.Layout.Text, sv32.ReadExecute},
			{k.Layout.Rodata, sv32.ReadExecute},
			{k.Layout.Data, sv32.ReadWrite},
			{k.Layout.Bss, sv32.ReadWrite},
			{k.Layout.Stack, sv32.ReadWrite},
		} {
			k.mapRange(*pt, r.s, r.flags)
		}
		k.println()
		k.println("Detailed root page table view before heap map:")
		(*pt).PrintEntries(m.Console(), k.opts.FullPageTables)
		k.println()

		k.mapRange(*pt, k.Layout.Heap, sv32.ReadWrite)
		k.println("First-level root page table view after heap map:")
		(*pt).PrintEntries(m.Console(), k.opts.FullPageTables)
	})
	k.println()
	k.println("Mapping kernel space done!")
}

// mapRange identity maps s. A misaligned segment is reported and skipped;
// running out of table pages is fatal.
func (k *Kernel) mapRange(pt *pagetables.PageTables, s Segment, flags sv32.PTEFlags) {
	err := pt.MapKernelRange(s.Start, s.End, flags)
	switch {
	case err == nil:
	case errors.Is(err, pagetables.ErrUnaligned):
		k.printf("Not mapping %v: %v\n", s, err)
	default:
		k.Machine.Fatalf("mapping %v: %v", s, err)
	}
}

func (k *Kernel) initSatp() {
	var satp sv32.Satp
	k.PageTables.With(func(pt **pagetables.PageTables) {
		satp = (*pt).Satp()
	})
	k.printf("Satp: %x\n", uint32(satp))
	k.Machine.Hart.WriteSatp(satp)
	k.println("Satp register written")
	log.Infof("kernel: translation enabled, satp=%v", satp)
}

// Teardown unmaps the page tables and releases the machine's RAM. The
// machine must have halted.
func (k *Kernel) Teardown() error {
	if !k.Machine.Halted() {
		return fmt.Errorf("teardown of a running kernel")
	}
	g, ok := k.PageTables.TryLock()
	if !ok {
		return fmt.Errorf("page tables locked at halt")
	}
	(*g.Get()).Unmap()
	g.Unlock()
	return k.Machine.Release()
}
