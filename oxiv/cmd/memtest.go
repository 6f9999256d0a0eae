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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"oxiv.dev/oxiv/oxiv/config"
	"oxiv.dev/oxiv/pkg/kernel"
	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sv32"
)

// MemTest implements subcommands.Command for the "memtest" command.
type MemTest struct{}

// Name implements subcommands.Command.Name.
func (*MemTest) Name() string {
	return "memtest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MemTest) Synopsis() string {
	return "run the page allocator self test"
}

// Usage implements subcommands.Command.Usage.
func (*MemTest) Usage() string {
	return `memtest [flags] - initialize the page allocator, exercise it and the kernel allocator, and print the allocation map after each step.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*MemTest) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*MemTest) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := newKernel(conf, os.Stdout)
	if err != nil {
		Fatalf("%v", err)
	}
	defer teardown(k)

	failed, h := runMemTest(k)
	if h.Fatal || failed > 0 {
		log.Warningf("memtest: %d failures, %v", failed, h)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runMemTest runs the allocator self test on k's machine and returns the
// number of failed steps together with the halt.
func runMemTest(k *kernel.Kernel) (int, machine.Halt) {
	failed := 0
	k.Machine.Start(func() {
		heap := k.Layout.Heap
		if err := k.Pages.Init(sv32.Identity(heap.Start), sv32.Identity(heap.End)); err != nil {
			k.Machine.Fatalf("page allocator init: %v", err)
		}
		failed = k.MemTest()
		k.Pages.PrintAllocations(k.Machine.Console())
	})
	return failed, k.Machine.Wait()
}
