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
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"oxiv.dev/oxiv/oxiv/config"
	"oxiv.dev/oxiv/pkg/kernel"
	"oxiv.dev/oxiv/pkg/ring0/pagetables"
)

// PageTables implements subcommands.Command for the "pagetables" command.
type PageTables struct {
	// full includes level-0 entries in the final dump.
	full bool
}

// Name implements subcommands.Command.Name.
func (*PageTables) Name() string {
	return "pagetables"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PageTables) Synopsis() string {
	return "build the kernel page table and print its entries"
}

// Usage implements subcommands.Command.Usage.
func (*PageTables) Usage() string {
	return `pagetables [flags] - map the kernel image and heap, then print the resulting page table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PageTables) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.full, "full", true, "print level-0 entries.")
}

// Execute implements subcommands.Command.Execute.
func (p *PageTables) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if err := dumpPageTables(k, os.Stdout, p.full); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// dumpPageTables builds the kernel mapping on k's machine and, once it has
// halted, writes the table and a summary of its leaves to w.
func dumpPageTables(k *kernel.Kernel, w io.Writer, full bool) error {
	k.Machine.Start(k.InitMemory)
	if h := k.Machine.Wait(); h.Fatal {
		return fmt.Errorf("building page tables: %v", h)
	}

	g, ok := k.PageTables.TryLock()
	if !ok {
		return fmt.Errorf("page tables locked at halt")
	}
	defer g.Unlock()
	pt := *g.Get()

	fmt.Fprintln(w)
	pt.PrintEntries(w, full)
	var leaves, tables int
	pt.VisitEntries(true, func(e pagetables.Entry) bool {
		if e.PTE.IsLeaf() {
			leaves++
		} else {
			tables++
		}
		return true
	})
	fmt.Fprintf(w, "%d leaf entries, %d table entries\n", leaves, tables)
	return nil
}
