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
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// processes is the number of demo processes to start.
	processes int

	// yields is the number of times each demo process yields before it
	// exits.
	yields int
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run the demo processes"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the kernel, run the demo processes until they exit, and halt in the idle process.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.IntVar(&b.processes, "processes", 2, "number of demo processes to start.")
	f.IntVar(&b.yields, "yields", 3, "number of times each demo process yields before it exits.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || b.processes < 0 || b.yields < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := newKernel(conf, os.Stdout)
	if err != nil {
		Fatalf("%v", err)
	}
	defer teardown(k)

	h := k.Run(kernel.DemoPayloads(b.processes, b.yields)...)
	st := k.Sched.Stats()
	log.Infof("Halted: %v", h)
	log.Infof("Scheduler: %d scheduled, %d yields, %d switches, %d idle switches, %d resumes", st.Scheduled, st.Yields, st.Switches, st.IdleSwitches, st.Resumes)
	if !idled(h) {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
