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
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"oxiv.dev/oxiv/oxiv/config"
	"oxiv.dev/oxiv/pkg/kernel"
	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sched"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	machines  int
	parallel  int
	processes int
	yields    int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "boot many independent machines concurrently"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - boot many machines at once, each running its own demo processes, and report how each one halted.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.machines, "machines", 16, "number of machines to boot.")
	f.IntVar(&s.parallel, "parallel", runtime.NumCPU(), "maximum number of machines running at once.")
	f.IntVar(&s.processes, "processes", 4, "number of demo processes per machine.")
	f.IntVar(&s.yields, "yields", 8, "number of times each demo process yields before it exits.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.machines <= 0 || s.parallel <= 0 || s.processes < 0 || s.yields < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	results, err := stress(ctx, conf, s.machines, s.parallel, kernel.DemoPayloads(s.processes, s.yields))
	for _, r := range results {
		fmt.Fprintf(os.Stdout, "%v\n", r)
	}
	if err != nil {
		log.Warningf("stress: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// stressResult is the outcome of one machine's boot.
type stressResult struct {
	ID      int
	Halt    machine.Halt
	Stats   sched.Stats
	Console int
}

// String implements fmt.Stringer.String.
func (r stressResult) String() string {
	return fmt.Sprintf("machine %d: %v (%d switches, %d yields, %d console bytes)",
		r.ID, r.Halt, r.Stats.Switches, r.Stats.Yields, r.Console)
}

// stress boots n machines with at most parallel running at once. It returns
// the results of every machine that ran, and an error if any of them did not
// end in the idle process.
func stress(ctx context.Context, conf *config.Config, n, parallel int, payloads []kernel.Payload) ([]stressResult, error) {
	results := make([]stressResult, n)
	ran := make([]bool, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var console bytes.Buffer
			k, err := newKernel(conf, &console)
			if err != nil {
				return fmt.Errorf("machine %d: %w", i, err)
			}
			defer teardown(k)

			h := k.Run(payloads...)
			results[i] = stressResult{
				ID:      i,
				Halt:    h,
				Stats:   k.Sched.Stats(),
				Console: console.Len(),
			}
			ran[i] = true
			log.Debugf("stress: machine %d halted after %d switches", i, results[i].Stats.Switches)
			if !idled(h) {
				return fmt.Errorf("machine %d: unexpected halt: %v", i, h)
			}
			return nil
		})
	}
	err := g.Wait()

	var done []stressResult
	for i, r := range results {
		if ran[i] {
			done = append(done, r)
		}
	}
	return done, err
}
