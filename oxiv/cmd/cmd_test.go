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
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"oxiv.dev/oxiv/oxiv/config"
	"oxiv.dev/oxiv/pkg/kernel"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sched"
)

// testConfig is a 1 MiB machine: the default image followed by a 208 page
// heap, all inside one level-1 region.
func testConfig() *config.Config {
	return &config.Config{
		RAMBase:   uint64(machine.DefaultRAMBase),
		RAMSize:   1 << 20,
		LogFormat: "text",
	}
}

func TestMemTest(t *testing.T) {
	var out bytes.Buffer
	k, err := newKernel(testConfig(), &out)
	if err != nil {
		t.Fatalf("newKernel(): %v", err)
	}
	defer teardown(k)

	failed, h := runMemTest(k)
	if failed != 0 || h.Fatal {
		t.Fatalf("runMemTest() = %d, %v\n%s", failed, h, out.String())
	}
	for _, want := range []string{"Got 0x80031000", "Vec: [1 2 3 4 5]", "Kernel allocator test done!"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("console missing %q:\n%s", want, out.String())
		}
	}
	if st := k.Pages.Stats(); st.Taken != 0 {
		t.Errorf("pages still taken after memtest: %+v", st)
	}
}

func TestDumpPageTables(t *testing.T) {
	k, err := newKernel(testConfig(), io.Discard)
	if err != nil {
		t.Fatalf("newKernel(): %v", err)
	}
	defer teardown(k)

	var out bytes.Buffer
	if err := dumpPageTables(k, &out, true); err != nil {
		t.Fatalf("dumpPageTables(): %v", err)
	}
	for _, want := range []string{
		"page table at 0x80018000",
		"  Entry 512 (Branch)=> ",
		"    Entry 0 (Leaf)=> Val: 0x2000000b, Phys: 0x80000000 Flags: 0000001011",
		"256 leaf entries, 1 table entries",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestStress(t *testing.T) {
	results, err := stress(context.Background(), testConfig(), 3, 2, kernel.DemoPayloads(2, 3))
	if err != nil {
		t.Fatalf("stress(): %v", err)
	}
	var ids []int
	for _, r := range results {
		ids = append(ids, r.ID)
		if !idled(r.Halt) {
			t.Errorf("machine %d halted with %v", r.ID, r.Halt)
		}
		if r.Stats.Switches != 8 || r.Stats.Yields != 9 {
			t.Errorf("machine %d stats = %+v", r.ID, r.Stats)
		}
		if r.Console == 0 {
			t.Errorf("machine %d wrote nothing to its console", r.ID)
		}
	}
	if diff := cmp.Diff([]int{0, 1, 2}, ids); diff != "" {
		t.Errorf("machines mismatch (-want +got):\n%s", diff)
	}
}

func TestStressFailure(t *testing.T) {
	bad := kernel.Payload{
		Name: "process_bad",
		Run: func(k *kernel.Kernel) {
			k.Machine.Fatalf("bad payload")
		},
	}
	results, err := stress(context.Background(), testConfig(), 2, 1, []kernel.Payload{bad})
	if err == nil || !strings.Contains(err.Error(), "unexpected halt") {
		t.Fatalf("stress() error = %v, want unexpected halt", err)
	}
	if len(results) == 0 || results[0].Halt.Reason != "bad payload" {
		t.Errorf("stress() results = %v", results)
	}
}

func TestIdled(t *testing.T) {
	for _, tc := range []struct {
		h    machine.Halt
		want bool
	}{
		{machine.Halt{Reason: sched.IdleReason, Fatal: true}, true},
		{machine.Halt{Reason: sched.IdleReason}, false},
		{machine.Halt{Reason: "boot thread resumed", Fatal: true}, false},
	} {
		if got := idled(tc.h); got != tc.want {
			t.Errorf("idled(%v) = %v, want %v", tc.h, got, tc.want)
		}
	}
}

func TestUsageErrors(t *testing.T) {
	for _, c := range []subcommands.Command{
		&Boot{processes: -1},
		&Stress{machines: 0, parallel: 1},
	} {
		f := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
		f.SetOutput(io.Discard)
		f.Usage = func() {}
		if got := c.Execute(context.Background(), f, testConfig()); got != subcommands.ExitUsageError {
			t.Errorf("%s: Execute() = %v, want ExitUsageError", c.Name(), got)
		}
	}
}
