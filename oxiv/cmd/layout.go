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
	"oxiv.dev/oxiv/pkg/sv32"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct{}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the boot layout as TOML"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - validate the effective boot layout and print it as TOML. The output can be passed back with --layout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Layout) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	layout, err := conf.Layout()
	if err != nil {
		Fatalf("%v", err)
	}
	base := sv32.PAddr(conf.RAMBase)
	if err := layout.Validate(base, base+sv32.PAddr(conf.RAMSize)); err != nil {
		Fatalf("%v", err)
	}
	if err := config.WriteLayout(os.Stdout, layout); err != nil {
		Fatalf("writing layout: %v", err)
	}
	return subcommands.ExitSuccess
}
