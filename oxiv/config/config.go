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

// Package config provides basic infrastructure to set configuration settings
// for oxiv. Each setting that can be changed from the command line has a
// matching field in Config, tagged with its flag name.
package config

import (
	"fmt"
	"io"

	"oxiv.dev/oxiv/pkg/kernel"
	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sv32"
)

// Config holds configuration that is not part of the boot layout.
type Config struct {
	// RAMBase is the physical address where RAM starts.
	RAMBase uint64 `flag:"ram-base"`

	// RAMSize is the size of RAM in bytes.
	RAMSize uint64 `flag:"ram-size"`

	// LayoutFile is a TOML file describing the boot layout. If empty, the
	// default layout for the RAM range is used.
	LayoutFile string `flag:"layout"`

	// LogFilename is the file pattern to write host logs to. Empty means
	// stderr.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr also sends log messages to stderr when LogFilename is
	// set.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// MemTest runs the allocator self test during boot.
	MemTest bool `flag:"memtest"`

	// FullPageTables includes level-0 entries in page table dumps.
	FullPageTables bool `flag:"full-page-tables"`
}

func (c *Config) validate() error {
	base := sv32.PAddr(c.RAMBase)
	if !base.IsPageAligned() {
		return fmt.Errorf("ram-base %#x is not page aligned", c.RAMBase)
	}
	if c.RAMSize == 0 || c.RAMSize%sv32.PageSize != 0 {
		return fmt.Errorf("ram-size %#x must be a non-zero multiple of %#x", c.RAMSize, sv32.PageSize)
	}
	if c.RAMBase+c.RAMSize > 1<<32 {
		return fmt.Errorf("RAM [%#x, %#x) does not fit the 32-bit physical address space", c.RAMBase, c.RAMBase+c.RAMSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Layout returns the boot layout: the one in LayoutFile if set, the default
// for the configured RAM otherwise.
func (c *Config) Layout() (kernel.BootInfo, error) {
	if c.LayoutFile == "" {
		return kernel.DefaultBootInfo(sv32.PAddr(c.RAMBase), c.RAMSize), nil
	}
	return LoadLayout(c.LayoutFile)
}

// Machine returns the platform configuration for layout, with console output
// going to console.
func (c *Config) Machine(layout kernel.BootInfo, console io.Writer) machine.Config {
	return machine.Config{
		RAMBase:   sv32.PAddr(c.RAMBase),
		RAMSize:   c.RAMSize,
		TextStart: layout.Text.Start,
		TextSize:  layout.Text.Size(),
		Console:   console,
	}
}

// Options returns the kernel boot switches.
func (c *Config) Options() kernel.Options {
	return kernel.Options{
		MemTest:        c.MemTest,
		FullPageTables: c.FullPageTables,
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("RAM: [%#x, %#x)", c.RAMBase, c.RAMBase+c.RAMSize)
	if c.LayoutFile != "" {
		log.Infof("Layout: %s", c.LayoutFile)
	}
	log.Infof("MemTest: %t, FullPageTables: %t", c.MemTest, c.FullPageTables)
	log.Infof("LogFormat: %s, Debug: %t", c.LogFormat, c.Debug)
}
