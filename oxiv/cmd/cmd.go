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

// Package cmd holds implementations of the oxiv commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"oxiv.dev/oxiv/oxiv/config"
	"oxiv.dev/oxiv/pkg/kernel"
	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/machine"
	"oxiv.dev/oxiv/pkg/sched"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	log.Warningf("FATAL: "+format, args...)
	os.Exit(128)
}

// newKernel builds a machine and a kernel on it from conf. Console output of
// the machine goes to console.
func newKernel(conf *config.Config, console io.Writer) (*kernel.Kernel, error) {
	layout, err := conf.Layout()
	if err != nil {
		return nil, err
	}
	m, err := machine.New(conf.Machine(layout, console))
	if err != nil {
		return nil, fmt.Errorf("creating machine: %w", err)
	}
	k, err := kernel.New(m, layout, conf.Options())
	if err != nil {
		m.Memory.Release()
		return nil, fmt.Errorf("creating kernel: %w", err)
	}
	return k, nil
}

// teardown releases a halted kernel.
func teardown(k *kernel.Kernel) {
	if err := k.Teardown(); err != nil {
		log.Warningf("teardown: %v", err)
	}
}

// idled reports whether h is the normal end of a boot: every process exited
// and the idle process ran.
func idled(h machine.Halt) bool {
	return h.Fatal && h.Reason == sched.IdleReason
}
