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

// Package machine simulates the single-hart RV32 platform the kernel runs on:
// physical RAM, the hart's registers and supervisor CSRs, the Sv32 MMU, trap
// delivery, the SBI console and a text segment of callable entry points.
//
// Exactly one machine thread runs at a time. Control moves between threads
// only through SwitchTo, which is how the kernel's context switch is
// realised, and ownership of the Hart moves with it.
package machine

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"oxiv.dev/oxiv/pkg/log"
	"oxiv.dev/oxiv/pkg/sv32"
	"oxiv.dev/oxiv/pkg/sync"
)

// Default platform layout.
const (
	DefaultRAMBase   sv32.PAddr = 0x80000000
	DefaultRAMSize              = 8 << 20
	DefaultTextStart sv32.VAddr = 0x80000000
	DefaultTextSize             = 64 << 10
)

// Config describes the platform to build.
type Config struct {
	// RAMBase and RAMSize locate physical memory.
	RAMBase sv32.PAddr
	RAMSize uint64

	// TextStart and TextSize locate the text segment. It is expected to lie
	// inside RAM, as the kernel image does.
	TextStart sv32.VAddr
	TextSize  uint32

	// Console receives SBI console output. It may be nil.
	Console io.Writer
}

// DefaultConfig returns the platform with the default layout.
func DefaultConfig() Config {
	return Config{
		RAMBase:   DefaultRAMBase,
		RAMSize:   DefaultRAMSize,
		TextStart: DefaultTextStart,
		TextSize:  DefaultTextSize,
	}
}

// Halt records why the machine stopped.
type Halt struct {
	// Reason is the message given to Fatalf or Stop.
	Reason string

	// Site is the file:line that halted the machine.
	Site string

	// Fatal is true for a kernel panic.
	Fatal bool
}

// String implements fmt.Stringer.String.
func (h Halt) String() string {
	if h.Fatal {
		return fmt.Sprintf("Kernel Panic (%s): %s", h.Site, h.Reason)
	}
	return fmt.Sprintf("halted (%s): %s", h.Site, h.Reason)
}

// Machine is a simulated platform.
type Machine struct {
	Memory   *Memory
	Hart     Hart
	Text     *Text
	Firmware *Firmware

	// running is the thread that currently owns the hart. It is only written
	// by the running thread itself.
	running *Thread

	threads int

	haltOnce sync.Once
	halt     Halt
	done     chan struct{}
}

// New builds a machine from c.
func New(c Config) (*Machine, error) {
	mem, err := NewMemory(c.RAMBase, c.RAMSize)
	if err != nil {
		return nil, err
	}
	if c.TextSize == 0 || uint64(c.TextStart)+uint64(c.TextSize) > 1<<32 {
		mem.Release()
		return nil, fmt.Errorf("invalid text segment %v+%#x", c.TextStart, c.TextSize)
	}
	m := &Machine{
		Memory:   mem,
		Text:     NewText(c.TextStart, c.TextStart+sv32.VAddr(c.TextSize)),
		Firmware: newFirmware(c.Console),
		done:     make(chan struct{}),
	}
	log.Debugf("machine: RAM [%v, %v), text [%v, %v)", mem.Base(), mem.End(), m.Text.Start(), m.Text.End())
	return m, nil
}

// Console returns the kernel's console writer.
func (m *Machine) Console() Console {
	return Console{m: m}
}

// Printf formats to the console.
func (m *Machine) Printf(format string, v ...any) {
	fmt.Fprintf(m.Console(), format, v...)
}

// Println prints its operands to the console followed by a newline.
func (m *Machine) Println(v ...any) {
	fmt.Fprintln(m.Console(), v...)
}

// Start resets the hart and runs boot as the first machine thread. It
// returns immediately; use Wait for the outcome.
func (m *Machine) Start(boot func()) {
	m.Hart = Hart{}
	t := m.NewThread("boot", func() {
		boot()
		m.stop(1, "boot returned", false)
	})
	m.running = t
	t.resume()
}

// Wait blocks until the machine halts and returns the reason.
func (m *Machine) Wait() Halt {
	<-m.done
	return m.halt
}

// Done returns a channel closed when the machine halts.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Halted reports whether the machine has halted.
func (m *Machine) Halted() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Fatalf is the kernel panic path. It prints a diagnostic naming the caller
// to the console, halts the machine and parks the calling thread forever.
//
// It must be called from a machine thread.
func (m *Machine) Fatalf(format string, v ...any) {
	m.FatalfAtDepth(1, format, v...)
}

// FatalfAtDepth is like Fatalf, but attributes the panic to the caller depth
// frames above the caller of FatalfAtDepth.
func (m *Machine) FatalfAtDepth(depth int, format string, v ...any) {
	reason := fmt.Sprintf(format, v...)
	m.stop(depth+1, reason, true)
}

// Stop halts the machine normally and parks the calling thread.
func (m *Machine) Stop(reason string) {
	m.stop(1, reason, false)
}

func (m *Machine) stop(depth int, reason string, fatal bool) {
	site := "unknown"
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		site = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	h := Halt{Reason: reason, Site: site, Fatal: fatal}
	m.haltOnce.Do(func() {
		if fatal {
			m.Println(h)
			log.Warningf("%v [%s]", h, m.Hart.Dump())
		} else {
			log.Infof("%v", h)
		}
		m.halt = h
		close(m.done)
	})
	runtime.Goexit()
}

// Release frees the machine's RAM. The machine must be halted.
func (m *Machine) Release() error {
	if !m.Halted() {
		return fmt.Errorf("machine still running")
	}
	return m.Memory.Release()
}
