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

package machine

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"oxiv.dev/oxiv/pkg/sync"
)

// SBI extension IDs understood by the firmware.
const (
	// SBIConsolePutchar is the legacy console putchar extension.
	SBIConsolePutchar = 0x01
)

// SBIError is the error value returned by an SBI call.
type SBIError int32

// SBI error codes.
const (
	SBISuccess      SBIError = 0
	SBINotSupported SBIError = -2
)

// Firmware is the supervisor binary interface the kernel calls into. Only the
// console is implemented.
type Firmware struct {
	mu  sync.Mutex
	out io.Writer
	buf bytes.Buffer
}

func newFirmware(out io.Writer) *Firmware {
	if out == nil {
		out = io.Discard
	}
	return &Firmware{out: out}
}

// Call performs an SBI ecall with extension eid and argument a0.
func (f *Firmware) Call(eid uint32, a0 uint32) SBIError {
	switch eid {
	case SBIConsolePutchar:
		f.putchar(rune(a0))
		return SBISuccess
	default:
		return SBINotSupported
	}
}

func (f *Firmware) putchar(r rune) {
	var enc [utf8.UTFMax]byte
	n := utf8.EncodeRune(enc[:], r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Write(enc[:n])
	f.out.Write(enc[:n])
}

// Output returns everything written to the console so far.
func (f *Firmware) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

// Console is the kernel's character output path: every rune written to it
// is passed to the firmware by a putchar ecall on the hart, so a7 and a0 are
// clobbered as they would be by the real call.
type Console struct {
	m *Machine
}

// Write implements io.Writer.Write.
func (c Console) Write(p []byte) (int, error) {
	h := &c.m.Hart
	for s := p; len(s) > 0; {
		r, n := utf8.DecodeRune(s)
		h.SetReg(A7, SBIConsolePutchar)
		h.SetReg(A0, uint32(r))
		c.m.Ecall()
		if err := SBIError(h.Reg(A0)); err != SBISuccess {
			return len(p) - len(s), fmt.Errorf("console putchar: sbi error %d", err)
		}
		s = s[n:]
	}
	return len(p), nil
}
