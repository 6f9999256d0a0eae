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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"oxiv.dev/oxiv/pkg/sv32"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	c := DefaultConfig()
	c.RAMSize = 1 << 20
	m, err := New(c)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		m.Memory.Release()
	})
	return m
}

func TestMemoryWords(t *testing.T) {
	m := newTestMachine(t)
	pa := m.Memory.Base() + 0x1000
	m.Memory.WriteWord(pa, 0xdeadbeef)
	if got := m.Memory.ReadWord(pa); got != 0xdeadbeef {
		t.Errorf("ReadWord() = %#x, want 0xdeadbeef", got)
	}
	if got := m.Memory.Slice(pa, 4); !cmp.Equal(got, []byte{0xef, 0xbe, 0xad, 0xde}) {
		t.Errorf("word not little-endian: %x", got)
	}
	m.Memory.Zero(pa, sv32.PageSize)
	if got := m.Memory.ReadWord(pa); got != 0 {
		t.Errorf("ReadWord() after Zero = %#x", got)
	}
	if m.Memory.Contains(m.Memory.End()-2, 4) {
		t.Errorf("Contains() accepted a range straddling the end of RAM")
	}
	if m.Memory.Contains(m.Memory.Base()-4, 4) {
		t.Errorf("Contains() accepted a range below RAM")
	}
}

func TestNewMemoryRejectsUnaligned(t *testing.T) {
	if _, err := NewMemory(0x80000010, sv32.PageSize); err == nil {
		t.Errorf("NewMemory() with unaligned base succeeded")
	}
	if _, err := NewMemory(0x80000000, 100); err == nil {
		t.Errorf("NewMemory() with unaligned size succeeded")
	}
}

func TestTextSymbols(t *testing.T) {
	text := NewText(0x80000000, 0x80000000+3*SymbolSize)
	a := text.MustDefine("alpha", func() {})
	b := text.MustDefine("beta", func() {})
	if a == b || !a.IsPageAligned() {
		t.Errorf("alpha=%v beta=%v", a, b)
	}
	if sym, ok := text.Lookup(b); !ok || sym.Name != "beta" {
		t.Errorf("Lookup(%v) = %+v, %v", b, sym, ok)
	}
	if _, ok := text.Lookup(b + 4); ok {
		t.Errorf("Lookup() inside a symbol should not resolve")
	}
	for _, tc := range []struct {
		addr sv32.VAddr
		want string
	}{
		{a, "alpha"},
		{a + 8, "alpha+0x8"},
		{b + 0x10, "beta+0x10"},
		{a - 4, (a - 4).String()},
		{b + SymbolSize, (b + SymbolSize).String()},
	} {
		if got := text.Symbolize(tc.addr); got != tc.want {
			t.Errorf("Symbolize(%v) = %q, want %q", tc.addr, got, tc.want)
		}
	}
	text.MustDefine("gamma", func() {})
	if _, err := text.Define("delta", func() {}); err == nil {
		t.Errorf("Define() in a full segment succeeded")
	}
	var names []string
	for _, s := range text.Symbols() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"alpha", "beta", "gamma"}, names); diff != "" {
		t.Errorf("Symbols() mismatch (-want +got):\n%s", diff)
	}
}

func TestConsole(t *testing.T) {
	var out strings.Builder
	c := DefaultConfig()
	c.RAMSize = 1 << 20
	c.Console = &out
	m, err := New(c)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer m.Memory.Release()

	m.Printf("OXIV %d\n", 1)
	// Console output goes through the putchar ecall.
	if got := m.Hart.Reg(A7); got != SBIConsolePutchar {
		t.Errorf("a7 after Printf = %#x, want %#x", got, SBIConsolePutchar)
	}
	if got := SBIError(m.Hart.Reg(A0)); got != SBISuccess {
		t.Errorf("a0 after Printf = %d, want %d", got, SBISuccess)
	}
	m.Hart.SetReg(A7, SBIConsolePutchar)
	m.Hart.SetReg(A0, 'λ')
	m.Ecall()
	if got := SBIError(m.Hart.Reg(A0)); got != SBISuccess {
		t.Errorf("putchar ecall = %d", got)
	}
	m.Hart.SetReg(A7, 0x10)
	m.Ecall()
	if got := SBIError(m.Hart.Reg(A0)); got != SBINotSupported {
		t.Errorf("unknown ecall = %d, want %d", got, SBINotSupported)
	}
	if got, want := m.Firmware.Output(), "OXIV 1\nλ"; got != want {
		t.Errorf("Output() = %q, want %q", got, want)
	}
	if out.String() != m.Firmware.Output() {
		t.Errorf("console writer got %q", out.String())
	}
}

func TestRegisterZero(t *testing.T) {
	var h Hart
	h.SetReg(Zero, 7)
	h.SetReg(SP, 0x1000)
	if h.Reg(Zero) != 0 || h.Reg(SP) != 0x1000 {
		t.Errorf("registers: %s", h.Dump())
	}
	if got := S11.String(); got != "s11" {
		t.Errorf("S11.String() = %q", got)
	}
}

func TestStop(t *testing.T) {
	m := newTestMachine(t)
	m.Start(func() {
		m.Stop("done")
		t.Error("Stop returned")
	})
	h := m.Wait()
	if h.Fatal || h.Reason != "done" {
		t.Errorf("Wait() = %+v", h)
	}
	if !strings.HasPrefix(h.Site, "machine_test.go:") {
		t.Errorf("Site = %q", h.Site)
	}
}

func TestBootReturn(t *testing.T) {
	m := newTestMachine(t)
	m.Start(func() {})
	if h := m.Wait(); h.Fatal || h.Reason != "boot returned" {
		t.Errorf("Wait() = %+v", h)
	}
}

func TestFatalf(t *testing.T) {
	m := newTestMachine(t)
	m.Start(func() {
		m.Fatalf("bad thing %d", 42)
	})
	h := m.Wait()
	if !h.Fatal || h.Reason != "bad thing 42" {
		t.Errorf("Wait() = %+v", h)
	}
	out := m.Firmware.Output()
	if !strings.HasPrefix(out, "Kernel Panic (machine_test.go:") || !strings.HasSuffix(out, "): bad thing 42\n") {
		t.Errorf("console = %q", out)
	}
}

func TestSwitchTo(t *testing.T) {
	m := newTestMachine(t)
	var trace []string
	m.Start(func() {
		boot := m.Running()
		var a, b *Thread
		a = m.NewThread("a", func() {
			trace = append(trace, "a1")
			m.SwitchTo(b)
			trace = append(trace, "a2")
			m.SwitchTo(boot)
		})
		b = m.NewThread("b", func() {
			trace = append(trace, "b1")
			m.SwitchTo(a)
			t.Error("b resumed after machine halt")
		})
		m.SwitchTo(m.Running())
		m.SwitchTo(a)
		trace = append(trace, "boot")
		m.Stop("ok")
	})
	if h := m.Wait(); h.Reason != "ok" {
		t.Fatalf("Wait() = %+v", h)
	}
	if diff := cmp.Diff([]string{"a1", "b1", "a2", "boot"}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestThreadReturnIsFatal(t *testing.T) {
	m := newTestMachine(t)
	m.Start(func() {
		m.SwitchTo(m.NewThread("short", func() {}))
	})
	h := m.Wait()
	if !h.Fatal || !strings.Contains(h.Reason, "(short) returned") {
		t.Errorf("Wait() = %+v", h)
	}
}

func TestTrapDelivery(t *testing.T) {
	m := newTestMachine(t)
	var got [3]uint32
	handler := m.Text.MustDefine("handler", func() {
		got = [3]uint32{m.Hart.ReadCSR(Scause), m.Hart.ReadCSR(Stval), m.Hart.ReadCSR(Sepc)}
		m.Hart.WriteCSR(Sepc, m.Hart.ReadCSR(Sepc)+4)
	})
	m.Start(func() {
		m.Hart.WriteStvec(uint32(handler), ModeDirect)
		m.Hart.SetPC(0x80001000)
		m.Trap(CauseBreakpoint, 0x1234)
		if pc := m.Hart.PC(); pc != 0x80001004 {
			t.Errorf("pc after sret = %#x", pc)
		}
		m.Jump(0x10)
		m.Stop("ok")
	})
	if h := m.Wait(); h.Reason != "ok" {
		t.Fatalf("Wait() = %+v", h)
	}
	if want := [3]uint32{CauseInstructionAccessFault, 0x10, 0x10}; got != want {
		t.Errorf("last trap = %#x, want %#x", got, want)
	}
}

func TestDoubleFault(t *testing.T) {
	m := newTestMachine(t)
	m.Start(func() {
		m.Trap(CauseIllegalInstruction, 0)
	})
	if h := m.Wait(); !h.Fatal || !strings.Contains(h.Reason, "double fault") {
		t.Errorf("Wait() = %+v", h)
	}
}

func TestTranslate(t *testing.T) {
	m := newTestMachine(t)
	base := m.Memory.Base()
	root := base + 0x10000
	leaf := base + 0x11000
	data := base + 0x20000

	va := sv32.VAddr(0x40201000)
	m.Memory.WriteWord(root+sv32.PAddr(va.VPN1()*sv32.WordSize), uint32(sv32.MakePTE(leaf, 0)))
	m.Memory.WriteWord(leaf+sv32.PAddr(va.VPN0()*sv32.WordSize), uint32(sv32.MakePTE(data, sv32.Read)))

	if got, err := m.Translate(va+0x10, Load); err != nil || got != sv32.Identity(va+0x10) {
		t.Errorf("bare Translate() = %v, %v", got, err)
	}
	m.Hart.WriteSatp(sv32.MakeSatp(root))
	if got, err := m.Translate(va+0x10, Load); err != nil || got != data+0x10 {
		t.Errorf("Translate() = %v, %v, want %v", got, err, data+0x10)
	}
	if _, err := m.Translate(va, Store); err == nil {
		t.Errorf("store through read-only mapping translated")
	}
	if _, err := m.Translate(va+sv32.PageSize, Load); err == nil {
		t.Errorf("unmapped page translated")
	}
}

func TestLoadPageFault(t *testing.T) {
	m := newTestMachine(t)
	handler := m.Text.MustDefine("fault", func() {
		m.Fatalf("page fault scause=%#x stval=%#x", m.Hart.ReadCSR(Scause), m.Hart.ReadCSR(Stval))
	})
	m.Start(func() {
		m.Hart.WriteStvec(uint32(handler), ModeDirect)
		m.Hart.WriteSatp(sv32.MakeSatp(m.Memory.Base()))
		m.LoadWord(0x1000)
	})
	h := m.Wait()
	if want := "page fault scause=0xd stval=0x1000"; h.Reason != want {
		t.Errorf("Reason = %q, want %q", h.Reason, want)
	}
}
