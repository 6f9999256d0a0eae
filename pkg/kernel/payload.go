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

package kernel

import (
	"fmt"
)

// Payload is a kernel process started at boot.
type Payload struct {
	// Name names the process's entry point.
	Name string

	// Run is the body of the process. If it returns, the process exits.
	Run func(k *Kernel)
}

// Printer returns a payload that prints its name with a counter, yielding
// after each line, and exits after yields lines.
func Printer(name string, yields int) Payload {
	return Payload{
		Name: "process_" + name,
		Run: func(k *Kernel) {
			k.printf("Printing a %d %s's\n", yields, name)
			for i := 0; i < yields; i++ {
				k.printf("%s%d\n", name, i)
				k.Sched.YieldControl()
			}
			k.printf("%s was done!\n", name)
			k.Sched.ExitProcess()
		},
	}
}

// DemoPayloads returns n printers named A, B, C, ... each yielding yields
// times.
func DemoPayloads(n, yields int) []Payload {
	ps := make([]Payload, 0, n)
	for i := 0; i < n; i++ {
		ps = append(ps, Printer(processName(i), yields))
	}
	return ps
}

func processName(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("P%d", i)
}

// startPayloads places each payload in the text segment and schedules it.
func (k *Kernel) startPayloads(payloads []Payload) {
	m := k.Machine
	k.printf("Starting %d processes\n", len(payloads))
	for _, p := range payloads {
		p := p
		entry, err := m.Text.Define(p.Name, func() { p.Run(k) })
		if err != nil {
			m.Fatalf("placing %s: %v", p.Name, err)
		}
		if entry%4 != 0 {
			m.Fatalf("%s entry %v is not 4-byte aligned", p.Name, entry)
		}
		k.printf("%s: %v\n", p.Name, entry)
		info, err := k.Sched.ScheduleProcess(entry)
		if err != nil {
			m.Fatalf("scheduling %s: %v", p.Name, err)
		}
		k.printf("%s: %v\n", p.Name, info)
	}
}
