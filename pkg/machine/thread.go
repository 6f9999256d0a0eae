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
	"fmt"
	"runtime"
)

// Thread is a flow of control on the machine. A thread is backed by a host
// goroutine that is created the first time the thread is switched to and
// that is parked whenever another thread owns the hart.
type Thread struct {
	m       *Machine
	id      int
	name    string
	fn      func()
	started bool
	wake    chan struct{}
}

// NewThread returns a thread that runs fn when first switched to. If fn
// returns, the machine halts with a fatal error, as falling off the end of
// an entry point would.
func (m *Machine) NewThread(name string, fn func()) *Thread {
	m.threads++
	return &Thread{
		m:    m,
		id:   m.threads,
		name: name,
		fn:   fn,
		wake: make(chan struct{}, 1),
	}
}

// String implements fmt.Stringer.String.
func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (%s)", t.id, t.name)
}

// Running returns the thread that currently owns the hart.
func (m *Machine) Running() *Thread {
	return m.running
}

// SwitchTo hands the hart to next and blocks the calling thread until some
// thread switches back to it. The caller must be the running thread.
//
// If the machine halts while the caller is parked, the caller's goroutine
// exits.
func (m *Machine) SwitchTo(next *Thread) {
	cur := m.running
	if next == cur {
		return
	}
	m.running = next
	next.resume()
	cur.park()
}

func (t *Thread) resume() {
	if !t.started {
		t.started = true
		go t.run()
		return
	}
	t.wake <- struct{}{}
}

func (t *Thread) park() {
	select {
	case <-t.wake:
	case <-t.m.done:
		runtime.Goexit()
	}
}

func (t *Thread) run() {
	t.fn()
	t.m.stop(0, fmt.Sprintf("%v returned from its entry point", t), true)
}
