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

package sync

import (
	"oxiv.dev/oxiv/pkg/atomicbitops"
)

// SpinLock guards a value of type T. Access is only possible through a Guard
// obtained from Lock, or through With.
//
// Acquisition busy-waits on an atomic flag until it is uncontended. There is
// no fairness and no timeout, and the lock is not re-entrant: a holder that
// calls Lock again on the same SpinLock deadlocks. Callers must also never
// switch execution contexts while holding a SpinLock, since the displaced
// context may be the one that next tries to acquire it.
//
// The zero value is an unlocked SpinLock holding the zero T.
type SpinLock[T any] struct {
	locked atomicbitops.Bool
	value  T
}

// NewSpinLock returns a SpinLock wrapping v.
func NewSpinLock[T any](v T) *SpinLock[T] {
	return &SpinLock[T]{value: v}
}

// Guard is exclusive access to the value of a locked SpinLock. It is valid
// until Unlock is called.
type Guard[T any] struct {
	lock *SpinLock[T]
}

// Lock spins until the lock is acquired and returns a Guard for it.
//
//go:nosplit
func (l *SpinLock[T]) Lock() *Guard[T] {
	for l.locked.Swap(true) {
		spin()
	}
	return &Guard[T]{lock: l}
}

// TryLock acquires the lock if it is free, without spinning.
func (l *SpinLock[T]) TryLock() (*Guard[T], bool) {
	if l.locked.Swap(true) {
		return nil, false
	}
	return &Guard[T]{lock: l}, true
}

// With runs fn with exclusive access to the guarded value. The lock is
// released on every exit path of fn, including panics and runtime.Goexit.
func (l *SpinLock[T]) With(fn func(v *T)) {
	g := l.Lock()
	defer g.Unlock()
	fn(g.Get())
}

// Locked reports whether the lock is currently held. It is only meaningful
// for diagnostics.
func (l *SpinLock[T]) Locked() bool {
	return l.locked.Load()
}

// Get returns the guarded value.
//
// Precondition: g has not been unlocked.
func (g *Guard[T]) Get() *T {
	if g.lock == nil {
		panic("SpinLock guard used after Unlock")
	}
	return &g.lock.value
}

// Unlock releases the lock. Calling Unlock twice on the same Guard panics.
//
//go:nosplit
func (g *Guard[T]) Unlock() {
	if g.lock == nil {
		panic("SpinLock guard unlocked twice")
	}
	l := g.lock
	g.lock = nil
	l.locked.Store(false)
}

// spin is the busy-wait body. It deliberately does not yield the processor.
//
//go:nosplit
func spin() {
	for i := 0; i < 30; i++ {
	}
}
