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
	"runtime"
	"testing"
)

func TestSpinLockExclusive(t *testing.T) {
	const (
		workers = 8
		iters   = 1000
	)
	l := NewSpinLock(0)
	var wg WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				l.With(func(v *int) {
					*v++
				})
			}
		}()
	}
	wg.Wait()

	g := l.Lock()
	defer g.Unlock()
	if got, want := *g.Get(), workers*iters; got != want {
		t.Errorf("counter = %d, want %d", got, want)
	}
}

func TestSpinLockReleasedOnPanic(t *testing.T) {
	l := NewSpinLock("value")
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		l.With(func(*string) {
			panic("boom")
		})
	}()
	if l.Locked() {
		t.Errorf("lock still held after panic in With")
	}
}

func TestSpinLockReleasedOnGoexit(t *testing.T) {
	var l SpinLock[int]
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.With(func(*int) {
			runtime.Goexit()
		})
	}()
	<-done
	if l.Locked() {
		t.Errorf("lock still held after Goexit in With")
	}
}

func TestTryLock(t *testing.T) {
	var l SpinLock[int]
	g, ok := l.TryLock()
	if !ok {
		t.Fatalf("TryLock on free lock failed")
	}
	if _, ok := l.TryLock(); ok {
		t.Errorf("TryLock on held lock succeeded")
	}
	g.Unlock()
	if _, ok := l.TryLock(); !ok {
		t.Errorf("TryLock after Unlock failed")
	}
}

func TestGuardDoubleUnlockPanics(t *testing.T) {
	var l SpinLock[int]
	g := l.Lock()
	g.Unlock()
	defer func() {
		if recover() == nil {
			t.Errorf("second Unlock did not panic")
		}
	}()
	g.Unlock()
}
