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

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warningf("shown %d", 3)
	if got, want := buf.String(), "shown 2\nshown 3\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	var buf bytes.Buffer
	e := GoogleEmitter{&Writer{Next: &buf}}
	ts := time.Date(2026, time.May, 7, 13, 4, 5, 6000, time.UTC)
	e.Emit(0, Warning, ts, "page %#x", 0x1000)

	got := buf.String()
	if !strings.HasPrefix(got, "W0507 13:04:05.000006 ") {
		t.Errorf("header mismatch: %q", got)
	}
	if !strings.Contains(got, "log_test.go:") || !strings.HasSuffix(got, "] page 0x1000\n") {
		t.Errorf("caller or message mismatch: %q", got)
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	e.Emit(0, Info, time.Unix(0, 0).UTC(), "switch %d -> %d", 1, 2)

	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Errorf("record not newline terminated: %q", buf.String())
	}
	var r jsonRecord
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &r); err != nil {
		t.Fatalf("output is not json: %v: %q", err, buf.String())
	}
	if r.Level != Info || r.Msg != "switch 1 -> 2" || !strings.HasPrefix(r.Source, "log_test.go:") {
		t.Errorf("unexpected record %+v", r)
	}
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("level not encoded by name: %q", buf.String())
	}
}

func TestMultiEmitter(t *testing.T) {
	var a, b bytes.Buffer
	m := MultiEmitter{&Writer{Next: &a}, &Writer{Next: &b}}
	m.Emit(0, Info, time.Now(), "hello")
	if a.String() != "hello\n" || b.String() != "hello\n" {
		t.Errorf("MultiEmitter outputs: %q, %q", a.String(), b.String())
	}
}

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	base := &BasicLogger{Level: Debug, Emitter: &Writer{Next: &buf}}
	rl := BurstRateLimitedLogger(base, time.Hour, 2)
	for i := 0; i < 5; i++ {
		rl.Warningf("msg %d", i)
	}
	if got, want := buf.String(), "msg 0\nmsg 1\n"; got != want {
		t.Errorf("rate limited output = %q, want %q", got, want)
	}
}

func decodeRecords(t *testing.T, b []byte) []jsonRecord {
	t.Helper()
	var rs []jsonRecord
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		var r jsonRecord
		if err := json.Unmarshal(line, &r); err != nil {
			t.Fatalf("output is not json: %v: %q", err, line)
		}
		rs = append(rs, r)
	}
	return rs
}

func TestRateLimitedLoggerCaller(t *testing.T) {
	var buf bytes.Buffer
	base := &BasicLogger{Level: Debug, Emitter: JSONEmitter{&Writer{Next: &buf}}}
	rl := BurstRateLimitedLogger(base, time.Hour, 3)
	rl.Debugf("d")
	rl.Infof("i")
	rl.Warningf("w")
	rs := decodeRecords(t, buf.Bytes())
	if len(rs) != 3 {
		t.Fatalf("got %d records, want 3: %q", len(rs), buf.String())
	}
	for _, r := range rs {
		if !strings.HasPrefix(r.Source, "log_test.go:") {
			t.Errorf("record %q attributed to %q, want log_test.go", r.Msg, r.Source)
		}
	}
}

func TestBasicRateLimitedLoggerFollowsTarget(t *testing.T) {
	// Created before the target changes, as package-level loggers are.
	rl := BasicRateLimitedLogger(time.Hour, 2)

	old := Log()
	var buf bytes.Buffer
	SetTarget(JSONEmitter{&Writer{Next: &buf}})
	defer SetTarget(old.Emitter)

	for i := 0; i < 3; i++ {
		rl.Warningf("full %d", i)
	}
	rs := decodeRecords(t, buf.Bytes())
	var msgs []string
	for _, r := range rs {
		msgs = append(msgs, r.Msg)
		if r.Level != Warning || !strings.HasPrefix(r.Source, "log_test.go:") {
			t.Errorf("unexpected record %+v", r)
		}
	}
	if diff := cmp.Diff([]string{"full 0", "full 1"}, msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelText(t *testing.T) {
	for _, lv := range []Level{Warning, Info, Debug} {
		b, err := lv.MarshalText()
		if err != nil {
			t.Errorf("MarshalText(%v): %v", lv, err)
			continue
		}
		var got Level
		if err := got.UnmarshalText(b); err != nil {
			t.Errorf("UnmarshalText(%q): %v", b, err)
		}
		if got != lv {
			t.Errorf("round trip of %v gave %v", lv, got)
		}
	}
	if _, err := Level(7).MarshalText(); err == nil {
		t.Errorf("MarshalText(7) succeeded")
	}
	var lv Level
	if err := lv.UnmarshalText([]byte("verbose")); err == nil {
		t.Errorf("UnmarshalText(verbose) succeeded")
	}
}

func TestCommandFileOpts(t *testing.T) {
	o := CommandFileOpts{Command: "boot", StartTime: time.Unix(0, 42)}
	if got, want := o.Build("/tmp/oxiv/%COMMAND%-%TIMESTAMP%.log"), "/tmp/oxiv/boot-42.log"; got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}
