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
	"time"

	"golang.org/x/time/rate"
)

// depthLogger is a Logger that can attribute a message to one of its
// callers.
type depthLogger interface {
	DebugfAtDepth(depth int, format string, v ...any)
	InfofAtDepth(depth int, format string, v ...any)
	WarningfAtDepth(depth int, format string, v ...any)
}

type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if !rl.limit.Allow() {
		return
	}
	if d, ok := rl.logger.(depthLogger); ok {
		d.DebugfAtDepth(1, format, v...)
		return
	}
	rl.logger.Debugf(format, v...)
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if !rl.limit.Allow() {
		return
	}
	if d, ok := rl.logger.(depthLogger); ok {
		d.InfofAtDepth(1, format, v...)
		return
	}
	rl.logger.Infof(format, v...)
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if !rl.limit.Allow() {
		return
	}
	if d, ok := rl.logger.(depthLogger); ok {
		d.WarningfAtDepth(1, format, v...)
		return
	}
	rl.logger.Warningf(format, v...)
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// globalLogger forwards to whatever Log returns at the time of each call, so
// it follows later SetTarget and SetLevel calls.
type globalLogger struct{}

func (globalLogger) Debugf(format string, v ...any) {
	Log().DebugfAtDepth(1, format, v...)
}

func (globalLogger) Infof(format string, v ...any) {
	Log().InfofAtDepth(1, format, v...)
}

func (globalLogger) Warningf(format string, v ...any) {
	Log().WarningfAtDepth(1, format, v...)
}

func (globalLogger) DebugfAtDepth(depth int, format string, v ...any) {
	Log().DebugfAtDepth(1+depth, format, v...)
}

func (globalLogger) InfofAtDepth(depth int, format string, v ...any) {
	Log().InfofAtDepth(1+depth, format, v...)
}

func (globalLogger) WarningfAtDepth(depth int, format string, v ...any) {
	Log().WarningfAtDepth(1+depth, format, v...)
}

func (globalLogger) IsLogging(level Level) bool {
	return Log().IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration, after an initial burst. The
// global logger is looked up on every message.
func BasicRateLimitedLogger(every time.Duration, burst int) Logger {
	return BurstRateLimitedLogger(globalLogger{}, every, burst)
}

// BurstRateLimitedLogger returns a Logger that logs to the provided logger,
// allowing bursts of up to burst messages before limiting to one per every.
func BurstRateLimitedLogger(logger Logger, every time.Duration, burst int) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), burst),
	}
}
