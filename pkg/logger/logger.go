// Copyright 2025 The Studio Authors
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

// Package logger provides the structured logging used throughout the
// pipeline. Internal error messages are logged here with a component tag
// (spec.md §7: "[alignment]", "[llm-retry]", "[cache]", ...) but are never
// forwarded raw to the caller-facing outcome.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.RWMutex
	current *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// ParseLevel converts a string log level to slog.Level. Unrecognized values
// default to Info, matching the permissive behavior of the teacher's
// equivalent parser.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the process-wide default logger. format "json" selects
// slog.JSONHandler (suited to log aggregation in production); anything else
// selects a plain slog.TextHandler.
func Init(level slog.Level, output io.Writer, format string) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	mu.Lock()
	current = slog.New(handler)
	mu.Unlock()
}

// Default returns the process-wide logger installed by Init, or a
// stderr/text fallback if Init was never called.
func Default() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Component returns a logger scoped to component, tagging every record it
// emits with a "component" attribute. This is the mechanism by which
// internal errors carry the component tags of spec.md §7 without leaking
// them into user-facing messages.
func Component(component string) *slog.Logger {
	return Default().With("component", component)
}
