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

// Package progress exposes the client-observable chunk counter a request
// updates as the Guide Orchestrator (spec.md §4.G step 4) processes chunks
// across corpora, so a caller can report "N of M" without reading the
// canonical guide record itself.
package progress

import "sync/atomic"

// Counter is a concurrency-safe total/done pair. The zero value is not
// ready for use; construct with New.
type Counter struct {
	total int64
	done  int64
}

// New returns a Counter with the given total and done=0.
func New(total int) *Counter {
	c := &Counter{}
	atomic.StoreInt64(&c.total, int64(total))
	return c
}

// Increment advances done by one, returning the new (done, total) pair.
func (c *Counter) Increment() (done, total int) {
	d := atomic.AddInt64(&c.done, 1)
	return int(d), int(atomic.LoadInt64(&c.total))
}

// Snapshot reads the current (done, total) pair without mutating it.
func (c *Counter) Snapshot() (done, total int) {
	return int(atomic.LoadInt64(&c.done)), int(atomic.LoadInt64(&c.total))
}
