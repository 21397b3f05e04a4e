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

// Package chunker splits fragments into word-bounded chunks of two
// profiles — explanation (fixed bounds) and alignment (adaptive bounds,
// capped total) — while preserving provenance and sentence boundaries
// (spec.md §4.B).
package chunker

// Profile bounds one chunking run: MinWords/MaxWords is the target word
// range for every chunk except possibly the last chunk of each fragment.
type Profile struct {
	MinWords int
	MaxWords int

	// MaxTotalChunks caps the number of chunks a single Run call returns;
	// 0 means unbounded. Overflow is dropped from the tail and reported via
	// Result.Dropped.
	MaxTotalChunks int
}

// ExplanationProfile is the fixed profile used by the Explanation Memoizer:
// 120-180 words per chunk, no total cap (the orchestrator applies its own
// MAX_CHUNKS_PER_SOURCE cap downstream).
func ExplanationProfile() Profile {
	return Profile{MinWords: 120, MaxWords: 180}
}

// AlignmentProfile returns the adaptive alignment profile for a chapter with
// fragmentCount upstream fragments, per spec.md §4.B: <=5 fragments uses
// (50,25); <=20 uses (100,50); otherwise (150,80). The total chunk count is
// always capped at 60.
func AlignmentProfile(fragmentCount int) Profile {
	switch {
	case fragmentCount <= 5:
		return Profile{MinWords: 25, MaxWords: 50, MaxTotalChunks: 60}
	case fragmentCount <= 20:
		return Profile{MinWords: 50, MaxWords: 100, MaxTotalChunks: 60}
	default:
		return Profile{MinWords: 80, MaxWords: 150, MaxTotalChunks: 60}
	}
}

// oversizeSlack is the amount above MaxWords a single undividable clause may
// reach before it is emitted as its own oversized chunk (spec.md §4.B).
const oversizeSlack = 50
