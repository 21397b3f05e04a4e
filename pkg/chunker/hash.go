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

package chunker

import "fmt"

// cyrb53 seeds, per spec.md §4.B: "cyrb53-style 53-bit mixing with two
// independent seeds".
const (
	cyrb53SeedA uint32 = 0xdeadbeef
	cyrb53SeedB uint32 = 0x41c6ce57
)

// ContentHash computes the cyrb53-style 53-bit mixing hash of s, rendered
// as a lowercase hex string. The contract (spec.md §4.B) only requires
// determinism and collision resistance sufficient for keying; cyrb53 is a
// fast, well-known, non-cryptographic string hash that satisfies that.
func ContentHash(s string) string {
	var h1, h2 uint32 = cyrb53SeedA, cyrb53SeedB
	for _, r := range s {
		for _, b := range []byte(string(r)) {
			ch := uint32(b)
			h1 = (h1 ^ ch) * 2654435761
			h2 = (h2 ^ ch) * 1597334677
		}
	}
	h1 = (h1 ^ (h1 >> 16)) * 2246822507
	h1 ^= (h2 ^ (h2 >> 13)) * 3266489909
	h2 = (h2 ^ (h2 >> 16)) * 2246822507
	h2 ^= (h1 ^ (h1 >> 13)) * 3266489909

	combined := uint64(h2&0x1fffff)*0x100000000 + uint64(h1)
	return fmt.Sprintf("%013x", combined)
}
