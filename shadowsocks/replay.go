// Copyright 2018 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shadowsocks

import "sync"

// maxCapacity bounds how large an IVCache's active set is allowed to
// grow; spec.md §4.G recommends ~256 but any caller-chosen capacity up
// to this is accepted.
const maxCapacity = 1 << 16

// IVCache rejects IVs it has already seen, implementing spec.md §4.G:
// a bounded, approximately-LRU set of seen-inbound IVs scoped to one
// master key. It uses the two-generation map idiom (an "active" set and
// an "archive" set) rather than container/list: once active fills,
// active becomes archive and a fresh active set starts, so a lookup
// checks both generations and an insert only ever touches the active
// one. This gives approximate LRU without per-entry bookkeeping, which
// is the same trade spec.md §4.G explicitly allows ("does not require
// strict LRU").
type IVCache struct {
	mu       sync.Mutex
	capacity int
	active   map[string]struct{}
	archive  map[string]struct{}
}

// NewIVCache creates an IVCache whose active set holds up to capacity
// entries before spilling into the archive generation. A capacity <= 0
// is clamped to 1; a capacity above maxCapacity is clamped down to it.
func NewIVCache(capacity int) *IVCache {
	if capacity <= 0 {
		capacity = 1
	}
	if capacity > maxCapacity {
		capacity = maxCapacity
	}
	return &IVCache{
		capacity: capacity,
		active:   make(map[string]struct{}, capacity),
	}
}

// Add inserts iv and reports whether it was new. A false return means iv
// was already present in the active or archive generation and the
// caller must treat the connection as a replay (ErrDuplicateIV).
func (c *IVCache) Add(iv []byte) bool {
	key := string(iv)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[key]; ok {
		return false
	}
	if _, ok := c.archive[key]; ok {
		return false
	}

	if len(c.active) >= c.capacity {
		c.archive = c.active
		c.active = make(map[string]struct{}, c.capacity)
	}
	c.active[key] = struct{}{}
	return true
}
