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

// Package acl defines the peer access-control interface consumed by the
// TCP service (spec.md §6: "access-control list matching" is an external
// collaborator; only its interface is specified here). The full rule
// engine — CIDR trees, GeoIP-based rules, file-backed reloading — is out
// of scope; this package supplies the interface plus a minimal in-memory
// implementation sufficient to exercise the wiring and to demonstrate
// the auto-ban behavior in spec.md §8 scenario S4.
package acl

import (
	"net"
	"sync"
)

// Mode selects how List.Match's boolean result is interpreted by the
// caller: in Whitelist mode only listed peers are allowed to connect; in
// Blacklist mode listed peers are refused and everyone else is allowed.
type Mode int

const (
	Blacklist Mode = iota
	Whitelist
)

// List reports whether a peer IP is present in the access-control set,
// and lets the caller add to it — used for auto-ban after a header or
// chunk authentication failure (spec.md §7's AuthFail row).
type List interface {
	// Match reports whether ip is present in the list.
	Match(ip net.IP) bool
	// Add inserts ip into the list.
	Add(ip net.IP)
	// Mode reports whether this list is a Blacklist or a Whitelist.
	Mode() Mode
}

// memoryList is a process-lifetime, mutex-guarded set of IPs. Good enough
// for a single relay process; a persistent or file-reloaded ACL would
// implement the same List interface.
type memoryList struct {
	mu   sync.RWMutex
	mode Mode
	set  map[string]struct{}
}

// NewMemoryList returns a List backed by an in-memory set, seeded with
// the given initial entries (typically loaded from a config file at
// startup; parsing that file is out of scope here, same as the rest of
// configuration handling).
func NewMemoryList(mode Mode, initial []net.IP) List {
	l := &memoryList{mode: mode, set: make(map[string]struct{}, len(initial))}
	for _, ip := range initial {
		l.set[ip.String()] = struct{}{}
	}
	return l
}

func (l *memoryList) Match(ip net.IP) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.set[ip.String()]
	return ok
}

func (l *memoryList) Add(ip net.IP) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set[ip.String()] = struct{}{}
}

func (l *memoryList) Mode() Mode {
	return l.mode
}

// Allowed applies l's mode to ip: in Blacklist mode, ip is allowed unless
// matched; in Whitelist mode, ip is allowed only if matched. A nil l
// allows everything, so ACL enforcement can be disabled by construction
// rather than by an extra branch at every call site.
func Allowed(l List, ip net.IP) bool {
	if l == nil {
		return true
	}
	matched := l.Match(ip)
	if l.Mode() == Whitelist {
		return matched
	}
	return !matched
}
