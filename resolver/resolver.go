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

// Package resolver defines the DNS lookup interface consumed when a
// request header names a domain rather than a literal address (spec.md
// §6: "asynchronous DNS resolver implementation" is an external
// collaborator; only its interface is specified here). Each connection
// resolves independently on its own goroutine, so no callback-driven
// async engine is needed the way the original single-threaded reactor
// required one; a context-cancelable, potentially-blocking Resolve is
// the idiomatic Go shape for the same job (spec.md §9's own
// goroutine-per-connection redesign).
package resolver

import (
	"context"
	"net"
)

// Resolver looks up the IP addresses for host.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// systemResolver defers to Go's built-in resolver.
type systemResolver struct {
	r *net.Resolver
}

// System returns a Resolver backed by net.DefaultResolver.
func System() Resolver {
	return &systemResolver{r: net.DefaultResolver}
}

func (s *systemResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := s.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}
