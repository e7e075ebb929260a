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

package service

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/gwolfxiao/shadowsocks-libev/resolver"
	"github.com/gwolfxiao/shadowsocks-libev/service/metrics"
	ss "github.com/gwolfxiao/shadowsocks-libev/shadowsocks"
	"github.com/gwolfxiao/shadowsocks-libev/socks"
)

// tunnelTestSetup runs a full local->tunnel->server->target chain: a
// plaintext echo-client connects to the tunnel, which encrypts to a
// real TCPService instance (standing in for a remote Shadowsocks
// server), which decrypts and relays to an echo target.
func tunnelTestSetup(t *testing.T, auth bool) (tunnelAddr string, cleanup func()) {
	t.Helper()
	cipher := newTestCipher(t)
	targetAddr, stopTarget := startTarget(t)

	serverSvc := NewTCPService(cipher, auth, ss.NewIVCache(16), nil, resolver.System(), &metrics.NoOpMetrics{}, 5*time.Second, false)
	remoteAddr, stopServer := startTCPService(t, serverSvc)

	dstAddr, err := socks.ParseAddr(targetAddr)
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}

	tunnelSvc := NewTunnelService(remoteAddr, dstAddr, cipher, auth, ss.NewIVCache(16), false)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	tcpListener := listener.(*net.TCPListener)
	go tunnelSvc.Serve(tcpListener)

	cleanup = func() {
		tunnelSvc.Stop()
		stopServer()
		stopTarget()
	}
	return tcpListener.Addr().String(), cleanup
}

func TestTunnelServicePlainRoundTrip(t *testing.T) {
	tunnelAddr, cleanup := tunnelTestSetup(t, false)
	defer cleanup()

	conn, err := net.Dial("tcp", tunnelAddr)
	if err != nil {
		t.Fatalf("failed to dial tunnel: %v", err)
	}
	defer conn.Close()

	const msg = "plaintext in, tunneled out"
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != msg {
		t.Fatalf("round trip mismatch: got %q, want %q", got, msg)
	}
}

func TestTunnelServiceOneTimeAuthRoundTrip(t *testing.T) {
	tunnelAddr, cleanup := tunnelTestSetup(t, true)
	defer cleanup()

	conn, err := net.Dial("tcp", tunnelAddr)
	if err != nil {
		t.Fatalf("failed to dial tunnel: %v", err)
	}
	defer conn.Close()

	const msg = "authenticated plaintext in, tunneled out"
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != msg {
		t.Fatalf("round trip mismatch: got %q, want %q", got, msg)
	}
}
