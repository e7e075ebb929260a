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
	"errors"
	"net"
	"sync"

	tfo "github.com/database64128/tfo-go/v2"

	onet "github.com/gwolfxiao/shadowsocks-libev/net"
	ss "github.com/gwolfxiao/shadowsocks-libev/shadowsocks"
	"github.com/gwolfxiao/shadowsocks-libev/socks"
)

// TunnelService accepts plaintext local connections and relays them,
// encrypted, to a single fixed remote Shadowsocks server and destination
// (spec.md §5's "tunnel side": state machine CONNECTING → SPLICING, much
// simpler than the server side since the destination is not read off the
// wire but baked in at startup).
type TunnelService interface {
	Serve(listener *net.TCPListener) error
	Stop() error
	GracefulStop() error
}

type tunnelService struct {
	mu       sync.RWMutex
	listener *net.TCPListener
	stopped  bool
	running  sync.WaitGroup

	remoteAddr string // the Shadowsocks server to dial
	dstAddr    socks.Addr

	cipher      *ss.Cipher
	requireAuth bool
	ivCache     *ss.IVCache

	dialerTFO bool
}

// NewTunnelService creates a TunnelService that, for every accepted local
// connection, dials remoteAddr, sends an encrypted request header for
// dstAddr (with one-time auth when requireAuth is set), and splices the
// rest of the connection.
func NewTunnelService(remoteAddr string, dstAddr socks.Addr, cipher *ss.Cipher, requireAuth bool, ivCache *ss.IVCache, dialerTFO bool) TunnelService {
	return &tunnelService{
		remoteAddr:  remoteAddr,
		dstAddr:     dstAddr,
		cipher:      cipher,
		requireAuth: requireAuth,
		ivCache:     ivCache,
		dialerTFO:   dialerTFO,
	}
}

func (t *tunnelService) Serve(listener *net.TCPListener) error {
	t.mu.Lock()
	if t.listener != nil {
		t.mu.Unlock()
		listener.Close()
		return errors.New("Serve can only be called once")
	}
	if t.stopped {
		t.mu.Unlock()
		return listener.Close()
	}
	t.listener = listener
	t.running.Add(1)
	t.mu.Unlock()

	defer t.running.Done()
	for {
		localConn, err := listener.AcceptTCP()
		if err != nil {
			t.mu.RLock()
			stopped := t.stopped
			t.mu.RUnlock()
			if stopped {
				return nil
			}
			logger.Errorf("accept failed: %v", err)
			continue
		}

		t.running.Add(1)
		go func() {
			defer t.running.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("panic in tunnel handler: %v", r)
				}
			}()
			t.handleConnection(localConn)
		}()
	}
}

// handleConnection dials the remote Shadowsocks server, performs the
// CONNECTING step (send the encrypted, optionally authenticated request
// header for t.dstAddr), then splices the local plaintext connection with
// the remote encrypted one (SPLICING).
func (t *tunnelService) handleConnection(localConn *net.TCPConn) {
	defer localConn.Close()

	dialer := tfo.Dialer{DisableTFO: !t.dialerTFO}
	remoteRaw, err := dialer.Dial("tcp", t.remoteAddr, nil)
	if err != nil {
		logger.Errorf("failed to dial remote %s: %v", t.remoteAddr, err)
		return
	}
	remoteConn := onet.WrapConn(remoteRaw)
	defer remoteConn.Close()

	ssw := ss.NewWriter(remoteConn, t.cipher)
	if err := ss.WriteHeader(ssw, t.dstAddr, t.requireAuth, t.cipher.MasterKey()); err != nil {
		logger.Errorf("failed to send request header to %s: %v", t.remoteAddr, err)
		return
	}
	var writer ss.Writer = ssw
	if t.requireAuth {
		iv, _ := ssw.IV()
		writer = ss.NewChunkedWriter(ss.NewChunkWriter(ssw, iv))
	}

	var reader ss.Reader = ss.NewReader(remoteConn, t.cipher, t.ivCache)

	local := onet.WrapConn(localConn)

	fromLocalErrCh := make(chan error, 1)
	go func() {
		_, err := writer.ReadFrom(local)
		remoteConn.CloseWrite()
		fromLocalErrCh <- err
	}()
	_, fromRemoteErr := reader.WriteTo(local)
	local.CloseWrite()

	if fromLocalErr := <-fromLocalErrCh; fromLocalErr != nil {
		logger.Debugf("tunnel: local->remote relay for %s ended: %v", t.remoteAddr, fromLocalErr)
	}
	if fromRemoteErr != nil {
		logger.Debugf("tunnel: remote->local relay for %s ended: %v", t.remoteAddr, fromRemoteErr)
	}
}

func (t *tunnelService) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *tunnelService) GracefulStop() error {
	err := t.Stop()
	t.running.Wait()
	return err
}
