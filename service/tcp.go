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
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	tfo "github.com/database64128/tfo-go/v2"
	"go.uber.org/zap"

	"github.com/gwolfxiao/shadowsocks-libev/acl"
	onet "github.com/gwolfxiao/shadowsocks-libev/net"
	"github.com/gwolfxiao/shadowsocks-libev/resolver"
	"github.com/gwolfxiao/shadowsocks-libev/service/metrics"
	ss "github.com/gwolfxiao/shadowsocks-libev/shadowsocks"
	"github.com/gwolfxiao/shadowsocks-libev/socks"
)

var logger = zap.NewNop().Sugar()

// SetLogger installs l as the package-wide logger for the TCP server and
// tunnel services. The default is a no-op logger, so the package works
// unconfigured in tests.
func SetLogger(l *zap.SugaredLogger) { logger = l }

func remoteIP(conn net.Conn) net.IP {
	addr := conn.RemoteAddr()
	if addr == nil {
		return nil
	}
	if tcpaddr, ok := addr.(*net.TCPAddr); ok {
		return tcpaddr.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return net.ParseIP(host)
	}
	return nil
}

// tcpService relays accepted TCP connections under a single, process-wide
// cipher profile. Unlike a multi-key Outline-style server, there is no
// trial-decryption access-key search: the profile is fixed at startup
// (spec.md §9's "immutable CipherProfile"), so a connection either
// decrypts and authenticates under that one profile or it does not.
type tcpService struct {
	mu        sync.RWMutex // protects listener and stopped
	listener  *net.TCPListener
	dialerTFO bool
	stopped   bool

	cipher      *ss.Cipher
	requireAuth bool
	ivCache     *ss.IVCache
	acl         acl.List
	resolver    resolver.Resolver

	m           metrics.ShadowsocksMetrics
	running     sync.WaitGroup
	readTimeout time.Duration

	targetIPValidator onet.TargetIPValidator
}

// NewTCPService creates a TCPService decrypting under cipher. ivCache
// rejects replayed IVs; aclList (nil to disable) admits or refuses peers
// by IP and receives auto-bans on authentication failure when it is in
// Blacklist mode (spec.md §8 scenario S4); res resolves domain-name
// targets. requireAuth refuses any connection whose header does not
// carry one-time auth.
func NewTCPService(cipher *ss.Cipher, requireAuth bool, ivCache *ss.IVCache, aclList acl.List, res resolver.Resolver, m metrics.ShadowsocksMetrics, timeout time.Duration, dialerTFO bool) TCPService {
	return &tcpService{
		cipher:      cipher,
		requireAuth: requireAuth,
		ivCache:     ivCache,
		acl:         aclList,
		resolver:    res,
		m:           m,
		readTimeout: timeout,
		dialerTFO:   dialerTFO,
	}
}

// TCPService is a Shadowsocks TCP service that can be started and stopped.
type TCPService interface {
	// SetTargetIPValidator sets the function used to validate resolved
	// target IP addresses before dialing.
	SetTargetIPValidator(targetIPValidator onet.TargetIPValidator)
	// Serve adopts listener, which is closed before Serve returns. Serve
	// returns an error unless Stop was called.
	Serve(listener *net.TCPListener) error
	// Stop closes the listener but does not interfere with existing
	// connections.
	Stop() error
	// GracefulStop calls Stop, then blocks until all connections close.
	GracefulStop() error
}

func (s *tcpService) SetTargetIPValidator(targetIPValidator onet.TargetIPValidator) {
	s.targetIPValidator = targetIPValidator
}

func (s *tcpService) banIfBlacklist(ip net.IP) {
	if s.acl != nil && ip != nil && s.acl.Mode() == acl.Blacklist {
		s.acl.Add(ip)
	}
}

func addrHostPort(addr socks.Addr) (host, port string) {
	host, port, _ = net.SplitHostPort(addr.String())
	return
}

// dialTarget resolves tgtAddr (through s.resolver when it names a domain),
// validates the resolved IP through s.targetIPValidator, and dials it.
func (s *tcpService) dialTarget(ctx context.Context, tgtAddr socks.Addr, proxyMetrics *metrics.ProxyMetrics) (onet.DuplexConn, *onet.ConnectionError) {
	host, port := addrHostPort(tgtAddr)
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := s.resolver.Resolve(ctx, host)
		if err != nil || len(ips) == 0 {
			return nil, onet.NewConnectionError("ERR_RESOLVE", "Failed to resolve target host", err)
		}
		ip = ips[0]
	}
	if s.targetIPValidator != nil {
		if connErr := s.targetIPValidator(ip); connErr != nil {
			return nil, connErr
		}
	}

	dialer := tfo.Dialer{DisableTFO: !s.dialerTFO}
	tgtConn, err := dialer.Dial("tcp", net.JoinHostPort(ip.String(), port), nil)
	if err != nil {
		return nil, onet.NewConnectionError("ERR_CONNECT", "Failed to connect to target", err)
	}
	duplex := onet.WrapConn(tgtConn)
	return metrics.MeasureConn(duplex, &proxyMetrics.ProxyTarget, &proxyMetrics.TargetProxy), nil
}

func (s *tcpService) Serve(listener *net.TCPListener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		listener.Close()
		return errors.New("Serve can only be called once")
	}
	if s.stopped {
		s.mu.Unlock()
		return listener.Close()
	}
	s.listener = listener
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	for {
		clientTCPConn, err := listener.AcceptTCP()
		if err != nil {
			s.mu.RLock()
			stopped := s.stopped
			s.mu.RUnlock()
			if stopped {
				return nil
			}
			logger.Errorf("accept failed: %v", err)
			continue
		}

		s.running.Add(1)
		go func() {
			defer s.running.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("panic in TCP handler: %v", r)
				}
			}()
			s.handleConnection(listener.Addr().(*net.TCPAddr).Port, clientTCPConn)
		}()
	}
}

func (s *tcpService) handleConnection(listenerPort int, clientTCPConn *net.TCPConn) {
	peerIP := remoteIP(clientTCPConn)
	if !acl.Allowed(s.acl, peerIP) {
		logger.Debugf("refusing connection from %v: not allowed by ACL", peerIP)
		clientTCPConn.Close()
		return
	}

	clientLocation, err := s.m.GetLocation(clientTCPConn.RemoteAddr())
	if err != nil {
		logger.Warnf("location lookup failed: %v", err)
	}
	s.m.AddOpenTCPConnection(clientLocation)

	connStart := time.Now()
	clientTCPConn.SetKeepAlive(true)
	// Bound the time to receive a full, valid request header.
	clientTCPConn.SetReadDeadline(connStart.Add(s.readTimeout))

	var proxyMetrics metrics.ProxyMetrics
	clientConn := metrics.MeasureConn(onet.WrapConn(clientTCPConn), &proxyMetrics.ProxyClient, &proxyMetrics.ClientProxy)

	connError := func() *onet.ConnectionError {
		ssr := ss.NewReader(clientConn, s.cipher, s.ivCache)
		iv, err := ssr.IV()
		if err != nil {
			if errors.Is(err, ss.ErrDuplicateIV) {
				s.banIfBlacklist(peerIP)
				return onet.NewConnectionError("ERR_REPLAY", "Duplicate IV, possible replay", err)
			}
			s.absorbProbe(listenerPort, clientConn, clientLocation, "ERR_READ_IV", &proxyMetrics)
			return onet.NewConnectionError("ERR_READ_IV", "Failed to read IV", err)
		}

		tgtAddr, auth, err := ss.ReadHeader(ssr, iv, s.cipher.MasterKey())
		// Clear the deadline now that the header is in hand.
		clientTCPConn.SetReadDeadline(time.Time{})
		if err != nil {
			if errors.Is(err, ss.ErrHeaderAuthFailed) {
				s.banIfBlacklist(peerIP)
				return onet.NewConnectionError("ERR_HEADER_AUTH", "Header authentication failed", err)
			}
			s.absorbProbe(listenerPort, clientConn, clientLocation, "ERR_READ_ADDRESS", &proxyMetrics)
			return onet.NewConnectionError("ERR_READ_ADDRESS", "Failed to get target address", err)
		}
		if s.requireAuth && !auth {
			return onet.NewConnectionError("ERR_AUTH_REQUIRED", "One-time auth is required but was not used", nil)
		}

		var reader ss.Reader = ssr
		if auth {
			reader = ss.NewChunkedReader(ss.NewChunkReader(ssr, iv))
		}

		tgtConn, dialErr := s.dialTarget(context.Background(), tgtAddr, &proxyMetrics)
		if dialErr != nil {
			// Don't drain: dial errors and invalid addresses should be
			// communicated to the client quickly.
			return dialErr
		}
		defer tgtConn.Close()

		logger.Debugf("proxying %s <-> %s", clientTCPConn.RemoteAddr(), tgtConn.RemoteAddr())

		ssw := ss.NewWriter(clientConn, s.cipher)
		var writer ss.Writer = ssw
		if auth {
			wIV, err := ssw.IV()
			if err != nil {
				return onet.NewConnectionError("ERR_RELAY_CLIENT", "Failed to establish response IV", err)
			}
			writer = ss.NewChunkedWriter(ss.NewChunkWriter(ssw, wIV))
		}

		fromClientErrCh := make(chan error, 1)
		go func() {
			_, fromClientErr := reader.WriteTo(tgtConn)
			if fromClientErr != nil {
				if errors.Is(fromClientErr, ss.ErrChunkAuthFailed) {
					s.banIfBlacklist(peerIP)
				}
				var decErr *ss.DecryptionErr
				if errors.As(fromClientErr, &decErr) {
					// Drain rather than reset, so a mid-stream cipher
					// error does not give a probing attacker a timing
					// signal distinct from an ordinary slow client.
					io.Copy(io.Discard, clientConn)
				}
			}
			// FIN to target only after any drain above has finished.
			tgtConn.CloseWrite()
			fromClientErrCh <- fromClientErr
		}()
		_, fromTargetErr := writer.ReadFrom(tgtConn)
		clientConn.CloseWrite()

		if fromClientErr := <-fromClientErrCh; fromClientErr != nil {
			return onet.NewConnectionError("ERR_RELAY_CLIENT", "Failed to relay traffic from client", fromClientErr)
		}
		if fromTargetErr != nil {
			return onet.NewConnectionError("ERR_RELAY_TARGET", "Failed to relay traffic from target", fromTargetErr)
		}
		return nil
	}()

	connDuration := time.Since(connStart)
	status := "OK"
	if connError != nil {
		logger.Debugf("TCP error: %v: %v", connError.Message, connError.Cause)
		status = connError.Status
	}
	s.m.AddClosedTCPConnection(clientLocation, status, proxyMetrics, connDuration)
	clientConn.Close() // Closing after metrics are added aids integration testing.
}

// absorbProbe keeps the connection open until the drain completes, so an
// active prober cannot distinguish "bad header" from "slow, legitimate
// client" by connection lifetime alone.
func (s *tcpService) absorbProbe(listenerPort int, clientConn io.ReadCloser, clientLocation, status string, proxyMetrics *metrics.ProxyMetrics) {
	_, drainErr := io.Copy(io.Discard, clientConn)
	s.m.AddTCPProbe(clientLocation, status, drainErrToString(drainErr), listenerPort, *proxyMetrics)
}

func drainErrToString(drainErr error) string {
	netErr, ok := drainErr.(net.Error)
	switch {
	case drainErr == nil:
		return "eof"
	case ok && netErr.Timeout():
		return "timeout"
	default:
		return "other"
	}
}

func (s *tcpService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *tcpService) GracefulStop() error {
	err := s.Stop()
	s.running.Wait()
	return err
}
