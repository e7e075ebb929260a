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

package metrics

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	onet "github.com/gwolfxiao/shadowsocks-libev/net"
	geoip2 "github.com/oschwald/geoip2-golang"
	"github.com/prometheus/client_golang/prometheus"
)

// ShadowsocksMetrics registers metrics for the relay's TCP service. There
// is only ever one cipher profile per process (spec.md §9's "immutable
// CipherProfile"), so unlike a multi-key Outline server these metrics
// carry no access-key dimension, and there is no UDP relay to report on
// (spec.md's Non-goals exclude it).
type ShadowsocksMetrics interface {
	SetBuildInfo(version string)

	GetLocation(net.Addr) (string, error)

	// TCP metrics
	AddOpenTCPConnection(clientLocation string)
	AddClosedTCPConnection(clientLocation, status string, data ProxyMetrics, duration time.Duration)
	AddTCPProbe(clientLocation, status, drainResult string, port int, data ProxyMetrics)
}

type shadowsocksMetrics struct {
	ipCountryDB *geoip2.Reader

	buildInfo *prometheus.GaugeVec
	dataBytes *prometheus.CounterVec

	tcpProbes               *prometheus.HistogramVec
	tcpOpenConnections      *prometheus.CounterVec
	tcpClosedConnections    *prometheus.CounterVec
	tcpConnectionDurationMs *prometheus.HistogramVec
}

func newShadowsocksMetrics(ipCountryDB *geoip2.Reader) *shadowsocksMetrics {
	return &shadowsocksMetrics{
		ipCountryDB: ipCountryDB,
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shadowsocks",
			Name:      "build_info",
			Help:      "Information on the relay build",
		}, []string{"version"}),
		tcpOpenConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shadowsocks",
			Subsystem: "tcp",
			Name:      "connections_opened",
			Help:      "Count of open TCP connections",
		}, []string{"location"}),
		tcpClosedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shadowsocks",
			Subsystem: "tcp",
			Name:      "connections_closed",
			Help:      "Count of closed TCP connections",
		}, []string{"location", "status"}),
		tcpConnectionDurationMs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shadowsocks",
				Subsystem: "tcp",
				Name:      "connection_duration_ms",
				Help:      "TCP connection duration distributions.",
				Buckets: []float64{
					100,
					float64(time.Second.Milliseconds()),
					float64(time.Minute.Milliseconds()),
					float64(time.Hour.Milliseconds()),
					float64(24 * time.Hour.Milliseconds()),     // Day
					float64(7 * 24 * time.Hour.Milliseconds()), // Week
				},
			}, []string{"status"}),
		dataBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shadowsocks",
				Name:      "data_bytes",
				Help:      "Bytes transferred by the relay",
			}, []string{"dir", "location"}),
		tcpProbes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shadowsocks",
			Name:      "tcp_probes",
			Buckets:   []float64{0, 48, 49, 50, 51, 52, 72, 73, 90, 91, 220, 221},
			Help:      "Histogram of number of bytes from client to proxy, for detecting possible probes",
		}, []string{"location", "port", "status", "error"}),
	}
}

// NewPrometheusShadowsocksMetrics constructs a metrics object that uses
// ipCountryDB to convert IP addresses to countries, and reports all
// metrics to Prometheus via registerer. ipCountryDB may be nil, but
// registerer must not be.
func NewPrometheusShadowsocksMetrics(ipCountryDB *geoip2.Reader, registerer prometheus.Registerer) ShadowsocksMetrics {
	m := newShadowsocksMetrics(ipCountryDB)
	registerer.MustRegister(m.buildInfo, m.tcpOpenConnections, m.tcpProbes,
		m.tcpClosedConnections, m.tcpConnectionDurationMs, m.dataBytes)
	return m
}

const (
	errParseAddr     = "XA"
	errDbLookupError = "XD"
	localLocation    = "XL"
	unknownLocation  = "ZZ"
)

func (m *shadowsocksMetrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

func (m *shadowsocksMetrics) GetLocation(addr net.Addr) (string, error) {
	if m.ipCountryDB == nil {
		return "", nil
	}
	hostname, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return errParseAddr, errors.New("failed to split hostname and port")
	}
	ip := net.ParseIP(hostname)
	if ip == nil {
		return errParseAddr, errors.New("failed to parse address as IP")
	}
	if ip.IsLoopback() {
		return localLocation, nil
	}
	if !ip.IsGlobalUnicast() {
		return localLocation, nil
	}
	record, err := m.ipCountryDB.Country(ip)
	if err != nil {
		return errDbLookupError, errors.New("IP lookup failed")
	}
	if record == nil {
		return unknownLocation, errors.New("IP lookup returned nil")
	}
	if record.Country.IsoCode == "" {
		return unknownLocation, errors.New("IP lookup has empty ISO code")
	}
	return record.Country.IsoCode, nil
}

func (m *shadowsocksMetrics) AddOpenTCPConnection(clientLocation string) {
	m.tcpOpenConnections.WithLabelValues(clientLocation).Inc()
}

// addIfNonZero helps avoid the creation of series that are always zero.
func addIfNonZero(counter prometheus.Counter, value float64) {
	if value > 0 {
		counter.Add(value)
	}
}

func (m *shadowsocksMetrics) AddClosedTCPConnection(clientLocation, status string, data ProxyMetrics, duration time.Duration) {
	m.tcpClosedConnections.WithLabelValues(clientLocation, status).Inc()
	m.tcpConnectionDurationMs.WithLabelValues(status).Observe(duration.Seconds() * 1000)
	addIfNonZero(m.dataBytes.WithLabelValues("c>p", clientLocation), float64(data.ClientProxy))
	addIfNonZero(m.dataBytes.WithLabelValues("p>t", clientLocation), float64(data.ProxyTarget))
	addIfNonZero(m.dataBytes.WithLabelValues("p<t", clientLocation), float64(data.TargetProxy))
	addIfNonZero(m.dataBytes.WithLabelValues("c<p", clientLocation), float64(data.ProxyClient))
}

func (m *shadowsocksMetrics) AddTCPProbe(clientLocation, status, drainResult string, port int, data ProxyMetrics) {
	m.tcpProbes.WithLabelValues(clientLocation, strconv.Itoa(port), status, drainResult).Observe(float64(data.ClientProxy))
}

// ProxyMetrics tallies bytes moved in each of the four legs of a relayed
// connection: client<->proxy and proxy<->target, each direction counted
// separately.
type ProxyMetrics struct {
	ClientProxy int64
	ProxyTarget int64
	TargetProxy int64
	ProxyClient int64
}

type measuredConn struct {
	onet.DuplexConn
	io.WriterTo
	readCount *int64
	io.ReaderFrom
	writeCount *int64
}

func (c *measuredConn) Read(b []byte) (int, error) {
	n, err := c.DuplexConn.Read(b)
	*c.readCount += int64(n)
	return n, err
}

func (c *measuredConn) WriteTo(w io.Writer) (int64, error) {
	n, err := io.Copy(w, c.DuplexConn)
	*c.readCount += n
	return n, err
}

func (c *measuredConn) Write(b []byte) (int, error) {
	n, err := c.DuplexConn.Write(b)
	*c.writeCount += int64(n)
	return n, err
}

func (c *measuredConn) ReadFrom(r io.Reader) (int64, error) {
	n, err := io.Copy(c.DuplexConn, r)
	*c.writeCount += n
	return n, err
}

// MeasureConn wraps conn so that bytes read and written through it are
// tallied into bytesReceived and bytesSent respectively.
func MeasureConn(conn onet.DuplexConn, bytesSent, bytesReceived *int64) onet.DuplexConn {
	return &measuredConn{DuplexConn: conn, writeCount: bytesSent, readCount: bytesReceived}
}

// NoOpMetrics is a ShadowsocksMetrics that discards everything. Useful in
// tests, or when metrics reporting is not configured.
type NoOpMetrics struct{}

func (m *NoOpMetrics) SetBuildInfo(version string) {}
func (m *NoOpMetrics) AddTCPProbe(clientLocation, status, drainResult string, port int, data ProxyMetrics) {
}
func (m *NoOpMetrics) AddClosedTCPConnection(clientLocation, status string, data ProxyMetrics, duration time.Duration) {
}
func (m *NoOpMetrics) GetLocation(net.Addr) (string, error) {
	return "", nil
}
func (m *NoOpMetrics) AddOpenTCPConnection(clientLocation string) {}
