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

package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	geoip2 "github.com/oschwald/geoip2-golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gwolfxiao/shadowsocks-libev/acl"
	"github.com/gwolfxiao/shadowsocks-libev/config"
	"github.com/gwolfxiao/shadowsocks-libev/logging"
	onet "github.com/gwolfxiao/shadowsocks-libev/net"
	"github.com/gwolfxiao/shadowsocks-libev/resolver"
	"github.com/gwolfxiao/shadowsocks-libev/service"
	"github.com/gwolfxiao/shadowsocks-libev/service/metrics"
	ss "github.com/gwolfxiao/shadowsocks-libev/shadowsocks"
)

var version = "dev"

func main() {
	var (
		configFile      string
		blockPrivateNet bool
		debugLog        bool
		ver             bool
	)

	flag.StringVar(&configFile, "config", "", "Configuration filename")
	flag.BoolVar(&blockPrivateNet, "block_private_net", false, "Block access to private IP addresses")
	flag.BoolVar(&debugLog, "debug", false, "Enable debug-level logging")
	flag.BoolVar(&ver, "version", false, "Print the version and exit")
	flag.Parse()

	if ver {
		fmt.Println(version)
		return
	}
	if configFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	zlog, err := logging.NewConsole(debugLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()
	service.SetLogger(sugar)

	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		sugar.Fatalf("failed to load config: %v", err)
	}

	cipher, ok, err := ss.NewCipher(cfg.Cipher, cfg.Password)
	if err != nil {
		sugar.Fatalf("failed to construct cipher %q: %v", cfg.Cipher, err)
	}
	if !ok {
		sugar.Warnf("unknown cipher %q, falling back to table", cfg.Cipher)
	}

	var ivCache *ss.IVCache
	if !cipher.IsTable() {
		ivCache = ss.NewIVCache(1 << 12)
	}

	var aclList acl.List
	if cfg.ACL != nil {
		mode := acl.Blacklist
		if strings.EqualFold(cfg.ACL.Mode, "whitelist") {
			mode = acl.Whitelist
		}
		ips := make([]net.IP, 0, len(cfg.ACL.Entries))
		for _, s := range cfg.ACL.Entries {
			if ip := net.ParseIP(s); ip != nil {
				ips = append(ips, ip)
			} else {
				sugar.Warnf("ignoring unparsable ACL entry %q", s)
			}
		}
		aclList = acl.NewMemoryList(mode, ips)
	}

	var ipCountryDB *geoip2.Reader
	if cfg.GeoIPDatabase != "" {
		ipCountryDB, err = geoip2.Open(cfg.GeoIPDatabase)
		if err != nil {
			sugar.Fatalf("failed to open GeoIP database %q: %v", cfg.GeoIPDatabase, err)
		}
		defer ipCountryDB.Close()
	}
	m := metrics.NewPrometheusShadowsocksMetrics(ipCountryDB, prometheus.DefaultRegisterer)
	m.SetBuildInfo(version)

	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 59 * 1e9 // 59s, matching the source's historical default timeout.
	}

	tcpService := service.NewTCPService(cipher, cfg.RequireAuth, ivCache, aclList, resolver.System(), m, idleTimeout, cfg.FastOpen)
	if blockPrivateNet {
		tcpService.SetTargetIPValidator(onet.RequirePublicIP)
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		sugar.Fatalf("failed to listen on %s: %v", cfg.Listen, err)
	}

	if cfg.MetricsListen != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListen, nil); err != nil {
				sugar.Errorf("metrics HTTP server failed: %v", err)
			}
		}()
		sugar.Infof("serving metrics at http://%s/metrics", cfg.MetricsListen)
	}

	go func() {
		if err := tcpService.Serve(listener.(*net.TCPListener)); err != nil {
			sugar.Errorf("TCP service stopped: %v", err)
		}
	}()
	sugar.Infof("listening on %s with cipher %s", cfg.Listen, cipher.Name())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sugar.Infof("received signal %v, stopping", sig)

	if err := tcpService.GracefulStop(); err != nil {
		sugar.Errorf("error during shutdown: %v", err)
	}
}
