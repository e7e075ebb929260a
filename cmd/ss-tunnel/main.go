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
	"os"
	"os/signal"
	"syscall"

	"github.com/gwolfxiao/shadowsocks-libev/config"
	"github.com/gwolfxiao/shadowsocks-libev/logging"
	"github.com/gwolfxiao/shadowsocks-libev/service"
	ss "github.com/gwolfxiao/shadowsocks-libev/shadowsocks"
	"github.com/gwolfxiao/shadowsocks-libev/socks"
)

var version = "dev"

func main() {
	var (
		configFile string
		debugLog   bool
		ver        bool
	)

	flag.StringVar(&configFile, "config", "", "Configuration filename")
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

	cfg, err := config.LoadTunnelConfig(configFile)
	if err != nil {
		sugar.Fatalf("failed to load config: %v", err)
	}

	dstAddr, err := socks.ParseAddr(cfg.Destination)
	if err != nil {
		sugar.Fatalf("failed to parse destination %q: %v", cfg.Destination, err)
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

	tunnelService := service.NewTunnelService(cfg.Remote, dstAddr, cipher, cfg.OneTimeAuth, ivCache, cfg.FastOpen)

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		sugar.Fatalf("failed to listen on %s: %v", cfg.Listen, err)
	}

	go func() {
		if err := tunnelService.Serve(listener.(*net.TCPListener)); err != nil {
			sugar.Errorf("tunnel service stopped: %v", err)
		}
	}()
	sugar.Infof("tunneling %s -> %s (via %s) with cipher %s", cfg.Listen, cfg.Destination, cfg.Remote, cipher.Name())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sugar.Infof("received signal %v, stopping", sig)

	if err := tunnelService.GracefulStop(); err != nil {
		sugar.Errorf("error during shutdown: %v", err)
	}
}
