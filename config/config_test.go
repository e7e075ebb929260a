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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadServerConfig(t *testing.T) {
	path := writeTempConfig(t, `
listen: "127.0.0.1:8388"
cipher: "aes-256-cfb"
password: "hunter2"
require_auth: true
idle_timeout: 30s
acl:
  mode: blacklist
  entries:
    - "1.2.3.4"
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8388" {
		t.Errorf("wrong listen address: %q", cfg.Listen)
	}
	if cfg.Cipher != "aes-256-cfb" {
		t.Errorf("wrong cipher: %q", cfg.Cipher)
	}
	if !cfg.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("wrong idle timeout: %v", cfg.IdleTimeout)
	}
	if cfg.ACL == nil || cfg.ACL.Mode != "blacklist" || len(cfg.ACL.Entries) != 1 {
		t.Errorf("wrong ACL config: %+v", cfg.ACL)
	}
}

func TestLoadServerConfigMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `password: "hunter2"`)
	if _, err := LoadServerConfig(path); err == nil {
		t.Error("expected an error for a config missing listen and cipher")
	}
}

func TestLoadTunnelConfig(t *testing.T) {
	path := writeTempConfig(t, `
listen: "127.0.0.1:1080"
remote: "example.com:8388"
destination: "93.184.216.34:80"
cipher: "chacha20-ietf"
password: "hunter2"
`)

	cfg, err := LoadTunnelConfig(path)
	if err != nil {
		t.Fatalf("LoadTunnelConfig failed: %v", err)
	}
	if cfg.Remote != "example.com:8388" {
		t.Errorf("wrong remote: %q", cfg.Remote)
	}
	if cfg.Destination != "93.184.216.34:80" {
		t.Errorf("wrong destination: %q", cfg.Destination)
	}
}

func TestLoadTunnelConfigMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `listen: "127.0.0.1:1080"`)
	if _, err := LoadTunnelConfig(path); err == nil {
		t.Error("expected an error for a config missing remote/destination/cipher")
	}
}

func TestLoadServerConfigUnreadableFile(t *testing.T) {
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
