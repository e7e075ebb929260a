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

// Package config loads the YAML configuration for the relay's two
// command-line entry points. Configuration-file parsing is an
// out-of-scope external collaborator (spec.md §6); this package supplies
// a concrete, minimal loader so cmd/ss-server and cmd/ss-tunnel have
// something to read at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ACLConfig describes an access-control list loaded alongside the server
// config. Rule-engine semantics (CIDR trees, GeoIP rules, reloading) are
// out of scope; this is the minimal shape the acl package's memory-backed
// List needs.
type ACLConfig struct {
	Mode    string   `yaml:"mode"` // "blacklist" or "whitelist"
	Entries []string `yaml:"entries"`
}

// ServerConfig is the configuration for cmd/ss-server.
type ServerConfig struct {
	Listen        string        `yaml:"listen"`
	Cipher        string        `yaml:"cipher"`
	Password      string        `yaml:"password"`
	OneTimeAuth   bool          `yaml:"one_time_auth"`
	RequireAuth   bool          `yaml:"require_auth"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MetricsListen string        `yaml:"metrics_listen"`
	GeoIPDatabase string        `yaml:"geoip_database"`
	FastOpen      bool          `yaml:"fast_open"`
	ACL           *ACLConfig    `yaml:"acl"`
}

// TunnelConfig is the configuration for cmd/ss-tunnel.
type TunnelConfig struct {
	Listen      string `yaml:"listen"`
	Remote      string `yaml:"remote"`
	Destination string `yaml:"destination"`
	Cipher      string `yaml:"cipher"`
	Password    string `yaml:"password"`
	OneTimeAuth bool   `yaml:"one_time_auth"`
	FastOpen    bool   `yaml:"fast_open"`
}

// LoadServerConfig reads and parses a ServerConfig from path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var c ServerConfig
	if err := readYAML(path, &c); err != nil {
		return nil, err
	}
	if c.Listen == "" {
		return nil, fmt.Errorf("config: %s: listen is required", path)
	}
	if c.Cipher == "" {
		return nil, fmt.Errorf("config: %s: cipher is required", path)
	}
	return &c, nil
}

// LoadTunnelConfig reads and parses a TunnelConfig from path.
func LoadTunnelConfig(path string) (*TunnelConfig, error) {
	var c TunnelConfig
	if err := readYAML(path, &c); err != nil {
		return nil, err
	}
	if c.Listen == "" || c.Remote == "" || c.Destination == "" {
		return nil, fmt.Errorf("config: %s: listen, remote, and destination are required", path)
	}
	if c.Cipher == "" {
		return nil, fmt.Errorf("config: %s: cipher is required", path)
	}
	return &c, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}
